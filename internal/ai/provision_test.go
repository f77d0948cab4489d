package ai

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

var (
	ddlTableRe = regexp.MustCompile(`hashtext\('(\w+)'\)`)
	ddlDimsRe  = regexp.MustCompile(`vector\((\d+)\)`)
)

// fakeConn keeps a catalog of table -> vector width and understands the
// statements the provisioner issues.
type fakeConn struct {
	mu       sync.Mutex
	tables   map[string]int
	execs    []string
	failExec map[string]error
	// timeouts is how many leading statements fail with a deadline error.
	timeouts int
}

func newFakeConn() *fakeConn {
	return &fakeConn{tables: map[string]int{}, failExec: map[string]error{}}
}

func (c *fakeConn) takeTimeout() bool {
	if c.timeouts > 0 {
		c.timeouts--
		return true
	}
	return false
}

func (c *fakeConn) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.takeTimeout() {
		return fakeRow{scan: func(...any) error { return context.DeadlineExceeded }}
	}
	table := args[0].(string)
	width, ok := c.tables[table]
	switch sql {
	case tableExistsSQL:
		return fakeRow{scan: func(dest ...any) error {
			*dest[0].(*bool) = ok
			return nil
		}}
	case vectorWidthSQL:
		return fakeRow{scan: func(dest ...any) error {
			if !ok {
				return pgx.ErrNoRows
			}
			*dest[0].(*int32) = int32(width)
			return nil
		}}
	}
	return fakeRow{scan: func(...any) error { return errors.New("unexpected query") }}
}

func (c *fakeConn) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.takeTimeout() {
		return pgconn.CommandTag{}, context.DeadlineExceeded
	}
	table := ddlTableRe.FindStringSubmatch(sql)[1]
	if err := c.failExec[table]; err != nil {
		return pgconn.CommandTag{}, err
	}
	dims, _ := strconv.Atoi(ddlDimsRe.FindStringSubmatch(sql)[1])
	c.execs = append(c.execs, sql)
	if _, ok := c.tables[table]; !ok {
		c.tables[table] = dims
	}
	return pgconn.NewCommandTag("DO"), nil
}

func newTestManager(t *testing.T, opts []Option, suffixDims map[string]int) *Manager {
	t.Helper()
	cfg := ManagerConfig{EmbeddingModels: []ModelConfig{}, GenerationModels: []ModelConfig{}}
	for suffix, dims := range suffixDims {
		cfg.EmbeddingModels = append(cfg.EmbeddingModels, embeddingConfig(
			"text-embeddings-inference:custom-"+suffix, "http://tei",
			map[string]any{"tableSuffix": suffix, "embeddingDimensions": dims}))
	}
	opts = append([]Option{WithRetry(3, time.Millisecond)}, opts...)
	m, err := NewManager(cfg, opts...)
	require.NoError(t, err)
	return m
}

func TestMaybeCreateTables_CreatesMissingTables(t *testing.T) {
	m := newTestManager(t, nil, map[string]int{"small": 384, "large": 1024})
	conn := newFakeConn()

	require.NoError(t, m.MaybeCreateTables(context.Background(), conn))
	assert.Equal(t, map[string]int{"Embeddings_small": 384, "Embeddings_large": 1024}, conn.tables)
	require.Len(t, conn.execs, 2)

	for _, ddl := range conn.execs {
		assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS")
		assert.Contains(t, ddl, "CREATE INDEX IF NOT EXISTS")
		assert.Contains(t, ddl, "vector_cosine_ops")
		assert.Contains(t, ddl, `REFERENCES "EmbeddingsMetadata"("id")`)
		assert.Contains(t, ddl, "ON DELETE CASCADE")
	}
}

func TestMaybeCreateTables_SecondCallIsNoop(t *testing.T) {
	m := newTestManager(t, nil, map[string]int{"small": 384})
	conn := newFakeConn()

	require.NoError(t, m.MaybeCreateTables(context.Background(), conn))
	require.NoError(t, m.MaybeCreateTables(context.Background(), conn))
	assert.Len(t, conn.execs, 1)
}

func TestMaybeCreateTables_SchemaMismatch(t *testing.T) {
	m := newTestManager(t, nil, map[string]int{"small": 384})
	conn := newFakeConn()
	conn.tables["Embeddings_small"] = 768

	err := m.MaybeCreateTables(context.Background(), conn)
	require.Error(t, err)

	var provErr *ProvisioningError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, "Embeddings_small", provErr.Table)

	var mismatch *SchemaMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, 384, mismatch.Want)
	assert.Equal(t, 768, mismatch.Got)
	assert.Empty(t, conn.execs)
}

func TestMaybeCreateTables_AggregatesFailures(t *testing.T) {
	m := newTestManager(t, nil, map[string]int{"a": 8, "b": 16, "c": 32})
	conn := newFakeConn()
	conn.failExec["Embeddings_a"] = errors.New(`relation "EmbeddingsMetadata" does not exist`)
	conn.failExec["Embeddings_c"] = errors.New("permission denied")

	err := m.MaybeCreateTables(context.Background(), conn)
	require.Error(t, err)

	errs := multierr.Errors(err)
	require.Len(t, errs, 2)
	var failed []string
	for _, e := range errs {
		var provErr *ProvisioningError
		require.True(t, errors.As(e, &provErr))
		failed = append(failed, provErr.Table)
	}
	assert.ElementsMatch(t, []string{"Embeddings_a", "Embeddings_c"}, failed)

	// The healthy table is still provisioned.
	assert.Equal(t, 16, conn.tables["Embeddings_b"])
}

func TestMaybeCreateTables_RetriesTimeouts(t *testing.T) {
	m := newTestManager(t, nil, map[string]int{"small": 384})
	conn := newFakeConn()
	conn.timeouts = 2

	require.NoError(t, m.MaybeCreateTables(context.Background(), conn))
	assert.Equal(t, 384, conn.tables["Embeddings_small"])
}

func TestMaybeCreateTables_GivesUpAfterRetries(t *testing.T) {
	m := newTestManager(t, []Option{WithRetry(1, time.Millisecond)}, map[string]int{"small": 384})
	conn := newFakeConn()
	conn.timeouts = 5

	err := m.MaybeCreateTables(context.Background(), conn)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Empty(t, conn.tables)
}

func TestMaybeCreateTables_NoModels(t *testing.T) {
	m := newTestManager(t, nil, nil)
	assert.NoError(t, m.MaybeCreateTables(context.Background(), newFakeConn()))
}

func TestCreateTableSQL(t *testing.T) {
	ddl := createTableSQL("Embeddings_small", 384)
	assert.Contains(t, ddl, `CREATE TABLE IF NOT EXISTS "Embeddings_small"`)
	assert.Contains(t, ddl, `"embedding" vector(384)`)
	assert.Contains(t, ddl, `CREATE INDEX IF NOT EXISTS "idx_Embeddings_small_embedding_vector_cosign_ops"`)
	assert.Contains(t, ddl, "pg_advisory_xact_lock(hashtext('Embeddings_small'))")
}

func TestIndexName(t *testing.T) {
	assert.Equal(t, "idx_Embeddings_ember_1_embedding_vector_cosign_ops", IndexName("Embeddings_ember_1"))

	for _, n := range []int{31, 32, 45, 46, 47, 55, maxIdentifierLen} {
		t.Run(strconv.Itoa(n), func(t *testing.T) {
			table := tablePrefix + strings.Repeat("a", n-len(tablePrefix)-1) + "x"
			other := tablePrefix + strings.Repeat("a", n-len(tablePrefix)-1) + "y"
			require.Len(t, table, n)

			name := IndexName(table)
			assert.LessOrEqual(t, len(name), maxIdentifierLen)
			assert.True(t, strings.HasPrefix(name, "idx_Embeddings_"), name)
			assert.Equal(t, name, IndexName(table))
			assert.NotEqual(t, name, IndexName(other))
		})
	}
}

func TestMaybeCreateTables_MidLengthTableName(t *testing.T) {
	cfg, err := ParseConfig(
		[]byte(`[{"model":"text-embeddings-inference:nomic-ai/nomic-embed-text-v1.5","url":"http://tei","embeddingDimensions":768}]`),
		[]byte(`[]`))
	require.NoError(t, err)
	m, err := NewManager(cfg, WithRetry(0, time.Millisecond))
	require.NoError(t, err)

	conn := newFakeConn()
	require.NoError(t, m.MaybeCreateTables(context.Background(), conn))
	assert.Equal(t, 768, conn.tables["Embeddings_nomic_embed_text_v1_5"])
	require.Len(t, conn.execs, 1)
	assert.Contains(t, conn.execs[0], IndexName("Embeddings_nomic_embed_text_v1_5"))
}
