package ai

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Conn is the SQL surface MaybeCreateTables needs. *pgxpool.Pool and
// *pgx.Conn both satisfy it. The caller owns the connection.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	tableExistsSQL = `SELECT EXISTS (SELECT 1 FROM pg_catalog.pg_tables
		WHERE tablename = $1 AND schemaname = ANY (pg_catalog.current_schemas(false)))`

	// pgvector stores the declared dimensions in atttypmod.
	vectorWidthSQL = `SELECT a.atttypmod
		FROM pg_catalog.pg_attribute a
		JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
		WHERE c.relname = $1 AND pg_catalog.pg_table_is_visible(c.oid)
		  AND a.attname = 'embedding' AND NOT a.attisdropped`
)

// MaybeCreateTables ensures every embedding model has its vector table and
// cosine hnsw index. Tables are provisioned concurrently; the call returns
// after all of them finish. Each failed table contributes a
// *ProvisioningError to the combined error (see multierr.Errors).
func (m *Manager) MaybeCreateTables(ctx context.Context, conn Conn) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for _, model := range m.embedding {
		wg.Add(1)
		go func(model EmbeddingModel) {
			defer wg.Done()
			if err := m.provisionTable(ctx, conn, model); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, &ProvisioningError{Table: model.TableName(), Err: err})
				mu.Unlock()
			}
		}(model)
	}
	wg.Wait()
	return errs
}

func (m *Manager) provisionTable(ctx context.Context, conn Conn, model EmbeddingModel) error {
	table := model.TableName()
	dims := model.Dimensions()

	var exists bool
	err := m.retry(ctx, table, func(ctx context.Context) error {
		return conn.QueryRow(ctx, tableExistsSQL, table).Scan(&exists)
	})
	if err != nil {
		return fmt.Errorf("check table: %w", err)
	}

	if exists {
		var width int32
		err := m.retry(ctx, table, func(ctx context.Context) error {
			return conn.QueryRow(ctx, vectorWidthSQL, table).Scan(&width)
		})
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("check vector width: %w", err)
		}
		if int(width) != dims {
			return &SchemaMismatchError{Table: table, Want: dims, Got: max(int(width), 0)}
		}
		return nil
	}

	m.logger.Info("creating embeddings table",
		zap.String("table", table),
		zap.Int("dimensions", dims),
		zap.String("model", model.ModelName()))

	ddl := createTableSQL(table, dims)
	err = m.retry(ctx, table, func(ctx context.Context) error {
		_, err := conn.Exec(ctx, ddl)
		return err
	})
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// retry runs op under the statement timeout, retrying only on timeouts.
func (m *Manager) retry(ctx context.Context, table string, op func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = m.retryInterval
	b := backoff.WithContext(backoff.WithMaxRetries(eb, m.maxRetries), ctx)

	return backoff.Retry(func() error {
		stmtCtx, cancel := context.WithTimeout(ctx, m.statementTimeout)
		defer cancel()

		err := op(stmtCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() == nil && isTimeout(err) {
			m.logger.Warn("provisioning statement timed out, retrying",
				zap.String("table", table), zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}, b)
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err)
}

// createTableSQL builds the self-guarding DDL block. The advisory lock
// serialises concurrent creators of the same table until the block commits,
// so racing processes cannot both attempt the CREATE. table is a validated
// identifier and dims a validated positive int.
func createTableSQL(table string, dims int) string {
	return fmt.Sprintf(`DO $$
BEGIN
  PERFORM pg_advisory_xact_lock(hashtext('%s'));
  CREATE TABLE IF NOT EXISTS %s (
    "id" INT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
    "embedText" TEXT,
    "embedding" vector(%d),
    "embeddingsMetadataId" INTEGER NOT NULL,
    FOREIGN KEY ("embeddingsMetadataId")
      REFERENCES "EmbeddingsMetadata"("id")
      ON DELETE CASCADE
  );
  CREATE INDEX IF NOT EXISTS %s
    ON %s
    USING hnsw ("embedding" vector_cosine_ops);
END $$;`,
		table,
		pgx.Identifier{table}.Sanitize(),
		dims,
		pgx.Identifier{IndexName(table)}.Sanitize(),
		pgx.Identifier{table}.Sanitize(),
	)
}

// IndexName returns the deterministic name of a table's cosine index. Names
// that would exceed the identifier limit are shortened with a hash suffix so
// Postgres never truncates two tables' index names to the same value.
func IndexName(table string) string {
	const suffix = "_embedding_vector_cosign_ops"
	name := "idx_" + table + suffix
	if len(name) <= maxIdentifierLen {
		return name
	}
	h := fnv.New32a()
	h.Write([]byte(table))
	tag := fmt.Sprintf("_%08x_cos", h.Sum32())
	keep := min(len(table), maxIdentifierLen-len("idx_")-len(tag))
	return "idx_" + table[:keep] + tag
}
