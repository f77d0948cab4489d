package embedder

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/multierr"

	"github.com/nidhogg/embedder/internal/ai"
)

// TableStatus is the provisioning state of one embeddings table.
type TableStatus struct {
	Table string `json:"table"`
	Ready bool   `json:"ready"`
	Error string `json:"error,omitempty"`
}

// Tracker records which tables finished provisioning. Tables start not ready.
type Tracker struct {
	mu     sync.RWMutex
	status map[string]TableStatus
}

// NewTracker creates a tracker with every table pending.
func NewTracker(tables []string) *Tracker {
	t := &Tracker{status: make(map[string]TableStatus, len(tables))}
	for _, name := range tables {
		t.status[name] = TableStatus{Table: name}
	}
	return t
}

// Record applies the result of a provisioning run. Tables named by a
// *ai.ProvisioningError in err are marked failed; the rest become ready.
// An error that names no table fails every table.
func (t *Tracker) Record(err error) {
	failed := make(map[string]string)
	for _, e := range multierr.Errors(err) {
		var provErr *ai.ProvisioningError
		if errors.As(e, &provErr) {
			failed[provErr.Table] = provErr.Err.Error()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for name := range t.status {
		switch msg, ok := failed[name]; {
		case ok:
			t.status[name] = TableStatus{Table: name, Error: msg}
		case err != nil && len(failed) == 0:
			t.status[name] = TableStatus{Table: name, Error: err.Error()}
		default:
			t.status[name] = TableStatus{Table: name, Ready: true}
		}
	}
}

// IsReady reports whether table finished provisioning.
func (t *Tracker) IsReady(table string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status[table].Ready
}

// Snapshot returns every table's status sorted by name, and whether all are ready.
func (t *Tracker) Snapshot() ([]TableStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TableStatus, 0, len(t.status))
	all := true
	for _, s := range t.status {
		out = append(out, s)
		all = all && s.Ready
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
	return out, all
}
