package ledger

import (
	"context"
	"sync"

	"github.com/jmerrifield20/logline/pkg/atomic"
	"github.com/jmerrifield20/logline/pkg/ledgererr"
)

// MemoryRepository is an in-memory, thread-safe Repository. It is useful
// for tests and for single-process deployments that do not need the ledger
// to survive a restart.
type MemoryRepository struct {
	mu sync.RWMutex
	ix *index
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{ix: newIndex()}
}

// Append implements Repository.
func (r *MemoryRepository) Append(_ context.Context, a *atomic.Atomic) (Cursor, error) {
	if err := requireHash(a); err != nil {
		return 0, err
	}
	stored := a.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ix.has(stored.CurrHash) {
		return 0, &ledgererr.DuplicateAtomicError{Hash: stored.CurrHash}
	}
	return r.ix.add(stored), nil
}

// AppendLinked implements Linker.
func (r *MemoryRepository) AppendLinked(_ context.Context, a *atomic.Atomic, finalize func(*atomic.Atomic) error) (Cursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cs := r.ix.byTrace[a.TraceID()]; len(cs) > 0 {
		a.Prev = r.ix.atomics[cs[len(cs)-1]].CurrHash
	}
	if err := finalize(a); err != nil {
		return 0, err
	}
	if err := requireHash(a); err != nil {
		return 0, err
	}
	if r.ix.has(a.CurrHash) {
		return 0, &ledgererr.DuplicateAtomicError{Hash: a.CurrHash}
	}
	return r.ix.add(a.Clone()), nil
}

// FindByHash implements Repository.
func (r *MemoryRepository) FindByHash(_ context.Context, hash string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ix.find(hash)
}

// FindByTraceID implements Repository.
func (r *MemoryRepository) FindByTraceID(_ context.Context, traceID string) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ix.trace(traceID), nil
}

// Scan implements Repository.
func (r *MemoryRepository) Scan(_ context.Context, opts ScanOptions) (*Page, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ix.scan(opts)
}

// Query implements Repository.
func (r *MemoryRepository) Query(_ context.Context, opts QueryOptions) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ix.query(opts), nil
}

// Exists implements Repository.
func (r *MemoryRepository) Exists(_ context.Context, hash string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ix.has(hash), nil
}

// Stats implements Repository.
func (r *MemoryRepository) Stats(_ context.Context) (*Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ix.stats(), nil
}

// Close implements Repository.
func (r *MemoryRepository) Close() error { return nil }
