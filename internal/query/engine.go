// Package query is the read side of the ledger. It validates read options,
// delegates to the repository, and returns results in Result form so
// callers can chain them.
package query

import (
	"context"
	"errors"

	"github.com/jmerrifield20/logline/internal/ledger"
	"github.com/jmerrifield20/logline/pkg/atomic"
	"github.com/jmerrifield20/logline/pkg/ledgererr"
	"github.com/jmerrifield20/logline/pkg/result"
)

// Engine answers read requests against a repository.
type Engine struct {
	repo ledger.Repository
}

// New creates an Engine over repo.
func New(repo ledger.Repository) *Engine {
	return &Engine{repo: repo}
}

// ByHash returns the record with the given hash.
func (e *Engine) ByHash(ctx context.Context, hash string) result.Result[*ledger.Record] {
	return result.From(e.repo.FindByHash(ctx, hash))
}

// ByTrace returns every record of a trace in ledger order.
func (e *Engine) ByTrace(ctx context.Context, traceID string) result.Result[[]ledger.Record] {
	if traceID == "" {
		return result.Err[[]ledger.Record](&ledgererr.ValidationError{Reasons: []string{"trace_id is required"}})
	}
	return result.From(e.repo.FindByTraceID(ctx, traceID))
}

// Scan returns one page of the ledger.
func (e *Engine) Scan(ctx context.Context, opts ledger.ScanOptions) result.Result[*ledger.Page] {
	var reasons []string
	if opts.Limit < 0 {
		reasons = append(reasons, "limit must not be negative")
	}
	if opts.Limit > ledger.MaxLimit {
		reasons = append(reasons, "limit must not exceed 1000")
	}
	if opts.EntityType != "" && !opts.EntityType.Valid() {
		reasons = append(reasons, "entity_type "+string(opts.EntityType)+" is invalid")
	}
	if len(reasons) > 0 {
		return result.Err[*ledger.Page](&ledgererr.ValidationError{Reasons: reasons})
	}
	return result.From(e.repo.Scan(ctx, opts))
}

// Query returns records matching every set filter.
func (e *Engine) Query(ctx context.Context, opts ledger.QueryOptions) result.Result[[]ledger.Record] {
	var reasons []string
	if !opts.From.IsZero() && !opts.To.IsZero() && opts.From.After(opts.To) {
		reasons = append(reasons, "from must not be after to")
	}
	if opts.EntityType != "" && !opts.EntityType.Valid() {
		reasons = append(reasons, "entity_type "+string(opts.EntityType)+" is invalid")
	}
	if opts.Limit < 0 {
		reasons = append(reasons, "limit must not be negative")
	}
	if len(reasons) > 0 {
		return result.Err[[]ledger.Record](&ledgererr.ValidationError{Reasons: reasons})
	}
	return result.From(e.repo.Query(ctx, opts))
}

// Exists reports whether a hash is stored.
func (e *Engine) Exists(ctx context.Context, hash string) result.Result[bool] {
	return result.From(e.repo.Exists(ctx, hash))
}

// Stats summarises the ledger.
func (e *Engine) Stats(ctx context.Context) result.Result[*ledger.Stats] {
	return result.From(e.repo.Stats(ctx))
}

// Lineage follows prev pointers from hash back to its chain root and
// returns the records root first. A prev that names a missing atomic is
// reported as corruption at the record holding it.
func (e *Engine) Lineage(ctx context.Context, hash string) result.Result[[]ledger.Record] {
	var chain []ledger.Record
	seen := make(map[string]bool)

	next := hash
	for next != "" {
		if seen[next] {
			return result.Err[[]ledger.Record](&ledgererr.LedgerCorruptedError{
				Position: chain[len(chain)-1].Cursor.String(),
				Reason:   "prev pointers form a cycle",
			})
		}
		seen[next] = true

		rec, err := e.repo.FindByHash(ctx, next)
		if errors.Is(err, ledgererr.ErrNotFound) && len(chain) > 0 {
			return result.Err[[]ledger.Record](&ledgererr.LedgerCorruptedError{
				Position: chain[len(chain)-1].Cursor.String(),
				Reason:   "prev points at an atomic that is not stored",
			})
		}
		if err != nil {
			return result.Err[[]ledger.Record](err)
		}
		chain = append(chain, *rec)
		next = rec.Atomic.Prev
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return result.Ok(chain)
}

// Atomics strips cursors from records.
func Atomics(recs []ledger.Record) []*atomic.Atomic {
	out := make([]*atomic.Atomic, len(recs))
	for i, r := range recs {
		out[i] = r.Atomic
	}
	return out
}
