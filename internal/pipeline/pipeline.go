// Package pipeline is the single write path into the ledger:
// validate, hash, optionally sign, persist.
package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/logline/internal/ledger"
	"github.com/jmerrifield20/logline/pkg/atomic"
	"github.com/jmerrifield20/logline/pkg/ledgererr"
	"github.com/jmerrifield20/logline/pkg/result"
	"github.com/jmerrifield20/logline/pkg/signature"
)

// Authorizer decides whether a public key may sign new atomics.
// *trust.Registry implements it.
type Authorizer interface {
	Authorize(publicKey string) error
}

// Config holds pipeline-wide behaviour.
type Config struct {
	// AutoLink fills an empty prev with the hash of the latest atomic of
	// the same trace before hashing. It is safe across writer processes
	// only when the repository is a ledger.Linker.
	AutoLink bool
	// RequireTrustedSigner rejects signing keys the Authorizer does not
	// accept.
	RequireTrustedSigner bool
}

// Options controls a single Execute call.
type Options struct {
	// SignWith, when set, signs the atomic's hash with this key.
	SignWith *signature.Keypair
	// ValidateOnly validates and hashes without persisting.
	ValidateOnly bool
}

// Receipt describes the outcome of a successful Execute. Cursor is empty
// and Durable is false for validate-only runs.
type Receipt struct {
	Cursor  string         `json:"cursor"`
	Hash    string         `json:"hash"`
	Signed  bool           `json:"signed"`
	Durable bool           `json:"durable"`
	Atomic  *atomic.Atomic `json:"atomic"`
}

// RecordFunc is an optional callback for recording pipeline outcomes.
// outcome is "appended", "validated" or a ledgererr.Kind string.
type RecordFunc func(outcome string, elapsed time.Duration)

// Pipeline serialises appends so cursor assignment, prev linkage and
// persistence never interleave.
type Pipeline struct {
	mu       sync.Mutex
	repo     ledger.Repository
	authz    Authorizer
	cfg      Config
	onRecord RecordFunc
	logger   *zap.Logger
}

// New creates a Pipeline. authz may be nil when RequireTrustedSigner is off.
func New(repo ledger.Repository, authz Authorizer, cfg Config, logger *zap.Logger) *Pipeline {
	return &Pipeline{repo: repo, authz: authz, cfg: cfg, logger: logger}
}

// SetRecord configures the metrics callback.
func (p *Pipeline) SetRecord(fn RecordFunc) {
	p.onRecord = fn
}

// Execute runs one atomic through the pipeline. The caller's atomic is not
// modified; the receipt carries the finalized copy. Repository failures are
// returned unchanged and never retried. A failed atomic is never visible
// through the repository.
func (p *Pipeline) Execute(ctx context.Context, in *atomic.Atomic, opts Options) result.Result[*Receipt] {
	start := time.Now()
	r := p.execute(ctx, in, opts)
	p.record(r, opts, time.Since(start))
	return r
}

// Append is Execute in (value, error) form.
func (p *Pipeline) Append(ctx context.Context, in *atomic.Atomic, opts Options) (*Receipt, error) {
	return p.Execute(ctx, in, opts).Unwrap()
}

func (p *Pipeline) execute(ctx context.Context, in *atomic.Atomic, opts Options) result.Result[*Receipt] {
	if err := atomic.Check(in); err != nil {
		return result.Err[*Receipt](err)
	}
	a := in.Clone()

	if opts.ValidateOnly {
		if err := ensureHash(a); err != nil {
			return result.Err[*Receipt](err)
		}
		return result.Ok(&Receipt{Hash: a.CurrHash, Atomic: a})
	}

	if opts.SignWith != nil && p.cfg.RequireTrustedSigner {
		if p.authz == nil {
			return result.Err[*Receipt](&ledgererr.AuthenticationError{PublicKey: opts.SignWith.PublicKeyHex()})
		}
		if err := p.authz.Authorize(opts.SignWith.PublicKeyHex()); err != nil {
			return result.Err[*Receipt](err)
		}
	}

	// A hash supplied by the caller is trusted here; verifying it is the
	// verifier's job.
	finalize := func(a *atomic.Atomic) error {
		if err := ensureHash(a); err != nil {
			return err
		}
		if opts.SignWith != nil {
			a.Signature = signature.Sign(a.CurrHash, opts.SignWith)
		}
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var (
		cursor ledger.Cursor
		err    error
	)
	autoLink := p.cfg.AutoLink && a.Prev == "" && a.CurrHash == ""
	if linker, ok := p.repo.(ledger.Linker); ok && autoLink {
		cursor, err = linker.AppendLinked(ctx, a, finalize)
	} else {
		if autoLink {
			if err := p.link(ctx, a); err != nil {
				return result.Err[*Receipt](err)
			}
		}
		if err := finalize(a); err != nil {
			return result.Err[*Receipt](err)
		}
		cursor, err = p.repo.Append(ctx, a)
	}
	if err != nil {
		return result.Err[*Receipt](err)
	}

	p.logger.Info("atomic appended",
		zap.String("cursor", cursor.String()),
		zap.String("hash", a.CurrHash),
		zap.String("trace_id", a.TraceID()),
		zap.Bool("signed", a.Signature != nil),
	)
	return result.Ok(&Receipt{
		Cursor:  cursor.String(),
		Hash:    a.CurrHash,
		Signed:  a.Signature != nil,
		Durable: true,
		Atomic:  a,
	})
}

// link sets prev to the tip of a's trace for repositories that are not a
// ledger.Linker. Called with p.mu held, which only orders writers in this
// process.
func (p *Pipeline) link(ctx context.Context, a *atomic.Atomic) error {
	recs, err := p.repo.FindByTraceID(ctx, a.TraceID())
	if err != nil {
		return err
	}
	if n := len(recs); n > 0 {
		a.Prev = recs[n-1].Atomic.CurrHash
	}
	return nil
}

func ensureHash(a *atomic.Atomic) error {
	if a.CurrHash != "" {
		return nil
	}
	if _, err := atomic.Seal(a); err != nil {
		return &ledgererr.ValidationError{Reasons: []string{"atomic cannot be hashed: " + err.Error()}}
	}
	return nil
}

func (p *Pipeline) record(r result.Result[*Receipt], opts Options, elapsed time.Duration) {
	outcome := "appended"
	switch {
	case r.IsErr():
		outcome = ledgererr.KindOf(r.Error()).String()
		p.logger.Debug("atomic rejected", zap.String("kind", outcome), zap.Error(r.Error()))
	case opts.ValidateOnly:
		outcome = "validated"
	}
	if p.onRecord != nil {
		p.onRecord(outcome, elapsed)
	}
}
