package ledger

import (
	"context"
	"errors"

	"github.com/jmerrifield20/logline/pkg/atomic"
	"github.com/jmerrifield20/logline/pkg/ledgererr"
	"github.com/jmerrifield20/logline/pkg/signature"
)

// KeySet verifies a signature against a set of trusted keys.
// *trust.Registry implements it.
type KeySet interface {
	VerifyAny(digest string, sig *atomic.Signature) bool
}

// VerifyAtomic checks a previously retrieved atomic on its own: its hash
// must match its content and, when signed, its signature must verify under
// keys. A signature that is genuine for its embedded public key but not
// covered by keys is an *ledgererr.AuthenticationError, not tampering.
// A nil keys skips the signature check.
func VerifyAtomic(a *atomic.Atomic, keys KeySet) error {
	if err := atomic.VerifyHash(a); err != nil {
		return err
	}
	if a.Signature == nil || keys == nil {
		return nil
	}
	if a.Signature.Alg != signature.Algorithm {
		return &ledgererr.InvalidSignatureError{Hash: a.CurrHash, Reason: "unsupported algorithm " + a.Signature.Alg}
	}
	if keys.VerifyAny(a.CurrHash, a.Signature) {
		return nil
	}
	if signature.Verify(a.CurrHash, a.Signature, []string{a.Signature.PublicKey}) {
		return &ledgererr.AuthenticationError{PublicKey: a.Signature.PublicKey}
	}
	return &ledgererr.InvalidSignatureError{Hash: a.CurrHash, Reason: "signature does not verify"}
}

// Report summarises a verification walk.
type Report struct {
	Checked int `json:"checked"`
	Signed  int `json:"signed"`
	Traces  int `json:"traces"`
	// Untrusted counts genuine signatures whose signer is not in the key set.
	Untrusted int `json:"untrusted,omitempty"`
	// Position is the cursor of the first failure, empty when the ledger verified.
	Position string `json:"position,omitempty"`
}

// Verifier walks a ledger and checks every record and every trace chain.
// Chains are scoped per trace: an atomic's prev, when set, must be the hash
// of the atomic immediately before it with the same trace_id.
type Verifier struct {
	repo Repository
	keys KeySet
}

// NewVerifier creates a Verifier. keys may be nil to skip signature checks.
func NewVerifier(repo Repository, keys KeySet) *Verifier {
	return &Verifier{repo: repo, keys: keys}
}

// Verify walks the whole ledger. The first failure is returned as a
// *ledgererr.LedgerCorruptedError carrying its cursor; the report counts
// what was checked up to that point. Signers missing from the key set are
// counted in Report.Untrusted and do not stop the walk.
func (v *Verifier) Verify(ctx context.Context) (*Report, error) {
	report := &Report{}
	tips := make(map[string]string)

	err := Walk(ctx, v.repo, func(rec Record) error {
		pos := rec.Cursor.String()
		a := rec.Atomic

		err := VerifyAtomic(a, v.keys)
		var authErr *ledgererr.AuthenticationError
		switch {
		case errors.As(err, &authErr):
			report.Untrusted++
		case err != nil:
			return &ledgererr.LedgerCorruptedError{Position: pos, Reason: "record failed verification", Err: err}
		}

		trace := a.TraceID()
		tip, seen := tips[trace]
		switch {
		case a.Prev == "":
		case !seen:
			return &ledgererr.LedgerCorruptedError{Position: pos, Reason: "prev set on the first atomic of trace " + trace}
		case a.Prev != tip:
			return &ledgererr.LedgerCorruptedError{Position: pos, Reason: "prev does not match the previous atomic of trace " + trace}
		}
		tips[trace] = a.CurrHash

		report.Checked++
		if a.Signature != nil {
			report.Signed++
		}
		return nil
	})
	report.Traces = len(tips)
	if err != nil {
		var corrupted *ledgererr.LedgerCorruptedError
		if errors.As(err, &corrupted) {
			report.Position = corrupted.Position
		}
		return report, err
	}
	return report, nil
}
