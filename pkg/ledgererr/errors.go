// Package ledgererr defines the typed failures that cross the ledger's
// boundaries. Callers inspect them with errors.As, or classify any error
// with KindOf to tell "my input was invalid" apart from "the system failed
// to persist" and "this record has been tampered with".
package ledgererr

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by repository lookups that find no atomic.
var ErrNotFound = errors.New("atomic not found")

// ValidationError reports every structural violation found in an atomic.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Reasons, "; ")
}

// InvalidHashError reports an atomic whose stored hash does not match its content.
type InvalidHashError struct {
	Expected string
	Actual   string
}

func (e *InvalidHashError) Error() string {
	return fmt.Sprintf("invalid hash: stored %q, computed %q", e.Actual, e.Expected)
}

// InvalidSignatureError reports a signature that is malformed or does not verify.
type InvalidSignatureError struct {
	Hash   string
	Reason string
}

func (e *InvalidSignatureError) Error() string {
	return fmt.Sprintf("invalid signature on %s: %s", e.Hash, e.Reason)
}

// DuplicateAtomicError is returned when an atomic with the same hash is already stored.
type DuplicateAtomicError struct {
	Hash string
}

func (e *DuplicateAtomicError) Error() string {
	return fmt.Sprintf("atomic %s already exists", e.Hash)
}

// LedgerCorruptedError identifies the position of a broken chain link or an
// unreadable record. Err, when set, is the underlying integrity failure.
type LedgerCorruptedError struct {
	Position string
	Reason   string
	Err      error
}

func (e *LedgerCorruptedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ledger corrupted at position %s: %s: %v", e.Position, e.Reason, e.Err)
	}
	return fmt.Sprintf("ledger corrupted at position %s: %s", e.Position, e.Reason)
}

func (e *LedgerCorruptedError) Unwrap() error { return e.Err }

// RepositoryError wraps a durability or backend failure.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

// AuthenticationError reports a signer key that is not known to the trust registry.
type AuthenticationError struct {
	PublicKey string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("signer %s is not registered", shortKey(e.PublicKey))
}

// AuthorizationError reports a known key whose scope does not allow the operation.
type AuthorizationError struct {
	PublicKey string
	Scope     string
	Action    string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("key %s with scope %q may not %s", shortKey(e.PublicKey), e.Scope, e.Action)
}

// Repository wraps err as a RepositoryError unless it already carries a ledger error type.
func Repository(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return &RepositoryError{Op: op, Err: err}
}

func shortKey(k string) string {
	if len(k) > 16 {
		return k[:16] + "..."
	}
	return k
}
