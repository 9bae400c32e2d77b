package ledgererr_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jmerrifield20/logline/pkg/ledgererr"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ledgererr.Kind
	}{
		{"nil", nil, ledgererr.KindUnknown},
		{"plain", errors.New("x"), ledgererr.KindUnknown},
		{"validation", &ledgererr.ValidationError{Reasons: []string{"a"}}, ledgererr.KindInvalidInput},
		{"wrapped validation", fmt.Errorf("append: %w", &ledgererr.ValidationError{}), ledgererr.KindInvalidInput},
		{"authn", &ledgererr.AuthenticationError{PublicKey: "ab"}, ledgererr.KindUnauthorized},
		{"authz", &ledgererr.AuthorizationError{PublicKey: "ab", Scope: "rotated", Action: "sign"}, ledgererr.KindUnauthorized},
		{"hash", &ledgererr.InvalidHashError{}, ledgererr.KindTampered},
		{"signature", &ledgererr.InvalidSignatureError{}, ledgererr.KindTampered},
		{"corrupted", &ledgererr.LedgerCorruptedError{Position: "3"}, ledgererr.KindTampered},
		{"duplicate", &ledgererr.DuplicateAtomicError{Hash: "h"}, ledgererr.KindConflict},
		{"not found", fmt.Errorf("get: %w", ledgererr.ErrNotFound), ledgererr.KindNotFound},
		{"repository", &ledgererr.RepositoryError{Op: "append", Err: errors.New("disk full")}, ledgererr.KindStorage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ledgererr.KindOf(tc.err); got != tc.want {
				t.Errorf("KindOf() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCorruptedUnwrapsCause(t *testing.T) {
	cause := &ledgererr.InvalidHashError{Expected: "a", Actual: "b"}
	err := &ledgererr.LedgerCorruptedError{Position: "7", Reason: "hash mismatch", Err: cause}

	var got *ledgererr.InvalidHashError
	if !errors.As(err, &got) {
		t.Fatal("expected InvalidHashError in chain")
	}
	if !strings.Contains(err.Error(), "position 7") {
		t.Errorf("error should name the position: %q", err.Error())
	}
}

func TestRepository_keepsTypedErrors(t *testing.T) {
	dup := &ledgererr.DuplicateAtomicError{Hash: "h"}
	if got := ledgererr.Repository("append", dup); got != dup {
		t.Errorf("typed error should pass through, got %v", got)
	}

	wrapped := ledgererr.Repository("append", errors.New("io"))
	var repo *ledgererr.RepositoryError
	if !errors.As(wrapped, &repo) || repo.Op != "append" {
		t.Errorf("expected RepositoryError, got %v", wrapped)
	}

	if ledgererr.Repository("append", nil) != nil {
		t.Error("nil error should stay nil")
	}
}

func TestValidationError_listsEveryReason(t *testing.T) {
	err := &ledgererr.ValidationError{Reasons: []string{"this is required", "did is required"}}
	msg := err.Error()
	for _, r := range err.Reasons {
		if !strings.Contains(msg, r) {
			t.Errorf("message %q missing reason %q", msg, r)
		}
	}
}
