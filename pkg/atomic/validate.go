package atomic

import (
	"fmt"
	"strings"

	"github.com/jmerrifield20/logline/pkg/ledgererr"
	"github.com/jmerrifield20/logline/pkg/result"
)

// Validate checks the structural requirements for acceptance into the
// ledger. It reports every violation at once rather than stopping at the
// first, and never touches storage.
func Validate(a *Atomic) result.Result[*Atomic] {
	if err := Check(a); err != nil {
		return result.Err[*Atomic](err)
	}
	return result.Ok(a)
}

// Check is Validate in plain error form. The error, when non-nil, is a
// *ledgererr.ValidationError.
func Check(a *Atomic) error {
	if a == nil {
		return &ledgererr.ValidationError{Reasons: []string{"atomic is required"}}
	}

	var reasons []string
	add := func(format string, args ...any) {
		reasons = append(reasons, fmt.Sprintf(format, args...))
	}

	switch {
	case a.EntityType == "":
		add("entity_type is required (valid: %s)", validEntityTypes())
	case !a.EntityType.Valid():
		add("entity_type %q is invalid (valid: %s)", a.EntityType, validEntityTypes())
	}

	if a.This == "" {
		add("this is required")
	}

	if a.Did == nil {
		add("did is required")
	} else {
		if a.Did.Actor == "" {
			add("did.actor is required")
		}
		if a.Did.Action == "" {
			add("did.action is required")
		}
	}

	if a.Metadata == nil {
		add("metadata is required")
		add("metadata.trace_id is required")
	} else {
		if a.Metadata.TraceID == "" {
			add("metadata.trace_id is required")
		}
		if a.Metadata.CreatedAt == "" {
			add("metadata.created_at is required")
		}
	}

	if a.Prev != "" && !IsHash(a.Prev) {
		add("prev %q is not a %d-character hex hash", a.Prev, HashSize*2)
	}

	if a.Signature != nil {
		if a.Signature.PublicKey == "" {
			add("signature.public_key is required")
		}
		if a.Signature.Sig == "" {
			add("signature.sig is required")
		}
	}

	if len(reasons) > 0 {
		return &ledgererr.ValidationError{Reasons: reasons}
	}
	return nil
}

func validEntityTypes() string {
	names := make([]string, len(EntityTypes))
	for i, t := range EntityTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
