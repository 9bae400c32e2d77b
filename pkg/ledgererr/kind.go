package ledgererr

import "errors"

// Kind is a coarse classification of a ledger error.
type Kind int

const (
	KindUnknown      Kind = iota
	KindInvalidInput      // validation failures
	KindUnauthorized      // signer not recognised or not allowed
	KindTampered          // hash, signature or chain integrity failures
	KindConflict          // duplicate atomic
	KindNotFound
	KindStorage // backend durability failures
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindUnauthorized:
		return "unauthorized"
	case KindTampered:
		return "tampered"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// KindOf returns the classification of the first ledger error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var (
		validation *ValidationError
		authn      *AuthenticationError
		authz      *AuthorizationError
		badHash    *InvalidHashError
		badSig     *InvalidSignatureError
		corrupted  *LedgerCorruptedError
		dup        *DuplicateAtomicError
		repo       *RepositoryError
	)
	switch {
	case errors.As(err, &validation):
		return KindInvalidInput
	case errors.As(err, &authn), errors.As(err, &authz):
		return KindUnauthorized
	case errors.As(err, &corrupted), errors.As(err, &badHash), errors.As(err, &badSig):
		return KindTampered
	case errors.As(err, &dup):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.As(err, &repo):
		return KindStorage
	}
	return KindUnknown
}
