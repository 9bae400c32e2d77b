package atomic

import (
	"encoding/hex"

	"github.com/zeebo/blake3"

	"github.com/jmerrifield20/logline/pkg/canonical"
	"github.com/jmerrifield20/logline/pkg/ledgererr"
)

// HashContext is the BLAKE3 derive-key context string. Changing it changes
// every content address, so it is versioned.
const HashContext = "logline/atomic/v1"

// HashSize is the length in bytes of a content address.
const HashSize = 32

// sealFields are stripped from a value before hashing.
var sealFields = []string{fieldCurrHash, fieldHash, fieldSignature}

// Hash returns the lowercase hex content address of a. The atomic's own
// hash and signature never influence the result.
func Hash(a *Atomic) (string, error) {
	return HashValue(a.ToValue(false))
}

// HashValue hashes an arbitrary JSON value the way Hash hashes an atomic:
// when v is an object its seal fields are removed first. v is not modified.
func HashValue(v canonical.Value) (string, error) {
	if obj, ok := v.(canonical.Object); ok {
		stripped := make(canonical.Object, len(obj))
		for k, val := range obj {
			stripped[k] = val
		}
		for _, f := range sealFields {
			delete(stripped, f)
		}
		v = stripped
	}
	data, err := canonical.Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(data), nil
}

// HashBytes hashes pre-canonicalized bytes.
func HashBytes(data []byte) string {
	h := blake3.NewDeriveKey(HashContext)
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Seal computes the content address of a and stores it in CurrHash.
func Seal(a *Atomic) (string, error) {
	h, err := Hash(a)
	if err != nil {
		return "", err
	}
	a.CurrHash = h
	return h, nil
}

// VerifyHash recomputes the content address and compares it with CurrHash.
func VerifyHash(a *Atomic) error {
	h, err := Hash(a)
	if err != nil {
		return err
	}
	if h != a.CurrHash {
		return &ledgererr.InvalidHashError{Expected: h, Actual: a.CurrHash}
	}
	return nil
}

// IsHash reports whether s has the shape of a content address.
func IsHash(s string) bool {
	if len(s) != HashSize*2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
