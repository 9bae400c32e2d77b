// Package signature signs and verifies ledger digests with Ed25519.
//
// The signed message is the UTF-8 bytes of the lowercase hex digest, not the
// raw digest bytes and not the atomic itself. Keys travel as lowercase hex:
// 32-byte public keys and 32-byte private seeds.
package signature

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmerrifield20/logline/pkg/atomic"
	"github.com/jmerrifield20/logline/pkg/ledgererr"
)

// Algorithm is the only value accepted in Signature.Alg.
const Algorithm = "Ed25519"

// ErrInvalidKey is returned when a hex key has the wrong length or encoding.
var ErrInvalidKey = errors.New("invalid Ed25519 key")

// Keypair is an Ed25519 signing identity.
type Keypair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeypair creates a new random keypair.
func GenerateKeypair() (*Keypair, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating Ed25519 keypair: %w", err)
	}
	return &Keypair{Public: public, Private: private}, nil
}

// KeypairFromSeed derives the keypair for a 32-byte seed.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed has %d bytes, want %d", ErrInvalidKey, len(seed), ed25519.SeedSize)
	}
	private := ed25519.NewKeyFromSeed(seed)
	return &Keypair{Public: private.Public().(ed25519.PublicKey), Private: private}, nil
}

// ParsePrivateKeyHex accepts either a 32-byte seed or a 64-byte expanded
// private key, hex encoded.
func ParsePrivateKeyHex(s string) (*Keypair, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return KeypairFromSeed(raw)
	case ed25519.PrivateKeySize:
		return KeypairFromSeed(raw[:ed25519.SeedSize])
	default:
		return nil, fmt.Errorf("%w: private key has %d bytes", ErrInvalidKey, len(raw))
	}
}

// ParsePublicKeyHex decodes a hex public key.
func ParsePublicKeyHex(s string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: public key has %d bytes, want %d", ErrInvalidKey, len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// NormalizePublicKey lowercases and validates a hex public key.
func NormalizePublicKey(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if _, err := ParsePublicKeyHex(s); err != nil {
		return "", err
	}
	return s, nil
}

// PublicKeyHex returns the hex public key.
func (k *Keypair) PublicKeyHex() string { return hex.EncodeToString(k.Public) }

// SeedHex returns the hex private seed.
func (k *Keypair) SeedHex() string { return hex.EncodeToString(k.Private.Seed()) }

// Sign signs digest and returns a signature stamped with the current UTC time.
func Sign(digest string, key *Keypair) *atomic.Signature {
	return SignAt(digest, key, time.Now())
}

// SignAt is Sign with an explicit timestamp.
func SignAt(digest string, key *Keypair, at time.Time) *atomic.Signature {
	sig := ed25519.Sign(key.Private, []byte(digest))
	return &atomic.Signature{
		Alg:       Algorithm,
		PublicKey: key.PublicKeyHex(),
		Sig:       hex.EncodeToString(sig),
		SignedAt:  at.UTC().Format(time.RFC3339Nano),
	}
}

// Verify reports whether sig is a valid signature of digest under any of
// the candidate keys. Malformed hex in the signature or a candidate is a
// failed check, never a panic. An empty candidate set always fails.
func Verify(digest string, sig *atomic.Signature, candidates []string) bool {
	if sig == nil || (sig.Alg != "" && sig.Alg != Algorithm) {
		return false
	}
	raw, err := hex.DecodeString(sig.Sig)
	if err != nil || len(raw) != ed25519.SignatureSize {
		return false
	}
	msg := []byte(digest)
	for _, c := range candidates {
		pub, err := ParsePublicKeyHex(strings.ToLower(c))
		if err != nil {
			continue
		}
		if ed25519.Verify(pub, msg, raw) {
			return true
		}
	}
	return false
}

// SignAtomic hashes a (if it has no hash yet) and attaches a signature over
// that hash. The signature does not feed back into the hash.
func SignAtomic(a *atomic.Atomic, key *Keypair) error {
	if a.CurrHash == "" {
		if _, err := atomic.Seal(a); err != nil {
			return err
		}
	}
	a.Signature = Sign(a.CurrHash, key)
	return nil
}

// VerifyAtomic checks that a carries a signature over its own hash made by
// one of the candidate keys. It does not recompute the hash; pair it with
// atomic.VerifyHash for a full check.
func VerifyAtomic(a *atomic.Atomic, candidates []string) error {
	if a.Signature == nil {
		return &ledgererr.InvalidSignatureError{Hash: a.CurrHash, Reason: "atomic is not signed"}
	}
	if a.Signature.Alg != Algorithm {
		return &ledgererr.InvalidSignatureError{Hash: a.CurrHash, Reason: fmt.Sprintf("unsupported algorithm %q", a.Signature.Alg)}
	}
	if !Verify(a.CurrHash, a.Signature, candidates) {
		return &ledgererr.InvalidSignatureError{Hash: a.CurrHash, Reason: "no trusted key verifies the signature"}
	}
	return nil
}
