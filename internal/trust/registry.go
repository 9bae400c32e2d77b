// Package trust holds the set of public keys the ledger accepts signatures
// from. One registry serves both key rotation (a node's own current and
// retired keys) and federation (keys advertised by peer ledgers).
package trust

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jmerrifield20/logline/pkg/atomic"
	"github.com/jmerrifield20/logline/pkg/ledgererr"
	"github.com/jmerrifield20/logline/pkg/signature"
)

// ErrUnknownKey is returned when removing a key the registry does not hold.
var ErrUnknownKey = errors.New("key not in trust registry")

// Scope is what a trusted key is allowed to do.
type Scope string

const (
	// ScopeLocal keys belong to this node and may sign new atomics.
	ScopeLocal Scope = "local"
	// ScopeRotated keys are retired local keys kept to verify history.
	ScopeRotated Scope = "rotated"
	// ScopeFederated keys belong to a peer ledger.
	ScopeFederated Scope = "federated"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s == ScopeLocal || s == ScopeRotated || s == ScopeFederated
}

// CanSign reports whether keys of this scope may sign new atomics.
func (s Scope) CanSign() bool { return s == ScopeLocal }

// Entry is one trusted key.
type Entry struct {
	Key     string    `json:"public_key"`
	Scope   Scope     `json:"scope"`
	Peer    string    `json:"peer,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

// Store persists registry entries.
type Store interface {
	Load() ([]Entry, error)
	Save(entries []Entry) error
}

// Registry is a concurrency-safe set of trusted keys. Mutations replace the
// whole key map, so a verification racing a mutation sees either the old or
// the new set and never a partial one.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	store   Store
	now     func() time.Time
}

// NewRegistry returns an empty registry with no persistence.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Open loads a registry from store. Every later mutation is saved back to
// it before taking effect.
func Open(store Store) (*Registry, error) {
	entries, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load trust registry: %w", err)
	}
	r := NewRegistry()
	for _, e := range entries {
		key, err := signature.NormalizePublicKey(e.Key)
		if err != nil {
			return nil, fmt.Errorf("load trust registry: key %q: %w", e.Key, err)
		}
		if !e.Scope.Valid() {
			return nil, fmt.Errorf("load trust registry: key %s has unknown scope %q", key, e.Scope)
		}
		e.Key = key
		r.entries[key] = e
	}
	r.store = store
	return r, nil
}

// Add trusts key as a local signer.
func (r *Registry) Add(key string) error {
	return r.AddEntry(Entry{Key: key, Scope: ScopeLocal})
}

// AddEntry trusts e.Key with e.Scope. Re-adding a known key updates its
// scope and peer but keeps the original AddedAt.
func (r *Registry) AddEntry(e Entry) error {
	key, err := signature.NormalizePublicKey(e.Key)
	if err != nil {
		return err
	}
	if e.Scope == "" {
		e.Scope = ScopeLocal
	}
	if !e.Scope.Valid() {
		return fmt.Errorf("unknown scope %q", e.Scope)
	}
	return r.mutate(func(m map[string]Entry) error {
		e.Key = key
		if old, ok := m[key]; ok {
			e.AddedAt = old.AddedAt
		} else if e.AddedAt.IsZero() {
			e.AddedAt = r.now()
		}
		m[key] = e
		return nil
	})
}

// Remove stops trusting key. Signatures already verified stay verified.
func (r *Registry) Remove(key string) error {
	norm, err := signature.NormalizePublicKey(key)
	if err != nil {
		return err
	}
	return r.mutate(func(m map[string]Entry) error {
		if _, ok := m[norm]; !ok {
			return ErrUnknownKey
		}
		delete(m, norm)
		return nil
	})
}

// Rotate makes newKey the local signer. Current local keys become rotated
// when retainOld is true and are removed otherwise.
func (r *Registry) Rotate(newKey string, retainOld bool) error {
	key, err := signature.NormalizePublicKey(newKey)
	if err != nil {
		return err
	}
	return r.mutate(func(m map[string]Entry) error {
		for k, e := range m {
			if e.Scope != ScopeLocal || k == key {
				continue
			}
			if retainOld {
				e.Scope = ScopeRotated
				m[k] = e
			} else {
				delete(m, k)
			}
		}
		e, ok := m[key]
		if !ok {
			e = Entry{Key: key, AddedAt: r.now()}
		}
		e.Scope = ScopeLocal
		e.Peer = ""
		m[key] = e
		return nil
	})
}

// SyncPeer makes the federated keys attributed to peer exactly keys. keys
// should include the peer's rotated keys, or its history stops verifying
// here. Keys already trusted under another scope are left alone. It returns
// how many keys were added and removed.
func (r *Registry) SyncPeer(peer string, keys []string) (added, removed int, err error) {
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		norm, err := signature.NormalizePublicKey(k)
		if err != nil {
			return 0, 0, fmt.Errorf("peer %s advertised %q: %w", peer, k, err)
		}
		want[norm] = true
	}

	err = r.mutate(func(m map[string]Entry) error {
		for k, e := range m {
			if e.Scope == ScopeFederated && e.Peer == peer && !want[k] {
				delete(m, k)
				removed++
			}
		}
		for k := range want {
			if _, ok := m[k]; ok {
				continue
			}
			m[k] = Entry{Key: k, Scope: ScopeFederated, Peer: peer, AddedAt: r.now()}
			added++
		}
		if added == 0 && removed == 0 {
			return errNoChange
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		err = nil
	}
	return added, removed, err
}

var errNoChange = errors.New("no change")

// List returns the trusted keys in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := slices.Collect(maps.Keys(r.entries))
	slices.Sort(keys)
	return keys
}

// Entries returns all entries sorted by key.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedEntries(r.entries)
}

// Get returns the entry for key.
func (r *Registry) Get(key string) (Entry, bool) {
	norm, err := signature.NormalizePublicKey(key)
	if err != nil {
		return Entry{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[norm]
	return e, ok
}

// Len returns the number of trusted keys.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// VerifyAny reports whether sig over digest verifies under any trusted key.
func (r *Registry) VerifyAny(digest string, sig *atomic.Signature) bool {
	return signature.Verify(digest, sig, r.List())
}

// Authorize checks that key may sign new atomics.
func (r *Registry) Authorize(key string) error {
	e, ok := r.Get(key)
	if !ok {
		return &ledgererr.AuthenticationError{PublicKey: key}
	}
	if !e.Scope.CanSign() {
		return &ledgererr.AuthorizationError{PublicKey: key, Scope: string(e.Scope), Action: "sign"}
	}
	return nil
}

func (r *Registry) mutate(fn func(m map[string]Entry) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := maps.Clone(r.entries)
	if err := fn(next); err != nil {
		return err
	}
	if r.store != nil {
		if err := r.store.Save(sortedEntries(next)); err != nil {
			return fmt.Errorf("persist trust registry: %w", err)
		}
	}
	r.entries = next
	return nil
}

func sortedEntries(m map[string]Entry) []Entry {
	out := slices.Collect(maps.Values(m))
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Key, b.Key) })
	return out
}
