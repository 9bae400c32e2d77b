package trust_test

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/jmerrifield20/logline/internal/trust"
	"github.com/jmerrifield20/logline/pkg/ledgererr"
	"github.com/jmerrifield20/logline/pkg/signature"
)

const digest = "9a3f0c1d2e4b5a6978877665544332211009a8b7c6d5e4f3a2b1c0d9e8f7a6b5"

func newKey(t *testing.T) *signature.Keypair {
	t.Helper()
	k, err := signature.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	return k
}

func TestRegistry_AddListRemove(t *testing.T) {
	r := trust.NewRegistry()
	k1, k2 := newKey(t), newKey(t)

	if err := r.Add(k1.PublicKeyHex()); err != nil {
		t.Fatal(err)
	}
	if err := r.Add(strings.ToUpper(k2.PublicKeyHex())); err != nil {
		t.Fatal(err)
	}
	if got := r.Len(); got != 2 {
		t.Fatalf("expected 2 keys, got %d", got)
	}
	if _, ok := r.Get(k2.PublicKeyHex()); !ok {
		t.Error("expected uppercase key to be stored normalized")
	}

	list := r.List()
	for i := 1; i < len(list); i++ {
		if list[i-1] >= list[i] {
			t.Errorf("list not sorted: %v", list)
		}
	}

	if err := r.Remove(k1.PublicKeyHex()); err != nil {
		t.Fatal(err)
	}
	if err := r.Remove(k1.PublicKeyHex()); !errors.Is(err, trust.ErrUnknownKey) {
		t.Errorf("expected ErrUnknownKey, got %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 key after remove, got %d", r.Len())
	}
}

func TestRegistry_AddRejectsMalformedKey(t *testing.T) {
	r := trust.NewRegistry()
	if err := r.Add("not-a-key"); !errors.Is(err, signature.ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
	if err := r.AddEntry(trust.Entry{Key: newKey(t).PublicKeyHex(), Scope: "owner"}); err == nil {
		t.Error("expected unknown scope to be rejected")
	}
}

func TestRegistry_VerifyAny(t *testing.T) {
	r := trust.NewRegistry()
	k := newKey(t)
	sig := signature.Sign(digest, k)

	if r.VerifyAny(digest, sig) {
		t.Error("empty registry must not verify")
	}
	if err := r.Add(k.PublicKeyHex()); err != nil {
		t.Fatal(err)
	}
	if !r.VerifyAny(digest, sig) {
		t.Error("expected signature to verify with registered key")
	}
	if err := r.Remove(k.PublicKeyHex()); err != nil {
		t.Fatal(err)
	}
	if r.VerifyAny(digest, sig) {
		t.Error("removed key must no longer verify")
	}
}

func TestRegistry_RotateDropsOldKey(t *testing.T) {
	r := trust.NewRegistry()
	old, next := newKey(t), newKey(t)
	if err := r.Add(old.PublicKeyHex()); err != nil {
		t.Fatal(err)
	}
	sig := signature.Sign(digest, old)

	if err := r.Rotate(next.PublicKeyHex(), false); err != nil {
		t.Fatal(err)
	}

	if r.VerifyAny(digest, sig) {
		t.Error("old signature must not verify against rotated registry when old key was dropped")
	}
	if !signature.Verify(digest, sig, []string{old.PublicKeyHex()}) {
		t.Error("old signature must still verify when the old key is passed explicitly")
	}
	if e, _ := r.Get(next.PublicKeyHex()); e.Scope != trust.ScopeLocal {
		t.Errorf("new key scope: got %q, want local", e.Scope)
	}
}

func TestRegistry_RotateRetainsOldKey(t *testing.T) {
	r := trust.NewRegistry()
	old, next := newKey(t), newKey(t)
	if err := r.Add(old.PublicKeyHex()); err != nil {
		t.Fatal(err)
	}
	sig := signature.Sign(digest, old)

	if err := r.Rotate(next.PublicKeyHex(), true); err != nil {
		t.Fatal(err)
	}
	if !r.VerifyAny(digest, sig) {
		t.Error("retained key must keep verifying history")
	}
	e, ok := r.Get(old.PublicKeyHex())
	if !ok || e.Scope != trust.ScopeRotated {
		t.Errorf("old key: got %+v, want rotated", e)
	}
}

func TestRegistry_Authorize(t *testing.T) {
	r := trust.NewRegistry()
	local, rotated, peer, stranger := newKey(t), newKey(t), newKey(t), newKey(t)

	mustAdd := func(e trust.Entry) {
		if err := r.AddEntry(e); err != nil {
			t.Fatal(err)
		}
	}
	mustAdd(trust.Entry{Key: local.PublicKeyHex(), Scope: trust.ScopeLocal})
	mustAdd(trust.Entry{Key: rotated.PublicKeyHex(), Scope: trust.ScopeRotated})
	mustAdd(trust.Entry{Key: peer.PublicKeyHex(), Scope: trust.ScopeFederated, Peer: "https://peer"})

	if err := r.Authorize(local.PublicKeyHex()); err != nil {
		t.Errorf("local key: unexpected %v", err)
	}

	var authz *ledgererr.AuthorizationError
	if err := r.Authorize(rotated.PublicKeyHex()); !errors.As(err, &authz) {
		t.Errorf("rotated key: expected AuthorizationError, got %v", err)
	}
	if err := r.Authorize(peer.PublicKeyHex()); !errors.As(err, &authz) {
		t.Errorf("federated key: expected AuthorizationError, got %v", err)
	}

	var authn *ledgererr.AuthenticationError
	if err := r.Authorize(stranger.PublicKeyHex()); !errors.As(err, &authn) {
		t.Errorf("unknown key: expected AuthenticationError, got %v", err)
	}
	if ledgererr.KindOf(r.Authorize(stranger.PublicKeyHex())) != ledgererr.KindUnauthorized {
		t.Error("expected unknown signer to classify as unauthorized")
	}
}

func TestRegistry_SyncPeer(t *testing.T) {
	r := trust.NewRegistry()
	local := newKey(t)
	a, b, c := newKey(t), newKey(t), newKey(t)
	if err := r.Add(local.PublicKeyHex()); err != nil {
		t.Fatal(err)
	}

	added, removed, err := r.SyncPeer("https://p1", []string{a.PublicKeyHex(), b.PublicKeyHex(), local.PublicKeyHex()})
	if err != nil {
		t.Fatal(err)
	}
	if added != 2 || removed != 0 {
		t.Errorf("first sync: added=%d removed=%d, want 2/0", added, removed)
	}
	if e, _ := r.Get(local.PublicKeyHex()); e.Scope != trust.ScopeLocal {
		t.Error("peer sync must not demote a local key")
	}

	added, removed, err = r.SyncPeer("https://p1", []string{b.PublicKeyHex(), c.PublicKeyHex()})
	if err != nil {
		t.Fatal(err)
	}
	if added != 1 || removed != 1 {
		t.Errorf("second sync: added=%d removed=%d, want 1/1", added, removed)
	}
	if _, ok := r.Get(a.PublicKeyHex()); ok {
		t.Error("key no longer advertised must be dropped")
	}
	if e, _ := r.Get(c.PublicKeyHex()); e.Peer != "https://p1" || e.Scope != trust.ScopeFederated {
		t.Errorf("unexpected entry %+v", e)
	}

	if _, _, err := r.SyncPeer("https://p1", []string{"zz"}); err == nil {
		t.Error("expected malformed peer key to fail")
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := trust.NewRegistry()
	k := newKey(t)
	sig := signature.Sign(digest, k)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = r.Add(k.PublicKeyHex())
			_ = r.Remove(k.PublicKeyHex())
		}()
		go func() {
			defer wg.Done()
			_ = r.VerifyAny(digest, sig)
			_ = r.Entries()
		}()
	}
	wg.Wait()
}
