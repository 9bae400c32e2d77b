package trust_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmerrifield20/logline/internal/trust"
)

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	s := trust.NewFileStore(filepath.Join(t.TempDir(), "trust.json"))
	entries, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestOpen_PersistsMutations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "trust.json")
	k1, k2 := newKey(t), newKey(t)

	r, err := trust.Open(trust.NewFileStore(path))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Add(k1.PublicKeyHex()); err != nil {
		t.Fatal(err)
	}
	if err := r.Rotate(k2.PublicKeyHex(), true); err != nil {
		t.Fatal(err)
	}

	reopened, err := trust.Open(trust.NewFileStore(path))
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Len() != 2 {
		t.Fatalf("expected 2 persisted keys, got %d", reopened.Len())
	}
	if e, _ := reopened.Get(k1.PublicKeyHex()); e.Scope != trust.ScopeRotated {
		t.Errorf("k1 scope: got %q, want rotated", e.Scope)
	}
	if e, _ := reopened.Get(k2.PublicKeyHex()); e.Scope != trust.ScopeLocal {
		t.Errorf("k2 scope: got %q, want local", e.Scope)
	}
}

func TestOpen_RejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trust.json")
	if err := os.WriteFile(path, []byte(`{"keys":[{"public_key":"abc","scope":"local"}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := trust.Open(trust.NewFileStore(path)); err == nil {
		t.Error("expected malformed key to fail load")
	}
}

type failingStore struct{}

func (failingStore) Load() ([]trust.Entry, error) { return nil, nil }
func (failingStore) Save([]trust.Entry) error     { return errors.New("disk full") }

func TestRegistry_FailedSaveLeavesStateUnchanged(t *testing.T) {
	r, err := trust.Open(failingStore{})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Add(newKey(t).PublicKeyHex()); err == nil {
		t.Fatal("expected save failure")
	}
	if r.Len() != 0 {
		t.Errorf("expected registry unchanged after failed save, got %d keys", r.Len())
	}
}
