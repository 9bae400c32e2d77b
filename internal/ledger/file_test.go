package ledger_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/jmerrifield20/logline/internal/ledger"
	"github.com/jmerrifield20/logline/pkg/ledgererr"
)

func openFile(t *testing.T, path string) *ledger.FileRepository {
	t.Helper()
	repo, err := ledger.OpenFileRepository(path, true, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestFileRepository_Conformance(t *testing.T) {
	runConformance(t, func(t *testing.T) ledger.Repository {
		return openFile(t, filepath.Join(t.TempDir(), "ledger.ndjson"))
	})
}

func TestFileRepository_ReopenRestoresIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "ledger.ndjson")

	repo := openFile(t, path)
	a := sealed(t, atomicSpec{trace: "T", this: "first"})
	b := sealed(t, atomicSpec{trace: "T", this: "second"})
	mustAppend(t, repo, a)
	mustAppend(t, repo, b)
	if err := repo.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := openFile(t, path)
	rec, err := reopened.FindByHash(ctx, b.CurrHash)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Cursor != 1 {
		t.Errorf("cursor after reopen: got %d, want 1", rec.Cursor)
	}
	c := mustAppend(t, reopened, sealed(t, atomicSpec{trace: "T", this: "third"}))
	if c != 2 {
		t.Errorf("next cursor after reopen: got %d, want 2", c)
	}
	if _, err := reopened.Append(ctx, a); err == nil {
		t.Error("expected duplicate after reopen")
	}
}

func TestFileRepository_OneCanonicalLinePerAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.ndjson")
	repo := openFile(t, path)
	a := sealed(t, atomicSpec{trace: "T", this: "x"})
	mustAppend(t, repo, a)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want, err := a.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(want)+"\n" {
		t.Errorf("file content:\n got %s\nwant %s", data, want)
	}
}

func TestFileRepository_CorruptRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.ndjson")
	repo := openFile(t, path)
	mustAppend(t, repo, sealed(t, atomicSpec{trace: "T", this: "ok"}))
	repo.Close()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{not json\n")
	f.Close()

	_, err = ledger.OpenFileRepository(path, true, zap.NewNop())
	var corrupted *ledgererr.LedgerCorruptedError
	if !errors.As(err, &corrupted) {
		t.Fatalf("expected LedgerCorruptedError, got %v", err)
	}
	if corrupted.Position != "1" {
		t.Errorf("position: got %q, want \"1\"", corrupted.Position)
	}
}

func TestFileRepository_TruncatedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.ndjson")
	line, err := sealed(t, atomicSpec{trace: "T", this: "x"}).MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	half := string(line[:len(line)/2])
	if err := os.WriteFile(path, []byte(half), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = ledger.OpenFileRepository(path, true, zap.NewNop())
	var corrupted *ledgererr.LedgerCorruptedError
	if !errors.As(err, &corrupted) || !strings.Contains(corrupted.Reason, "truncated") {
		t.Fatalf("expected truncated record error, got %v", err)
	}
}
