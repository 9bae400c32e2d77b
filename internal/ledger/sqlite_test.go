package ledger_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/jmerrifield20/logline/internal/ledger"
	"github.com/jmerrifield20/logline/pkg/atomic"
	"github.com/jmerrifield20/logline/pkg/ledgererr"
)

func openSQLite(t *testing.T, path string) *ledger.SQLiteRepository {
	t.Helper()
	repo, err := ledger.OpenSQLiteRepository(path, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository_Conformance(t *testing.T) {
	runConformance(t, func(t *testing.T) ledger.Repository {
		return openSQLite(t, filepath.Join(t.TempDir(), "ledger.db"))
	})
}

func TestSQLiteRepository_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	repo := openSQLite(t, path)
	a := sealed(t, atomicSpec{trace: "T", this: "x"})
	mustAppend(t, repo, a)
	repo.Close()

	reopened := openSQLite(t, path)
	ok, err := reopened.Exists(ctx, a.CurrHash)
	if err != nil || !ok {
		t.Fatalf("exists after reopen: %v, %v", ok, err)
	}
	if c := mustAppend(t, reopened, sealed(t, atomicSpec{trace: "T", this: "y"})); c != 1 {
		t.Errorf("next cursor: got %d, want 1", c)
	}
}

func TestSQLiteRepository_CorruptBody(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	repo := openSQLite(t, path)
	a := sealed(t, atomicSpec{trace: "T", this: "x"})
	mustAppend(t, repo, a)
	repo.Close()

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("UPDATE atomics SET body = '{broken' WHERE cursor = 0"); err != nil {
		t.Fatal(err)
	}
	db.Close()

	reopened := openSQLite(t, path)
	_, err = reopened.FindByHash(ctx, a.CurrHash)
	var corrupted *ledgererr.LedgerCorruptedError
	if !errors.As(err, &corrupted) || corrupted.Position != "0" {
		t.Fatalf("expected corruption at 0, got %v", err)
	}
	if _, err := reopened.Scan(ctx, ledger.ScanOptions{}); ledgererr.KindOf(err) != ledgererr.KindTampered {
		t.Errorf("scan over corrupt row: expected tampered kind, got %v", err)
	}
}

func TestSQLiteRepository_ReadsDuringAppend(t *testing.T) {
	repo := openSQLite(t, filepath.Join(t.TempDir(), "ledger.db"))
	first := sealed(t, atomicSpec{trace: "T", this: "x"})
	mustAppend(t, repo, first)

	next := sealed(t, atomicSpec{trace: "T", this: "y"})
	next.CurrHash = ""
	_, err := repo.AppendLinked(ctx, next, func(a *atomic.Atomic) error {
		// The append transaction is open here; reads must not wait for it.
		rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		page, err := repo.Scan(rctx, ledger.ScanOptions{})
		if err != nil {
			return err
		}
		if len(page.Records) != 1 {
			t.Errorf("scan inside append: got %d records, want 1", len(page.Records))
		}
		if ok, err := repo.Exists(rctx, first.CurrHash); err != nil || !ok {
			t.Errorf("exists inside append: %v, %v", ok, err)
		}
		_, err = atomic.Seal(a)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if next.Prev != first.CurrHash {
		t.Errorf("prev: got %q, want %q", next.Prev, first.CurrHash)
	}
}

