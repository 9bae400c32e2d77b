package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmerrifield20/logline/internal/ledger"
	"github.com/jmerrifield20/logline/pkg/atomic"
	"github.com/jmerrifield20/logline/pkg/ledgererr"
)

var ctx = context.Background()

type atomicSpec struct {
	trace, this string
	entity      atomic.EntityType
	state       string
	owner       string
	tenant      string
	createdAt   string
	prev        string
}

func sealed(t *testing.T, s atomicSpec) *atomic.Atomic {
	t.Helper()
	if s.entity == "" {
		s.entity = atomic.EntityDecision
	}
	if s.createdAt == "" {
		s.createdAt = "2025-01-01T00:00:00Z"
	}
	a := &atomic.Atomic{
		EntityType: s.entity,
		This:       s.this,
		Did:        &atomic.Did{Actor: "alice", Action: "approve"},
		Metadata: &atomic.Metadata{
			TraceID:   s.trace,
			OwnerID:   s.owner,
			TenantID:  s.tenant,
			CreatedAt: s.createdAt,
		},
		Prev: s.prev,
	}
	if s.state != "" {
		a.Status = &atomic.Status{State: s.state}
	}
	if _, err := atomic.Seal(a); err != nil {
		t.Fatal(err)
	}
	return a
}

func mustAppend(t *testing.T, repo ledger.Repository, a *atomic.Atomic) ledger.Cursor {
	t.Helper()
	c, err := repo.Append(ctx, a)
	if err != nil {
		t.Fatalf("append %s: %v", a.This, err)
	}
	return c
}

// runConformance checks the Repository contract against a backend. newRepo
// must return an empty repository.
func runConformance(t *testing.T, newRepo func(t *testing.T) ledger.Repository) {
	t.Run("append and find", func(t *testing.T) {
		repo := newRepo(t)
		a := sealed(t, atomicSpec{trace: "T1", this: "X"})

		c := mustAppend(t, repo, a)
		if c.String() != "0" {
			t.Errorf("first cursor: got %q, want \"0\"", c)
		}

		rec, err := repo.FindByHash(ctx, a.CurrHash)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Cursor != c {
			t.Errorf("cursor: got %d, want %d", rec.Cursor, c)
		}
		h, err := atomic.Hash(rec.Atomic)
		if err != nil {
			t.Fatal(err)
		}
		if h != a.CurrHash {
			t.Errorf("stored atomic rehashes to %s, want %s", h, a.CurrHash)
		}
	})

	t.Run("duplicate rejected", func(t *testing.T) {
		repo := newRepo(t)
		a := sealed(t, atomicSpec{trace: "T1", this: "X"})
		mustAppend(t, repo, a)

		_, err := repo.Append(ctx, a)
		var dup *ledgererr.DuplicateAtomicError
		if !errors.As(err, &dup) {
			t.Fatalf("expected DuplicateAtomicError, got %v", err)
		}
		if dup.Hash != a.CurrHash {
			t.Errorf("duplicate hash: got %s, want %s", dup.Hash, a.CurrHash)
		}
		st, err := repo.Stats(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if st.Total != 1 {
			t.Errorf("duplicate must not be stored: total=%d", st.Total)
		}
	})

	t.Run("unhashed atomic rejected", func(t *testing.T) {
		repo := newRepo(t)
		a := sealed(t, atomicSpec{trace: "T1", this: "X"})
		a.CurrHash = ""
		_, err := repo.Append(ctx, a)
		if ledgererr.KindOf(err) != ledgererr.KindInvalidInput {
			t.Errorf("expected invalid input, got %v", err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.FindByHash(ctx, "0000")
		if !errors.Is(err, ledgererr.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		ok, err := repo.Exists(ctx, "0000")
		if err != nil || ok {
			t.Errorf("exists: got %v, %v", ok, err)
		}
	})

	t.Run("cursors monotonic and pagination complete", func(t *testing.T) {
		repo := newRepo(t)
		const n = 25
		var hashes []string
		for i := 0; i < n; i++ {
			a := sealed(t, atomicSpec{trace: "T", this: fmt.Sprintf("item-%d", i)})
			c := mustAppend(t, repo, a)
			if int(c) != i {
				t.Fatalf("append %d: got cursor %d", i, c)
			}
			hashes = append(hashes, a.CurrHash)
		}

		var got []string
		opts := ledger.ScanOptions{Limit: 7}
		for pages := 0; ; pages++ {
			if pages > n {
				t.Fatal("pagination did not terminate")
			}
			page, err := repo.Scan(ctx, opts)
			if err != nil {
				t.Fatal(err)
			}
			for _, rec := range page.Records {
				got = append(got, rec.Atomic.CurrHash)
			}
			if !page.HasMore {
				break
			}
			opts.Cursor = page.NextCursor
		}

		if len(got) != n {
			t.Fatalf("reconstructed %d atomics, want %d", len(got), n)
		}
		for i := range hashes {
			if got[i] != hashes[i] {
				t.Errorf("position %d out of order", i)
			}
		}
	})

	t.Run("scan edges", func(t *testing.T) {
		repo := newRepo(t)

		page, err := repo.Scan(ctx, ledger.ScanOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if len(page.Records) != 0 || page.HasMore || page.NextCursor != "" {
			t.Errorf("empty ledger page: %+v", page)
		}

		for i := 0; i < 3; i++ {
			mustAppend(t, repo, sealed(t, atomicSpec{trace: "T", this: fmt.Sprintf("e-%d", i)}))
		}

		page, err = repo.Scan(ctx, ledger.ScanOptions{Limit: 3})
		if err != nil {
			t.Fatal(err)
		}
		if len(page.Records) != 3 || page.HasMore || page.NextCursor != "2" {
			t.Errorf("exact page: n=%d has_more=%v next=%q", len(page.Records), page.HasMore, page.NextCursor)
		}

		page, err = repo.Scan(ctx, ledger.ScanOptions{Cursor: "2"})
		if err != nil {
			t.Fatal(err)
		}
		if len(page.Records) != 0 || page.NextCursor != "2" {
			t.Errorf("scan past end: %+v", page)
		}

		_, err = repo.Scan(ctx, ledger.ScanOptions{Cursor: "abc"})
		if ledgererr.KindOf(err) != ledgererr.KindInvalidInput {
			t.Errorf("bad cursor: expected invalid input, got %v", err)
		}
	})

	t.Run("scan filters", func(t *testing.T) {
		repo := newRepo(t)
		mustAppend(t, repo, sealed(t, atomicSpec{trace: "T", this: "a", state: "ok"}))
		mustAppend(t, repo, sealed(t, atomicSpec{trace: "T", this: "b", state: "failed"}))
		mustAppend(t, repo, sealed(t, atomicSpec{trace: "T", this: "c", state: "ok", entity: atomic.EntityFile}))
		mustAppend(t, repo, sealed(t, atomicSpec{trace: "T", this: "d", state: "ok"}))

		page, err := repo.Scan(ctx, ledger.ScanOptions{Status: "ok", Limit: 2})
		if err != nil {
			t.Fatal(err)
		}
		if len(page.Records) != 2 || !page.HasMore || page.NextCursor != "2" {
			t.Fatalf("first ok page: n=%d has_more=%v next=%q", len(page.Records), page.HasMore, page.NextCursor)
		}
		page, err = repo.Scan(ctx, ledger.ScanOptions{Status: "ok", Limit: 2, Cursor: page.NextCursor})
		if err != nil {
			t.Fatal(err)
		}
		if len(page.Records) != 1 || page.HasMore || page.Records[0].Atomic.This != "d" {
			t.Errorf("second ok page: %+v", page)
		}

		page, err = repo.Scan(ctx, ledger.ScanOptions{Status: "ok", EntityType: atomic.EntityFile})
		if err != nil {
			t.Fatal(err)
		}
		if len(page.Records) != 1 || page.Records[0].Atomic.This != "c" {
			t.Errorf("combined filter: %+v", page.Records)
		}
	})

	t.Run("find by trace", func(t *testing.T) {
		repo := newRepo(t)
		mustAppend(t, repo, sealed(t, atomicSpec{trace: "A", this: "1"}))
		mustAppend(t, repo, sealed(t, atomicSpec{trace: "B", this: "2"}))
		mustAppend(t, repo, sealed(t, atomicSpec{trace: "A", this: "3"}))

		recs, err := repo.FindByTraceID(ctx, "A")
		if err != nil {
			t.Fatal(err)
		}
		if len(recs) != 2 || recs[0].Atomic.This != "1" || recs[1].Atomic.This != "3" {
			t.Errorf("trace A: %+v", recs)
		}
		if recs[1].Cursor != 2 {
			t.Errorf("trace cursor: got %d, want 2", recs[1].Cursor)
		}

		recs, err = repo.FindByTraceID(ctx, "missing")
		if err != nil || len(recs) != 0 {
			t.Errorf("missing trace: %v, %v", recs, err)
		}
	})

	t.Run("query", func(t *testing.T) {
		repo := newRepo(t)
		mustAppend(t, repo, sealed(t, atomicSpec{trace: "A", this: "1", owner: "o1", tenant: "t1", createdAt: "2024-01-01T00:00:00Z"}))
		mustAppend(t, repo, sealed(t, atomicSpec{trace: "A", this: "2", owner: "o2", tenant: "t1", createdAt: "2024-02-01T00:00:00Z", entity: atomic.EntityLaw}))
		mustAppend(t, repo, sealed(t, atomicSpec{trace: "B", this: "3", owner: "o1", tenant: "t2", createdAt: "2024-03-01T00:00:00+02:00"}))
		mustAppend(t, repo, sealed(t, atomicSpec{trace: "B", this: "4", owner: "o1", tenant: "t2", createdAt: "not-a-date"}))

		cases := []struct {
			name string
			opts ledger.QueryOptions
			want []string
		}{
			{"trace", ledger.QueryOptions{TraceID: "A"}, []string{"1", "2"}},
			{"type", ledger.QueryOptions{EntityType: atomic.EntityLaw}, []string{"2"}},
			{"owner", ledger.QueryOptions{OwnerID: "o1"}, []string{"1", "3", "4"}},
			{"tenant+owner", ledger.QueryOptions{TenantID: "t2", OwnerID: "o1"}, []string{"3", "4"}},
			{"from", ledger.QueryOptions{From: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)}, []string{"2", "3"}},
			{"range inclusive", ledger.QueryOptions{
				From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				To:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			}, []string{"1", "2"}},
			{"limit", ledger.QueryOptions{OwnerID: "o1", Limit: 2}, []string{"1", "3"}},
			{"no match", ledger.QueryOptions{TraceID: "A", TenantID: "t2"}, nil},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				recs, err := repo.Query(ctx, tc.opts)
				if err != nil {
					t.Fatal(err)
				}
				var got []string
				for _, r := range recs {
					got = append(got, r.Atomic.This)
				}
				if fmt.Sprint(got) != fmt.Sprint(tc.want) {
					t.Errorf("got %v, want %v", got, tc.want)
				}
			})
		}
	})

	t.Run("stats", func(t *testing.T) {
		repo := newRepo(t)
		mustAppend(t, repo, sealed(t, atomicSpec{trace: "A", this: "1", state: "ok", createdAt: "2024-05-01T00:00:00Z"}))
		mustAppend(t, repo, sealed(t, atomicSpec{trace: "A", this: "2", state: "ok", createdAt: "2024-01-01T00:00:00Z", entity: atomic.EntityFile}))
		mustAppend(t, repo, sealed(t, atomicSpec{trace: "A", this: "3", createdAt: "2024-09-01T00:00:00Z"}))

		st, err := repo.Stats(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if st.Total != 3 {
			t.Errorf("total: got %d", st.Total)
		}
		if st.ByType["decision"] != 2 || st.ByType["file"] != 1 {
			t.Errorf("by_type: %v", st.ByType)
		}
		if st.ByStatus["ok"] != 2 || st.ByStatus["unset"] != 1 {
			t.Errorf("by_status: %v", st.ByStatus)
		}
		if st.Oldest != "2024-01-01T00:00:00Z" || st.Newest != "2024-09-01T00:00:00Z" {
			t.Errorf("oldest/newest: %q / %q", st.Oldest, st.Newest)
		}
	})

	t.Run("returned atomics are copies", func(t *testing.T) {
		repo := newRepo(t)
		a := sealed(t, atomicSpec{trace: "A", this: "1"})
		mustAppend(t, repo, a)
		a.This = "mutated after append"

		rec, err := repo.FindByHash(ctx, a.CurrHash)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Atomic.This != "1" {
			t.Errorf("stored atomic changed through caller's pointer: %q", rec.Atomic.This)
		}
		rec.Atomic.This = "mutated after read"
		again, err := repo.FindByHash(ctx, a.CurrHash)
		if err != nil {
			t.Fatal(err)
		}
		if again.Atomic.This != "1" {
			t.Errorf("stored atomic changed through returned pointer: %q", again.Atomic.This)
		}
	})

	t.Run("concurrent appends linearize", func(t *testing.T) {
		repo := newRepo(t)
		const n = 40
		cursors := make([]ledger.Cursor, n)
		errs := make([]error, n)

		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			a := sealed(t, atomicSpec{trace: "C", this: fmt.Sprintf("c-%d", i)})
			wg.Add(1)
			go func(i int, a *atomic.Atomic) {
				defer wg.Done()
				cursors[i], errs[i] = repo.Append(ctx, a)
			}(i, a)
		}
		wg.Wait()

		seen := make(map[ledger.Cursor]bool)
		for i := 0; i < n; i++ {
			if errs[i] != nil {
				t.Fatalf("append %d: %v", i, errs[i])
			}
			if seen[cursors[i]] {
				t.Fatalf("cursor %d assigned twice", cursors[i])
			}
			seen[cursors[i]] = true
		}
		for i := 0; i < n; i++ {
			if !seen[ledger.Cursor(i)] {
				t.Errorf("cursor %d missing", i)
			}
		}
	})

	t.Run("linked appends chain each trace", func(t *testing.T) {
		repo := newRepo(t)
		linker, ok := repo.(ledger.Linker)
		if !ok {
			t.Skip("backend does not resolve trace tips itself")
		}
		seal := func(a *atomic.Atomic) error {
			_, err := atomic.Seal(a)
			return err
		}

		const n = 20
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			a := sealed(t, atomicSpec{trace: fmt.Sprintf("L%d", i%2), this: fmt.Sprintf("l-%d", i)})
			a.CurrHash = ""
			wg.Add(1)
			go func(a *atomic.Atomic) {
				defer wg.Done()
				if _, err := linker.AppendLinked(ctx, a, seal); err != nil {
					t.Error(err)
				}
			}(a)
		}
		wg.Wait()

		for _, trace := range []string{"L0", "L1"} {
			recs, err := repo.FindByTraceID(ctx, trace)
			if err != nil {
				t.Fatal(err)
			}
			if len(recs) != n/2 {
				t.Fatalf("trace %s: got %d records, want %d", trace, len(recs), n/2)
			}
			if recs[0].Atomic.Prev != "" {
				t.Errorf("trace %s root has prev %q", trace, recs[0].Atomic.Prev)
			}
			for i := 1; i < len(recs); i++ {
				if recs[i].Atomic.Prev != recs[i-1].Atomic.CurrHash {
					t.Errorf("trace %s record %d links to %s", trace, i, recs[i].Atomic.Prev)
				}
			}
		}
		if _, err := ledger.NewVerifier(repo, nil).Verify(ctx); err != nil {
			t.Errorf("linked ledger does not verify: %v", err)
		}
	})
}
