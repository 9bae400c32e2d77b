package ledger_test

import (
	"bufio"
	"bytes"
	"fmt"
	"testing"

	"github.com/jmerrifield20/logline/internal/ledger"
	"github.com/jmerrifield20/logline/pkg/atomic"
)

func TestExport_LedgerOrderNDJSON(t *testing.T) {
	repo := ledger.NewMemoryRepository()
	var want []string
	for i := 0; i < ledger.MaxLimit+5; i++ {
		a := sealed(t, atomicSpec{trace: "T", this: fmt.Sprintf("n-%d", i)})
		mustAppend(t, repo, a)
		want = append(want, a.CurrHash)
	}

	var buf bytes.Buffer
	n, err := ledger.Export(ctx, repo, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(want) {
		t.Fatalf("exported %d, want %d", n, len(want))
	}

	sc := bufio.NewScanner(&buf)
	i := 0
	for sc.Scan() {
		a, err := atomic.Parse(sc.Bytes())
		if err != nil {
			t.Fatalf("line %d: %v", i, err)
		}
		if a.CurrHash != want[i] {
			t.Fatalf("line %d out of order", i)
		}
		if err := atomic.VerifyHash(a); err != nil {
			t.Fatalf("line %d: %v", i, err)
		}
		i++
	}
	if i != len(want) {
		t.Errorf("read %d lines, want %d", i, len(want))
	}
}

func TestExport_Empty(t *testing.T) {
	var buf bytes.Buffer
	n, err := ledger.Export(ctx, ledger.NewMemoryRepository(), &buf)
	if err != nil || n != 0 || buf.Len() != 0 {
		t.Errorf("empty export: n=%d err=%v len=%d", n, err, buf.Len())
	}
}
