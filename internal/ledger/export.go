package ledger

import (
	"bufio"
	"context"
	"io"

	"github.com/jmerrifield20/logline/pkg/ledgererr"
)

// Export writes every atomic in ledger order as canonical JSON, one object
// per line, and returns how many were written.
func Export(ctx context.Context, repo Repository, w io.Writer) (int, error) {
	bw := bufio.NewWriter(w)
	n := 0
	err := Walk(ctx, repo, func(rec Record) error {
		line, err := rec.Atomic.MarshalJSON()
		if err != nil {
			return ledgererr.Repository("export", err)
		}
		if _, err := bw.Write(line); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return n, err
	}
	return n, bw.Flush()
}
