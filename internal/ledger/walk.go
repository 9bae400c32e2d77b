package ledger

import "context"

// Walk calls fn for every record in ledger order, paging through Scan.
// It stops at the first error from the repository or from fn.
func Walk(ctx context.Context, repo Repository, fn func(Record) error) error {
	opts := ScanOptions{Limit: MaxLimit}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := repo.Scan(ctx, opts)
		if err != nil {
			return err
		}
		for _, rec := range page.Records {
			if err := fn(rec); err != nil {
				return err
			}
		}
		if !page.HasMore {
			return nil
		}
		opts.Cursor = page.NextCursor
	}
}
