package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmerrifield20/logline/pkg/atomic"
	"github.com/jmerrifield20/logline/pkg/ledgererr"
)

// row is the indexed projection of an atomic stored by the SQL backends.
type row struct {
	hash       string
	entityType string
	traceID    string
	state      string
	ownerID    string
	tenantID   string
	createdAt  string
	createdTS  *time.Time
	body       string
}

func toRow(a *atomic.Atomic) (row, error) {
	body, err := a.MarshalJSON()
	if err != nil {
		return row{}, ledgererr.Repository("encode", err)
	}
	r := row{
		hash:       a.CurrHash,
		entityType: string(a.EntityType),
		traceID:    a.TraceID(),
		state:      a.State(),
		createdAt:  a.CreatedAt(),
		body:       string(body),
	}
	if a.Metadata != nil {
		r.ownerID = a.Metadata.OwnerID
		r.tenantID = a.Metadata.TenantID
	}
	if ts, ok := createdAt(a); ok {
		utc := ts.UTC()
		r.createdTS = &utc
	}
	return r, nil
}

// decodeRecord parses a stored body. A body that does not parse, or whose
// hash disagrees with its indexed hash, is corruption at that cursor.
func decodeRecord(cursor int64, hash, body string) (Record, error) {
	pos := fmt.Sprintf("%d", cursor)
	a, err := atomic.Parse([]byte(body))
	if err != nil {
		return Record{}, &ledgererr.LedgerCorruptedError{Position: pos, Reason: "unreadable record", Err: err}
	}
	if a.CurrHash != hash {
		return Record{}, &ledgererr.LedgerCorruptedError{
			Position: pos,
			Reason:   "stored hash does not match record",
			Err:      &ledgererr.InvalidHashError{Expected: hash, Actual: a.CurrHash},
		}
	}
	return Record{Cursor: Cursor(cursor), Atomic: a}, nil
}

// where accumulates SQL conditions with backend-specific placeholders.
type where struct {
	placeholder func(n int) string
	conds       []string
	args        []any
}

func newWhere(placeholder func(n int) string) *where {
	return &where{placeholder: placeholder}
}

// add appends cond, whose single %s is replaced with the next placeholder.
func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, w.placeholder(len(w.args))))
}

// next reserves a placeholder for a trailing argument such as LIMIT.
func (w *where) next(arg any) string {
	w.args = append(w.args, arg)
	return w.placeholder(len(w.args))
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func questionMark(int) string { return "?" }

func dollar(n int) string { return fmt.Sprintf("$%d", n) }

func scanWhere(opts ScanOptions, start uint64, placeholder func(int) string) *where {
	w := newWhere(placeholder)
	w.add("cursor >= %s", int64(start))
	if opts.Status != "" {
		w.add("state = %s", opts.Status)
	}
	if opts.EntityType != "" {
		w.add("entity_type = %s", string(opts.EntityType))
	}
	return w
}

func queryWhere(opts QueryOptions, placeholder func(int) string, timeArg func(time.Time) any) *where {
	w := newWhere(placeholder)
	if opts.TraceID != "" {
		w.add("trace_id = %s", opts.TraceID)
	}
	if opts.EntityType != "" {
		w.add("entity_type = %s", string(opts.EntityType))
	}
	if opts.OwnerID != "" {
		w.add("owner_id = %s", opts.OwnerID)
	}
	if opts.TenantID != "" {
		w.add("tenant_id = %s", opts.TenantID)
	}
	if !opts.From.IsZero() {
		w.add("created_ts >= %s", timeArg(opts.From))
	}
	if !opts.To.IsZero() {
		w.add("created_ts <= %s", timeArg(opts.To))
	}
	return w
}

// pageOf trims a limit+1 result set into a Page.
func pageOf(records []Record, limit int, after string) *Page {
	page := &Page{Records: records, NextCursor: after}
	if len(records) > limit {
		page.Records = records[:limit]
		page.HasMore = true
	}
	if n := len(page.Records); n > 0 {
		page.NextCursor = page.Records[n-1].Cursor.String()
	}
	return page
}

func statusBucket(state string) string {
	if state == "" {
		return statusUnset
	}
	return state
}
