package ledger

import (
	"github.com/jmerrifield20/logline/pkg/atomic"
	"github.com/jmerrifield20/logline/pkg/ledgererr"
)

// index is the in-process view used by the memory and file backends.
// Callers provide locking.
type index struct {
	atomics []*atomic.Atomic
	byHash  map[string]Cursor
	byTrace map[string][]Cursor
}

func newIndex() *index {
	return &index{
		byHash:  make(map[string]Cursor),
		byTrace: make(map[string][]Cursor),
	}
}

func (ix *index) len() int { return len(ix.atomics) }

func (ix *index) has(hash string) bool {
	_, ok := ix.byHash[hash]
	return ok
}

// add stores a and returns its cursor. The caller has checked for duplicates
// and hands over ownership of a.
func (ix *index) add(a *atomic.Atomic) Cursor {
	c := Cursor(len(ix.atomics))
	ix.atomics = append(ix.atomics, a)
	ix.byHash[a.CurrHash] = c
	if id := a.TraceID(); id != "" {
		ix.byTrace[id] = append(ix.byTrace[id], c)
	}
	return c
}

func (ix *index) record(c Cursor) Record {
	return Record{Cursor: c, Atomic: ix.atomics[c].Clone()}
}

func (ix *index) find(hash string) (*Record, error) {
	c, ok := ix.byHash[hash]
	if !ok {
		return nil, ledgererr.ErrNotFound
	}
	r := ix.record(c)
	return &r, nil
}

func (ix *index) trace(id string) []Record {
	cursors := ix.byTrace[id]
	out := make([]Record, len(cursors))
	for i, c := range cursors {
		out[i] = ix.record(c)
	}
	return out
}

func (ix *index) scan(opts ScanOptions) (*Page, error) {
	start, err := opts.startAfter()
	if err != nil {
		return nil, err
	}
	limit := opts.limit()
	page := &Page{Records: []Record{}, NextCursor: opts.Cursor}

	for i := start; i < uint64(len(ix.atomics)); i++ {
		if !opts.matches(ix.atomics[i]) {
			continue
		}
		if len(page.Records) == limit {
			page.HasMore = true
			break
		}
		page.Records = append(page.Records, ix.record(Cursor(i)))
		page.NextCursor = Cursor(i).String()
	}
	return page, nil
}

func (ix *index) query(opts QueryOptions) []Record {
	limit := opts.limit()
	out := []Record{}

	// A trace filter narrows the walk to that trace's cursors.
	if opts.TraceID != "" {
		for _, c := range ix.byTrace[opts.TraceID] {
			if len(out) == limit {
				break
			}
			if opts.matches(ix.atomics[c]) {
				out = append(out, ix.record(c))
			}
		}
		return out
	}

	for i, a := range ix.atomics {
		if len(out) == limit {
			break
		}
		if opts.matches(a) {
			out = append(out, ix.record(Cursor(i)))
		}
	}
	return out
}

func (ix *index) stats() *Stats {
	b := newStatsBuilder()
	for _, a := range ix.atomics {
		b.add(a)
	}
	return b.result()
}
