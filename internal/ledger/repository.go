// Package ledger is the storage boundary of the atomic ledger. Repository
// is the contract every backend honours; this package also provides the
// in-memory, NDJSON file, SQLite and PostgreSQL variants, the chain
// verifier and the NDJSON exporter.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jmerrifield20/logline/pkg/atomic"
	"github.com/jmerrifield20/logline/pkg/ledgererr"
)

// Repository is durable, ordered, append-only storage of atomics.
//
// Append assigns strictly increasing cursors in commit order and must be
// durable before it returns. Appends are linearized; reads are safe to run
// concurrently with appends and with each other. Atomics handed to Append
// must already carry their hash. Returned atomics are copies.
type Repository interface {
	// Append stores a and returns its cursor. A hash that is already
	// stored fails with *ledgererr.DuplicateAtomicError.
	Append(ctx context.Context, a *atomic.Atomic) (Cursor, error)

	// FindByHash returns the record with the given hash or ledgererr.ErrNotFound.
	FindByHash(ctx context.Context, hash string) (*Record, error)

	// FindByTraceID returns every record of a trace in ledger order.
	FindByTraceID(ctx context.Context, traceID string) ([]Record, error)

	// Scan pages through the ledger in order.
	Scan(ctx context.Context, opts ScanOptions) (*Page, error)

	// Query returns records matching all set filters, in ledger order.
	Query(ctx context.Context, opts QueryOptions) ([]Record, error)

	// Exists reports whether an atomic with the given hash is stored.
	Exists(ctx context.Context, hash string) (bool, error)

	// Stats summarises the ledger.
	Stats(ctx context.Context) (*Stats, error)

	// Close releases backend resources.
	Close() error
}

// Linker is implemented by repositories that can resolve a trace's tip
// under their own append serialization, so prev links stay correct when
// several processes write to the same ledger.
type Linker interface {
	// AppendLinked sets a.Prev to the hash of the latest atomic of a's
	// trace (leaving it empty for a new trace), calls finalize to hash and
	// sign a, and appends it, all while holding the append lock.
	AppendLinked(ctx context.Context, a *atomic.Atomic, finalize func(*atomic.Atomic) error) (Cursor, error)
}

// Pagination limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Cursor is a zero-based position in ledger order. Its string form is the
// decimal integer.
type Cursor uint64

func (c Cursor) String() string { return strconv.FormatUint(uint64(c), 10) }

// MarshalJSON encodes the cursor as a JSON string.
func (c Cursor) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON accepts the cursor as a JSON string.
func (c *Cursor) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseCursor(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCursor parses the string form of a cursor.
func ParseCursor(s string) (Cursor, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor %q", s)
	}
	return Cursor(n), nil
}

// Record is an atomic together with its position.
type Record struct {
	Cursor Cursor         `json:"cursor"`
	Atomic *atomic.Atomic `json:"atomic"`
}

// ScanOptions controls a Scan. Cursor is the string form of the last cursor
// already seen; the page starts strictly after it. An empty Cursor starts at
// the beginning of the ledger.
type ScanOptions struct {
	Limit      int
	Cursor     string
	Status     string
	EntityType atomic.EntityType
}

// Page is one page of a Scan. NextCursor is the cursor to resume from and
// HasMore reports whether records matching the filters remain after it.
type Page struct {
	Records    []Record `json:"atomics"`
	NextCursor string   `json:"next_cursor"`
	HasMore    bool     `json:"has_more"`
}

// QueryOptions filters a Query. Zero values are unset. From and To bound
// metadata.created_at inclusively; atomics whose created_at does not parse
// as RFC 3339 never match a date range.
type QueryOptions struct {
	TraceID    string
	EntityType atomic.EntityType
	OwnerID    string
	TenantID   string
	From       time.Time
	To         time.Time
	Limit      int
}

// Stats summarises a ledger. Oldest and Newest are the earliest and latest
// metadata.created_at values that parse as RFC 3339.
type Stats struct {
	Total    int            `json:"total"`
	ByType   map[string]int `json:"by_type"`
	ByStatus map[string]int `json:"by_status"`
	Oldest   string         `json:"oldest,omitempty"`
	Newest   string         `json:"newest,omitempty"`
}

// startAfter resolves ScanOptions.Cursor to the first position to consider.
func (o ScanOptions) startAfter() (uint64, error) {
	if o.Cursor == "" {
		return 0, nil
	}
	c, err := ParseCursor(o.Cursor)
	if err != nil {
		return 0, &ledgererr.ValidationError{Reasons: []string{err.Error()}}
	}
	return uint64(c) + 1, nil
}

func (o ScanOptions) limit() int { return clampLimit(o.Limit, DefaultLimit) }

func (o QueryOptions) limit() int { return clampLimit(o.Limit, MaxLimit) }

func clampLimit(n, fallback int) int {
	switch {
	case n <= 0:
		return fallback
	case n > MaxLimit:
		return MaxLimit
	}
	return n
}
