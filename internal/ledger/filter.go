package ledger

import (
	"time"

	"github.com/jmerrifield20/logline/pkg/atomic"
	"github.com/jmerrifield20/logline/pkg/ledgererr"
)

// statusUnset is the ByStatus bucket for atomics without status.state.
const statusUnset = "unset"

func (o ScanOptions) matches(a *atomic.Atomic) bool {
	if o.Status != "" && a.State() != o.Status {
		return false
	}
	if o.EntityType != "" && a.EntityType != o.EntityType {
		return false
	}
	return true
}

func (o QueryOptions) matches(a *atomic.Atomic) bool {
	if o.TraceID != "" && a.TraceID() != o.TraceID {
		return false
	}
	if o.EntityType != "" && a.EntityType != o.EntityType {
		return false
	}
	if o.OwnerID != "" && (a.Metadata == nil || a.Metadata.OwnerID != o.OwnerID) {
		return false
	}
	if o.TenantID != "" && (a.Metadata == nil || a.Metadata.TenantID != o.TenantID) {
		return false
	}
	if !o.From.IsZero() || !o.To.IsZero() {
		ts, ok := createdAt(a)
		if !ok {
			return false
		}
		if !o.From.IsZero() && ts.Before(o.From) {
			return false
		}
		if !o.To.IsZero() && ts.After(o.To) {
			return false
		}
	}
	return true
}

// createdAt parses metadata.created_at.
func createdAt(a *atomic.Atomic) (time.Time, bool) {
	s := a.CreatedAt()
	if s == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// statsBuilder accumulates Stats one atomic at a time.
type statsBuilder struct {
	stats              Stats
	oldestTS, newestTS time.Time
}

func newStatsBuilder() *statsBuilder {
	return &statsBuilder{stats: Stats{ByType: map[string]int{}, ByStatus: map[string]int{}}}
}

func (b *statsBuilder) add(a *atomic.Atomic) {
	b.stats.Total++
	b.stats.ByType[string(a.EntityType)]++
	state := a.State()
	if state == "" {
		state = statusUnset
	}
	b.stats.ByStatus[state]++

	ts, ok := createdAt(a)
	if !ok {
		return
	}
	if b.stats.Oldest == "" || ts.Before(b.oldestTS) {
		b.oldestTS, b.stats.Oldest = ts, a.CreatedAt()
	}
	if b.stats.Newest == "" || ts.After(b.newestTS) {
		b.newestTS, b.stats.Newest = ts, a.CreatedAt()
	}
}

func (b *statsBuilder) result() *Stats {
	s := b.stats
	return &s
}

// requireHash rejects atomics that reach a backend without a content address.
func requireHash(a *atomic.Atomic) error {
	if a == nil {
		return &ledgererr.ValidationError{Reasons: []string{"atomic is required"}}
	}
	if a.CurrHash == "" {
		return &ledgererr.ValidationError{Reasons: []string{"curr_hash is required"}}
	}
	return nil
}
