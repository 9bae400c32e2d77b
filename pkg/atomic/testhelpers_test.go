package atomic_test

import (
	"github.com/jmerrifield20/logline/pkg/atomic"
	"github.com/jmerrifield20/logline/pkg/canonical"
)

func decisionAtomic() *atomic.Atomic {
	return &atomic.Atomic{
		EntityType: atomic.EntityDecision,
		This:       "approve_budget",
		Did:        &atomic.Did{Actor: "alice", Action: "approved"},
		Input:      canonical.Object{"amount": canonical.Number(1200)},
		Metadata: &atomic.Metadata{
			TraceID:   "t-1",
			CreatedAt: "2025-01-01T00:00:00Z",
		},
	}
}
