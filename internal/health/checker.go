// Package health runs periodic integrity checks over the ledger and keeps
// the latest result for the health endpoint.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/logline/internal/ledger"
	"github.com/jmerrifield20/logline/pkg/ledgererr"
)

// Integrity states.
const (
	StateUnknown  = "unknown"
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateCorrupt  = "corrupted"
)

// Config holds integrity check configuration.
type Config struct {
	CheckInterval time.Duration
	// FailThreshold is how many consecutive storage failures mark the
	// ledger degraded. A detected corruption marks it corrupted at once.
	FailThreshold int
}

// Verifier walks the ledger. *ledger.Verifier implements it.
type Verifier interface {
	Verify(ctx context.Context) (*ledger.Report, error)
}

// MetricsRecordFunc is an optional callback for recording check results.
type MetricsRecordFunc func(valid bool)

// Status is the outcome of the latest check.
type Status struct {
	State       string         `json:"state"`
	CheckedAt   time.Time      `json:"checked_at,omitzero"`
	Report      *ledger.Report `json:"report,omitempty"`
	Error       string         `json:"error,omitempty"`
	Consecutive int            `json:"consecutive_failures,omitempty"`
}

// Checker runs periodic full-ledger verification.
type Checker struct {
	verifier  Verifier
	cfg       Config
	mu        sync.RWMutex
	status    Status
	failCount int
	onMetrics MetricsRecordFunc
	now       func() time.Time
	logger    *zap.Logger
}

// New creates a new Checker.
func New(verifier Verifier, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = time.Hour
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	return &Checker{
		verifier: verifier,
		cfg:      cfg,
		status:   Status{State: StateUnknown},
		now:      time.Now,
		logger:   logger,
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (c *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	c.onMetrics = fn
}

// Start checks once immediately and then on every interval until ctx is done.
func (c *Checker) Start(ctx context.Context) {
	c.CheckOnce(ctx)

	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.CheckOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckOnce verifies the ledger and updates Status.
func (c *Checker) CheckOnce(ctx context.Context) Status {
	report, err := c.verifier.Verify(ctx)
	now := c.now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.status.State
	next := Status{CheckedAt: now, Report: report}

	switch {
	case err == nil:
		c.failCount = 0
		next.State = StateHealthy
		if prev == StateDegraded || prev == StateCorrupt {
			c.logger.Info("health: ledger recovered", zap.String("previous", prev))
		}
	case ledgererr.KindOf(err) == ledgererr.KindTampered:
		c.failCount++
		next.State = StateCorrupt
		next.Error = err.Error()
		if prev != StateCorrupt {
			c.logger.Error("health: ledger corrupted", zap.Error(err))
		}
	case ctx.Err() != nil:
		// Shutdown interrupted the walk; keep the previous result.
		return c.status
	default:
		c.failCount++
		next.Error = err.Error()
		next.State = prev
		if c.failCount == c.cfg.FailThreshold {
			next.State = StateDegraded
			c.logger.Warn("health: degraded",
				zap.Int("fail_count", c.failCount),
				zap.Error(err),
			)
		} else if c.failCount > c.cfg.FailThreshold {
			next.State = StateDegraded
		}
	}
	next.Consecutive = c.failCount
	c.status = next

	if c.onMetrics != nil {
		c.onMetrics(err == nil)
	}
	return next
}

// Status returns the latest check result.
func (c *Checker) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}
