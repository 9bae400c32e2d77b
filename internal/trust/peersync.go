package trust

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PeerClient fetches the keys a peer ledger signs with, current and
// rotated out.
type PeerClient interface {
	SigningKeys(ctx context.Context) ([]string, error)
}

// DialFunc returns a client for the peer at baseURL.
type DialFunc func(baseURL string) PeerClient

// SyncConfig holds federation sync configuration.
type SyncConfig struct {
	Peers       []string
	Interval    time.Duration
	Concurrency int
}

// SyncRecordFunc is an optional callback for recording sync results.
type SyncRecordFunc func(peer string, success bool)

// PeerSyncer keeps federated keys in a registry in step with what each
// configured peer advertises.
type PeerSyncer struct {
	registry *Registry
	dial     DialFunc
	cfg      SyncConfig
	onRecord SyncRecordFunc
	logger   *zap.Logger
}

// NewPeerSyncer creates a PeerSyncer.
func NewPeerSyncer(registry *Registry, dial DialFunc, cfg SyncConfig, logger *zap.Logger) *PeerSyncer {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 4
	}
	return &PeerSyncer{registry: registry, dial: dial, cfg: cfg, logger: logger}
}

// SetRecord configures the metrics callback.
func (s *PeerSyncer) SetRecord(fn SyncRecordFunc) {
	s.onRecord = fn
}

// Start syncs once immediately and then on every interval until ctx is done.
func (s *PeerSyncer) Start(ctx context.Context) {
	if len(s.cfg.Peers) == 0 {
		return
	}
	s.SyncAll(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.SyncAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// SyncAll syncs every configured peer with bounded concurrency. A failing
// peer keeps its previously synced keys.
func (s *PeerSyncer) SyncAll(ctx context.Context) {
	sem := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, peer := range s.cfg.Peers {
		wg.Add(1)
		go func(peer string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			err := s.SyncPeer(ctx, peer)
			if s.onRecord != nil {
				s.onRecord(peer, err == nil)
			}
			if err != nil {
				s.logger.Warn("trust: peer sync failed", zap.String("peer", peer), zap.Error(err))
			}
		}(peer)
	}
	wg.Wait()
}

// SyncPeer pulls the keys of one peer into the registry.
func (s *PeerSyncer) SyncPeer(ctx context.Context, peer string) error {
	keys, err := s.dial(peer).SigningKeys(ctx)
	if err != nil {
		return err
	}
	added, removed, err := s.registry.SyncPeer(peer, keys)
	if err != nil {
		return err
	}
	if added > 0 || removed > 0 {
		s.logger.Info("trust: peer keys updated",
			zap.String("peer", peer),
			zap.Int("added", added),
			zap.Int("removed", removed),
		)
	}
	return nil
}
