package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmerrifield20/logline/internal/api"
	"github.com/jmerrifield20/logline/internal/health"
	"github.com/jmerrifield20/logline/internal/ledger"
	"github.com/jmerrifield20/logline/internal/trust"
	"github.com/jmerrifield20/logline/pkg/client"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `serve exposes the configured ledger over HTTP under /api/v1.

When trust.peers is set, the trust registry pulls each peer's local signing
keys every trust.sync_interval and trusts them as federated keys.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides server.port)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := openEnv(ctx, false)
	if err != nil {
		return err
	}
	defer e.close()
	logger := e.logger
	cfg := e.cfg

	// ── Pipeline ─────────────────────────────────────────────────────────────
	p := e.pipeline()
	p.SetRecord(api.RecordAppend)

	h := api.NewHandler(p, e.repo, e.registry, logger)
	h.SetAPIKey(cfg.Server.APIKey, cfg.Server.APIKeyHash)
	if cfg.Server.APIKey == "" && cfg.Server.APIKeyHash == "" {
		logger.Warn("no api key configured; write routes are open")
	}
	if cfg.Signing.Enabled {
		kp, err := e.signer()
		if err != nil {
			return err
		}
		h.SetSigner(kp)
		logger.Info("server signing enabled", zap.String("public_key", kp.PublicKeyHex()))
	}
	api.SetTrustedKeysGauge(e.registry.Len())

	// ── Federation ───────────────────────────────────────────────────────────
	if len(cfg.Trust.Peers) > 0 {
		syncer := trust.NewPeerSyncer(e.registry, dialPeer, trust.SyncConfig{
			Peers:    cfg.Trust.Peers,
			Interval: cfg.Trust.SyncInterval,
		}, logger)
		syncer.SetRecord(func(peer string, ok bool) {
			api.RecordPeerSync(peer, ok)
			api.SetTrustedKeysGauge(e.registry.Len())
		})
		go syncer.Start(ctx)
		logger.Info("peer key sync started",
			zap.Strings("peers", cfg.Trust.Peers),
			zap.Duration("interval", cfg.Trust.SyncInterval),
		)
	}

	// ── Background verification ──────────────────────────────────────────────
	if cfg.Verify.Interval > 0 {
		checker := health.New(ledger.NewVerifier(e.repo, e.registry), health.Config{
			CheckInterval: cfg.Verify.Interval,
			FailThreshold: cfg.Verify.FailThreshold,
		}, logger)
		checker.SetMetricsRecord(api.RecordVerification)
		h.SetIntegrity(checker)
		go checker.Start(ctx)
	}

	// ── HTTP ─────────────────────────────────────────────────────────────────
	router := api.NewRouter(ctx, h, api.RouterConfig{
		CORSOrigins:  cfg.Server.CORSOrigins,
		RateLimitRPS: cfg.Server.RateLimitRPS,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Debug:        debug,
	}, logger)

	port := cfg.Server.Port
	if servePort > 0 {
		port = servePort
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("logline HTTP listening",
			zap.Int("port", port),
			zap.String("backend", string(cfg.Storage.Backend)),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info("shutting down logline...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	logger.Info("logline stopped")
	return nil
}

func dialPeer(base string) trust.PeerClient {
	return client.MustNew(base, client.WithTimeout(10*time.Second))
}
