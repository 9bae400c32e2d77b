package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jmerrifield20/logline/internal/config"
	"github.com/jmerrifield20/logline/internal/ledger"
	"github.com/jmerrifield20/logline/internal/pipeline"
	"github.com/jmerrifield20/logline/internal/trust"
	"github.com/jmerrifield20/logline/pkg/client"
	"github.com/jmerrifield20/logline/pkg/signature"
)

// env is everything a local command needs.
type env struct {
	cfg      *config.Config
	logger   *zap.Logger
	repo     ledger.Repository
	registry *trust.Registry
}

// loadConfig reads configuration, warning when no file is found.
func loadConfig(logger *zap.Logger) (*config.Config, error) {
	v := config.New(cfgFile)
	found, err := config.Read(v)
	if err != nil {
		return nil, err
	}
	if !found {
		logger.Debug("no config file found, using defaults and environment")
	} else {
		logger.Debug("config loaded", zap.String("file", v.ConfigFileUsed()))
	}
	return config.FromViper(v)
}

// openEnv loads configuration and opens storage and the trust registry.
func openEnv(ctx context.Context, quiet bool) (*env, error) {
	logger, err := newLogger(quiet)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	cfg, err := loadConfig(logger)
	if err != nil {
		return nil, err
	}
	repo, err := ledger.Open(ctx, cfg.Storage.LedgerOptions(), logger)
	if err != nil {
		return nil, fmt.Errorf("open %s ledger: %w", cfg.Storage.Backend, err)
	}
	registry, err := openRegistry(cfg, repo)
	if err != nil {
		repo.Close()
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, repo: repo, registry: registry}, nil
}

func openRegistry(cfg *config.Config, repo ledger.Repository) (*trust.Registry, error) {
	switch cfg.Trust.Store {
	case "memory":
		return trust.NewRegistry(), nil
	case "postgres":
		pg, ok := repo.(*ledger.PostgresRepository)
		if !ok {
			return nil, errors.New("trust.store postgres requires the postgres ledger backend")
		}
		return trust.Open(trust.NewPostgresStore(pg.Pool()))
	default:
		return trust.Open(trust.NewFileStore(cfg.Trust.StorePath))
	}
}

func (e *env) close() {
	if err := e.repo.Close(); err != nil {
		e.logger.Warn("close ledger", zap.Error(err))
	}
	_ = e.logger.Sync()
}

func (e *env) pipeline() *pipeline.Pipeline {
	return pipeline.New(e.repo, e.registry, pipeline.Config{
		AutoLink:             e.cfg.Pipeline.AutoLink,
		RequireTrustedSigner: e.cfg.Trust.RequireTrustedSigner,
	}, e.logger)
}

// signer loads the node key from signing.key_dir, creating it on first use.
// A freshly created key is trusted as the local signer.
func (e *env) signer() (*signature.Keypair, error) {
	kp, created, err := signature.LoadOrGenerateKeypair(e.cfg.Signing.KeyDir)
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}
	pub := kp.PublicKeyHex()
	entry, known := e.registry.Get(pub)
	switch {
	case created || !known:
		if err := e.registry.Add(pub); err != nil {
			return nil, fmt.Errorf("trust signing key: %w", err)
		}
		e.logger.Info("signing key trusted", zap.String("public_key", pub), zap.Bool("created", created))
	case !entry.Scope.CanSign():
		e.logger.Warn("signing key is not a local signer; signed appends will be refused",
			zap.String("public_key", pub), zap.String("scope", string(entry.Scope)))
	}
	return kp, nil
}

// remote returns a client when --server is set.
func remote() (*client.Client, bool, error) {
	if serverURL == "" {
		return nil, false, nil
	}
	var opts []client.Option
	if apiKey != "" {
		opts = append(opts, client.WithAPIKey(apiKey))
	}
	c, err := client.New(serverURL, opts...)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}
