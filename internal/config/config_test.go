package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmerrifield20/logline/internal/config"
	"github.com/jmerrifield20/logline/internal/ledger"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, _, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("port: got %d", cfg.Server.Port)
	}
	if cfg.Storage.Backend != ledger.BackendFile || cfg.Storage.FilePath != "data/ledger.ndjson" {
		t.Errorf("storage: %+v", cfg.Storage)
	}
	if !cfg.Storage.SyncWrites || !cfg.Trust.RequireTrustedSigner {
		t.Error("durability and trusted-signer defaults must be on")
	}
	if cfg.Trust.SyncInterval != 5*time.Minute {
		t.Errorf("sync interval: got %s", cfg.Trust.SyncInterval)
	}
	if cfg.Verify.Interval != time.Hour || cfg.Verify.FailThreshold != 3 {
		t.Errorf("verify: %+v", cfg.Verify)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "*" {
		t.Errorf("cors: %v", cfg.Server.CORSOrigins)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logline.yaml")
	yaml := "server:\n  port: 9100\nstorage:\n  backend: sqlite\n  sqlite_path: /tmp/x.db\npipeline:\n  auto_link: true\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOGLINE_SERVER_PORT", "9200")

	cfg, _, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9200 {
		t.Errorf("env must override file: port=%d", cfg.Server.Port)
	}
	if cfg.Storage.Backend != ledger.BackendSQLite || cfg.Storage.SQLitePath != "/tmp/x.db" {
		t.Errorf("storage from file: %+v", cfg.Storage)
	}
	if !cfg.Pipeline.AutoLink {
		t.Error("auto_link from file not applied")
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LOGLINE_STORAGE_BACKEND", "mongo")
	t.Setenv("LOGLINE_TRUST_STORE", "etcd")
	t.Setenv("LOGLINE_SERVER_PORT", "0")

	_, _, err := config.Load("")
	if err == nil {
		t.Fatal("expected invalid config")
	}
	for _, want := range []string{"storage.backend", "trust.store", "server.port"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLedgerOptions(t *testing.T) {
	s := config.StorageConfig{Backend: ledger.BackendFile, FilePath: "f", SyncWrites: true}
	opts := s.LedgerOptions()
	if opts.Backend != ledger.BackendFile || opts.FilePath != "f" || !opts.SyncWrites {
		t.Errorf("unexpected options %+v", opts)
	}
}
