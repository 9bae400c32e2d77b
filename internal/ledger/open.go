package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jmerrifield20/logline/pkg/ledgererr"
)

// Backend names a Repository variant.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendFile     Backend = "file"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Backend     Backend
	FilePath    string
	SyncWrites  bool
	SQLitePath  string
	DatabaseURL string
	// Migrate applies the embedded schema when opening PostgreSQL.
	Migrate bool
}

// Open constructs the Repository named by opts.Backend.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (Repository, error) {
	switch opts.Backend {
	case BackendMemory:
		return NewMemoryRepository(), nil
	case BackendFile, "":
		return OpenFileRepository(opts.FilePath, opts.SyncWrites, logger)
	case BackendSQLite:
		return OpenSQLiteRepository(opts.SQLitePath, logger)
	case BackendPostgres:
		pool, err := pgxpool.New(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, &ledgererr.RepositoryError{Op: "connect", Err: err}
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, &ledgererr.RepositoryError{Op: "ping", Err: err}
		}
		repo := NewPostgresRepository(pool, logger)
		repo.ownsPool = true
		if opts.Migrate {
			if err := repo.EnsureSchema(ctx); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q (valid: memory, file, sqlite, postgres)", opts.Backend)
	}
}
