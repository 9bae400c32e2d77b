package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jmerrifield20/logline/migrations"
	"github.com/jmerrifield20/logline/pkg/atomic"
	"github.com/jmerrifield20/logline/pkg/ledgererr"
)

// appendLockKey is the PostgreSQL advisory lock that serialises Append
// across every process writing to the same database.
const appendLockKey = int64(7_340_112_901)

// uniqueViolation is the SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// PostgresRepository persists the ledger to PostgreSQL.
type PostgresRepository struct {
	pool     *pgxpool.Pool
	ownsPool bool
	logger   *zap.Logger
}

// NewPostgresRepository creates a PostgresRepository backed by pool. The
// schema must already exist; see EnsureSchema and cmd/migrate.
func NewPostgresRepository(pool *pgxpool.Pool, logger *zap.Logger) *PostgresRepository {
	return &PostgresRepository{pool: pool, logger: logger}
}

// EnsureSchema applies any embedded migrations not yet recorded in
// schema_migrations.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	ran, err := migrations.Apply(ctx, r.pool, nil)
	if err != nil {
		return &ledgererr.RepositoryError{Op: "migrate", Err: err}
	}
	if len(ran) > 0 {
		r.logger.Info("schema migrated", zap.Int("applied", len(ran)))
	}
	return nil
}

// Append implements Repository. It takes a transaction-scoped advisory
// lock, reads the tail cursor and inserts, all in one transaction.
func (r *PostgresRepository) Append(ctx context.Context, a *atomic.Atomic) (Cursor, error) {
	return r.append(ctx, a, nil)
}

// AppendLinked implements Linker. The trace tip is read after the advisory
// lock is taken, so concurrent writers in other processes cannot link to
// the same tip.
func (r *PostgresRepository) AppendLinked(ctx context.Context, a *atomic.Atomic, finalize func(*atomic.Atomic) error) (Cursor, error) {
	return r.append(ctx, a, finalize)
}

func (r *PostgresRepository) append(ctx context.Context, a *atomic.Atomic, finalize func(*atomic.Atomic) error) (Cursor, error) {
	if finalize == nil {
		if err := requireHash(a); err != nil {
			return 0, err
		}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, &ledgererr.RepositoryError{Op: "begin", Err: err}
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", appendLockKey); err != nil {
		return 0, &ledgererr.RepositoryError{Op: "lock", Err: err}
	}

	if finalize != nil {
		var tip string
		err := tx.QueryRow(ctx,
			"SELECT hash FROM atomics WHERE trace_id = $1 ORDER BY cursor DESC LIMIT 1", a.TraceID()).Scan(&tip)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return 0, &ledgererr.RepositoryError{Op: "link", Err: err}
		}
		a.Prev = tip
		if err := finalize(a); err != nil {
			return 0, err
		}
		if err := requireHash(a); err != nil {
			return 0, err
		}
	}

	rw, err := toRow(a)
	if err != nil {
		return 0, err
	}

	var exists bool
	if err := tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM atomics WHERE hash = $1)", rw.hash).Scan(&exists); err != nil {
		return 0, &ledgererr.RepositoryError{Op: "append", Err: err}
	}
	if exists {
		return 0, &ledgererr.DuplicateAtomicError{Hash: rw.hash}
	}

	var next int64
	if err := tx.QueryRow(ctx, "SELECT COALESCE(MAX(cursor), -1) + 1 FROM atomics").Scan(&next); err != nil {
		return 0, &ledgererr.RepositoryError{Op: "append", Err: err}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO atomics (cursor, hash, entity_type, trace_id, state, owner_id, tenant_id, created_at, created_ts, body)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		next, rw.hash, rw.entityType, rw.traceID, rw.state, rw.ownerID, rw.tenantID, rw.createdAt, rw.createdTS, rw.body,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, &ledgererr.DuplicateAtomicError{Hash: rw.hash}
		}
		return 0, &ledgererr.RepositoryError{Op: "append", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, &ledgererr.RepositoryError{Op: "commit", Err: err}
	}

	r.logger.Debug("atomic appended",
		zap.Int64("cursor", next),
		zap.String("hash", rw.hash),
		zap.String("trace_id", rw.traceID),
	)
	return Cursor(next), nil
}

// FindByHash implements Repository.
func (r *PostgresRepository) FindByHash(ctx context.Context, hash string) (*Record, error) {
	var (
		cursor int64
		body   string
	)
	err := r.pool.QueryRow(ctx, "SELECT cursor, body FROM atomics WHERE hash = $1", hash).Scan(&cursor, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledgererr.ErrNotFound
	}
	if err != nil {
		return nil, &ledgererr.RepositoryError{Op: "find", Err: err}
	}
	rec, err := decodeRecord(cursor, hash, body)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindByTraceID implements Repository.
func (r *PostgresRepository) FindByTraceID(ctx context.Context, traceID string) ([]Record, error) {
	return r.records(ctx, "find trace",
		"SELECT cursor, hash, body FROM atomics WHERE trace_id = $1 ORDER BY cursor", traceID)
}

// Scan implements Repository.
func (r *PostgresRepository) Scan(ctx context.Context, opts ScanOptions) (*Page, error) {
	start, err := opts.startAfter()
	if err != nil {
		return nil, err
	}
	limit := opts.limit()
	w := scanWhere(opts, start, dollar)
	q := "SELECT cursor, hash, body FROM atomics" + w.String() + " ORDER BY cursor LIMIT " + w.next(limit+1)

	records, err := r.records(ctx, "scan", q, w.args...)
	if err != nil {
		return nil, err
	}
	return pageOf(records, limit, opts.Cursor), nil
}

// Query implements Repository.
func (r *PostgresRepository) Query(ctx context.Context, opts QueryOptions) ([]Record, error) {
	w := queryWhere(opts, dollar, func(t time.Time) any { return t.UTC() })
	q := "SELECT cursor, hash, body FROM atomics" + w.String() + " ORDER BY cursor LIMIT " + w.next(opts.limit())
	return r.records(ctx, "query", q, w.args...)
}

// Exists implements Repository.
func (r *PostgresRepository) Exists(ctx context.Context, hash string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM atomics WHERE hash = $1)", hash).Scan(&exists); err != nil {
		return false, &ledgererr.RepositoryError{Op: "exists", Err: err}
	}
	return exists, nil
}

// Stats implements Repository.
func (r *PostgresRepository) Stats(ctx context.Context) (*Stats, error) {
	s := &Stats{ByType: map[string]int{}, ByStatus: map[string]int{}}

	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM atomics").Scan(&s.Total); err != nil {
		return nil, &ledgererr.RepositoryError{Op: "stats", Err: err}
	}
	if err := r.groupCount(ctx, "SELECT entity_type, COUNT(*) FROM atomics GROUP BY entity_type", func(k string, n int) {
		s.ByType[k] += n
	}); err != nil {
		return nil, err
	}
	if err := r.groupCount(ctx, "SELECT state, COUNT(*) FROM atomics GROUP BY state", func(k string, n int) {
		s.ByStatus[statusBucket(k)] += n
	}); err != nil {
		return nil, err
	}

	for _, q := range []struct {
		sql string
		dst *string
	}{
		{"SELECT created_at FROM atomics WHERE created_ts IS NOT NULL ORDER BY created_ts ASC, cursor ASC LIMIT 1", &s.Oldest},
		{"SELECT created_at FROM atomics WHERE created_ts IS NOT NULL ORDER BY created_ts DESC, cursor ASC LIMIT 1", &s.Newest},
	} {
		err := r.pool.QueryRow(ctx, q.sql).Scan(q.dst)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, &ledgererr.RepositoryError{Op: "stats", Err: err}
		}
	}
	return s, nil
}

// Pool returns the underlying connection pool so other stores can share it.
func (r *PostgresRepository) Pool() *pgxpool.Pool { return r.pool }

// Close implements Repository. A pool passed to NewPostgresRepository is
// left open for its owner.
func (r *PostgresRepository) Close() error {
	if r.ownsPool {
		r.pool.Close()
	}
	return nil
}

func (r *PostgresRepository) records(ctx context.Context, op, query string, args ...any) ([]Record, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &ledgererr.RepositoryError{Op: op, Err: err}
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var (
			cursor     int64
			hash, body string
		)
		if err := rows.Scan(&cursor, &hash, &body); err != nil {
			return nil, &ledgererr.RepositoryError{Op: op, Err: err}
		}
		rec, err := decodeRecord(cursor, hash, body)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &ledgererr.RepositoryError{Op: op, Err: err}
	}
	return out, nil
}

func (r *PostgresRepository) groupCount(ctx context.Context, query string, fn func(key string, n int)) error {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return &ledgererr.RepositoryError{Op: "stats", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return &ledgererr.RepositoryError{Op: "stats", Err: err}
		}
		fn(key, n)
	}
	if err := rows.Err(); err != nil {
		return &ledgererr.RepositoryError{Op: "stats", Err: err}
	}
	return nil
}
