package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/jmerrifield20/logline/pkg/atomic"
	"github.com/jmerrifield20/logline/pkg/ledgererr"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteRepository stores the ledger in an embedded SQLite database running
// in WAL mode. Appends go through a single-connection writer pool with
// immediate transactions; reads use a separate query-only pool, so they
// see the last committed state without waiting for an append in flight.
type SQLiteRepository struct {
	writer *sql.DB
	reader *sql.DB
	logger *zap.Logger
}

// sqliteWriterParams and sqliteReaderParams are go-sqlite3 DSN options
// applied to every connection of the respective pool.
const (
	sqliteWriterParams = "_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000&_txlock=immediate"
	sqliteReaderParams = "_busy_timeout=5000&_query_only=1"
)

// OpenSQLiteRepository creates or opens the SQLite ledger at path and
// applies the schema. It is safe to call on an existing database.
func OpenSQLiteRepository(path string, logger *zap.Logger) (*SQLiteRepository, error) {
	writer, err := openSQLitePool(path, sqliteWriterParams)
	if err != nil {
		return nil, err
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	if _, err := writer.Exec(sqliteSchema); err != nil {
		writer.Close() //nolint:errcheck
		return nil, &ledgererr.RepositoryError{Op: "migrate", Err: err}
	}

	// A private in-memory database exists only on the connection that
	// created it.
	if path == ":memory:" {
		return &SQLiteRepository{writer: writer, reader: writer, logger: logger}, nil
	}
	reader, err := openSQLitePool(path, sqliteReaderParams)
	if err != nil {
		writer.Close() //nolint:errcheck
		return nil, err
	}
	return &SQLiteRepository{writer: writer, reader: reader, logger: logger}, nil
}

func openSQLitePool(path, params string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?"+params)
	if err != nil {
		return nil, &ledgererr.RepositoryError{Op: "open", Err: err}
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, &ledgererr.RepositoryError{Op: "open", Err: err}
	}
	return db, nil
}

// Append implements Repository.
func (r *SQLiteRepository) Append(ctx context.Context, a *atomic.Atomic) (Cursor, error) {
	return r.append(ctx, a, nil)
}

// AppendLinked implements Linker. The immediate transaction holds the
// database write lock while the trace tip is read, which also orders
// writers in other processes.
func (r *SQLiteRepository) AppendLinked(ctx context.Context, a *atomic.Atomic, finalize func(*atomic.Atomic) error) (Cursor, error) {
	return r.append(ctx, a, finalize)
}

func (r *SQLiteRepository) append(ctx context.Context, a *atomic.Atomic, finalize func(*atomic.Atomic) error) (Cursor, error) {
	if finalize == nil {
		if err := requireHash(a); err != nil {
			return 0, err
		}
	}

	tx, err := r.writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, &ledgererr.RepositoryError{Op: "begin", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	if finalize != nil {
		var tip string
		err := tx.QueryRowContext(ctx,
			"SELECT hash FROM atomics WHERE trace_id = ? ORDER BY cursor DESC LIMIT 1", a.TraceID()).Scan(&tip)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
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
	var createdTS sql.NullInt64
	if rw.createdTS != nil {
		createdTS = sql.NullInt64{Int64: rw.createdTS.UnixNano(), Valid: true}
	}

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM atomics WHERE hash = ?", rw.hash).Scan(&exists)
	switch {
	case err == nil:
		return 0, &ledgererr.DuplicateAtomicError{Hash: rw.hash}
	case !errors.Is(err, sql.ErrNoRows):
		return 0, &ledgererr.RepositoryError{Op: "append", Err: err}
	}

	var next int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(cursor), -1) + 1 FROM atomics").Scan(&next); err != nil {
		return 0, &ledgererr.RepositoryError{Op: "append", Err: err}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO atomics (cursor, hash, entity_type, trace_id, state, owner_id, tenant_id, created_at, created_ts, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		next, rw.hash, rw.entityType, rw.traceID, rw.state, rw.ownerID, rw.tenantID, rw.createdAt, createdTS, rw.body,
	); err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, &ledgererr.DuplicateAtomicError{Hash: rw.hash}
		}
		return 0, &ledgererr.RepositoryError{Op: "append", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return 0, &ledgererr.RepositoryError{Op: "commit", Err: err}
	}

	r.logger.Debug("atomic appended", zap.Int64("cursor", next), zap.String("hash", rw.hash))
	return Cursor(next), nil
}

// FindByHash implements Repository.
func (r *SQLiteRepository) FindByHash(ctx context.Context, hash string) (*Record, error) {
	var (
		cursor int64
		body   string
	)
	err := r.reader.QueryRowContext(ctx, "SELECT cursor, body FROM atomics WHERE hash = ?", hash).Scan(&cursor, &body)
	if errors.Is(err, sql.ErrNoRows) {
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
func (r *SQLiteRepository) FindByTraceID(ctx context.Context, traceID string) ([]Record, error) {
	return r.records(ctx, "find trace",
		"SELECT cursor, hash, body FROM atomics WHERE trace_id = ? ORDER BY cursor", traceID)
}

// Scan implements Repository.
func (r *SQLiteRepository) Scan(ctx context.Context, opts ScanOptions) (*Page, error) {
	start, err := opts.startAfter()
	if err != nil {
		return nil, err
	}
	limit := opts.limit()
	w := scanWhere(opts, start, questionMark)
	q := "SELECT cursor, hash, body FROM atomics" + w.String() + " ORDER BY cursor LIMIT " + w.next(limit+1)

	records, err := r.records(ctx, "scan", q, w.args...)
	if err != nil {
		return nil, err
	}
	return pageOf(records, limit, opts.Cursor), nil
}

// Query implements Repository.
func (r *SQLiteRepository) Query(ctx context.Context, opts QueryOptions) ([]Record, error) {
	w := queryWhere(opts, questionMark, func(t time.Time) any { return t.UnixNano() })
	q := "SELECT cursor, hash, body FROM atomics" + w.String() + " ORDER BY cursor LIMIT " + w.next(opts.limit())
	return r.records(ctx, "query", q, w.args...)
}

// Exists implements Repository.
func (r *SQLiteRepository) Exists(ctx context.Context, hash string) (bool, error) {
	var n int
	if err := r.reader.QueryRowContext(ctx, "SELECT COUNT(*) FROM atomics WHERE hash = ?", hash).Scan(&n); err != nil {
		return false, &ledgererr.RepositoryError{Op: "exists", Err: err}
	}
	return n > 0, nil
}

// Stats implements Repository.
func (r *SQLiteRepository) Stats(ctx context.Context) (*Stats, error) {
	s := &Stats{ByType: map[string]int{}, ByStatus: map[string]int{}}

	if err := r.reader.QueryRowContext(ctx, "SELECT COUNT(*) FROM atomics").Scan(&s.Total); err != nil {
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
		err := r.reader.QueryRowContext(ctx, q.sql).Scan(q.dst)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, &ledgererr.RepositoryError{Op: "stats", Err: err}
		}
	}
	return s, nil
}

// Close implements Repository.
func (r *SQLiteRepository) Close() error {
	err := r.writer.Close()
	if r.reader != r.writer {
		err = errors.Join(err, r.reader.Close())
	}
	return err
}

func (r *SQLiteRepository) records(ctx context.Context, op, query string, args ...any) ([]Record, error) {
	rows, err := r.reader.QueryContext(ctx, query, args...)
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

func (r *SQLiteRepository) groupCount(ctx context.Context, query string, fn func(key string, n int)) error {
	rows, err := r.reader.QueryContext(ctx, query)
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
