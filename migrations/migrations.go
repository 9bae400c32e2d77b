// Package migrations embeds the PostgreSQL schema and applies it. The
// migrate command and PostgresRepository.EnsureSchema share Apply, so both
// record progress in the same schema_migrations table.
package migrations

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed *.sql
var files embed.FS

// lockKey serializes migrators across processes.
const lockKey int64 = 0x6c6f676c696e65

const trackingTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT  PRIMARY KEY,
    dirty   BOOLEAN NOT NULL
)`

// Migration is one embedded up file.
type Migration struct {
	Version int64
	Name    string
	SQL     string
}

// DB is the part of *pgxpool.Pool (or *pgx.Conn) that Apply needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// FS returns the embedded migration files.
func FS() fs.FS { return files }

// Names returns the migration file names in apply order.
func Names() ([]string, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Version extracts the leading integer from a migration filename.
// "001_atomics.up.sql" → 1
func Version(name string) (int64, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, fmt.Errorf("migration %q has no numeric prefix", name)
	}
	return strconv.ParseInt(prefix, 10, 64)
}

// Load reads every embedded migration in apply order. Two files with the
// same version are an error.
func Load() ([]Migration, error) {
	names, err := Names()
	if err != nil {
		return nil, err
	}
	out := make([]Migration, 0, len(names))
	seen := make(map[int64]string, len(names))
	for _, name := range names {
		v, err := Version(name)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[v]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", prev, name, v)
		}
		seen[v] = name
		body, err := fs.ReadFile(files, name)
		if err != nil {
			return nil, err
		}
		out = append(out, Migration{Version: v, Name: name, SQL: string(body)})
	}
	return out, nil
}

// Pending filters all down to the migrations not recorded as clean in
// applied, which maps version to its dirty flag. A dirty version is run
// again.
func Pending(all []Migration, applied map[int64]bool) []Migration {
	var out []Migration
	for _, m := range all {
		if dirty, ok := applied[m.Version]; ok && !dirty {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Applied returns the versions in schema_migrations with their dirty flag,
// creating the table first if needed.
func Applied(ctx context.Context, db DB) (map[int64]bool, error) {
	if _, err := db.Exec(ctx, trackingTable); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}
	rows, err := db.Query(ctx, `SELECT version, dirty FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]bool)
	for rows.Next() {
		var (
			v     int64
			dirty bool
		)
		if err := rows.Scan(&v, &dirty); err != nil {
			return nil, err
		}
		out[v] = dirty
	}
	return out, rows.Err()
}

// Apply runs every pending migration, each in its own transaction holding
// a transaction-scoped advisory lock. A migration already recorded by a
// concurrent migrator is skipped. applied, when non-nil, is called after
// each commit. Apply returns the migrations it ran.
func Apply(ctx context.Context, db DB, applied func(Migration)) ([]Migration, error) {
	all, err := Load()
	if err != nil {
		return nil, err
	}
	state, err := Applied(ctx, db)
	if err != nil {
		return nil, err
	}
	var ran []Migration
	for _, m := range Pending(all, state) {
		ok, err := applyOne(ctx, db, m)
		if err != nil {
			return ran, fmt.Errorf("%s: %w", m.Name, err)
		}
		if !ok {
			continue
		}
		ran = append(ran, m)
		if applied != nil {
			applied(m)
		}
	}
	return ran, nil
}

func applyOne(ctx context.Context, db DB, m Migration) (bool, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey); err != nil {
		return false, err
	}
	var dirty bool
	err = tx.QueryRow(ctx, `SELECT dirty FROM schema_migrations WHERE version = $1`, m.Version).Scan(&dirty)
	switch {
	case err == nil && !dirty:
		return false, nil
	case err != nil && !errors.Is(err, pgx.ErrNoRows):
		return false, err
	}

	if _, err := tx.Exec(ctx, m.SQL); err != nil {
		return false, err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations (version, dirty) VALUES ($1, false)
		 ON CONFLICT (version) DO UPDATE SET dirty = false`, m.Version); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}
