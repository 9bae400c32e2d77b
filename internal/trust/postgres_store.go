package trust

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps registry entries in the trust_keys table.
type PostgresStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPostgresStore creates a PostgresStore backed by pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, timeout: 10 * time.Second}
}

// Load implements Store.
func (s *PostgresStore) Load() ([]Entry, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, "SELECT public_key, scope, peer, added_at FROM trust_keys ORDER BY public_key")
	if err != nil {
		return nil, fmt.Errorf("query trust keys: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e     Entry
			scope string
		)
		if err := rows.Scan(&e.Key, &scope, &e.Peer, &e.AddedAt); err != nil {
			return nil, fmt.Errorf("scan trust key: %w", err)
		}
		e.Scope = Scope(scope)
		e.AddedAt = e.AddedAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Save implements Store. The table is replaced in one transaction.
func (s *PostgresStore) Save(entries []Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "DELETE FROM trust_keys"); err != nil {
		return fmt.Errorf("clear trust keys: %w", err)
	}
	for _, e := range entries {
		if _, err := tx.Exec(ctx,
			"INSERT INTO trust_keys (public_key, scope, peer, added_at) VALUES ($1, $2, $3, $4)",
			e.Key, string(e.Scope), e.Peer, e.AddedAt,
		); err != nil {
			return fmt.Errorf("insert trust key %s: %w", e.Key, err)
		}
	}
	return tx.Commit(ctx)
}
