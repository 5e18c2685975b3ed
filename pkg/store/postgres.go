package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the presence list in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and creates the presence table if needed.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS presence (
		username TEXT        NOT NULL PRIMARY KEY CHECK (length(username) > 0),
		position INTEGER     NOT NULL,
		added_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Load returns the persisted usernames ordered by position.
func (s *PostgresStore) Load(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT username FROM presence ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("store: load: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("store: load: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// Save replaces the persisted list in one transaction.
func (s *PostgresStore) Save(ctx context.Context, names []string) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "UPDATE presence SET position = -1"); err != nil {
			return err
		}
		for i, name := range names {
			_, err := tx.Exec(ctx,
				`INSERT INTO presence (username, position) VALUES ($1, $2)
				 ON CONFLICT (username) DO UPDATE SET position = EXCLUDED.position`,
				name, i)
			if err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx, "DELETE FROM presence WHERE position < 0")
		return err
	})
	if err != nil {
		return fmt.Errorf("store: save: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
