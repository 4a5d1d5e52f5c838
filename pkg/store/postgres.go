package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is a SQL-backed KV backend for deployments that already run a
// Postgres instance. State lives in a single two-column table.
//
// Unlike the Redis backend, Update here is safe across processes: it runs the
// read-modify-write inside a transaction with a SELECT ... FOR UPDATE row lock.
type Postgres struct {
	pool *pgxpool.Pool
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS wardstone_kv (
    key   TEXT PRIMARY KEY,
    value JSONB NOT NULL
)`

// DialPostgres connects to Postgres and ensures the kv table exists.
func DialPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: postgres connect: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: postgres schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	if len(keys) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	rows, err := p.pool.Query(ctx,
		`SELECT key, value FROM wardstone_kv WHERE key = ANY($1)`, keys)
	if err != nil {
		return nil, fmt.Errorf("store: postgres select: %w", err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage, len(keys))
	for rows.Next() {
		var key string
		var value json.RawMessage
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("store: postgres scan: %w", err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: postgres rows: %w", err)
	}
	return out, nil
}

func (p *Postgres) Set(ctx context.Context, entries map[string]json.RawMessage) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: postgres begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for k, v := range entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO wardstone_kv (key, value) VALUES ($1, $2)
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, k, v); err != nil {
			return fmt.Errorf("store: postgres upsert %s: %w", k, err)
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := p.pool.Exec(ctx,
		`DELETE FROM wardstone_kv WHERE key = ANY($1)`, keys); err != nil {
		return fmt.Errorf("store: postgres delete: %w", err)
	}
	return nil
}

func (p *Postgres) Update(ctx context.Context, key string, fn UpdateFunc) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: postgres begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var cur json.RawMessage
	err = tx.QueryRow(ctx,
		`SELECT value FROM wardstone_kv WHERE key = $1 FOR UPDATE`, key).Scan(&cur)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("store: postgres lock %s: %w", key, err)
	}

	next, err := fn(cur)
	if err != nil {
		return err
	}
	if next == nil {
		if _, err := tx.Exec(ctx,
			`DELETE FROM wardstone_kv WHERE key = $1`, key); err != nil {
			return fmt.Errorf("store: postgres delete %s: %w", key, err)
		}
		return tx.Commit(ctx)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO wardstone_kv (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, next); err != nil {
		return fmt.Errorf("store: postgres upsert %s: %w", key, err)
	}
	return tx.Commit(ctx)
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
