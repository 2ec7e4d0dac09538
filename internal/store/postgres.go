package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rcwatch/rcwatch/internal/watch"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the connection pool backing the Postgres store.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Postgres persists known state in a single table keyed by target URL.
type Postgres struct {
	pool  dbPool
	table string
}

// NewPostgres connects a pool and returns a Postgres store.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "rc_check"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: connect postgres: %v", watch.ErrStoreUnavailable, err)
	}
	return &Postgres{pool: pool, table: table}, nil
}

// NewPostgresWithPool constructs a store from an existing pool (primarily
// for testing with pgxmock).
func NewPostgresWithPool(pool dbPool, table string) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "rc_check"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Postgres{pool: pool, table: table}, nil
}

// EnsureSchema creates the known-state table when it does not exist yet.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	url TEXT PRIMARY KEY,
	url_description TEXT,
	keys JSONB NOT NULL DEFAULT '[]',
	content_hash TEXT NOT NULL DEFAULT '',
	created_time TIMESTAMPTZ NOT NULL,
	modified_time TIMESTAMPTZ NOT NULL,
	last_checked_time TIMESTAMPTZ NOT NULL
)`, p.table)
	if _, err := p.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("%w: ensure schema: %v", watch.ErrStoreUnavailable, err)
	}
	return nil
}

// Load fetches the known state for a target URL.
func (p *Postgres) Load(ctx context.Context, targetID string) (watch.KnownState, bool, error) {
	query := fmt.Sprintf(`SELECT keys, content_hash, last_checked_time FROM %s WHERE url = $1`, p.table)

	var (
		keysJSON  []byte
		hash      string
		checkedAt time.Time
	)
	err := p.pool.QueryRow(ctx, query, targetID).Scan(&keysJSON, &hash, &checkedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return watch.KnownState{}, false, nil
	}
	if err != nil {
		return watch.KnownState{}, false, fmt.Errorf("%w: load state for %s: %v", watch.ErrStoreUnavailable, targetID, err)
	}

	var keys []string
	if err := json.Unmarshal(keysJSON, &keys); err != nil {
		return watch.KnownState{}, false, fmt.Errorf("decode keys for %s: %w", targetID, err)
	}
	return watch.KnownState{Keys: keys, ContentHash: hash, CheckedAt: checkedAt}, true, nil
}

// Save upserts the full known state for a target. The single-statement
// upsert keeps the replace atomic with respect to readers.
func (p *Postgres) Save(ctx context.Context, target watch.Target, state watch.KnownState) error {
	keysJSON, err := json.Marshal(normalizeKeys(state.Keys))
	if err != nil {
		return fmt.Errorf("encode keys for %s: %w", target.ID(), err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (url, url_description, keys, content_hash, created_time, modified_time, last_checked_time)
VALUES ($1, $2, $3, $4, $5, $5, $5)
ON CONFLICT (url) DO UPDATE SET
	url_description = EXCLUDED.url_description,
	keys = EXCLUDED.keys,
	content_hash = EXCLUDED.content_hash,
	modified_time = EXCLUDED.modified_time,
	last_checked_time = EXCLUDED.last_checked_time`, p.table)

	args := []any{target.ID(), target.Description, keysJSON, state.ContentHash, state.CheckedAt}
	if _, err := p.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: save state for %s: %v", watch.ErrStoreUnavailable, target.ID(), err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (p *Postgres) Close() {
	if p == nil || p.pool == nil {
		return
	}
	p.pool.Close()
}

func normalizeKeys(keys []string) []string {
	if keys == nil {
		return []string{}
	}
	return keys
}
