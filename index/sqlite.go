package index

import (
	"context"
	"database/sql"
	"sync/atomic"

	"github.com/agentuity/go-geocache/cache"
	"github.com/agentuity/go-geocache/category"
	"github.com/agentuity/go-geocache/envelope"
)

type sqliteIndex struct {
	db      *sql.DB
	scope   string
	dropped atomic.Bool
}

var _ Index = (*sqliteIndex)(nil)

// NewSQLite returns an index stored in the cache_index table of db, which
// is created when missing. The caller owns db.
func NewSQLite(ctx context.Context, db *sql.DB, prefix string, scope category.Scope) (Index, error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS cache_index (
		scope TEXT NOT NULL,
		key TEXT NOT NULL,
		minx REAL NOT NULL,
		miny REAL NOT NULL,
		maxx REAL NOT NULL,
		maxy REAL NOT NULL,
		PRIMARY KEY (scope, key)
	)`); err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_cache_index_bounds ON cache_index(scope, minx, maxx)`); err != nil {
		return nil, err
	}
	return &sqliteIndex{db: db, scope: cache.ScopePrefix(prefix, scope)}, nil
}

func (i *sqliteIndex) Put(ctx context.Context, key string, env envelope.Envelope) error {
	if i.dropped.Load() {
		return ErrDropped
	}
	env = stored(env)
	_, err := i.db.ExecContext(ctx,
		`INSERT INTO cache_index (scope, key, minx, miny, maxx, maxy) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, key) DO UPDATE SET minx = excluded.minx, miny = excluded.miny, maxx = excluded.maxx, maxy = excluded.maxy`,
		i.scope, key, env.MinX, env.MinY, env.MaxX, env.MaxY,
	)
	return err
}

func (i *sqliteIndex) Remove(ctx context.Context, key string) error {
	if i.dropped.Load() {
		return ErrDropped
	}
	_, err := i.db.ExecContext(ctx, `DELETE FROM cache_index WHERE scope = ? AND key = ?`, i.scope, key)
	return err
}

func (i *sqliteIndex) OverlappingKeys(ctx context.Context, env envelope.Envelope) ([]string, error) {
	if env.IsNull() {
		return AllKeys, nil
	}
	if i.dropped.Load() {
		return nil, ErrDropped
	}
	rows, err := i.db.QueryContext(ctx,
		`SELECT key FROM cache_index
		WHERE scope = ? AND minx <= ? AND maxx >= ? AND miny <= ? AND maxy >= ?`,
		i.scope, env.MaxX, env.MinX, env.MaxY, env.MinY,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (i *sqliteIndex) Clear(ctx context.Context) error {
	if i.dropped.Load() {
		return ErrDropped
	}
	return i.clear(ctx)
}

func (i *sqliteIndex) Drop(ctx context.Context) error {
	if !i.dropped.CompareAndSwap(false, true) {
		return nil
	}
	return i.clear(ctx)
}

func (i *sqliteIndex) clear(ctx context.Context) error {
	_, err := i.db.ExecContext(ctx, `DELETE FROM cache_index WHERE scope = ?`, i.scope)
	return err
}
