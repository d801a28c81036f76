package cache

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentuity/go-geocache/category"
	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"
)

// OpenSQLite opens the database shared by the SQLite stores and indexes. If
// path is empty or ":memory:", an in-memory database is used; it is limited
// to a single connection because every connection to ":memory:" is a
// separate database.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	} else if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if err := ensureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS cache_entries (
		scope TEXT NOT NULL,
		key TEXT NOT NULL,
		value BLOB NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (scope, key)
	)`); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at)`)
	return err
}

type sqliteCache struct {
	db        *sql.DB
	scope     string
	cfg       config
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	dropped   atomic.Bool
}

var _ Service = (*sqliteCache)(nil)

// NewSQLite returns a store for scope in db. The caller owns db, Drop only
// deletes the rows of the scope.
func NewSQLite(ctx context.Context, db *sql.DB, scope category.Scope, opts ...Option) (Service, error) {
	cfg := applyOptions(opts)
	if err := ensureSchema(ctx, db); err != nil {
		return nil, err
	}
	childCtx, cancel := context.WithCancel(ctx)
	c := &sqliteCache{
		db:     db,
		scope:  ScopePrefix(cfg.prefix, scope),
		cfg:    cfg,
		ctx:    childCtx,
		cancel: cancel,
	}
	if cfg.expires > 0 {
		c.waitGroup.Add(1)
		go c.run()
	}
	return c, nil
}

func (c *sqliteCache) Put(ctx context.Context, key string, val any) error {
	if c.dropped.Load() {
		return ErrDropped
	}
	data, err := msgpack.Marshal(val)
	if err != nil {
		return err
	}
	var expires int64
	if t := expiresAt(c.cfg.expires); !t.IsZero() {
		expires = t.UnixNano()
	}
	_, err = guard(ctx, c.cfg, func(ctx context.Context) (sql.Result, error) {
		return c.db.ExecContext(ctx,
			`INSERT INTO cache_entries (scope, key, value, expires_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
			c.scope, key, data, expires,
		)
	})
	return err
}

func (c *sqliteCache) Get(ctx context.Context, key string) (bool, any, error) {
	if c.dropped.Load() {
		return false, nil, ErrDropped
	}
	type row struct {
		data    []byte
		expires int64
	}
	r, err := guard(ctx, c.cfg, func(ctx context.Context) (*row, error) {
		var r row
		err := c.db.QueryRowContext(ctx,
			`SELECT value, expires_at FROM cache_entries WHERE scope = ? AND key = ?`, c.scope, key,
		).Scan(&r.data, &r.expires)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &r, nil
	})
	if err != nil || r == nil {
		return false, nil, err
	}
	if r.expires != 0 && r.expires < time.Now().UnixNano() {
		_, _ = c.Remove(ctx, key)
		return false, nil, nil
	}
	return true, r.data, nil
}

func (c *sqliteCache) Remove(ctx context.Context, key string) (bool, error) {
	if c.dropped.Load() {
		return false, ErrDropped
	}
	rows, err := guard(ctx, c.cfg, func(ctx context.Context) (int64, error) {
		result, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE scope = ? AND key = ?`, c.scope, key)
		if err != nil {
			return 0, err
		}
		return result.RowsAffected()
	})
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (c *sqliteCache) Clear(ctx context.Context) error {
	if c.dropped.Load() {
		return ErrDropped
	}
	return c.clear(ctx)
}

func (c *sqliteCache) Drop(ctx context.Context) error {
	if !c.dropped.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()
	c.waitGroup.Wait()
	return c.clear(ctx)
}

func (c *sqliteCache) clear(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE scope = ?`, c.scope)
	return err
}

func (c *sqliteCache) run() {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(c.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UnixNano()
			_, _ = c.db.ExecContext(c.ctx,
				`DELETE FROM cache_entries WHERE scope = ? AND expires_at != 0 AND expires_at < ?`, c.scope, now)
		}
	}
}
