package config

import (
	"context"
	"database/sql"

	"github.com/agentuity/go-geocache/cache"
	"github.com/agentuity/go-geocache/cachekey"
	"github.com/agentuity/go-geocache/logger"
	"github.com/agentuity/go-geocache/manager"
	"github.com/agentuity/go-geocache/pipeline"
	"github.com/agentuity/go-geocache/resilience"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// Runtime holds the connections opened for a configuration and the
// components built over them.
type Runtime struct {
	Config  *Config
	Logger  logger.Logger
	Redis   redis.UniversalClient
	SQLite  *sql.DB
	Breaker *resilience.CircuitBreaker
	Manager *manager.Manager
	Keys    *cachekey.Service
	Support *pipeline.Support

	ownsRedis bool
}

// RuntimeOption configures Open.
type RuntimeOption func(*runtimeOptions)

type runtimeOptions struct {
	redis   redis.UniversalClient
	manager []manager.Option
}

// WithRedisClient uses client instead of dialing redis.url. The caller keeps
// ownership of client.
func WithRedisClient(client redis.UniversalClient) RuntimeOption {
	return func(o *runtimeOptions) { o.redis = client }
}

// WithManagerOptions passes options through to manager.New.
func WithManagerOptions(opts ...manager.Option) RuntimeOption {
	return func(o *runtimeOptions) { o.manager = append(o.manager, opts...) }
}

// Open connects the backends cfg needs and builds the manager, the key
// service and the pipeline support over them. A nil log is replaced by a
// console logger at cfg.Level(); otherwise logLevel, when set, filters log.
func Open(ctx context.Context, log logger.Logger, cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	var o runtimeOptions
	for _, opt := range opts {
		opt(&o)
	}
	switch {
	case log == nil:
		log = logger.NewConsoleLogger(cfg.Level())
	case cfg.LogLevel != "":
		log = logger.WithLevel(log, cfg.Level())
	}
	rt := &Runtime{Config: cfg, Logger: log, Redis: o.redis}
	if cfg.Breaker != nil {
		rt.Breaker = resilience.NewCircuitBreaker("geocache-remote", *cfg.Breaker)
		rt.Breaker.OnStateChange(func(name string, from, to resilience.State) {
			log.Warn("circuit breaker %s changed from %s to %s", name, from, to)
		})
	}
	if rt.Redis == nil && cfg.UsesRedis() {
		client, err := NewRedisClient(cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		rt.Redis = client
		rt.ownsRedis = true
	}
	if cfg.UsesSQLite() {
		db, err := cache.OpenSQLite(ctx, cfg.SQLite.Path)
		if err != nil {
			rt.Close()
			return nil, errors.Wrapf(err, "failed to open sqlite database: %s", cfg.SQLite.Path)
		}
		rt.SQLite = db
	}

	infos, err := cfg.Infos(cache.Dependencies{Redis: rt.Redis, SQLite: rt.SQLite, Breaker: rt.Breaker})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Manager, err = manager.New(log, infos, o.manager...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Keys = cachekey.NewService(log, cfg.KeyOptions()...)
	rt.Support = pipeline.NewSupport(log, rt.Manager, rt.Keys, pipeline.WithMaxProbes(cfg.MaxUniqueAttempts))
	return rt, nil
}

// NewRedisClient dials the redis:// url.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid redis url")
	}
	return redis.NewClient(opts), nil
}

// Close releases the connections Open created.
func (r *Runtime) Close() error {
	var errs []error
	if r.SQLite != nil {
		errs = append(errs, r.SQLite.Close())
	}
	if r.ownsRedis && r.Redis != nil {
		errs = append(errs, r.Redis.Close())
	}
	return errors.Join(errs...)
}
