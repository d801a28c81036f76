// Package config loads the YAML description of which cache and index
// backends serve which (layer, category) scopes, and builds the manager
// infos from it.
package config

import (
	"bytes"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/agentuity/go-geocache/cache"
	"github.com/agentuity/go-geocache/cachekey"
	"github.com/agentuity/go-geocache/category"
	"github.com/agentuity/go-geocache/index"
	"github.com/agentuity/go-geocache/logger"
	"github.com/agentuity/go-geocache/manager"
	"github.com/agentuity/go-geocache/resilience"
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Environment variables overriding the file.
const (
	EnvRedisURL   = "GEOCACHE_REDIS_URL"
	EnvSQLitePath = "GEOCACHE_SQLITE_PATH"
	EnvLogLevel   = logger.EnvLogLevel
)

// Wildcard may be used for layer or category to match anything.
const Wildcard = "*"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Backend selects a cache or index implementation.
type Backend struct {
	Type    string        `yaml:"type"`
	Size    int           `yaml:"size,omitempty"`
	Prefix  string        `yaml:"prefix,omitempty"`
	Expires time.Duration `yaml:"expires,omitempty"`
}

// Entry configures the backends of one scope. An empty or "*" layer or
// category matches any.
type Entry struct {
	Layer       string  `yaml:"layer,omitempty"`
	Category    string  `yaml:"category,omitempty"`
	Cache       Backend `yaml:"cache"`
	Index       Backend `yaml:"index"`
	Description string  `yaml:"description,omitempty"`
}

// Scope returns the scope the entry configures.
func (e Entry) Scope() category.Scope {
	layer := e.Layer
	if layer == Wildcard {
		layer = ""
	}
	cat := e.Category
	if cat == Wildcard {
		cat = ""
	}
	return category.NewScope(layer, category.New(cat))
}

func (e Entry) describe() string {
	if e.Description != "" {
		return e.Description
	}
	return typeOr(e.Cache.Type, cache.TypeMemory) + "/" + typeOr(e.Index.Type, index.TypeRTree)
}

type Redis struct {
	URL string `yaml:"url"`
}

type SQLite struct {
	Path string `yaml:"path"`
}

// Config is the root of the configuration file.
type Config struct {
	Defaults          Entry              `yaml:"defaults"`
	Caches            []Entry            `yaml:"caches"`
	Redis             Redis              `yaml:"redis"`
	SQLite            SQLite             `yaml:"sqlite"`
	MaxUniqueAttempts int                `yaml:"maxUniqueAttempts"`
	StrictIdentity    bool               `yaml:"strictIdentity"`
	Digest            string             `yaml:"digest"`
	Breaker           *resilience.Config `yaml:"breaker,omitempty"`
	LogLevel          string             `yaml:"logLevel,omitempty"`
}

// Default returns the configuration used when no file is given: every
// scope is served by an in-memory store with an R-tree index.
func Default() *Config {
	return &Config{
		Defaults: Entry{
			Cache: Backend{Type: cache.TypeMemory},
			Index: Backend{Type: index.TypeRTree},
		},
		SQLite:            SQLite{Path: ":memory:"},
		MaxUniqueAttempts: len(cachekey.UniqueAlphabet),
		Digest:            "md5",
	}
}

// Load reads and validates the file at path, then applies the environment.
func Load(path string, overrides ...Override) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file: %s", path)
	}
	cfg, err := Parse(buf, overrides...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load config file: %s", path)
	}
	return cfg, nil
}

// Override adjusts a decoded configuration before it is validated.
type Override func(*Config)

// WithRedisURL replaces redis.url unless url is empty.
func WithRedisURL(url string) Override {
	return func(c *Config) {
		if url != "" {
			c.Redis.URL = url
		}
	}
}

// Parse decodes buf over the defaults, applies the environment and then
// overrides, and validates the result.
func Parse(buf []byte, overrides ...Override) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "failed to decode YAML config")
	}
	cfg.ApplyEnv(os.LookupEnv)
	for _, o := range overrides {
		o(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides the file with the GEOCACHE_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvRedisURL); ok && v != "" {
		c.Redis.URL = v
	}
	if v, ok := lookup(EnvSQLitePath); ok && v != "" {
		c.SQLite.Path = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
}

// Entries returns the defaults followed by the scoped entries.
func (c *Config) Entries() []Entry {
	return append([]Entry{c.Defaults}, c.Caches...)
}

// Validate checks backend names, the dependencies they need and that no
// scope is configured twice.
func (c *Config) Validate() error {
	if c.MaxUniqueAttempts < 1 {
		return errors.Wrapf(ErrInvalid, "maxUniqueAttempts must be positive, got %d", c.MaxUniqueAttempts)
	}
	if _, ok := cachekey.DigestByName(c.Digest); !ok {
		return errors.Wrapf(ErrInvalid, "unknown digest %q", c.Digest)
	}
	seen := make(map[category.Scope]int)
	for n, e := range c.Entries() {
		where := "defaults"
		if n > 0 {
			where = "caches[" + strconv.Itoa(n-1) + "]"
		}
		if n > 0 && e.Scope() == (category.Scope{}) {
			return errors.Wrapf(ErrInvalid, "%s: the (any, any) scope belongs in defaults", where)
		}
		if prev, ok := seen[e.Scope()]; ok {
			return errors.Wrapf(manager.ErrAmbiguousConfiguration, "%s repeats the scope %s of entry %d", where, e.Scope(), prev)
		}
		seen[e.Scope()] = n
		if err := c.validateBackends(where, e); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateBackends(where string, e Entry) error {
	cacheTypes := strings.Split(strings.ToLower(typeOr(e.Cache.Type, cache.TypeMemory)), "+")
	for _, t := range cacheTypes {
		t = strings.TrimSpace(t)
		if !slices.Contains(cache.Types(), t) {
			return errors.Wrapf(cache.ErrUnknownBackend, "%s: cache type %q", where, t)
		}
		if err := c.needs(where, t); err != nil {
			return err
		}
	}
	it := strings.ToLower(typeOr(e.Index.Type, index.TypeRTree))
	if !slices.Contains(index.Types(), it) {
		return errors.Wrapf(index.ErrUnknownIndex, "%s: index type %q", where, it)
	}
	if e.Cache.Size < 0 || e.Cache.Expires < 0 {
		return errors.Wrapf(ErrInvalid, "%s: size and expires must not be negative", where)
	}
	return c.needs(where, it)
}

func (c *Config) needs(where, typeName string) error {
	if typeName == cache.TypeRedis && c.Redis.URL == "" {
		return errors.Wrapf(ErrInvalid, "%s: redis backend needs redis.url or %s", where, EnvRedisURL)
	}
	return nil
}

// UsesRedis reports whether any entry needs the Redis connection.
func (c *Config) UsesRedis() bool {
	return c.uses(cache.TypeRedis)
}

// UsesSQLite reports whether any entry needs the SQLite database.
func (c *Config) UsesSQLite() bool {
	return c.uses(cache.TypeSQLite)
}

func (c *Config) uses(typeName string) bool {
	for _, e := range c.Entries() {
		for _, t := range strings.Split(strings.ToLower(e.Cache.Type), "+") {
			if strings.TrimSpace(t) == typeName {
				return true
			}
		}
		if strings.ToLower(e.Index.Type) == typeName {
			return true
		}
	}
	return false
}

// Resolve returns the entry serving (layer, cat), with the same precedence
// the manager uses.
func (c *Config) Resolve(layer string, cat category.Category) (Entry, error) {
	entries := c.Entries()
	infos := make([]manager.LayerCategoryInfo, len(entries))
	for n, e := range entries {
		scope := e.Scope()
		infos[n] = manager.LayerCategoryInfo{Layer: scope.Layer, Category: scope.Category, Description: strconv.Itoa(n)}
	}
	info, err := manager.ResolveInfo(infos, layer, cat)
	if err != nil {
		return Entry{}, err
	}
	for n, e := range entries {
		if strconv.Itoa(n) == info.Description {
			return e, nil
		}
	}
	return Entry{}, errors.Wrapf(manager.ErrNoConfiguration, "%s", category.NewScope(layer, cat))
}

// Infos builds the manager configuration over the shared dependencies.
func (c *Config) Infos(deps cache.Dependencies) ([]manager.LayerCategoryInfo, error) {
	entries := c.Entries()
	infos := make([]manager.LayerCategoryInfo, 0, len(entries))
	for _, e := range entries {
		cf, err := cache.NewFactory(e.Cache.Type, deps, cacheOptions(e.Cache)...)
		if err != nil {
			return nil, errors.Wrapf(err, "scope %s", e.Scope())
		}
		prefix := e.Index.Prefix
		if prefix == "" {
			prefix = e.Cache.Prefix
		}
		idx, err := index.NewFactory(e.Index.Type, deps, prefix)
		if err != nil {
			return nil, errors.Wrapf(err, "scope %s", e.Scope())
		}
		scope := e.Scope()
		infos = append(infos, manager.LayerCategoryInfo{
			Layer:       scope.Layer,
			Category:    scope.Category,
			Cache:       cf,
			Index:       idx,
			Description: e.describe(),
		})
	}
	if err := manager.ValidateInfos(infos); err != nil {
		return nil, err
	}
	return infos, nil
}

func cacheOptions(b Backend) []cache.Option {
	var opts []cache.Option
	if b.Size > 0 {
		opts = append(opts, cache.WithSize(b.Size))
	}
	if b.Prefix != "" {
		opts = append(opts, cache.WithPrefix(b.Prefix))
	}
	if b.Expires > 0 {
		opts = append(opts, cache.WithExpires(b.Expires))
	}
	return opts
}

// KeyOptions returns the key service options selected by the file.
func (c *Config) KeyOptions() []cachekey.Option {
	digest, _ := cachekey.DigestByName(c.Digest)
	return []cachekey.Option{cachekey.WithDigest(digest), cachekey.WithStrictIdentity(c.StrictIdentity)}
}

// Level returns the configured log level, info by default.
func (c *Config) Level() logger.LogLevel {
	return logger.ParseLevel(c.LogLevel, logger.LevelInfo)
}

func typeOr(t, def string) string {
	if strings.TrimSpace(t) == "" {
		return def
	}
	return t
}
