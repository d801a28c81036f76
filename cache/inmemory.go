package cache

import (
	"context"
	"sync"
	"time"
)

type value struct {
	object  any
	expires time.Time
}

func (v *value) expired(now time.Time) bool {
	return !v.expires.IsZero() && v.expires.Before(now)
}

type inMemoryCache struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cache     map[string]*value
	mutex     sync.Mutex
	waitGroup sync.WaitGroup
	once      sync.Once
	dropped   bool
	cfg       config
}

var _ Service = (*inMemoryCache)(nil)

// NewInMemory returns a map backed store. A cleanup goroutine runs only when
// WithExpires is set; it stops on Drop or when parent is done.
func NewInMemory(parent context.Context, opts ...Option) Service {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	c := &inMemoryCache{
		ctx:    ctx,
		cancel: cancel,
		cache:  make(map[string]*value),
		cfg:    cfg,
	}
	if cfg.expires > 0 {
		c.waitGroup.Add(1)
		go c.run()
	}
	return c
}

func (c *inMemoryCache) Put(_ context.Context, key string, val any) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.dropped {
		return ErrDropped
	}
	c.cache[key] = &value{val, expiresAt(c.cfg.expires)}
	return nil
}

func (c *inMemoryCache) Get(_ context.Context, key string) (bool, any, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.dropped {
		return false, nil, ErrDropped
	}
	val, ok := c.cache[key]
	if !ok {
		return false, nil, nil
	}
	if val.expired(time.Now()) {
		delete(c.cache, key)
		return false, nil, nil
	}
	return true, val.object, nil
}

func (c *inMemoryCache) Remove(_ context.Context, key string) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.dropped {
		return false, ErrDropped
	}
	_, ok := c.cache[key]
	delete(c.cache, key)
	return ok, nil
}

func (c *inMemoryCache) Clear(_ context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.dropped {
		return ErrDropped
	}
	clear(c.cache)
	return nil
}

func (c *inMemoryCache) Drop(_ context.Context) error {
	c.once.Do(func() {
		c.mutex.Lock()
		c.dropped = true
		c.cache = nil
		c.mutex.Unlock()
		c.cancel()
		c.waitGroup.Wait()
	})
	return nil
}

// Close stops the cleanup goroutine and discards the entries.
func (c *inMemoryCache) Close() error {
	return c.Drop(context.Background())
}

func (c *inMemoryCache) run() {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(c.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			c.mutex.Lock()
			for key, val := range c.cache {
				if val.expired(now) {
					delete(c.cache, key)
				}
			}
			c.mutex.Unlock()
		}
	}
}
