package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"giftvalue/internal/provider"
)

// entry stores one resolved sample with expiry.
type entry struct {
	expiresAt time.Time
	sample    provider.Sample
}

// Samples caches resolved live samples per key for a TTL and coalesces
// concurrent resolutions of the same key. Last-known samples are returned
// but never stored, so the next page load tries the live endpoints again.
type Samples struct {
	TTL      time.Duration
	MaxItems int
	Now      func() time.Time

	mu    sync.RWMutex
	items map[string]entry

	sf singleflight.Group
}

func (c *Samples) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Get returns the cached sample for key or calls resolve to produce one.
func (c *Samples) Get(ctx context.Context, key string, resolve func(ctx context.Context) (provider.Sample, error)) (provider.Sample, error) {
	if c.TTL <= 0 {
		return resolve(ctx)
	}

	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expiresAt) {
		return e.sample, nil
	}

	v, err, _ := c.sf.Do(key, func() (any, error) {
		// Followers share this call, so the first caller's cancellation must
		// not reach it. Its deadline still bounds the work.
		rctx, cancel := detach(ctx)
		defer cancel()
		s, err := resolve(rctx)
		if err != nil {
			return provider.Sample{}, err
		}
		if s.Live {
			c.store(key, s)
		}
		return s, nil
	})
	if err != nil {
		return provider.Sample{}, err
	}
	return v.(provider.Sample), nil
}

func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	d := context.WithoutCancel(ctx)
	if dl, ok := ctx.Deadline(); ok {
		return context.WithDeadline(d, dl)
	}
	return d, func() {}
}

func (c *Samples) store(key string, s provider.Sample) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items == nil {
		c.items = make(map[string]entry)
	}
	c.items[key] = entry{expiresAt: now.Add(c.TTL), sample: s}

	// best-effort cap: drop expired first, then arbitrary keys
	if c.MaxItems > 0 && len(c.items) > c.MaxItems {
		for k, v := range c.items {
			if now.After(v.expiresAt) {
				delete(c.items, k)
			}
		}
		for k := range c.items {
			if len(c.items) <= c.MaxItems {
				break
			}
			if k != key {
				delete(c.items, k)
			}
		}
	}
}

// Len reports how many entries are stored, expired or not.
func (c *Samples) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
