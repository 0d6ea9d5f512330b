package stores

import (
	"context"
	"sync"
	"time"
)

type cachedIdentity struct {
	ident   Identity
	expires time.Time
}

// MemoryIdentityCache is a process-local identity cache with a fixed TTL.
type MemoryIdentityCache struct {
	mu      sync.RWMutex
	byID    map[int64]cachedIdentity
	byEmail map[string]int64
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryIdentityCache returns an empty cache. now defaults to time.Now.
func NewMemoryIdentityCache(ttl time.Duration, now func() time.Time) *MemoryIdentityCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryIdentityCache{
		byID:    make(map[int64]cachedIdentity),
		byEmail: make(map[string]int64),
		ttl:     ttl,
		now:     now,
	}
}

func (c *MemoryIdentityCache) GetByID(_ context.Context, id int64) (Identity, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lookup(id)
}

func (c *MemoryIdentityCache) GetByEmail(_ context.Context, email string) (Identity, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byEmail[NormalizeEmail(email)]
	if !ok {
		return Identity{}, false, nil
	}
	return c.lookup(id)
}

func (c *MemoryIdentityCache) lookup(id int64) (Identity, bool, error) {
	entry, ok := c.byID[id]
	if !ok || !c.now().Before(entry.expires) {
		return Identity{}, false, nil
	}
	return entry.ident, true, nil
}

func (c *MemoryIdentityCache) Put(_ context.Context, ident Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.byID[ident.ID]; ok {
		delete(c.byEmail, NormalizeEmail(old.ident.Email))
	}
	c.byID[ident.ID] = cachedIdentity{ident: ident, expires: c.now().Add(c.ttl)}
	c.byEmail[NormalizeEmail(ident.Email)] = ident.ID
	return nil
}

func (c *MemoryIdentityCache) Invalidate(_ context.Context, id int64, email string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.byID[id]; ok {
		delete(c.byEmail, NormalizeEmail(old.ident.Email))
	}
	delete(c.byID, id)
	if email != "" {
		delete(c.byEmail, NormalizeEmail(email))
	}
	return nil
}
