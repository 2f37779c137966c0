// Package cache keeps evaluation results retrievable for a short time.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/courtkeeper/courtkeeper/internal/domain"
)

// LRUCache is a thread-safe LRU cache with TTL support.
// Used on its own in the community edition and as L1 in two-phase caching.
type LRUCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
	now     func() time.Time
}

type cacheEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache with the specified max size.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Get retrieves a value from cache. Expired entries are dropped on read.
func (c *LRUCache) Get(ctx context.Context, facilityID string, key string) ([]byte, error) {
	if facilityID == "" {
		return nil, errFacilityRequired
	}

	fullKey := makeKey(facilityID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[fullKey]
	if !ok {
		return nil, nil
	}

	entry := elem.Value.(*cacheEntry)
	if !c.now().Before(entry.expiresAt) {
		c.removeElement(elem)
		return nil, nil
	}

	c.order.MoveToFront(elem)
	return entry.value, nil
}

// Set stores a value in cache with TTL.
func (c *LRUCache) Set(ctx context.Context, facilityID string, key string, value []byte, ttl time.Duration) error {
	if facilityID == "" {
		return errFacilityRequired
	}

	fullKey := makeKey(facilityID, key)
	expiresAt := c.now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[fullKey]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		return nil
	}

	elem := c.order.PushFront(&cacheEntry{
		key:       fullKey,
		value:     value,
		expiresAt: expiresAt,
	})
	c.items[fullKey] = elem

	for c.order.Len() > c.maxSize {
		c.removeElement(c.order.Back())
	}

	return nil
}

// Delete removes a value from cache.
func (c *LRUCache) Delete(ctx context.Context, facilityID string, key string) error {
	if facilityID == "" {
		return errFacilityRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[makeKey(facilityID, key)]; ok {
		c.removeElement(elem)
	}
	return nil
}

// GetEvaluation retrieves a cached evaluation result.
func (c *LRUCache) GetEvaluation(ctx context.Context, facilityID string, evaluationID string) (*domain.EvaluationRecord, error) {
	return getEvaluation(ctx, c, facilityID, evaluationID)
}

// SetEvaluation caches an evaluation result.
func (c *LRUCache) SetEvaluation(ctx context.Context, facilityID string, record *domain.EvaluationRecord, ttl time.Duration) error {
	return setEvaluation(ctx, c, facilityID, record, ttl)
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every entry.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	return nil
}

// Stats returns cache statistics.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len(), c.maxSize
}

func makeKey(facilityID, key string) string {
	return facilityID + ":" + key
}

func (c *LRUCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*cacheEntry).key)
}
