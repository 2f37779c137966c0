package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/courtkeeper/courtkeeper/internal/domain"
)

var errFacilityRequired = fmt.Errorf("%w: facilityID is required", domain.ErrInvalidInput)

// New creates a new cache based on configuration.
// "memory" returns an LRU cache; "redis" returns Redis, fronted by a local
// LRU when two-phase caching is enabled.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "", "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// layer is the keyed byte storage each cache tier provides.
type layer interface {
	Get(ctx context.Context, facilityID string, key string) ([]byte, error)
	Set(ctx context.Context, facilityID string, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, facilityID string, key string) error
	Ping(ctx context.Context) error
	Close() error
}

func evaluationKey(id string) string {
	return "eval:" + id
}

func getEvaluation(ctx context.Context, l layer, facilityID, evaluationID string) (*domain.EvaluationRecord, error) {
	data, err := l.Get(ctx, facilityID, evaluationKey(evaluationID))
	if err != nil || data == nil {
		return nil, err
	}

	var record domain.EvaluationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode cached evaluation %s: %w", evaluationID, err)
	}
	return &record, nil
}

func setEvaluation(ctx context.Context, l layer, facilityID string, record *domain.EvaluationRecord, ttl time.Duration) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("%w: evaluation id is required", domain.ErrInvalidInput)
	}
	if record.FacilityID != "" && record.FacilityID != facilityID {
		return fmt.Errorf("%w: evaluation %s belongs to facility %s", domain.ErrInvalidInput, record.ID, record.FacilityID)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return l.Set(ctx, facilityID, evaluationKey(record.ID), data, ttl)
}

// TwoPhaseCache reads through a local LRU (L1) to Redis (L2).
type TwoPhaseCache struct {
	local  *LRUCache
	remote layer
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
}

func newTwoPhase(local *LRUCache, remote layer, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}
	return &TwoPhaseCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
	}
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, facilityID string, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, facilityID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	val, err = c.remote.Get(ctx, facilityID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, facilityID, key, val, c.l1TTL)
	}

	return val, nil
}

// Set writes to both tiers; L1 never outlives the requested ttl.
func (c *TwoPhaseCache) Set(ctx context.Context, facilityID string, key string, value []byte, ttl time.Duration) error {
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.Set(ctx, facilityID, key, value, l1TTL); err != nil {
		return err
	}
	return c.remote.Set(ctx, facilityID, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *TwoPhaseCache) Delete(ctx context.Context, facilityID string, key string) error {
	if err := c.local.Delete(ctx, facilityID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, facilityID, key)
}

// GetEvaluation retrieves a cached evaluation through both tiers.
func (c *TwoPhaseCache) GetEvaluation(ctx context.Context, facilityID string, evaluationID string) (*domain.EvaluationRecord, error) {
	return getEvaluation(ctx, c, facilityID, evaluationID)
}

// SetEvaluation caches an evaluation in both tiers.
func (c *TwoPhaseCache) SetEvaluation(ctx context.Context, facilityID string, record *domain.EvaluationRecord, ttl time.Duration) error {
	return setEvaluation(ctx, c, facilityID, record, ttl)
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
