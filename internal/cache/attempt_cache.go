package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/models"
)

const attemptKeyPrefix = "attempt:"

// AttemptCache is the advisory attempt snapshot cache used by the lifecycle
// service. It never returns errors: every failure is a miss.
type AttemptCache struct {
	cache  CacheService
	ttl    time.Duration
	logger *slog.Logger
}

// NewAttemptCache builds the cache. A nil backend disables caching.
func NewAttemptCache(backend CacheService, ttl time.Duration, logger *slog.Logger) *AttemptCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AttemptCache{
		cache:  backend,
		ttl:    ttl,
		logger: logger,
	}
}

// AttemptKey derives the cache key for an identity tuple. Anonymous tuples
// are shared by every taker of a public form, so their key also carries the
// session id; without one there is no key and "" is returned.
func AttemptKey(identity models.AttemptIdentity, sessionID string) string {
	if identity.IsAnonymous() {
		if sessionID == "" {
			return ""
		}
		return attemptKeyPrefix + identity.Key() + ":" + sessionID
	}
	return attemptKeyPrefix + identity.Key()
}

func (c *AttemptCache) Get(ctx context.Context, key string) (*models.ExamAttempt, bool) {
	if c.cache == nil || key == "" {
		return nil, false
	}
	var attempt models.ExamAttempt
	if err := c.cache.Get(ctx, key, &attempt); err != nil {
		if err != ErrCacheMiss {
			c.logger.Debug("Attempt cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	return &attempt, true
}

func (c *AttemptCache) Set(ctx context.Context, attempt *models.ExamAttempt) {
	if c.cache == nil || attempt == nil {
		return
	}
	key := AttemptKey(attempt.Identity(), attempt.SessionID)
	if err := c.cache.Set(ctx, key, attempt, c.ttl); err != nil {
		c.logger.Debug("Attempt cache write failed", "key", key, "error", err)
	}
}

func (c *AttemptCache) Invalidate(ctx context.Context, attempt *models.ExamAttempt) {
	if c.cache == nil || attempt == nil {
		return
	}
	key := AttemptKey(attempt.Identity(), attempt.SessionID)
	if err := c.cache.Delete(ctx, key); err != nil {
		c.logger.Debug("Attempt cache delete failed", "key", key, "error", err)
	}
}

// Flush drops every cached attempt
func (c *AttemptCache) Flush(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.DeletePattern(ctx, attemptKeyPrefix+"*")
}

// Status is "disabled" without a backend, the breaker state when the
// backend is guarded and "enabled" otherwise
func (c *AttemptCache) Status() string {
	if c.cache == nil {
		return "disabled"
	}
	if guarded, ok := c.cache.(*GuardedCache); ok {
		return guarded.Breaker().State().String()
	}
	return "enabled"
}
