package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/metrics"
)

// ErrCircuitOpen is returned while the breaker rejects calls
var ErrCircuitOpen = errors.New("cache circuit open")

// GuardedCache wraps a CacheService with a per-call timeout and a circuit
// breaker. Misses do not count as failures.
type GuardedCache struct {
	next    CacheService
	breaker *CircuitBreaker
	timeout time.Duration
	logger  *slog.Logger
}

type GuardedCacheConfig struct {
	Timeout time.Duration
	Breaker CircuitBreakerConfig
}

func NewGuardedCache(next CacheService, config GuardedCacheConfig, logger *slog.Logger) *GuardedCache {
	breakerConfig := config.Breaker
	userHook := breakerConfig.OnStateChange
	breakerConfig.OnStateChange = func(from, to CircuitState) {
		metrics.CacheBreakerState.Set(float64(to))
		logger.Warn("Cache circuit breaker state changed", "from", from.String(), "to", to.String())
		if userHook != nil {
			userHook(from, to)
		}
	}
	if config.Timeout <= 0 {
		config.Timeout = 150 * time.Millisecond
	}
	return &GuardedCache{
		next:    next,
		breaker: NewCircuitBreaker(breakerConfig),
		timeout: config.Timeout,
		logger:  logger,
	}
}

// Breaker exposes the breaker for health reporting
func (g *GuardedCache) Breaker() *CircuitBreaker {
	return g.breaker
}

func (g *GuardedCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return g.do(ctx, "set", func(ctx context.Context) error {
		return g.next.Set(ctx, key, value, ttl)
	})
}

func (g *GuardedCache) Get(ctx context.Context, key string, dest interface{}) error {
	return g.do(ctx, "get", func(ctx context.Context) error {
		return g.next.Get(ctx, key, dest)
	})
}

func (g *GuardedCache) Delete(ctx context.Context, key string) error {
	return g.do(ctx, "delete", func(ctx context.Context) error {
		return g.next.Delete(ctx, key)
	})
}

func (g *GuardedCache) DeletePattern(ctx context.Context, pattern string) error {
	return g.do(ctx, "delete_pattern", func(ctx context.Context) error {
		return g.next.DeletePattern(ctx, pattern)
	})
}

func (g *GuardedCache) do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if !g.breaker.Allow() {
		metrics.CacheRequests.WithLabelValues(operation, "rejected").Inc()
		return ErrCircuitOpen
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	err := fn(callCtx)
	switch {
	case err == nil:
		g.breaker.RecordSuccess()
		metrics.CacheRequests.WithLabelValues(operation, "ok").Inc()
	case errors.Is(err, ErrCacheMiss):
		g.breaker.RecordSuccess()
		metrics.CacheRequests.WithLabelValues(operation, "miss").Inc()
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		// caller went away, says nothing about the backend
		g.breaker.Release()
		metrics.CacheRequests.WithLabelValues(operation, "cancelled").Inc()
	default:
		g.breaker.RecordFailure()
		metrics.CacheRequests.WithLabelValues(operation, "error").Inc()
	}
	return err
}
