package photosync

import (
	"context"
	"time"

	"vkphotos/pkg/config"
	"vkphotos/pkg/logger"
	"vkphotos/pkg/ratelimit"
	"vkphotos/pkg/retry"
)

// CounterSource supplies best-effort like and comment counts from outside
// the API.
type CounterSource interface {
	Likes(ctx context.Context, photoID, albumID string) (int, error)
	Comments(ctx context.Context, photoID string) (int, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.logger = logger.OrNop(l) }
}

// WithRateLimiter sets the limiter every page request waits on.
func WithRateLimiter(l ratelimit.Limiter) Option {
	return func(e *Engine) { e.limiter = l }
}

// WithRetry sets the retry policy for page requests.
func WithRetry(cfg *retry.Config) Option {
	return func(e *Engine) { e.retry = cfg }
}

// WithPageSize sets the count requested per album or photo page.
func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithLikesPageSize sets the count requested per likers page.
func WithLikesPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.likesPageSize = n
		}
	}
}

// WithTimeout bounds every Fetch call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithConcurrency sets how many albums SyncScope handles at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithCounterSource enables RefreshCounters.
func WithCounterSource(src CounterSource) Option {
	return func(e *Engine) { e.counters = src }
}

// WithClock overrides the time source used for summaries.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSyncConfig applies the sync section of the configuration.
func WithSyncConfig(cfg config.SyncConfig) Option {
	return func(e *Engine) {
		WithPageSize(cfg.PageSize)(e)
		WithLikesPageSize(cfg.LikesPageSize)(e)
		WithConcurrency(cfg.ConcurrentAlbums)(e)
		e.timeout = cfg.Timeout
		e.refreshCounters = cfg.UseFallbackCounters
	}
}
