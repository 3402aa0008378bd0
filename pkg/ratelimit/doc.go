// Package ratelimit keeps remote API usage under the platform's limits.
//
// Two algorithms are provided. TokenBucket refills to full capacity once per
// period and suits short bursts. SlidingWindow counts requests within a
// moving window. New combines both from the rate_limit configuration
// section:
//
//	limiter := ratelimit.New(cfg.RateLimit)
//	if err := limiter.Wait(ctx); err != nil {
//	    return err
//	}
package ratelimit
