package websocket

import "golang.org/x/time/rate"

// RateLimitConfig defines per-connection inbound rate limiting.
// MaxMessagesPerSecond == 0 disables the limiter.
type RateLimitConfig struct {
	MaxMessagesPerSecond int
	// BurstSize allows short bursts above the rate; below 1 it falls back
	// to MaxMessagesPerSecond
	BurstSize int
}

// newRateLimiter returns the token bucket for one connection, or nil when
// limiting is disabled.
func newRateLimiter(cfg RateLimitConfig) *rate.Limiter {
	if cfg.MaxMessagesPerSecond <= 0 {
		return nil
	}
	burst := cfg.BurstSize
	if burst < 1 {
		burst = cfg.MaxMessagesPerSecond
	}
	return rate.NewLimiter(rate.Limit(cfg.MaxMessagesPerSecond), burst)
}
