package resilience

import "time"

// Config is the retry and circuit-breaker policy of one Executor.
type Config struct {
	// RetryMaxAttempts counts the first call.
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	// The breaker trips once BreakerMinRequests calls were seen and at least
	// BreakerFailureRatio of them failed.
	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

// DefaultConfig guards calls to remote dependencies: storage, the broker and
// the model server.
func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     400 * time.Millisecond,
		RetryMultiplier:     2.0,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

// BackoffConfig is a plain doubling retry policy without a circuit breaker:
// attempts calls, waiting base, 2*base, 4*base... between them.
func BackoffConfig(attempts int, base time.Duration) Config {
	attempts = max(attempts, 1)
	longest := base
	for range attempts - 2 {
		longest *= 2
	}
	return Config{
		RetryMaxAttempts:    attempts,
		RetryInitialBackoff: base,
		RetryMaxBackoff:     longest,
		RetryMultiplier:     2.0,
	}
}

// normalize fills unset or out-of-range fields from DefaultConfig.
func (c Config) normalize() Config {
	def := DefaultConfig()

	if c.RetryMaxAttempts <= 0 {
		c.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if c.RetryInitialBackoff <= 0 {
		c.RetryInitialBackoff = def.RetryInitialBackoff
	}
	c.RetryMaxBackoff = max(c.RetryMaxBackoff, c.RetryInitialBackoff)
	if c.RetryMultiplier < 1 {
		c.RetryMultiplier = def.RetryMultiplier
	}

	if !c.BreakerEnabled {
		return c
	}
	if c.BreakerMinRequests == 0 {
		c.BreakerMinRequests = def.BreakerMinRequests
	}
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		c.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if c.BreakerOpenTimeout <= 0 {
		c.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if c.BreakerHalfOpenMaxCalls == 0 {
		c.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}
	return c
}
