package resilience

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Config pairs a retry schedule with an optional circuit breaker.
type Config struct {
	Retry RetryPolicy
	// Breaker is nil when failures should never short-circuit calls.
	Breaker *BreakerPolicy
}

type RetryPolicy struct {
	Attempts   int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

type BreakerPolicy struct {
	MinRequests   uint32
	FailureRatio  float64
	OpenTimeout   time.Duration
	HalfOpenCalls uint32
}

// DefaultConfig suits fast upstreams such as NATS and the vector stores:
// three quick attempts, then a breaker that opens at half the calls failing.
func DefaultConfig() Config {
	return Config{
		Retry: RetryPolicy{Attempts: 3, Initial: 100 * time.Millisecond, Max: 400 * time.Millisecond, Multiplier: 2},
		Breaker: &BreakerPolicy{
			MinRequests:   10,
			FailureRatio:  0.5,
			OpenTimeout:   30 * time.Second,
			HalfOpenCalls: 2,
		},
	}
}

// FixedBackoff retries a fixed number of times with a constant wait and no breaker.
func FixedBackoff(attempts int, wait time.Duration) Config {
	return Config{Retry: RetryPolicy{Attempts: attempts, Initial: wait, Max: wait, Multiplier: 1}}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	r := &c.Retry
	if r.Attempts <= 0 {
		r.Attempts = def.Retry.Attempts
	}
	if r.Initial <= 0 {
		r.Initial = def.Retry.Initial
	}
	r.Max = max(r.Max, r.Initial)
	if r.Multiplier < 1 {
		r.Multiplier = def.Retry.Multiplier
	}

	if c.Breaker != nil {
		b := *c.Breaker
		if b.MinRequests == 0 {
			b.MinRequests = def.Breaker.MinRequests
		}
		if b.FailureRatio <= 0 || b.FailureRatio > 1 {
			b.FailureRatio = def.Breaker.FailureRatio
		}
		if b.OpenTimeout <= 0 {
			b.OpenTimeout = def.Breaker.OpenTimeout
		}
		if b.HalfOpenCalls == 0 {
			b.HalfOpenCalls = def.Breaker.HalfOpenCalls
		}
		c.Breaker = &b
	}
	return c
}

// wait is the pause after the given failed attempt (1-based).
func (r RetryPolicy) wait(attempt int) time.Duration {
	d := float64(r.Initial)
	for i := 1; i < attempt; i++ {
		d *= r.Multiplier
		if d >= float64(r.Max) {
			return r.Max
		}
	}
	return min(time.Duration(d), r.Max)
}

func (b BreakerPolicy) settings(operation string, classifier ErrorClassifier) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        operation,
		MaxRequests: b.HalfOpenCalls,
		Timeout:     b.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= b.MinRequests &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= b.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classifier(err).RecordFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
		},
	}
}
