package queue

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy decides when a failed operation is retried and when it is given up on.
type Policy struct {
	// MaxAttempts is the number of failed attempts after which an operation is dead-lettered.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultPolicy returns the retry policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     8,
		InitialInterval: 2 * time.Second,
		MaxInterval:     5 * time.Minute,
		Multiplier:      2,
	}
}

// Delay returns how long to wait after the given number of failed attempts.
// Jitter is disabled so schedules are reproducible.
func (p Policy) Delay(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	var d time.Duration
	for i := 0; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Exhausted reports whether an operation with this many failures must stop retrying.
func (p Policy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}
