package core

import (
	"math"
	"math/rand"
	"time"
)

// Sleeper abstracts time.Sleep for deterministic tests.
type Sleeper interface {
	Sleep(time.Duration)
}

// FuncSleeper wraps a function to satisfy Sleeper.
type FuncSleeper func(time.Duration)

// Sleep implements the Sleeper interface.
func (f FuncSleeper) Sleep(d time.Duration) { f(d) }

// BackoffStrategy maps an attempt count to a wait duration: exponential
// growth from BaseDelay, capped at MaxDelay, with optional jitter.
type BackoffStrategy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	Jitter      float64
	Sleeper     Sleeper
	Rand        func() float64
}

// DefaultBackoff returns a conservative exponential backoff configuration.
func DefaultBackoff() BackoffStrategy {
	return BackoffStrategy{
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 5,
		Jitter:      0.2,
	}
}

// Delay returns the wait duration before retrying after the given 1-based
// attempt, including jitter.
func (b BackoffStrategy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := b.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	maxDelay := b.MaxDelay
	if maxDelay <= 0 {
		maxDelay = time.Second
	}
	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	if b.Jitter > 0 {
		rnd := b.Rand
		if rnd == nil {
			rnd = rand.Float64
		}
		delay += delay * b.Jitter * rnd()
	}
	return time.Duration(delay)
}

// Retry executes fn with exponential backoff. It stops when fn returns nil,
// when shouldRetry returns false, or after MaxAttempts have been exhausted.
// It returns the number of attempts executed and the last error from fn.
func (b BackoffStrategy) Retry(fn func() error, shouldRetry func(error) bool) (int, error) {
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = 1
	}
	sleeper := b.Sleeper
	if sleeper == nil {
		sleeper = FuncSleeper(time.Sleep)
	}
	for attempt := 1; attempt <= b.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return attempt, nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return attempt, err
		}
		if attempt == b.MaxAttempts {
			return attempt, err
		}
		sleeper.Sleep(b.Delay(attempt))
	}
	return b.MaxAttempts, nil
}
