// Package clock abstracts wall-clock reads so flow timeouts and the stats
// cache TTL can be driven deterministically in tests.
package clock

import "time"

// Clock is the time source used by time-dependent components.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	// After fires once the clock has moved d past the current time.
	After(d time.Duration) <-chan time.Time
}

// Real delegates to the standard time package.
type Real struct{}

func (Real) Now() time.Time {
	return time.Now()
}

func (Real) Since(t time.Time) time.Duration {
	return time.Since(t)
}

func (Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
