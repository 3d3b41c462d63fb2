package engine

import "time"

// Clock supplies wall time and interruptible waits to the poll loop.
//
// The same shape is accepted by the actuator's rate limiter, so one fake
// clock can drive both in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
