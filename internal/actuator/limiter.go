package actuator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultInterval is the minimum spacing between mutation starts.
const DefaultInterval = 60 * time.Second

// Clock abstracts time for the limiter so tests can drive it.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time                         { return time.Now() }
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Limiter admits one mutation at a time, each starting at least Interval
// after the previous one started. It is a token bucket of size one, fed with
// explicit clock readings so a fake clock controls it fully.
type Limiter struct {
	interval time.Duration
	clock    Clock
	sem      chan struct{}
	bucket   *rate.Limiter

	mu   sync.Mutex
	last time.Time
}

// NewLimiter returns a limiter. A nil clock uses SystemClock.
func NewLimiter(interval time.Duration, clock Clock) *Limiter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Limiter{
		interval: interval,
		clock:    clock,
		sem:      make(chan struct{}, 1),
		bucket:   rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Interval returns the configured spacing.
func (l *Limiter) Interval() time.Duration { return l.interval }

// Permit is the right to issue exactly one mutation. Release it once the
// mutation returns.
type Permit struct {
	IssuedAt time.Time
	once     sync.Once
	l        *Limiter
}

// Release frees the limiter for the next caller. Safe to call twice.
func (p *Permit) Release() {
	p.once.Do(func() { <-p.l.sem })
}

// Acquire blocks until a mutation may start. The permit's IssuedAt is the
// start time the next acquisition is spaced from.
func (l *Limiter) Acquire(ctx context.Context) (*Permit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	now := l.clock.Now()
	res := l.bucket.ReserveN(now, 1)
	if !res.OK() {
		<-l.sem
		return nil, fmt.Errorf("rate limiter cannot admit a mutation")
	}

	wait := res.DelayFrom(now)
	// Float rounding in the bucket can leave the delay a few ns short.
	l.mu.Lock()
	if !l.last.IsZero() {
		if floor := l.last.Add(l.interval).Sub(now); floor > wait {
			wait = floor
		}
	}
	l.mu.Unlock()

	if wait > 0 {
		select {
		case <-l.clock.After(wait):
		case <-ctx.Done():
			res.CancelAt(l.clock.Now())
			<-l.sem
			return nil, ctx.Err()
		}
	}

	issued := l.clock.Now()
	l.mu.Lock()
	l.last = issued
	l.mu.Unlock()
	return &Permit{IssuedAt: issued, l: l}, nil
}
