package actuator_test

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rostersync/internal/actuator"
	"github.com/roach88/rostersync/internal/testutil"
)

func TestLimiter_FirstAcquireIsImmediate(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	l := actuator.NewLimiter(time.Minute, clock)

	p, err := l.Acquire(context.Background())
	require.NoError(t, err)
	defer p.Release()

	assert.Equal(t, testutil.Epoch, p.IssuedAt)
	assert.Empty(t, clock.Waits())
}

func TestLimiter_SpacesStartsByInterval(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	l := actuator.NewLimiter(time.Minute, clock)

	var starts []time.Time
	for i := 0; i < 5; i++ {
		p, err := l.Acquire(context.Background())
		require.NoError(t, err)
		starts = append(starts, p.IssuedAt)
		// Work inside the permit does not push the next start further out.
		clock.Advance(10 * time.Second)
		p.Release()
	}

	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), time.Minute, "start %d", i)
	}
	assert.WithinDuration(t, testutil.Epoch.Add(4*time.Minute), starts[4], time.Millisecond)
}

func TestLimiter_NoWaitAfterIdleInterval(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	l := actuator.NewLimiter(time.Minute, clock)

	p, err := l.Acquire(context.Background())
	require.NoError(t, err)
	p.Release()

	clock.Advance(2 * time.Minute)
	p, err = l.Acquire(context.Background())
	require.NoError(t, err)
	p.Release()

	assert.Empty(t, clock.Waits())
	assert.Equal(t, testutil.Epoch.Add(2*time.Minute), p.IssuedAt)
}

func TestLimiter_SerializesConcurrentCallers(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	l := actuator.NewLimiter(time.Minute, clock)

	var (
		mu       sync.Mutex
		inFlight atomic.Int32
		maxSeen  atomic.Int32
		starts   []time.Time
		wg       sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := l.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			n := inFlight.Add(1)
			for {
				seen := maxSeen.Load()
				if n <= seen || maxSeen.CompareAndSwap(seen, n) {
					break
				}
			}
			mu.Lock()
			starts = append(starts, p.IssuedAt)
			mu.Unlock()
			runtime.Gosched()
			inFlight.Add(-1)
			p.Release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
	require.Len(t, starts, 8)
	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), time.Minute)
	}
}

func TestLimiter_CancelWhileWaiting(t *testing.T) {
	clock := testutil.NewManualClock(time.Time{})
	l := actuator.NewLimiter(time.Minute, clock)

	p, err := l.Acquire(context.Background())
	require.NoError(t, err)
	p.Release()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := l.Acquire(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool { return clock.Pending() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// The cancelled reservation must not block the next caller forever.
	clock.Advance(time.Minute)
	go func() {
		p, err := l.Acquire(context.Background())
		if err == nil {
			p.Release()
		}
		done <- err
	}()
	require.Eventually(t, func() bool {
		select {
		case err := <-done:
			return err == nil
		default:
			clock.Advance(time.Second)
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestPermit_ReleaseTwice(t *testing.T) {
	l := actuator.NewLimiter(time.Minute, testutil.NewFakeClock(time.Time{}))
	p, err := l.Acquire(context.Background())
	require.NoError(t, err)
	p.Release()
	assert.NotPanics(t, p.Release)
}
