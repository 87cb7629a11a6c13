package timer

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPoll = 200 * time.Microsecond

func TestCreateRequiresCallback(t *testing.T) {
	e := New(WithPollInterval(testPoll))
	defer e.Close()

	h, err := e.Create(nil)
	require.ErrorIs(t, err, ErrNilCallback)
	assert.Zero(t, h)
	assert.Zero(t, e.Len())
}

func TestUnknownHandleOps(t *testing.T) {
	e := New(WithPollInterval(testPoll))
	defer e.Close()

	const bogus Handle = 42
	e.Start(bogus, time.Millisecond)
	e.Restart(bogus)
	e.Stop(bogus)
	e.Delete(bogus)
	assert.Zero(t, e.Len())
}

func TestCreatedTimerStaysStopped(t *testing.T) {
	e := New(WithPollInterval(testPoll))
	defer e.Close()

	var fired atomic.Int64
	_, err := e.Create(func() { fired.Add(1) })
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, fired.Load(), "timer fired without Start")
}

func TestPeriodicFiring(t *testing.T) {
	e := New(WithPollInterval(testPoll))
	defer e.Close()

	const (
		period = 10 * time.Millisecond
		fires  = 5
	)
	var (
		count atomic.Int64
		h     Handle
	)
	h, err := e.Create(func() {
		count.Add(1)
		e.Restart(h)
	})
	require.NoError(t, err)

	began := time.Now()
	e.Start(h, period)
	require.Eventually(t, func() bool { return count.Load() >= fires },
		time.Second, time.Millisecond)
	elapsed := time.Since(began)
	e.Stop(h)

	// A restarting timer cannot run faster than its period, and cumulative
	// drift stays bounded by roughly one poll interval per firing.
	assert.GreaterOrEqual(t, elapsed, fires*period-period/2)
	assert.Less(t, elapsed, 2*fires*period)
}

func TestRestartCatchUpClamp(t *testing.T) {
	e := New(WithPollInterval(testPoll))
	defer e.Close()

	const period = 10 * time.Millisecond
	var (
		mu    sync.Mutex
		times []time.Time
		h     Handle
	)
	h, err := e.Create(func() {
		mu.Lock()
		times = append(times, time.Now())
		n := len(times)
		mu.Unlock()
		if n == 1 {
			// Overrun the deadline by several periods before re-arming.
			time.Sleep(3*period + period/2)
		}
		e.Restart(h)
	})
	require.NoError(t, err)
	e.Start(h, period)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(times) >= 3
	}, time.Second, time.Millisecond)
	e.Stop(h)

	mu.Lock()
	defer mu.Unlock()
	// The overrun produces one immediate catch-up firing, then the timer
	// settles back onto its period instead of bursting through the missed
	// deadlines.
	assert.Less(t, times[1].Sub(times[0]), 5*period)
	assert.GreaterOrEqual(t, times[2].Sub(times[1]), period/2)
}

func TestStopHaltsFiring(t *testing.T) {
	e := New(WithPollInterval(testPoll))
	defer e.Close()

	var (
		count   atomic.Int64
		stopped atomic.Bool
		h       Handle
	)
	h, err := e.Create(func() {
		if stopped.Load() {
			// An in-flight callback can race the Stop below and re-arm
			// the timer; respect the stop instead.
			e.Stop(h)
			return
		}
		count.Add(1)
		e.Restart(h)
	})
	require.NoError(t, err)
	e.Start(h, time.Millisecond)

	require.Eventually(t, func() bool { return count.Load() >= 3 },
		time.Second, time.Millisecond)
	stopped.Store(true)
	e.Stop(h)
	time.Sleep(2 * time.Millisecond) // let an in-flight callback finish
	after := count.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, count.Load(), "timer fired after Stop")

	// Start after Stop re-arms from scratch.
	stopped.Store(false)
	e.Start(h, time.Millisecond)
	require.Eventually(t, func() bool { return count.Load() > after },
		time.Second, time.Millisecond)
}

func TestDeleteFromOwnCallback(t *testing.T) {
	e := New(WithPollInterval(testPoll))
	defer e.Close()

	var (
		count atomic.Int64
		h     Handle
	)
	h, err := e.Create(func() {
		count.Add(1)
		e.Delete(h)
	})
	require.NoError(t, err)
	e.Start(h, time.Millisecond)

	require.Eventually(t, func() bool { return count.Load() == 1 },
		time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, count.Load(), "timer fired after deleting itself")
	assert.Zero(t, e.Len())
}

func TestCallbackMayStopSibling(t *testing.T) {
	e := New(WithPollInterval(testPoll))
	defer e.Close()

	var (
		siblingFired atomic.Int64
		killer       Handle
		victim       Handle
	)
	victim, err := e.Create(func() {
		siblingFired.Add(1)
		e.Restart(victim)
	})
	require.NoError(t, err)
	killer, err = e.Create(func() {
		e.Delete(victim)
		e.Delete(killer)
	})
	require.NoError(t, err)

	e.Start(victim, time.Millisecond)
	e.Start(killer, 5*time.Millisecond)

	require.Eventually(t, func() bool { return e.Len() == 0 },
		time.Second, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	after := siblingFired.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, siblingFired.Load(), "deleted timer kept firing")
}

func TestNoCallbackAfterClose(t *testing.T) {
	e := New(WithPollInterval(testPoll))

	var (
		count atomic.Int64
		h     Handle
	)
	h, err := e.Create(func() {
		count.Add(1)
		e.Restart(h)
	})
	require.NoError(t, err)
	e.Start(h, time.Millisecond)

	require.Eventually(t, func() bool { return count.Load() > 0 },
		time.Second, time.Millisecond)
	e.Close()
	after := count.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, count.Load(), "expiry callback fired after Close returned")
	assert.Zero(t, e.Len())
	e.Close() // idempotent
}

func TestConcurrentRegistryStress(t *testing.T) {
	e := New(WithPollInterval(testPoll))
	defer e.Close()

	const (
		workers = 8
		ops     = 200
	)
	var spins atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			var mine []Handle
			for i := 0; i < ops; i++ {
				switch rng.Intn(4) {
				case 0:
					h, err := e.Create(func() { spins.Add(1) })
					if err == nil {
						mine = append(mine, h)
					}
				case 1:
					if len(mine) > 0 {
						e.Start(mine[rng.Intn(len(mine))], time.Duration(rng.Intn(5))*time.Millisecond)
					}
				case 2:
					if len(mine) > 0 {
						e.Stop(mine[rng.Intn(len(mine))])
					}
				case 3:
					if len(mine) > 0 {
						i := rng.Intn(len(mine))
						e.Delete(mine[i])
						mine = append(mine[:i], mine[i+1:]...)
					}
				}
			}
			for _, h := range mine {
				e.Delete(h)
			}
		}(int64(w))
	}
	wg.Wait()
	assert.Zero(t, e.Len(), "registry leaked timers under concurrent use")
}
