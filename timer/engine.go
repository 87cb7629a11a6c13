// Package timer provides software timers polled at fine granularity by a
// single background goroutine. Timers are identified by opaque handles and
// fire a callback on expiry; a callback may start, stop, restart or delete
// any timer, including its own.
package timer

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultPollInterval is how long the poll goroutine sleeps between
// passes. It bounds firing jitter and is the practical minimum timer
// period.
const DefaultPollInterval = 500 * time.Microsecond

var ErrNilCallback = errors.New("timer: nil callback")

// Callback is invoked on the poll goroutine when a timer expires. It must
// not block indefinitely.
type Callback func()

// Handle identifies a timer within an Engine. The zero Handle is never
// issued and can serve as a "no timer" sentinel.
type Handle uint64

type record struct {
	callback Callback
	running  bool
	armed    time.Time
	period   time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithLogger enables operational logging on the given logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// Engine owns a registry of timers and the goroutine that polls them.
// All methods are safe for concurrent use. The firing order of timers
// that expire in the same pass is unspecified.
type Engine struct {
	interval time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	timers map[Handle]*record
	last   Handle

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates an Engine with an empty registry and starts its poll
// goroutine.
func New(opts ...Option) *Engine {
	e := &Engine{
		interval: DefaultPollInterval,
		timers:   make(map[Handle]*record),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	go e.poll()
	return e
}

// Close stops the poll goroutine, waits for it to exit and discards every
// registered timer. After Close returns no callback fires. Safe to call
// more than once.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.stop)
		<-e.done
		e.mu.Lock()
		e.timers = make(map[Handle]*record)
		e.mu.Unlock()
		if e.log != nil {
			e.log.Info("timer engine closed")
		}
	})
}

// Create registers a new timer in the stopped state with period zero.
func (e *Engine) Create(cb Callback) (Handle, error) {
	if cb == nil {
		return 0, ErrNilCallback
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.last++
	h := e.last
	e.timers[h] = &record{callback: cb}
	return h, nil
}

// Delete removes the timer from the registry. Unknown handles are
// ignored. Deleting a timer from inside its own callback is legal.
func (e *Engine) Delete(h Handle) {
	e.mu.Lock()
	delete(e.timers, h)
	e.mu.Unlock()
}

// Start arms the timer: the arm time becomes now, the period is stored
// and the timer is marked running. Starting an already running timer
// re-arms it from scratch.
func (e *Engine) Start(h Handle, period time.Duration) {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.timers[h]
	if !ok {
		return
	}
	t.armed = now
	t.period = period
	t.running = true
}

// Restart advances the arm time by exactly one period, keeping a timer
// strictly periodic when called from its own expiry callback: callback
// latency and scheduling jitter do not accumulate. If the engine fell
// behind by more than a full period the arm time is clamped to one period
// ago, so the timer fires once on the next pass instead of bursting to
// catch up. Restart is only meaningful after at least one Start.
func (e *Engine) Restart(h Handle) {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.timers[h]
	if !ok {
		return
	}
	t.armed = t.armed.Add(t.period)
	if now.Sub(t.armed) > t.period {
		t.armed = now.Add(-t.period)
	}
	t.running = true
}

// Stop clears the running flag. Arm time and period are kept, so a later
// Start is well defined. Unknown handles are ignored.
func (e *Engine) Stop(h Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.timers[h]
	if !ok {
		return
	}
	t.running = false
}

// Len reports the number of registered timers, running or not.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

// poll walks the registry once per pass, firing every running timer whose
// period has elapsed. The lock is released around each callback with the
// callback snapshotted while still locked, so callbacks can use the full
// Engine API without deadlocking. Each fire re-looks the timer up by
// handle: a timer deleted or stopped by an earlier callback in the same
// pass is skipped, and nothing is cached across the unlock.
func (e *Engine) poll() {
	defer close(e.done)
	var expired []Handle
	for {
		select {
		case <-e.stop:
			return
		default:
		}
		now := time.Now()
		expired = expired[:0]
		e.mu.Lock()
		for h, t := range e.timers {
			if t.running && now.Sub(t.armed) > t.period {
				expired = append(expired, h)
			}
		}
		e.mu.Unlock()
		for _, h := range expired {
			e.mu.Lock()
			t, ok := e.timers[h]
			if !ok || !t.running || now.Sub(t.armed) <= t.period {
				e.mu.Unlock()
				continue
			}
			cb := t.callback
			e.mu.Unlock()
			cb()
		}
		time.Sleep(e.interval)
	}
}
