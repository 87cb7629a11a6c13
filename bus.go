package canlin

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultPollInterval is how long the receive loop sleeps after draining
// the queue. It trades a little latency for not spinning the CPU.
const DefaultPollInterval = 500 * time.Microsecond

var (
	ErrNotConnected = errors.New("canlin: not connected")
	ErrShortWrite   = errors.New("canlin: short write")
	ErrClosed       = errors.New("canlin: endpoint closed")
	ErrNoData       = errors.New("canlin: no data")
	ErrNilEndpoint  = errors.New("canlin: nil endpoint")
)

// Endpoint is one open connection to a CAN medium. Read and Write move
// single frames in the 16-byte SocketCAN wire layout and must not block:
// Read returns an error (ErrNoData for in-memory media, EAGAIN for
// sockets) when nothing is queued. Implementations need not be safe for
// concurrent use; the Bus serializes all access through its lock.
type Endpoint interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Option configures a Bus.
type Option func(*Bus)

// OnReceive registers the callback invoked for every received frame. It
// runs synchronously on the receive goroutine with the bus lock released,
// so it may call Send, and it must not block indefinitely.
func OnReceive(fn func(Frame)) Option {
	return func(b *Bus) { b.onReceive = fn }
}

// OnTransmit registers the callback invoked after every successfully
// written frame, with the frame's transmit timestamp filled in.
func OnTransmit(fn func(Frame)) Option {
	return func(b *Bus) { b.onTransmit = fn }
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.interval = d
		}
	}
}

// WithLogger enables operational logging on the given logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.log = l }
}

// Bus is the CAN transport driver. It owns at most one connection at a
// time and one background receive goroutine per connection. All methods
// are safe for concurrent use.
type Bus struct {
	onReceive  func(Frame)
	onTransmit func(Frame)
	interval   time.Duration
	log        *slog.Logger

	// connMu serializes connection replacement: teardown of the old
	// connection and install of the new one must be one atomic step, or
	// racing Attach calls overwrite each other's stop channels and leak
	// poll goroutines. Acquired before mu, never the other way around.
	connMu sync.Mutex

	mu        sync.Mutex
	ep        Endpoint
	start     time.Time
	connected bool
	stop      chan struct{}
	done      chan struct{}
}

// New creates a disconnected Bus. Callbacks are fixed at construction.
func New(opts ...Option) *Bus {
	b := &Bus{interval: DefaultPollInterval}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Attach brings the bus up over an already open endpoint and starts the
// receive goroutine. An existing connection is torn down first. The bus
// takes ownership of ep and closes it on Disconnect.
func (b *Bus) Attach(ep Endpoint) error {
	if ep == nil {
		return ErrNilEndpoint
	}
	b.connMu.Lock()
	defer b.connMu.Unlock()
	b.teardown()
	b.mu.Lock()
	b.ep = ep
	b.start = time.Now()
	b.connected = true
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	go b.poll(ep, b.start, b.stop, b.done)
	b.mu.Unlock()
	if b.log != nil {
		b.log.Info("bus connected")
	}
	return nil
}

// Disconnect stops the receive goroutine, waits for it to exit, closes
// the endpoint and resets the per-connection state. After Disconnect
// returns no further receive callback is invoked. Calling it while
// disconnected is a no-op; concurrent calls are safe.
func (b *Bus) Disconnect() {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	b.teardown()
}

// teardown does the actual disconnect work. Callers hold connMu.
func (b *Bus) teardown() {
	b.mu.Lock()
	ep, stop, done := b.ep, b.stop, b.done
	b.ep, b.stop, b.done = nil, nil, nil
	b.connected = false
	b.start = time.Time{}
	b.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
	if ep != nil {
		ep.Close()
	}
	if b.log != nil {
		b.log.Info("bus disconnected")
	}
}

// Close tears the bus down, forcing a disconnect first.
func (b *Bus) Close() {
	b.Disconnect()
}

// Connected reports whether the bus currently owns an open connection.
func (b *Bus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Send submits one frame for transmission. It fails without touching the
// wire when the bus is not connected. On a complete write the frame is
// stamped with the time since connect and handed to the transmit callback
// outside the lock. A short or failed write is an error for this call
// only; the connection stays up and there is no retry.
func (b *Bus) Send(f Frame) error {
	if f.Length > MaxDataLen {
		f.Length = MaxDataLen
	}
	wire, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return ErrNotConnected
	}
	f.Timestamp = time.Since(b.start)
	n, err := b.ep.Write(wire)
	b.mu.Unlock()
	if err != nil {
		return fmt.Errorf("canlin: send: %w", err)
	}
	if n != wireSize {
		return ErrShortWrite
	}
	if b.onTransmit != nil {
		b.onTransmit(f)
	}
	return nil
}

// poll drains the endpoint until stopped. The lock is taken around each
// individual read, never across the whole drain, so Send is not starved.
// Remote-request and error frames are dropped before they reach the
// receive callback. A failed read simply ends the drain; the loop keeps
// polling.
func (b *Bus) poll(ep Endpoint, start time.Time, stop, done chan struct{}) {
	defer close(done)
	buf := make([]byte, wireSize)
	for {
		select {
		case <-stop:
			return
		default:
		}
		for {
			b.mu.Lock()
			n, err := ep.Read(buf)
			b.mu.Unlock()
			if err != nil || n != wireSize {
				break
			}
			ts := time.Since(start)
			id := binary.LittleEndian.Uint32(buf[0:4])
			if id&(canRTRFlag|canERRFlag) != 0 {
				continue
			}
			var f Frame
			if err := f.UnmarshalBinary(buf); err != nil {
				continue
			}
			f.Timestamp = ts
			if b.log != nil {
				b.log.Debug("recv", "frame", f.String())
			}
			if b.onReceive != nil {
				b.onReceive(f)
			}
		}
		time.Sleep(b.interval)
	}
}
