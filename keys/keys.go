// Package keys detects single keystrokes on a terminal without waiting
// for a line ending. The input is switched to raw (non-canonical) mode
// with echo disabled and a background goroutine polls it, invoking a
// callback for every byte read.
package keys

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultPollInterval is how long the poll goroutine sleeps when no input
// is pending.
const DefaultPollInterval = 500 * time.Microsecond

var ErrNilCallback = errors.New("keys: nil callback")

// Option configures a Reader.
type Option func(*Reader)

// WithInput reads keystrokes from f instead of os.Stdin.
func WithInput(f *os.File) Option {
	return func(r *Reader) { r.input = f }
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(r *Reader) {
		if d > 0 {
			r.interval = d
		}
	}
}

// Reader owns the raw-mode input and its poll goroutine. A Reader is
// single-shot: Open once, Close once.
type Reader struct {
	onKey    func(byte)
	input    *os.File
	interval time.Duration

	fd        int
	saved     *unix.Termios
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Reader that hands every keystroke to onKey. The callback
// runs on the poll goroutine and must not block indefinitely.
func New(onKey func(byte), opts ...Option) (*Reader, error) {
	if onKey == nil {
		return nil, ErrNilCallback
	}
	r := &Reader{onKey: onKey, input: os.Stdin, interval: DefaultPollInterval}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Open switches the input to raw mode and starts the poll goroutine. When
// the input is not a terminal (a pipe, a pty slave already in raw mode)
// the termios step is skipped and plain readiness polling is used.
func (r *Reader) Open() error {
	r.fd = int(r.input.Fd())
	if term, err := unix.IoctlGetTermios(r.fd, unix.TCGETS); err == nil {
		saved := *term
		raw := *term
		raw.Lflag &^= unix.ICANON | unix.ECHO | unix.ECHOE | unix.ECHOK | unix.ECHONL
		raw.Cc[unix.VMIN] = 0
		raw.Cc[unix.VTIME] = 0
		if err := unix.IoctlSetTermios(r.fd, unix.TCSETS, &raw); err != nil {
			return fmt.Errorf("keys: set termios: %w", err)
		}
		r.saved = &saved
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.poll()
	return nil
}

// Close stops the poll goroutine, waits for it to exit and restores the
// saved terminal mode. No key callback is invoked after Close returns.
// Safe to call more than once, or without a prior successful Open.
func (r *Reader) Close() {
	r.closeOnce.Do(func() {
		if r.stop != nil {
			close(r.stop)
			<-r.done
		}
		if r.saved != nil {
			unix.IoctlSetTermios(r.fd, unix.TCSETS, r.saved)
		}
	})
}

// poll checks the input for readiness with a zero-timeout poll(2), reads
// one byte at a time while data is pending and sleeps in between. A read
// or poll failure is treated as "no key" for that pass.
func (r *Reader) poll() {
	defer close(r.done)
	var buf [1]byte
	pfd := []unix.PollFd{{Fd: int32(r.fd), Events: unix.POLLIN}}
	for {
		select {
		case <-r.stop:
			return
		default:
		}
		for {
			pfd[0].Revents = 0
			n, err := unix.Poll(pfd, 0)
			if err != nil || n == 0 || pfd[0].Revents&unix.POLLIN == 0 {
				break
			}
			m, err := unix.Read(r.fd, buf[:])
			if err != nil || m != 1 {
				break
			}
			r.onKey(buf[0])
		}
		time.Sleep(r.interval)
	}
}
