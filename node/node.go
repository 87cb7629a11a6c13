// Package node is the application shell for CAN node programs: it wires
// the transport driver, the timer engine and the keyboard driver
// together, discovers the CAN network interface, handles SIGINT/SIGTERM
// and the ESC key, and runs the lifecycle hooks in order. Application
// logic lives entirely in the Handlers callbacks.
package node

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/avast/retry-go"
	"golang.org/x/sync/errgroup"

	"github.com/canlin/canlin"
	"github.com/canlin/canlin/keys"
	"github.com/canlin/canlin/timer"
)

const keyESC = 0x1b

// DefaultInterface is used when no CAN interface is configured and none
// can be discovered on the system.
const DefaultInterface = "vcan0"

var ErrNoInterface = errors.New("node: no CAN interface found")

// Handlers are the application's hooks. All fields are optional. Message
// and Key run on driver goroutines and must not block indefinitely; the
// lifecycle hooks run on the Run caller's goroutine.
type Handlers struct {
	// PreStart runs before connecting to the bus, Start after.
	PreStart func(*Node)
	Start    func(*Node)
	// Stop runs before disconnecting, PostStop after.
	Stop     func(*Node)
	PostStop func(*Node)
	// Message is invoked for every received frame.
	Message func(*Node, canlin.Frame)
	// Transmitted is invoked for every successfully sent frame.
	Transmitted func(*Node, canlin.Frame)
	// Key is invoked for every keystroke except ESC, which quits.
	Key func(*Node, byte)
}

// Config tunes the shell. The zero value is usable: first discovered CAN
// interface (or DefaultInterface), default poll intervals, keyboard
// enabled, a single connect attempt.
type Config struct {
	Interface       string
	PollInterval    time.Duration // bus receive poll
	TimerInterval   time.Duration // timer engine poll
	DisableKeys     bool
	ConnectAttempts uint // 0 or 1 means no retry
	ConnectDelay    time.Duration
}

// Node is handed to every handler and gives the application access to
// the drivers.
type Node struct {
	bus    *canlin.Bus
	timers *timer.Engine
	cancel context.CancelFunc
}

// Bus returns the transport driver.
func (n *Node) Bus() *canlin.Bus { return n.bus }

// Timers returns the timer engine.
func (n *Node) Timers() *timer.Engine { return n.timers }

// Quit requests a shutdown, like pressing ESC.
func (n *Node) Quit() { n.cancel() }

// Run brings the drivers up, connects to the bus, invokes the lifecycle
// hooks and blocks until ctx is cancelled, SIGINT/SIGTERM arrives or ESC
// is pressed. Teardown is ordered so that no handler is invoked after Run
// returns.
func Run(ctx context.Context, cfg Config, h Handlers) error {
	ifname := cfg.Interface
	if ifname == "" {
		ifname = FindInterface()
	}
	if ifname == "" {
		ifname = DefaultInterface
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	n := &Node{cancel: cancel}

	var topts []timer.Option
	if cfg.TimerInterval > 0 {
		topts = append(topts, timer.WithPollInterval(cfg.TimerInterval))
	}
	n.timers = timer.New(topts...)
	defer n.timers.Close()

	var bopts []canlin.Option
	if cfg.PollInterval > 0 {
		bopts = append(bopts, canlin.WithPollInterval(cfg.PollInterval))
	}
	if h.Message != nil {
		bopts = append(bopts, canlin.OnReceive(func(f canlin.Frame) { h.Message(n, f) }))
	}
	if h.Transmitted != nil {
		bopts = append(bopts, canlin.OnTransmit(func(f canlin.Frame) { h.Transmitted(n, f) }))
	}
	n.bus = canlin.New(bopts...)

	if !cfg.DisableKeys {
		kr, err := keys.New(func(k byte) {
			if k == keyESC {
				cancel()
				return
			}
			if h.Key != nil {
				h.Key(n, k)
			}
		})
		if err == nil {
			if err := kr.Open(); err != nil {
				log.Printf("keyboard input unavailable: %v", err)
			} else {
				defer kr.Close()
			}
		}
	}

	if h.PreStart != nil {
		h.PreStart(n)
	}

	attempts := cfg.ConnectAttempts
	if attempts == 0 {
		attempts = 1
	}
	delay := cfg.ConnectDelay
	if delay == 0 {
		delay = time.Second
	}
	err := retry.Do(
		func() error { return n.bus.Connect(ifname) },
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		// PostStop runs even when the connect fails, so applications get
		// their final-cleanup hook on every path out of Run.
		if h.PostStop != nil {
			h.PostStop(n)
		}
		return fmt.Errorf("node: connect %q: %w", ifname, err)
	}
	defer n.bus.Close()

	if h.Start != nil {
		h.Start(n)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sig := make(chan os.Signal, 2)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sig)
		select {
		case <-sig:
			cancel()
		case <-gctx.Done():
		}
		return nil
	})
	runErr := g.Wait()

	if h.Stop != nil {
		h.Stop(n)
	}
	n.bus.Disconnect()
	if h.PostStop != nil {
		h.PostStop(n)
	}
	return runErr
}

// Interfaces lists the CAN network interfaces known to the system.
func Interfaces() []string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var out []string
	for _, i := range ifaces {
		if strings.Contains(i.Name, "can") {
			out = append(out, i.Name)
		}
	}
	return out
}

// FindInterface returns the first CAN network interface on the system, or
// "" when there is none.
func FindInterface() string {
	if devs := Interfaces(); len(devs) > 0 {
		return devs[0]
	}
	return ""
}
