package canlin

import "sync"

// Loopback is an in-memory CAN medium for tests and simulations. Every
// endpoint opened from the same Loopback sees the frames written by all
// the others, like nodes sharing a bus. Frames travel in the same 16-byte
// wire layout as the real socket, so the full encode/decode path is
// exercised.
type Loopback struct {
	mu        sync.Mutex
	closed    bool
	endpoints map[*loopEndpoint]struct{}
}

// NewLoopback creates an empty loopback medium.
func NewLoopback() *Loopback {
	return &Loopback{endpoints: make(map[*loopEndpoint]struct{})}
}

// Open attaches a new endpoint to the medium.
func (l *Loopback) Open() Endpoint {
	ep := &loopEndpoint{bus: l}
	l.mu.Lock()
	if l.closed {
		ep.dead = true
	} else {
		l.endpoints[ep] = struct{}{}
	}
	l.mu.Unlock()
	return ep
}

// Close detaches and kills all endpoints.
func (l *Loopback) Close() error {
	l.mu.Lock()
	l.closed = true
	for ep := range l.endpoints {
		ep.mu.Lock()
		ep.dead = true
		ep.queue = nil
		ep.mu.Unlock()
	}
	l.endpoints = nil
	l.mu.Unlock()
	return nil
}

type loopEndpoint struct {
	bus *Loopback

	mu    sync.Mutex
	dead  bool
	queue [][]byte
}

func (e *loopEndpoint) Read(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return 0, ErrClosed
	}
	if len(e.queue) == 0 {
		return 0, ErrNoData
	}
	buf := e.queue[0]
	e.queue = e.queue[1:]
	return copy(p, buf), nil
}

// Write broadcasts the frame to every other endpoint on the medium.
func (e *loopEndpoint) Write(p []byte) (int, error) {
	e.mu.Lock()
	dead := e.dead
	e.mu.Unlock()
	if dead {
		return 0, ErrClosed
	}
	e.bus.mu.Lock()
	if e.bus.closed {
		e.bus.mu.Unlock()
		return 0, ErrClosed
	}
	targets := make([]*loopEndpoint, 0, len(e.bus.endpoints))
	for ep := range e.bus.endpoints {
		if ep != e {
			targets = append(targets, ep)
		}
	}
	e.bus.mu.Unlock()
	for _, t := range targets {
		buf := make([]byte, len(p))
		copy(buf, p)
		t.mu.Lock()
		if !t.dead {
			t.queue = append(t.queue, buf)
		}
		t.mu.Unlock()
	}
	return len(p), nil
}

func (e *loopEndpoint) Close() error {
	e.mu.Lock()
	e.dead = true
	e.queue = nil
	e.mu.Unlock()
	e.bus.mu.Lock()
	if e.bus.endpoints != nil {
		delete(e.bus.endpoints, e)
	}
	e.bus.mu.Unlock()
	return nil
}
