// Package xchan provides the bidirectional message channel abstraction the
// client and dispatcher talk over (spec §9 "message channels abstraction").
// The in-memory implementation here models every delivery as a deep-copied
// byte slice, the same "structured clone, no shared memory" contract the
// spec assumes of a real host channel; a length-prefixed net.Conn framing
// layer for distributed deployments is the documented, unbuilt extension
// point (see doc.go).
package xchan

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Send once the port (or its peer) has been
// closed.
var ErrClosed = errors.New("xchan: port closed")

// Port is one end of a bidirectional message channel. Bytes passed to Send
// are always copied before delivery; callers may reuse their buffer
// immediately after Send returns.
type Port interface {
	// Send delivers msg to the peer's OnMessage handler. It never blocks past
	// a bounded internal queue; a full queue blocks the caller, modeling
	// backpressure from a slow peer the way a real postMessage-based
	// channel would via event-loop scheduling.
	Send(msg []byte) error
	// OnMessage registers the handler invoked for each message the peer
	// sends. Only one handler may be registered; a later call replaces the
	// earlier one (mirrors a host "onmessage" property, not an event bus).
	OnMessage(func(msg []byte))
	// OnError registers a handler invoked if the peer reports a terminal
	// failure (e.g. the worker process died). It is independent of Close.
	OnError(func(err error))
	// OnMessageError registers a handler invoked when an inbound payload
	// could not be delivered intact (spec §7 "Messageerror").
	OnMessageError(func(err error))
	// Close closes this end. The peer observes subsequent Sends to it as
	// ErrClosed; it does not itself receive a callback from this call.
	Close() error
}

type port struct {
	mu       sync.Mutex
	peer     *port
	onMsg    func([]byte)
	onErr    func(error)
	onMsgErr func(error)
	closed   bool
	inbox    chan []byte
	done     chan struct{}
}

// NewPair creates two connected Ports, analogous to constructing a new
// MessageChannel and taking its two ports.
func NewPair() (a, b Port) {
	pa := &port{inbox: make(chan []byte, 64), done: make(chan struct{})}
	pb := &port{inbox: make(chan []byte, 64), done: make(chan struct{})}
	pa.peer = pb
	pb.peer = pa
	go pa.pump()
	go pb.pump()
	return pa, pb
}

func (p *port) pump() {
	for {
		select {
		case msg, ok := <-p.inbox:
			if !ok {
				return
			}
			p.mu.Lock()
			h := p.onMsg
			p.mu.Unlock()
			if h != nil {
				h(msg)
			}
		case <-p.done:
			return
		}
	}
}

func (p *port) Send(msg []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	peer := p.peer
	p.mu.Unlock()

	cp := make([]byte, len(msg))
	copy(cp, msg)

	peer.mu.Lock()
	if peer.closed {
		peer.mu.Unlock()
		return ErrClosed
	}
	inbox := peer.inbox
	peer.mu.Unlock()

	select {
	case inbox <- cp:
		return nil
	case <-peer.done:
		return ErrClosed
	}
}

func (p *port) OnMessage(f func([]byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onMsg = f
}

func (p *port) OnError(f func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onErr = f
}

func (p *port) OnMessageError(f func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onMsgErr = f
}

func (p *port) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	close(p.done)
	return nil
}

// fireError is used by deployments that simulate a terminal transport
// failure in tests (e.g. a worker that dies before Ready).
func (p *port) fireError(err error) {
	p.mu.Lock()
	h := p.onErr
	p.mu.Unlock()
	if h != nil {
		h(err)
	}
}

// FireError is a test/integration hook allowing a harness to simulate the
// peer reporting a terminal error (spec §4.3 "the worker emits an error
// before Ready").
func FireError(p Port, err error) {
	if pp, ok := p.(*port); ok {
		pp.fireError(err)
	}
}
