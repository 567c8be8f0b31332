// Package client implements the typed request surface a caller drives the
// worker dispatcher through: request ids, cancellation, timeout, the
// setCell micro-batcher, and the three flush-ordering classes. Each
// request follows a promise-enqueue pattern — post to a goroutine-owned
// channel, wait on a done channel — over an xchan.Port rather than a raw
// network connection.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wilsonlabs/formulaengine/internal/enginelog"
	"github.com/wilsonlabs/formulaengine/pkg/proto"
	"github.com/wilsonlabs/formulaengine/pkg/xchan"
)

// Worker is the out-of-band handle to the worker process, independent of
// the message channel itself: it can report a terminal startup error and
// must be forcibly stopped on any Connect failure path.
type Worker interface {
	OnError(func(error))
	Terminate() error
}

// PortWorker adapts the worker-side xchan.Port into a Worker, for
// deployments (like cmd/enginectl's in-process wiring) where "the worker"
// is just the other end of an in-memory channel pair and "terminate" means
// closing it.
type PortWorker struct{ port xchan.Port }

// NewPortWorker returns a Worker backed by port.
func NewPortWorker(port xchan.Port) *PortWorker { return &PortWorker{port: port} }

func (w *PortWorker) OnError(f func(error)) { w.port.OnError(f) }
func (w *PortWorker) Terminate() error      { return w.port.Close() }

// Options configures Connect.
type Options struct {
	WasmModuleURL string
	WasmBinaryURL string
	// ConnectTimeout bounds how long Connect waits for Ready. Zero means
	// no timeout (wait until ctx is done).
	ConnectTimeout time.Duration
	Log            enginelog.Logger
}

type pendingCall struct {
	method   string
	resultCh chan callResult
}

type callResult struct {
	result json.RawMessage
	err    error
}

type batchEntry struct {
	update proto.CellUpdate
	done   chan error
}

// Engine is a live connection to a worker dispatcher. One Engine serves one
// handshake generation; it is safe for concurrent use by multiple
// goroutines.
type Engine struct {
	port   xchan.Port
	worker Worker
	log    enginelog.Logger

	mu             sync.Mutex
	nextID         proto.ID
	pending        map[proto.ID]*pendingCall
	batch          []batchEntry
	flushScheduled bool
	flushInFlight  chan struct{}
	terminated     bool
	termCh         chan struct{}
}

// Connect sends Init on port, then waits for Ready subject to ctx
// cancellation/deadline and a worker-reported error, racing whichever
// happens first. On any failure path, port and worker are both torn
// down — each independently, so a panic-free failure in one does not
// skip the other.
func Connect(ctx context.Context, port xchan.Port, worker Worker, opts Options) (*Engine, error) {
	log := opts.Log
	if log == nil {
		log = enginelog.Nop{}
	}

	if err := ctx.Err(); err != nil {
		cleanup(port, worker)
		return nil, fmt.Errorf("connect: %s", abortReason(err))
	}

	e := &Engine{
		port:    port,
		worker:  worker,
		log:     log,
		pending: make(map[proto.ID]*pendingCall),
		termCh:  make(chan struct{}),
	}

	ready := make(chan struct{}, 1)
	workerErr := make(chan error, 1)

	port.OnMessage(func(raw []byte) {
		msg, err := proto.Decode(raw)
		if err != nil {
			log.Log(enginelog.LevelWarn, "client: decode failed", "err", err)
			return
		}
		switch m := msg.(type) {
		case *proto.Ready:
			select {
			case ready <- struct{}{}:
			default:
			}
		case *proto.Response:
			e.resolve(*m)
		default:
			log.Log(enginelog.LevelWarn, "client: unexpected message kind before handshake", "kind", msg.Kind())
		}
	})
	port.OnMessageError(func(err error) {
		log.Log(enginelog.LevelWarn, "client: messageerror", "err", err)
	})
	worker.OnError(func(err error) {
		select {
		case workerErr <- err:
		default:
		}
	})

	initRaw, err := proto.Encode(proto.Init{WasmModuleURL: opts.WasmModuleURL, WasmBinaryURL: opts.WasmBinaryURL})
	if err != nil {
		cleanup(port, worker)
		return nil, fmt.Errorf("connect: encode init: %w", err)
	}
	if err := port.Send(initRaw); err != nil {
		cleanup(port, worker)
		return nil, fmt.Errorf("connect: send init: %w", err)
	}

	var timeoutCh <-chan time.Time
	if opts.ConnectTimeout > 0 {
		timer := time.NewTimer(opts.ConnectTimeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-ready:
		// Now that the handshake is done, reinstall OnMessage for steady
		// state (it must stop treating Ready as expected and start
		// resolving every Response).
		port.OnMessage(func(raw []byte) {
			msg, err := proto.Decode(raw)
			if err != nil {
				log.Log(enginelog.LevelWarn, "client: decode failed", "err", err)
				return
			}
			if resp, ok := msg.(*proto.Response); ok {
				e.resolve(*resp)
				return
			}
			log.Log(enginelog.LevelWarn, "client: unexpected message kind", "kind", msg.Kind())
		})
		return e, nil
	case werr := <-workerErr:
		cleanup(port, worker)
		return nil, fmt.Errorf("connect: worker error: %w", werr)
	case <-timeoutCh:
		cleanup(port, worker)
		return nil, fmt.Errorf("connect: timed out waiting for ready")
	case <-ctx.Done():
		cleanup(port, worker)
		return nil, fmt.Errorf("connect: %s", abortReason(ctx.Err()))
	}
}

// cleanup runs both teardown steps independently so a failure in one
// (e.g. a double Close) never skips the other.
func cleanup(port xchan.Port, worker Worker) {
	func() {
		defer func() { recover() }()
		port.Close()
	}()
	func() {
		defer func() { recover() }()
		worker.Terminate()
	}()
}

func abortReason(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "aborted"
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	default:
		return err.Error()
	}
}

func (e *Engine) resolve(resp proto.Response) {
	e.mu.Lock()
	pc, ok := e.pending[resp.ID]
	if ok {
		delete(e.pending, resp.ID)
	}
	e.mu.Unlock()
	if !ok {
		// Arrived after timeout/abort/cancel already removed it; ignore.
		return
	}
	var res callResult
	if resp.Ok {
		res.result = resp.Result
	} else {
		res.err = fmt.Errorf("%s: %s", pc.method, resp.Error)
	}
	pc.resultCh <- res
}

// call runs one request's lifecycle: abort-before-send rejects
// synchronously with no message sent; abort-after-send and timeout both
// send Cancel{id} and reject, distinguished only by which context error
// fired. A response arriving after either is ignored by resolve.
func (e *Engine) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %s", method, abortReason(err))
	}

	e.mu.Lock()
	if e.terminated {
		e.mu.Unlock()
		return nil, fmt.Errorf("%s: terminated", method)
	}
	id := e.nextID
	e.nextID++
	pc := &pendingCall{method: method, resultCh: make(chan callResult, 1)}
	e.pending[id] = pc
	e.mu.Unlock()

	raw, err := json.Marshal(params)
	if err != nil {
		e.dropPending(id)
		return nil, fmt.Errorf("%s: encode params: %w", method, err)
	}
	reqRaw, err := proto.Encode(proto.Request{ID: id, Method: method, Params: raw})
	if err != nil {
		e.dropPending(id)
		return nil, fmt.Errorf("%s: encode request: %w", method, err)
	}
	if err := e.port.Send(reqRaw); err != nil {
		e.dropPending(id)
		return nil, fmt.Errorf("%s: send: %w", method, err)
	}

	select {
	case res := <-pc.resultCh:
		return res.result, res.err
	case <-ctx.Done():
		e.cancel(id)
		return nil, fmt.Errorf("%s: %s", method, abortReason(ctx.Err()))
	case <-e.termCh:
		e.dropPending(id)
		return nil, fmt.Errorf("%s: terminated", method)
	}
}

func (e *Engine) dropPending(id proto.ID) {
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()
}

// cancel sends Cancel{id} and removes the pending entry atomically with
// the caller's rejection.
func (e *Engine) cancel(id proto.ID) {
	e.mu.Lock()
	_, ok := e.pending[id]
	if ok {
		delete(e.pending, id)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	raw, err := proto.Encode(proto.Cancel{ID: id})
	if err != nil {
		return
	}
	_ = e.port.Send(raw)
}

// Terminate marks the engine terminated, rejects every pending call, and
// independently tears down the port and worker.
func (e *Engine) Terminate() error {
	e.mu.Lock()
	if e.terminated {
		e.mu.Unlock()
		return nil
	}
	e.terminated = true
	pending := e.pending
	e.pending = make(map[proto.ID]*pendingCall)
	close(e.termCh)
	e.mu.Unlock()

	for _, pc := range pending {
		pc.resultCh <- callResult{err: fmt.Errorf("%s: terminated", pc.method)}
	}
	cleanup(e.port, e.worker)
	return nil
}
