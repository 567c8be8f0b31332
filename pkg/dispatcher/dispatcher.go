// Package dispatcher implements the worker-side half of the RPC boundary
// (spec §4.2): it owns the compute kernel, a generation counter bumped on
// every Init, a set of cancelled request ids, and the map of in-flight
// handler cancel funcs used for cooperative interruption.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/wilsonlabs/formulaengine/internal/enginelog"
	"github.com/wilsonlabs/formulaengine/pkg/kernel"
	"github.com/wilsonlabs/formulaengine/pkg/proto"
	"github.com/wilsonlabs/formulaengine/pkg/xchan"
)

// KernelLoader constructs a kernel.Kernel for a given Init message. Real
// deployments load a WASM module here; tests and cmd/enginectl pass a
// loader that just returns a kernel/fake.Kernel.
type KernelLoader func(init proto.Init) (kernel.Kernel, error)

// Dispatcher is the worker-side RPC endpoint. One Dispatcher serves one
// worker process for its whole lifetime, across any number of Init
// (re-)handshakes; each Init bumps Dispatcher.generation so that responses
// computed under a stale generation are dropped rather than posted (spec
// §3 invariants, §4.2 lifecycle, §5 "Generation guard").
type Dispatcher struct {
	log     enginelog.Logger
	load    KernelLoader
	methods map[string]handlerFunc

	mu         sync.Mutex
	generation uint64
	activePort xchan.Port
	krnl       kernel.Kernel
	cancelled  map[proto.ID]struct{}
	inflight   map[proto.ID]context.CancelFunc
}

// New returns a Dispatcher that will load kernels via load and log through
// log (enginelog.Nop{} if log is nil).
func New(load KernelLoader, log enginelog.Logger) *Dispatcher {
	if log == nil {
		log = enginelog.Nop{}
	}
	d := &Dispatcher{log: log, load: load}
	d.methods = buildMethodTable()
	return d
}

// Serve attaches the dispatcher to port, treating any Init received on it
// as a (re-)handshake. It returns immediately; all work happens in the
// port's OnMessage callback, run on whatever goroutine the port delivers
// on (spec §5: the dispatcher is a single cooperative context per
// connection but may overlap handler execution via goroutines it spawns
// itself).
func (d *Dispatcher) Serve(port xchan.Port) {
	port.OnMessage(func(raw []byte) {
		msg, err := proto.Decode(raw)
		if err != nil {
			d.log.Log(enginelog.LevelWarn, "dispatcher: decode failed", "err", err)
			return
		}
		switch m := msg.(type) {
		case *proto.Init:
			d.handleInit(*m, port)
		case *proto.Request:
			d.handleRequest(*m, port)
		case *proto.Cancel:
			d.handleCancel(*m)
		default:
			d.log.Log(enginelog.LevelWarn, "dispatcher: unexpected message kind", "kind", msg.Kind())
		}
	})
}

// handleInit implements spec §4.2 lifecycle step 1: bump generation, close
// the previous port, reset per-generation state, lazily load the kernel,
// then post Ready on the new port.
func (d *Dispatcher) handleInit(init proto.Init, port xchan.Port) {
	d.mu.Lock()
	d.generation++
	gen := d.generation
	if d.activePort != nil && d.activePort != port {
		d.activePort.Close()
	}
	d.activePort = port
	d.cancelled = make(map[proto.ID]struct{})
	d.inflight = make(map[proto.ID]context.CancelFunc)
	d.mu.Unlock()

	krnl, err := d.load(init)
	if err != nil {
		d.log.Log(enginelog.LevelError, "dispatcher: kernel load failed", "err", err)
		return
	}

	d.mu.Lock()
	if d.generation != gen {
		// A newer Init raced us; this kernel load is stale, discard it.
		d.mu.Unlock()
		return
	}
	d.krnl = krnl
	d.mu.Unlock()

	d.post(port, proto.Ready{})
	d.log.Log(enginelog.LevelInfo, "dispatcher: ready", "generation", gen)
}

func (d *Dispatcher) handleCancel(c proto.Cancel) {
	d.mu.Lock()
	d.cancelled[c.ID] = struct{}{}
	cancel := d.inflight[c.ID]
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// handleRequest implements spec §4.2 lifecycle step 2: capture the current
// generation, look up the handler, run it (possibly concurrently with
// other requests — spec §5 "the dispatcher MAY overlap execution"), and
// drop the response if the generation has since changed.
func (d *Dispatcher) handleRequest(req proto.Request, port xchan.Port) {
	d.mu.Lock()
	gen := d.generation
	krnl := d.krnl
	handler, known := d.methods[req.Method]
	ctx, cancel := context.WithCancel(context.Background())
	d.inflight[req.ID] = cancel
	d.mu.Unlock()

	go func() {
		defer func() {
			d.mu.Lock()
			delete(d.inflight, req.ID)
			d.mu.Unlock()
			cancel()
		}()

		var resp proto.Response
		if !known {
			resp = proto.Response{ID: req.ID, Ok: false, Error: proto.ErrUnknownMethod(req.Method)}
		} else if krnl == nil {
			resp = proto.Response{ID: req.ID, Ok: false, Error: fmt.Sprintf("%s: kernel not initialized", req.Method)}
		} else {
			result, err := d.invoke(ctx, handler, krnl, req)
			if err != nil {
				resp = proto.Response{ID: req.ID, Ok: false, Error: err.Error()}
			} else {
				raw, mErr := json.Marshal(result)
				if mErr != nil {
					// Retry once as an error response; do not leave the id
					// marked cancelled as a side effect of this failure
					// (spec §4.2 point 4).
					resp = proto.Response{ID: req.ID, Ok: false, Error: mErr.Error()}
				} else {
					resp = proto.Response{ID: req.ID, Ok: true, Result: raw}
				}
			}
		}

		d.mu.Lock()
		stale := d.generation != gen
		wasCancelled := false
		if _, ok := d.cancelled[req.ID]; ok {
			wasCancelled = true
			delete(d.cancelled, req.ID)
		}
		d.mu.Unlock()

		if stale {
			// A response from a prior generation must never reach the
			// client (spec §3 invariant, §5 "Generation guard").
			return
		}
		_ = wasCancelled // the dispatcher still answers; the client drops it (spec §5 "Cancellation semantics")
		d.post(port, resp)
	}()
}

// invoke recovers from panicking handlers so one bad request can't take
// down the dispatcher's goroutine pool; it surfaces as a kernel error.
func (d *Dispatcher) invoke(ctx context.Context, h handlerFunc, krnl kernel.Kernel, req proto.Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: handler panic: %v", req.Method, r)
		}
	}()
	return h(ctx, krnl, req.Params)
}

// post serializes msg and sends it on port, retrying once on a
// serialization failure with an error response carrying the exception
// message (spec §4.2 point 4). Post failures after the retry are swallowed
// per spec §4.2 "Failure semantics: ... port-post failures are swallowed
// after one retry."
func (d *Dispatcher) post(port xchan.Port, msg proto.Message) {
	raw, err := proto.Encode(msg)
	if err != nil {
		if resp, ok := msg.(proto.Response); ok {
			raw, err = proto.Encode(proto.Response{ID: resp.ID, Ok: false, Error: err.Error()})
		}
		if err != nil {
			d.log.Log(enginelog.LevelError, "dispatcher: failed to encode response even as error", "err", err)
			return
		}
	}
	if sendErr := port.Send(raw); sendErr != nil {
		d.log.Log(enginelog.LevelWarn, "dispatcher: post failed", "err", sendErr)
	}
}
