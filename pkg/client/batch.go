package client

import (
	"context"

	"github.com/wilsonlabs/formulaengine/pkg/proto"
)

// SetCell micro-batches the edit: it is pushed onto batch, a flush is
// armed if one isn't already scheduled or in flight, and the returned
// channel settles with the flushing setCells response that eventually
// carried this edit. A caller that never reads the channel is safe — no
// goroutine blocks on it, since the flush goroutine always drains its
// own result, so an unawaited SetCell never leaks a blocked sender.
func (e *Engine) SetCell(sheet, address string, value proto.CellValue) <-chan error {
	be := batchEntry{
		update: proto.CellUpdate{Sheet: sheet, Address: address, Value: value},
		done:   make(chan error, 1),
	}

	e.mu.Lock()
	if e.terminated {
		e.mu.Unlock()
		be.done <- errTerminated("setCell")
		return be.done
	}
	e.batch = append(e.batch, be)
	armed := e.flushScheduled || e.flushInFlight != nil
	if !armed {
		e.flushScheduled = true
	}
	e.mu.Unlock()

	if !armed {
		go e.runFlush()
	}
	return be.done
}

// runFlush is the flush procedure: atomically move batch into a local
// list, clear batch and flushScheduled, mark flushInFlight, issue one
// setCells request for the whole list, settle every entry's channel with
// the same result, then re-arm if edits arrived while the request was in
// flight.
func (e *Engine) runFlush() {
	e.mu.Lock()
	local := e.batch
	e.batch = nil
	e.flushScheduled = false
	inFlight := make(chan struct{})
	e.flushInFlight = inFlight
	e.mu.Unlock()

	err := e.flushBatch(local)

	e.mu.Lock()
	e.flushInFlight = nil
	more := len(e.batch) > 0 && !e.flushScheduled
	if more {
		e.flushScheduled = true
	}
	e.mu.Unlock()
	close(inFlight)

	_ = err
	if more {
		go e.runFlush()
	}
}

// flushBatch sends local as one setCells request and settles every entry.
func (e *Engine) flushBatch(local []batchEntry) error {
	if len(local) == 0 {
		return nil
	}
	updates := make([]proto.CellUpdate, len(local))
	for i, be := range local {
		updates[i] = be.update
	}
	_, err := e.call(context.Background(), "setCells", proto.SetCellsParams{Updates: updates})
	for _, be := range local {
		be.done <- err
	}
	return err
}

// awaitFlush is the flushing-request preamble: if a flush is in flight,
// wait for it; then if the batch accumulated more
// edits meanwhile, synchronously convert them into an immediate setCells
// request and wait for that too. The caller's own request is issued only
// after this returns, so the observable wire order is always setCells (if
// any), then the flushing request.
func (e *Engine) awaitFlush(ctx context.Context) error {
	e.mu.Lock()
	inFlight := e.flushInFlight
	e.mu.Unlock()
	if inFlight != nil {
		select {
		case <-inFlight:
		case <-ctx.Done():
			return ctx.Err()
		case <-e.termCh:
			return errTerminated("flush")
		}
	}

	e.mu.Lock()
	local := e.batch
	e.batch = nil
	e.flushScheduled = false
	e.mu.Unlock()

	return e.flushBatch(local)
}

func errTerminated(method string) error {
	return &methodError{method: method, reason: "terminated"}
}

type methodError struct {
	method, reason string
}

func (e *methodError) Error() string { return e.method + ": " + e.reason }
