package dispatcher

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wilsonlabs/formulaengine/pkg/kernel"
	"github.com/wilsonlabs/formulaengine/pkg/kernel/fake"
	"github.com/wilsonlabs/formulaengine/pkg/proto"
	"github.com/wilsonlabs/formulaengine/pkg/xchan"
)

// newDispatcherHarness wires a fresh Dispatcher (backed by a kernel/fake.Kernel
// loader) to one end of an in-memory xchan pair and returns the client port
// plus a helper that blocks until at least n decoded messages have arrived.
func newDispatcherHarness(t *testing.T) (client xchan.Port, recv func(n int, d time.Duration) []proto.Message) {
	t.Helper()
	client, worker := xchan.NewPair()
	var mu sync.Mutex
	var msgs []proto.Message
	signal := make(chan struct{}, 256)
	client.OnMessage(func(raw []byte) {
		msg, err := proto.Decode(raw)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		mu.Lock()
		msgs = append(msgs, msg)
		mu.Unlock()
		select {
		case signal <- struct{}{}:
		default:
		}
	})

	d := New(func(proto.Init) (kernel.Kernel, error) {
		return fake.New(), nil
	}, nil)
	d.Serve(worker)

	recv = func(n int, timeout time.Duration) []proto.Message {
		t.Helper()
		deadline := time.After(timeout)
		for {
			mu.Lock()
			got := len(msgs)
			mu.Unlock()
			if got >= n {
				mu.Lock()
				out := append([]proto.Message(nil), msgs...)
				mu.Unlock()
				return out
			}
			select {
			case <-signal:
			case <-deadline:
				t.Fatalf("timed out waiting for %d messages, got %d", n, got)
			}
		}
	}
	return client, recv
}

func TestDispatcherReadyAndEcho(t *testing.T) {
	client, recv := newDispatcherHarness(t)

	raw, err := proto.Encode(proto.Init{WasmModuleURL: "module.wasm"})
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Send(raw); err != nil {
		t.Fatal(err)
	}
	msgs := recv(1, time.Second)
	if _, ok := msgs[0].(*proto.Ready); !ok {
		t.Fatalf("expected Ready, got %T", msgs[0])
	}

	reqRaw, _ := proto.Encode(proto.Request{ID: 1, Method: "ping"})
	if err := client.Send(reqRaw); err != nil {
		t.Fatal(err)
	}
	msgs = recv(2, time.Second)
	resp, ok := msgs[1].(*proto.Response)
	if !ok {
		t.Fatalf("expected Response, got %T", msgs[1])
	}
	if !resp.Ok {
		t.Fatalf("ping failed: %s", resp.Error)
	}
	var result string
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	if result != "pong" {
		t.Fatalf("got %q, want pong", result)
	}
}

func TestDispatcherUnknownMethod(t *testing.T) {
	client, recv := newDispatcherHarness(t)
	raw, _ := proto.Encode(proto.Init{WasmModuleURL: "m.wasm"})
	client.Send(raw)
	recv(1, time.Second)

	reqRaw, _ := proto.Encode(proto.Request{ID: 1, Method: "doesNotExist"})
	client.Send(reqRaw)
	msgs := recv(2, time.Second)
	resp := msgs[1].(*proto.Response)
	if resp.Ok {
		t.Fatalf("expected failure for unknown method")
	}
	if resp.Error != proto.ErrUnknownMethod("doesNotExist") {
		t.Fatalf("got error %q", resp.Error)
	}
}

func TestDispatcherReinitPostsReadyPerGeneration(t *testing.T) {
	client, recv := newDispatcherHarness(t)
	raw, _ := proto.Encode(proto.Init{WasmModuleURL: "m.wasm"})
	client.Send(raw)
	recv(1, time.Second)

	// A second Init bumps the generation; the dispatcher must post exactly
	// one Ready per (re-)handshake and never a response computed under a
	// now-stale generation.
	raw2, _ := proto.Encode(proto.Init{WasmModuleURL: "m.wasm"})
	client.Send(raw2)
	msgs := recv(2, time.Second)
	readyCount := 0
	for _, m := range msgs {
		if _, ok := m.(*proto.Ready); ok {
			readyCount++
		}
	}
	if readyCount != 2 {
		t.Fatalf("expected 2 Ready messages across both generations, got %d", readyCount)
	}
}

func TestDispatcherCancel(t *testing.T) {
	client, recv := newDispatcherHarness(t)
	raw, _ := proto.Encode(proto.Init{WasmModuleURL: "m.wasm"})
	client.Send(raw)
	recv(1, time.Second)

	req, _ := proto.Encode(proto.Request{ID: 1, Method: "ping"})
	client.Send(req)
	cancel, _ := proto.Encode(proto.Cancel{ID: 1})
	client.Send(cancel)

	// The fake kernel's handlers return immediately, so the response will
	// very likely still arrive; what matters is that sending a Cancel for
	// an id that already completed (or completes concurrently) never
	// panics or blocks the dispatcher.
	msgs := recv(2, time.Second)
	if _, ok := msgs[1].(*proto.Response); !ok {
		t.Fatalf("expected Response, got %T", msgs[1])
	}
}

func TestDispatcherSetCellsUsesBulkSetter(t *testing.T) {
	client, recv := newDispatcherHarness(t)
	raw, _ := proto.Encode(proto.Init{WasmModuleURL: "m.wasm"})
	client.Send(raw)
	recv(1, time.Second)

	params, _ := json.Marshal(proto.SetCellsParams{
		Updates: []proto.CellUpdate{
			{Address: "A1", Value: proto.CellValue{Scalar: 1.0}},
			{Address: "A2", Value: proto.CellValue{Scalar: 2.0}},
		},
	})
	reqRaw, _ := proto.Encode(proto.Request{ID: 1, Method: "setCells", Params: params})
	client.Send(reqRaw)
	msgs := recv(2, time.Second)
	resp := msgs[1].(*proto.Response)
	if !resp.Ok {
		t.Fatalf("setCells failed: %s", resp.Error)
	}

	getParams, _ := json.Marshal(proto.GetCellParams{Address: "A1"})
	getReq, _ := proto.Encode(proto.Request{ID: 2, Method: "getCell", Params: getParams})
	client.Send(getReq)
	msgs = recv(3, time.Second)
	resp = msgs[2].(*proto.Response)
	var got proto.GetCellResult
	if err := json.Unmarshal(resp.Result, &got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(1.0, got.Value.Scalar); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatcherRecalculateReturnsPopulatedDelta(t *testing.T) {
	client, recv := newDispatcherHarness(t)
	raw, _ := proto.Encode(proto.Init{WasmModuleURL: "m.wasm"})
	client.Send(raw)
	recv(1, time.Second)

	params, _ := json.Marshal(proto.SetCellsParams{
		Updates: []proto.CellUpdate{{Address: "A1", Value: proto.CellValue{Scalar: 5.0}}},
	})
	req, _ := proto.Encode(proto.Request{ID: 1, Method: "setCells", Params: params})
	client.Send(req)
	recv(2, time.Second)

	recalc, _ := proto.Encode(proto.Request{ID: 2, Method: "recalculate"})
	client.Send(recalc)
	msgs := recv(3, time.Second)
	resp := msgs[2].(*proto.Response)
	if !resp.Ok {
		t.Fatalf("recalculate failed: %s", resp.Error)
	}

	var deltas []proto.Delta
	if err := json.Unmarshal(resp.Result, &deltas); err != nil {
		t.Fatal(err)
	}
	if len(deltas) != 1 || deltas[0].Value == nil {
		t.Fatalf("expected one populated delta, got %+v", deltas)
	}
}

func TestDispatcherCapabilityFallbackSetCellStyleIdLegacy(t *testing.T) {
	client, recv := newDispatcherHarness(t)
	raw, _ := proto.Encode(proto.Init{WasmModuleURL: "m.wasm"})
	client.Send(raw)
	recv(1, time.Second)

	id := 7
	params, _ := json.Marshal(proto.StyleIDParams{Address: "A1", StyleID: &id})
	req, _ := proto.Encode(proto.Request{ID: 1, Method: "setCellStyleId", Params: params})
	client.Send(req)
	msgs := recv(2, time.Second)
	resp := msgs[1].(*proto.Response)
	if !resp.Ok {
		t.Fatalf("setCellStyleId failed: %s", resp.Error)
	}
}

func TestDispatcherGoalSeekLegacyOutputNormalization(t *testing.T) {
	r := normalizeGoalSeek(proto.GoalSeekResult{
		Result: proto.GoalSeekOutcome{Status: "ok", Solution: 3, FinalError: 0.5},
	}, 100)
	if r.Result.FinalOutput != 100.5 {
		t.Fatalf("got FinalOutput=%v, want 100.5", r.Result.FinalOutput)
	}

	r2 := normalizeGoalSeek(proto.GoalSeekResult{
		Result: proto.GoalSeekOutcome{Status: "ok", Solution: 3, FinalOutput: 10, FinalError: 0.5},
	}, 100)
	if r2.Result.FinalOutput != 10 {
		t.Fatalf("got FinalOutput=%v, want unchanged 10", r2.Result.FinalOutput)
	}
}
