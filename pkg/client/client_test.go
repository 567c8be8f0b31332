package client_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wilsonlabs/formulaengine/pkg/client"
	"github.com/wilsonlabs/formulaengine/pkg/dispatcher"
	"github.com/wilsonlabs/formulaengine/pkg/kernel"
	"github.com/wilsonlabs/formulaengine/pkg/kernel/fake"
	"github.com/wilsonlabs/formulaengine/pkg/proto"
	"github.com/wilsonlabs/formulaengine/pkg/xchan"
)

func connectForTest(t *testing.T) *client.Engine {
	t.Helper()
	clientPort, workerPort := xchan.NewPair()
	d := dispatcher.New(func(proto.Init) (kernel.Kernel, error) {
		return fake.New(), nil
	}, nil)
	d.Serve(workerPort)
	worker := client.NewPortWorker(workerPort)

	e, err := client.Connect(context.Background(), clientPort, worker, client.Options{
		WasmModuleURL:  "module.wasm",
		ConnectTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return e
}

func TestConnectAndPing(t *testing.T) {
	e := connectForTest(t)
	defer e.Terminate()

	got, err := e.Ping(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != "pong" {
		t.Fatalf("got %q, want pong", got)
	}
}

func TestConnectAbortBeforeSend(t *testing.T) {
	clientPort, workerPort := xchan.NewPair()
	d := dispatcher.New(func(proto.Init) (kernel.Kernel, error) { return fake.New(), nil }, nil)
	d.Serve(workerPort)
	worker := client.NewPortWorker(workerPort)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Connect(ctx, clientPort, worker, client.Options{WasmModuleURL: "m.wasm"})
	if err == nil {
		t.Fatal("expected an error connecting with an already-canceled context")
	}
}

func TestCallAbortBeforeSend(t *testing.T) {
	e := connectForTest(t)
	defer e.Terminate()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.GetCell(ctx, "", "A1")
	if err == nil {
		t.Fatal("expected an aborted error")
	}
}

func TestCallTimeout(t *testing.T) {
	e := connectForTest(t)
	defer e.Terminate()

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)
	_, err := e.GetCell(ctx, "", "A1")
	if err == nil {
		t.Fatal("expected a timeout error")
	}
}

func TestTerminateRejectsPendingAndFutureCalls(t *testing.T) {
	e := connectForTest(t)
	if err := e.Terminate(); err != nil {
		t.Fatal(err)
	}
	_, err := e.Ping(context.Background())
	if err == nil {
		t.Fatal("expected calls after Terminate to fail immediately")
	}
}

func TestLoadFromXlsxBytesExtractsSubSliceBeforeSend(t *testing.T) {
	e := connectForTest(t)
	defer e.Terminate()

	backing := make([]byte, 64)
	view := backing[10:20]
	for i := range view {
		view[i] = byte(i + 1)
	}

	if err := e.LoadFromXlsxBytes(context.Background(), view); err != nil {
		t.Fatal(err)
	}

	// Mutating the backing array after the call must not be observable by
	// whatever the wire payload already captured.
	for i := range backing {
		backing[i] = 0xff
	}
}

func TestMicroBatchingFlushesAsOneSetCells(t *testing.T) {
	e := connectForTest(t)
	defer e.Terminate()

	d1 := e.SetCell("", "A1", proto.CellValue{Scalar: 1.0})
	d2 := e.SetCell("", "A2", proto.CellValue{Scalar: 2.0})

	if err := <-d1; err != nil {
		t.Fatal(err)
	}
	if err := <-d2; err != nil {
		t.Fatal(err)
	}

	res, err := e.GetCell(context.Background(), "", "A2")
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := res.Value.Scalar.(float64); !ok || v != 2.0 {
		t.Fatalf("got %+v, want A2=2", res)
	}
}

func TestFlushingCallObservesPendingBatchedEdits(t *testing.T) {
	e := connectForTest(t)
	defer e.Terminate()

	// Queue an edit without waiting on it, then immediately issue a
	// flushing-class call; it must observe the batched edit because it
	// synchronously flushes first.
	done := e.SetCell("", "A1", proto.CellValue{Scalar: 42.0})

	deltas, err := e.Recalculate(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, d := range deltas {
		if d.Value != nil && d.Value.Scalar == 42.0 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected recalculate to observe the batched edit, got %+v", deltas)
	}
	<-done
}

func TestOptionsRejectsUnknownShape(t *testing.T) {
	e := connectForTest(t)
	defer e.Terminate()

	_, err := e.LexFormula(context.Background(), "=A1+1", map[string]any{"localeID": "en-US"})
	if err == nil {
		t.Fatal("expected rejection of an unknown options shape")
	}
}

func TestOptionsAcceptsLegacyShape(t *testing.T) {
	e := connectForTest(t)
	defer e.Terminate()

	_, err := e.LexFormula(context.Background(), "=A1+1", map[string]any{"locale": "fr-FR", "reference_style": "A1"})
	if err != nil {
		t.Fatalf("expected legacy shape to be accepted, got %v", err)
	}
}

func TestConnectFailsWhenWorkerErrorsBeforeReady(t *testing.T) {
	clientPort, workerPort := xchan.NewPair()
	// Deliberately never Serve workerPort, so Ready never arrives; instead
	// simulate the worker reporting a terminal error.
	worker := client.NewPortWorker(workerPort)

	go func() {
		time.Sleep(10 * time.Millisecond)
		xchan.FireError(workerPort, errors.New("boom"))
	}()

	_, err := client.Connect(context.Background(), clientPort, worker, client.Options{
		WasmModuleURL:  "m.wasm",
		ConnectTimeout: time.Second,
	})
	if err == nil {
		t.Fatal("expected connect to fail when the worker reports an error before Ready")
	}
}
