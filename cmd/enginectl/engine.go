package main

import (
	"context"
	"time"

	"github.com/wilsonlabs/formulaengine/internal/enginelog"
	"github.com/wilsonlabs/formulaengine/pkg/client"
	"github.com/wilsonlabs/formulaengine/pkg/dispatcher"
	"github.com/wilsonlabs/formulaengine/pkg/kernel"
	"github.com/wilsonlabs/formulaengine/pkg/kernel/fake"
	"github.com/wilsonlabs/formulaengine/pkg/proto"
	"github.com/wilsonlabs/formulaengine/pkg/xchan"
)

// connectLocalEngine wires a client.Engine to an in-process dispatcher
// running kernel/fake over an xchan.NewPair(), the same in-process
// transport the test suites use. A future enginectl revision can point
// Connect at a real wasm-hosted worker instead; this is the smoke-test
// wiring the CLI needs today.
func connectLocalEngine(ctx context.Context, log enginelog.Logger) (*client.Engine, error) {
	clientPort, workerPort := xchan.NewPair()
	d := dispatcher.New(func(proto.Init) (kernel.Kernel, error) {
		return fake.New(), nil
	}, log)
	d.Serve(workerPort)
	worker := client.NewPortWorker(workerPort)

	return client.Connect(ctx, clientPort, worker, client.Options{
		WasmModuleURL:  "in-process",
		ConnectTimeout: 5 * time.Second,
		Log:            log,
	})
}

func newLogger(level string) enginelog.Logger {
	lvl := enginelog.LevelInfo
	switch level {
	case "debug":
		lvl = enginelog.LevelDebug
	case "warn":
		lvl = enginelog.LevelWarn
	case "error":
		lvl = enginelog.LevelError
	}
	return enginelog.NewBasicLogger(nil, lvl)
}
