package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/wasmerio/wasmer-go/wasmer"
)

// Reserved exit codes (§6). Zero is the only code a program can "earn" by
// returning normally from _start; the rest are runtime-assigned outcomes a
// program can never produce itself.
const (
	ExitSuccess       uint32 = 0
	ExitFuelExhausted uint32 = 0xF0000001
	ExitTrap          uint32 = 0xF0000002
	ExitCancelled     uint32 = 0xF0000003
)

// Sentinel errors describing why a program's worker task stopped running
// _start normally.
var (
	ErrFuelExhausted = errors.New("core: fuel exhausted")
	ErrTrap          = errors.New("core: wasm trap")
	ErrCancelled     = errors.New("core: execution cancelled")
)

// hostCtx is the closure state shared by every host-exported function
// linked into a sandboxed instance. Mirrors the teacher's hostCtx in
// virtual_machine.go, minus the ledger reference that VM doesn't need here.
type hostCtx struct {
	mem *wasmer.Memory
	log *logrus.Logger
	pid uint64
}

// buildHostImports links the sandbox's small, explicit host-function
// allow-list: env.log(ptr,len) for guest diagnostics and
// env.get_magic_number() as a placeholder export. Both are called out in
// §4.6 step 6 as needing re-evaluation before any external use — nothing
// else is ever linked in, by design.
func buildHostImports(store *wasmer.Store, hctx *hostCtx) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	read := func(ptr, length int32) []byte {
		data := hctx.mem.Data()
		if ptr < 0 || length < 0 || int(ptr)+int(length) > len(data) {
			return nil
		}
		out := make([]byte, length)
		copy(out, data[ptr:int(ptr)+int(length)])
		return out
	}

	hostLog := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(wasmer.I32, wasmer.I32),
			wasmer.NewValueTypes(),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			msg := read(args[0].I32(), args[1].I32())
			hctx.log.WithField("pid", hctx.pid).Debug(string(msg))
			return nil, nil
		},
	)

	// get_magic_number is a placeholder export retained from early
	// prototyping; no admitted bundle in this codebase relies on it.
	hostMagic := wasmer.NewFunction(
		store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(),
			wasmer.NewValueTypes(wasmer.I32),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			return []wasmer.Value{wasmer.NewI32(42)}, nil
		},
	)

	imports.Register("env", map[string]wasmer.IntoExtern{
		"log":              hostLog,
		"get_magic_number": hostMagic,
	})
	return imports
}

// runSandboxed instantiates wasmBytes under a fuel-metered Wasmer engine,
// wires its WASI standard output through stdout via a real OS pipe (so
// writes stream out as the guest makes them rather than being buffered
// until exit), and invokes its _start export. ctx cancellation is honored
// cooperatively: Wasmer's C-API call is not preemptible mid-instruction, so
// a cancelled context returns ExitCancelled immediately while the
// abandoned call is drained in the background (§9 "Cooperative
// cancellation" — the program may briefly outlive the cancellation).
func runSandboxed(ctx context.Context, wasmBytes []byte, fuelBudget uint64, pid uint64, stdout io.Writer, log *logrus.Logger) (uint32, error) {
	type outcome struct {
		code uint32
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		code, err := execute(wasmBytes, fuelBudget, pid, stdout, log)
		done <- outcome{code, err}
	}()

	select {
	case o := <-done:
		return o.code, o.err
	case <-ctx.Done():
		go func() { <-done }() // drain so the abandoned goroutine never blocks forever
		return ExitCancelled, ErrCancelled
	}
}

func execute(wasmBytes []byte, fuelBudget uint64, pid uint64, stdout io.Writer, log *logrus.Logger) (code uint32, err error) {
	defer func() {
		if r := recover(); r != nil {
			code, err = ExitTrap, fmt.Errorf("core: wasm trap: %v", r)
		}
	}()

	engine, metering := newMeteredEngine(fuelBudget)
	store := wasmer.NewStore(engine)

	module, compileErr := wasmer.NewModule(store, wasmBytes)
	if compileErr != nil {
		return ExitTrap, fmt.Errorf("core: compile module: %w", compileErr)
	}

	wasiEnv, wasiErr := wasmer.NewWasiStateBuilder("program").
		CaptureStderr().
		Finalize()
	if wasiErr != nil {
		return ExitTrap, fmt.Errorf("core: build wasi env: %w", wasiErr)
	}

	importObject, genErr := wasiEnv.GenerateImportObject(store, module)
	if genErr != nil {
		return ExitTrap, fmt.Errorf("core: generate wasi imports: %w", genErr)
	}

	hctx := &hostCtx{log: log, pid: pid}
	importObject.Extend(buildHostImports(store, hctx).Definitions())

	instance, instErr := wasmer.NewInstance(module, importObject)
	if instErr != nil {
		return ExitTrap, fmt.Errorf("core: instantiate: %w", instErr)
	}
	defer instance.Close()

	if mem, memErr := instance.Exports.GetMemory("memory"); memErr == nil {
		hctx.mem = mem
	}

	pr, pw, pipeErr := os.Pipe()
	if pipeErr != nil {
		return ExitTrap, fmt.Errorf("core: open stdout pipe: %w", pipeErr)
	}
	wasiEnv.SetStdout(pw)

	var copyDone sync.WaitGroup
	copyDone.Add(1)
	go func() {
		defer copyDone.Done()
		io.Copy(stdout, pr)
	}()

	start, startErr := instance.Exports.GetFunction("_start")
	if startErr != nil {
		pw.Close()
		copyDone.Wait()
		return ExitTrap, fmt.Errorf("core: _start export missing: %w", startErr)
	}

	_, callErr := start()

	pw.Close()
	copyDone.Wait()
	pr.Close()

	if callErr != nil {
		if metering.MeteringPointsExhausted(callErr) {
			return ExitFuelExhausted, ErrFuelExhausted
		}
		return ExitTrap, fmt.Errorf("core: %w", ErrTrap)
	}
	if metering.RemainingPoints(store) == 0 {
		return ExitFuelExhausted, ErrFuelExhausted
	}
	return ExitSuccess, nil
}
