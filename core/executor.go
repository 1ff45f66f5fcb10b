package core

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// AdmitError classifies why BeginExec refused a bundle.
type AdmitError int

const (
	AdmitErrUnspecified AdmitError = iota
	AdmitErrBadIdentity
	AdmitErrBadSignature
	AdmitErrExpired
	AdmitErrNotYetValid
	AdmitErrTooLarge
	AdmitErrRateLimited
)

func (e AdmitError) Error() string {
	switch e {
	case AdmitErrBadIdentity:
		return "admission: malformed identity"
	case AdmitErrBadSignature:
		return "admission: signature verification failed"
	case AdmitErrExpired:
		return "admission: identity expired"
	case AdmitErrNotYetValid:
		return "admission: identity not yet valid"
	case AdmitErrTooLarge:
		return "admission: bundle exceeds size limit"
	case AdmitErrRateLimited:
		return "admission: signer exceeded rate limit"
	default:
		return "admission: rejected"
	}
}

// WaitError classifies why WaitForExit returned without a code.
type WaitError int

const (
	WaitErrUnspecified WaitError = iota
	WaitErrUnknownPID
	WaitErrTimeout
)

func (e WaitError) Error() string {
	switch e {
	case WaitErrUnknownPID:
		return "wait: unknown pid"
	case WaitErrTimeout:
		return "wait: deadline exceeded"
	default:
		return "wait: failed"
	}
}

// programState is the lifecycle of a RunningProgram.
type programState int32

const (
	stateRunning programState = iota
	stateExited
)

// RunningProgram is the supervisor's record of one admitted, currently (or
// recently) executing program.
type RunningProgram struct {
	PID      uint64
	TraceID  string
	Bundle   *ProgramBundle
	Trusted  bool
	Fuel     uint64
	ReplyTo  *ReplyChannel
	state    atomic.Int32
	exitCode atomic.Uint32
	cancel   context.CancelFunc
}

// AdmissionStats is a point-in-time snapshot of supervisor counters, exposed
// for status/metrics reporting.
type AdmissionStats struct {
	Admitted  uint64
	Rejected  uint64
	Running   uint64
	Completed uint64
}

// exitRecord is a retained terminal outcome for a PID that has already been
// reaped out of the live table.
type exitRecord struct {
	exitCode uint32
	seq      uint64
}

// Executor is the per-server supervisor: it admits signed bundles, runs them
// sandboxed, and lets callers await their exit code. Its shape mirrors the
// original Rust Executor (dashmap-backed tables plus an AtomicU64 PID
// counter), translated into Go's sync primitives.
type Executor struct {
	log   *logrus.Logger
	trust *TrustStore

	nextPID  atomic.Uint64
	evictSeq atomic.Uint64

	mu       sync.Mutex
	live     map[uint64]*RunningProgram
	exited   map[uint64]exitRecord
	evictCap int

	notifyMu sync.Mutex
	notifyCh chan struct{}

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	untrustedFuel uint64
	trustedFuel   uint64

	rateLimitRate  float64
	rateLimitBurst int

	admitted  atomic.Uint64
	rejected  atomic.Uint64
	completed atomic.Uint64

	clockSkew time.Duration
}

// ExecutorConfig carries the tunables an entrypoint assembles from config
// before constructing an Executor.
type ExecutorConfig struct {
	Trust              *TrustStore
	Log                *logrus.Logger
	UntrustedFuel      uint64
	TrustedFuel        uint64
	ClockSkew          time.Duration
	ExitTableCap       int
	RateLimitPerSecond float64
	RateLimitBurst     int
}

const defaultExitTableCap = 4096

// NewExecutor builds an Executor ready to admit bundles. Zero-valued fields
// in cfg fall back to sensible defaults (§4.6).
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.UntrustedFuel == 0 {
		cfg.UntrustedFuel = DefaultUntrustedFuel
	}
	if cfg.TrustedFuel == 0 {
		cfg.TrustedFuel = UnboundedFuel
	}
	if cfg.ExitTableCap == 0 {
		cfg.ExitTableCap = defaultExitTableCap
	}
	if cfg.ClockSkew == 0 {
		cfg.ClockSkew = 5 * time.Second
	}
	if cfg.RateLimitPerSecond == 0 {
		cfg.RateLimitPerSecond = 20
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 40
	}

	e := &Executor{
		log:           cfg.Log,
		trust:         cfg.Trust,
		live:          make(map[uint64]*RunningProgram),
		exited:        make(map[uint64]exitRecord),
		evictCap:      cfg.ExitTableCap,
		notifyCh:      make(chan struct{}),
		limiters:      make(map[string]*rate.Limiter),
		untrustedFuel: cfg.UntrustedFuel,
		trustedFuel:   cfg.TrustedFuel,
		clockSkew:     cfg.ClockSkew,
	}
	e.rateLimitRate = cfg.RateLimitPerSecond
	e.rateLimitBurst = cfg.RateLimitBurst
	return e
}

func (e *Executor) limiterFor(pub ed25519.PublicKey) *rate.Limiter {
	key := hex.EncodeToString(pub)
	e.limiterMu.Lock()
	defer e.limiterMu.Unlock()
	l, ok := e.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(e.rateLimitRate), e.rateLimitBurst)
		e.limiters[key] = l
	}
	return l
}

// BeginExec runs the full admission sequence of §4.6: per-signer rate
// limiting (cheapest check first, before any crypto work), identity/signature
// verification, trust-store lookup to pick a fuel budget, PID allocation,
// and worker spawn. Trust never gates admission — an untrusted signer's
// bundle still runs, only with the smaller untrusted fuel budget. On
// success BeginExec returns the allocated PID as soon as the program's worker
// goroutine has been spawned; execution may not have begun yet.
func (e *Executor) BeginExec(bundle *ProgramBundle, reply *ReplyChannel) (uint64, error) {
	if !e.limiterFor(bundle.Source.PublicKeyBytes).Allow() {
		e.rejected.Add(1)
		return 0, AdmitErrRateLimited
	}

	now := time.Now()
	if err := VerifyBundle(bundle, now, e.clockSkew); err != nil {
		e.rejected.Add(1)
		switch {
		case errors.Is(err, ErrUnknownKeyFmt):
			return 0, AdmitErrBadIdentity
		case errors.Is(err, ErrBadSignature):
			return 0, AdmitErrBadSignature
		case errors.Is(err, ErrExpired):
			return 0, AdmitErrExpired
		case errors.Is(err, ErrNotYetValid):
			return 0, AdmitErrNotYetValid
		case errors.Is(err, ErrBundleTooLarge):
			return 0, AdmitErrTooLarge
		default:
			return 0, AdmitErrUnspecified
		}
	}

	trusted := e.trust != nil && e.trust.Contains(bundle.Source.PublicKeyBytes)
	fuel := e.untrustedFuel
	if trusted {
		fuel = e.trustedFuel
	}

	pid := e.allocatePID()
	ctx, cancel := context.WithCancel(context.Background())
	rp := &RunningProgram{
		PID:     pid,
		TraceID: uuid.NewString(),
		Bundle:  bundle,
		Trusted: trusted,
		Fuel:    fuel,
		ReplyTo: reply,
		cancel:  cancel,
	}

	e.mu.Lock()
	e.live[pid] = rp
	e.mu.Unlock()
	e.admitted.Add(1)
	e.fireNotify()

	go e.run(ctx, rp)
	return pid, nil
}

// allocatePID hands out strictly increasing PIDs. Wraparound after 2^64
// admissions is not handled specially: by the time it matters the process
// has long since been restarted, and a wrapped PID colliding with a still-
// live one is no worse than any other PID reuse bug.
func (e *Executor) allocatePID() uint64 {
	return e.nextPID.Add(1)
}

func (e *Executor) run(ctx context.Context, rp *RunningProgram) {
	stdout := NewStdoutForwarder(rp.PID, rp.ReplyTo, e.log)
	code, err := runSandboxed(ctx, rp.Bundle.WasmBytes, rp.Fuel, rp.PID, stdout, e.log)
	if err != nil {
		e.log.WithError(err).WithField("pid", rp.PID).WithField("trace_id", rp.TraceID).Debug("program exited abnormally")
	}

	rp.exitCode.Store(code)
	rp.state.Store(int32(stateExited))

	if rp.ReplyTo != nil {
		if sendErr := rp.ReplyTo.Send(NewProgramExit(rp.PID, code)); sendErr != nil {
			e.log.WithError(sendErr).WithField("pid", rp.PID).Debug("exit notice dropped")
		}
	}

	e.completed.Add(1)
	e.retire(rp, code)
	e.fireNotify()
}

// retire moves a finished program from the live table to the bounded exit
// table, evicting the oldest entry first when the table is full (§5 —
// exit codes are retained best-effort, not forever).
func (e *Executor) retire(rp *RunningProgram, code uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.live, rp.PID)

	if len(e.exited) >= e.evictCap {
		var oldestPID uint64
		var oldestSeq uint64 = ^uint64(0)
		for pid, rec := range e.exited {
			if rec.seq < oldestSeq {
				oldestSeq, oldestPID = rec.seq, pid
			}
		}
		delete(e.exited, oldestPID)
	}
	e.exited[rp.PID] = exitRecord{exitCode: code, seq: e.evictSeq.Add(1)}
}

// fireNotify wakes every goroutine blocked in WaitForExit by closing the
// current notify channel and swapping in a fresh one — the same
// "registration before recheck, broadcast via channel close" idiom used to
// guarantee no waiter can miss a wakeup that raced its own registration.
func (e *Executor) fireNotify() {
	e.notifyMu.Lock()
	old := e.notifyCh
	e.notifyCh = make(chan struct{})
	e.notifyMu.Unlock()
	close(old)
}

func (e *Executor) notifyChan() chan struct{} {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	return e.notifyCh
}

// WaitForExit blocks until pid has a terminal exit code, ctx is done, or the
// PID has never been seen. Registration happens before the state recheck on
// every iteration, so a wakeup fired between the check and the wait can
// never be missed.
func (e *Executor) WaitForExit(ctx context.Context, pid uint64) (uint32, error) {
	for {
		wake := e.notifyChan()

		e.mu.Lock()
		if rec, ok := e.exited[pid]; ok {
			e.mu.Unlock()
			return rec.exitCode, nil
		}
		_, isLive := e.live[pid]
		e.mu.Unlock()

		if !isLive {
			return 0, WaitErrUnknownPID
		}

		select {
		case <-wake:
			continue
		case <-ctx.Done():
			return 0, WaitErrTimeout
		}
	}
}

// Terminate cancels pid's execution context. Because the sandbox is only
// cooperatively cancellable (§9), this requests termination; it does not
// guarantee the program stops before WaitForExit observes its exit.
func (e *Executor) Terminate(pid uint64) error {
	e.mu.Lock()
	rp, ok := e.live[pid]
	e.mu.Unlock()
	if !ok {
		return WaitErrUnknownPID
	}
	rp.cancel()
	return nil
}

// Stats returns a snapshot of admission/execution counters.
func (e *Executor) Stats() AdmissionStats {
	e.mu.Lock()
	running := uint64(len(e.live))
	e.mu.Unlock()
	return AdmissionStats{
		Admitted:  e.admitted.Load(),
		Rejected:  e.rejected.Load(),
		Running:   running,
		Completed: e.completed.Load(),
	}
}
