package terminal

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"projectledger/core/events"
	"projectledger/observability"
)

type opContextKey struct{}

// opContext marks a context as belonging to an operation in flight. Events
// raised by the operation are buffered until it commits.
type opContext struct {
	name   string
	buffer *events.Buffer
	exec   *Executor
}

func opFrom(ctx context.Context) *opContext {
	if ctx == nil {
		return nil
	}
	op, _ := ctx.Value(opContextKey{}).(*opContext)
	return op
}

// emitterFrom returns the buffer of the operation carried by ctx. Outside an
// operation events are discarded.
func emitterFrom(ctx context.Context) events.Emitter {
	if op := opFrom(ctx); op != nil {
		return op.buffer
	}
	return events.NoopEmitter{}
}

// Executor serialises terminal operations over a shared state manager. Every
// terminal of a deployment shares one executor so cross-terminal payouts and
// fee payments run inside the caller's transaction.
//
// Delegates, data sources, allocators and fee gauges run while their operation
// holds the executor. Any operation or view started while such a hook is
// running fails with ErrReentrantCall, whatever context it carries.
type Executor struct {
	sem         chan struct{}
	dispatching atomic.Int32
	state       StateManager
	emitter     events.Emitter
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewExecutor constructs an executor committing to state and forwarding
// committed events to emitter.
func NewExecutor(state StateManager, emitter events.Emitter, logger *slog.Logger) *Executor {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		sem:     make(chan struct{}, 1),
		state:   state,
		emitter: emitter,
		logger:  logger,
		tracer:  otel.Tracer("projectledger/native/terminal"),
	}
}

// SetEmitter replaces the committed event sink.
func (e *Executor) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// State exposes the underlying state manager.
func (e *Executor) State() StateManager { return e.state }

func (e *Executor) acquire(ctx context.Context) error {
	if e.dispatching.Load() > 0 {
		return ErrReentrantCall
	}
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) release() { <-e.sem }

// callOut runs fn, a call into code outside the terminal, while the executor
// is marked as dispatching.
func (e *Executor) callOut(fn func() error) error {
	if e == nil {
		return fn()
	}
	e.dispatching.Add(1)
	defer e.dispatching.Add(-1)
	return fn()
}

// callOut dispatches fn through the executor of the operation carried by ctx.
func callOut(ctx context.Context, fn func() error) error {
	if op := opFrom(ctx); op != nil {
		return op.exec.callOut(fn)
	}
	return fn()
}

// Execute runs fn as a single atomic operation. State written by fn is
// committed and its events delivered only when fn returns nil; otherwise the
// state is rolled back to where it was before fn started and no event escapes.
func (e *Executor) Execute(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	if e == nil || e.state == nil {
		return errNilState
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if opFrom(ctx) != nil {
		return ErrReentrantCall
	}
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "terminal."+name)
	defer span.End()

	op := &opContext{name: name, buffer: &events.Buffer{}, exec: e}
	snapshot := e.state.Snapshot()
	err = fn(context.WithValue(ctx, opContextKey{}, op))
	if err == nil {
		if err = e.state.Commit(); err != nil {
			e.logger.Error("terminal commit failed", slog.String("operation", name), slog.Any("error", err))
		}
	}
	if err != nil {
		e.state.RevertToSnapshot(snapshot)
		op.buffer.Reset()
		span.RecordError(err)
		span.SetStatus(codes.Error, Code(err))
		span.SetAttributes(attribute.String("terminal.error_code", Code(err)))
		observability.Terminal().RecordOperation(name, Code(err), time.Since(start))
		e.logger.Debug("terminal operation reverted",
			slog.String("operation", name),
			slog.String("code", Code(err)),
			slog.Any("error", err))
		return err
	}
	buffered := op.buffer.Events()
	op.buffer.Flush(e.emitter)
	span.SetAttributes(attribute.Int("terminal.events", len(buffered)))
	observability.Terminal().RecordOperation(name, "ok", time.Since(start))
	observability.Events().RecordAll(buffered)
	return nil
}

// View runs a read-only fn against state. Inside an operation fn runs
// directly so delegates observe the operation's pending writes.
func (e *Executor) View(ctx context.Context, fn func() error) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if opFrom(ctx) != nil {
		return fn()
	}
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()
	return fn()
}
