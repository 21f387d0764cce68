package restop

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/mullvad/api-core/addresscache"
	"github.com/mullvad/api-core/internal/clock"
	"github.com/mullvad/api-core/internal/corelog"
)

// Engine executes operations against a single Address Cache and Transport, one at a time, in
// submission order, per the "max_concurrent = 1" queueing discipline in the component design.
// Construct one Engine per facade; cross-facade operations run on independent Engines and may
// proceed in parallel.
type Engine struct {
	cache     *addresscache.Cache
	transport Transport
	executor  Executor
	loggers   ldlog.Loggers
	clock     clock.Clock

	jobs chan func()

	closeOnce sync.Once
	closeCh   chan struct{}
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithLoggers injects a logger bundle; the default is a disabled logger.
func WithLoggers(loggers ldlog.Loggers) Option {
	return func(e *Engine) { e.loggers = loggers }
}

// WithExecutor injects the Executor used to deliver completion callbacks; the default is a
// serial goroutine-backed executor standing in for "the main/UI executor."
func WithExecutor(executor Executor) Option {
	return func(e *Engine) { e.executor = executor }
}

// WithClock injects the Clock used for retry backoff timers; the default is the real wall
// clock.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// New constructs an Engine bound to cache and transport, and starts its single worker
// goroutine.
func New(cache *addresscache.Cache, transport Transport, opts ...Option) *Engine {
	e := &Engine{
		cache:     cache,
		transport: transport,
		executor:  NewSerialExecutor(),
		loggers:   corelog.Disabled(),
		clock:     clock.Real(),
		jobs:      make(chan func(), 64),
		closeCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.loggers = corelog.WithPrefix(e.loggers, "[OperationEngine]")
	go e.worker()
	return e
}

func (e *Engine) worker() {
	for {
		select {
		case job := <-e.jobs:
			job()
		case <-e.closeCh:
			return
		}
	}
}

// Close stops accepting new work. The operation the worker is currently running still runs to
// completion; operations still waiting in the queue may never be started, and those never
// complete (callers should cancel them via their context before calling Close if they need a
// final Cancelled outcome).
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.closeCh)
	})
}

// Submit enqueues one operation for serial execution and returns its handle immediately. The
// parent context bounds the operation's entire lifetime: cancelling it cancels the operation
// at whatever suspension point it is currently in, or before it ever starts if still queued.
func Submit[T any](e *Engine, parent context.Context, spec OperationSpec[T]) *Operation[T] {
	ctx, cancel := context.WithCancel(parent)
	op := &Operation[T]{
		id:        uuid.New(),
		name:      spec.Name,
		spec:      spec,
		cache:     e.cache,
		transport: e.transport,
		executor:  e.executor,
		loggers:   e.loggers,
		clock:     e.clock,
		ctx:       ctx,
		cancelFn:  cancel,
		doneCh:    make(chan struct{}),
	}

	select {
	case e.jobs <- op.run:
	case <-e.closeCh:
		// Engine is shutting down; complete immediately as cancelled rather than leak a
		// handle that will never finish.
		cancel()
		op.complete(Cancelled[T]())
	}
	return op
}

// SubmitWithCallback is like Submit but also registers a completion callback, delivered on the
// Engine's Executor exactly once.
func SubmitWithCallback[T any](e *Engine, parent context.Context, spec OperationSpec[T], onComplete func(Outcome[T])) *Operation[T] {
	ctx, cancel := context.WithCancel(parent)
	op := &Operation[T]{
		id:         uuid.New(),
		name:       spec.Name,
		spec:       spec,
		cache:      e.cache,
		transport:  e.transport,
		executor:   e.executor,
		loggers:    e.loggers,
		clock:      e.clock,
		ctx:        ctx,
		cancelFn:   cancel,
		doneCh:     make(chan struct{}),
		onComplete: onComplete,
	}

	select {
	case e.jobs <- op.run:
	case <-e.closeCh:
		cancel()
		op.complete(Cancelled[T]())
	}
	return op
}
