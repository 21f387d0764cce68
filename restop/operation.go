package restop

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/mullvad/api-core/addresscache"
	"github.com/mullvad/api-core/internal/clock"
)

type state int32

const (
	statePending state = iota
	stateRunning
	stateAwaitingAuth
	stateAwaitingTransport
	stateBackingOff
	stateFinished
)

// Operation is the handle returned immediately by Submit. It represents one logical
// REST call: callers observe completion via Done/Result, or cancel it via Cancel. Completion
// fires exactly once.
type Operation[T any] struct {
	id        uuid.UUID
	name      string
	spec      OperationSpec[T]
	cache     *addresscache.Cache
	transport Transport
	executor  Executor
	loggers   ldlog.Loggers
	clock     clock.Clock

	ctx      context.Context
	cancelFn context.CancelFunc

	mu           sync.Mutex
	st           state
	outcome      Outcome[T]
	doneCh       chan struct{}
	completeOnce sync.Once

	onComplete func(Outcome[T])
}

// ID returns the operation's unique identifier, stable for its lifetime, useful for correlating
// log lines across retries without relying on the (possibly reused) operation name.
func (op *Operation[T]) ID() uuid.UUID {
	return op.id
}

// Cancel requests cancellation. If the operation is awaiting authorization, in flight against
// the transport, or backing off, the corresponding suspended stage is cancelled. Idempotent:
// multiple calls, from any goroutine, are safe, and a cancelled operation completes exactly
// once with Cancelled.
func (op *Operation[T]) Cancel() {
	op.cancelFn()
}

// Done returns a channel that is closed exactly once, when the operation completes.
func (op *Operation[T]) Done() <-chan struct{} {
	return op.doneCh
}

// Result returns the operation's outcome. It is only meaningful after Done has closed; calling
// it earlier returns the zero Outcome, which unwraps to (zero value, nil, false) and so looks
// like a successful zero result.
func (op *Operation[T]) Result() (T, error, bool) {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.outcome.Unwrap()
}

func (op *Operation[T]) state() state {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.st
}

func (op *Operation[T]) setState(s state) {
	op.mu.Lock()
	op.st = s
	op.mu.Unlock()
}

// complete transitions the operation to finished exactly once, stores the outcome, closes
// Done, and schedules the completion callback (if any) on the configured Executor.
func (op *Operation[T]) complete(outcome Outcome[T]) {
	op.completeOnce.Do(func() {
		op.mu.Lock()
		op.st = stateFinished
		op.outcome = outcome
		op.mu.Unlock()
		close(op.doneCh)
		if op.onComplete != nil {
			cb := op.onComplete
			op.executor.Run(func() { cb(outcome) })
		}
	})
}

// run executes the full attempt/retry loop for this operation. It is called synchronously by
// the engine's single worker goroutine and returns only once the operation has finished or
// been cancelled; the next queued operation does not start until this call returns.
func (op *Operation[T]) run() {
	if op.ctx.Err() != nil {
		op.loggers.Debugf(logMsgCancelled, op.name)
		op.complete(Cancelled[T]())
		return
	}

	var attempts uint
	for {
		op.setState(stateRunning)
		if op.ctx.Err() != nil {
			op.complete(Cancelled[T]())
			return
		}

		endpoint := op.cache.CurrentEndpoint()
		op.loggers.Debugf(logMsgAttempt, op.name, op.id, attempts+1, op.spec.RetryStrategy.MaxAttempts+1, endpoint)

		req, err := op.spec.RequestBuilder.BuildRequest(endpoint)
		if err != nil {
			op.loggers.Warnf(logMsgBuildFailed, op.name, err)
			op.complete(Failure[T](&RestError{Kind: KindEncodePayload, Cause: err}))
			return
		}

		if op.spec.AuthProvider != nil {
			op.setState(stateAwaitingAuth)
			authz, err := op.spec.AuthProvider.Authorize(op.ctx)
			if op.ctx.Err() != nil {
				op.complete(Cancelled[T]())
				return
			}
			if err != nil {
				op.loggers.Warnf(logMsgAuthFailed, op.name, err)
				op.complete(Failure[T](err))
				return
			}
			req.Header.Set("Authorization", authz.Header())
		}

		outcome, retry := op.attemptTransport(req, endpoint, &attempts)
		if !retry {
			op.complete(outcome)
			return
		}

		if op.spec.RetryStrategy.Delay.IsImmediate() {
			continue
		}
		if !op.backoff(op.spec.RetryStrategy.Delay.Duration()) {
			op.complete(Cancelled[T]())
			return
		}
	}
}

// attemptTransport invokes the transport and the response handler for one attempt. It returns
// (outcome, true) when a retry should be attempted, or (outcome, false) when the operation is
// finished (success, fatal failure, or exhaustion).
func (op *Operation[T]) attemptTransport(req *http.Request, endpoint addresscache.Endpoint, attempts *uint) (Outcome[T], bool) {
	op.setState(stateAwaitingTransport)
	status, header, body, err := op.transport.Do(op.ctx, req)
	if op.ctx.Err() != nil {
		return Cancelled[T](), false
	}
	if err != nil {
		return op.handleTransportError(err, endpoint, attempts)
	}

	result, herr := op.spec.ResponseHandler.HandleResponse(status, header, body)
	if herr != nil {
		// The transport succeeded; any error here is semantic and is never retried.
		return Failure[T](herr), false
	}
	return OK(result), false
}

func (op *Operation[T]) handleTransportError(err error, endpoint addresscache.Endpoint, attempts *uint) (Outcome[T], bool) {
	if te, ok := err.(TransportError); ok && te.Cancelled() {
		return Cancelled[T](), false
	}

	transient := false
	if te, ok := err.(TransportError); ok {
		transient = te.Transient()
	}
	if transient {
		op.loggers.Debugf(logMsgTransientKeep, op.name, endpoint)
	} else {
		next := op.cache.RotateAfterFailure(endpoint)
		op.loggers.Debugf(logMsgRotating, op.name, endpoint)
		_ = next
	}

	if *attempts >= op.spec.RetryStrategy.MaxAttempts {
		op.loggers.Warnf(logMsgExhausted, op.name, *attempts+1, err)
		return Failure[T](&RestError{Kind: KindNetwork, Cause: err}), false
	}
	*attempts++
	return Outcome[T]{}, true
}

// backoff waits for d, or returns false immediately if the operation is cancelled first.
func (op *Operation[T]) backoff(d time.Duration) bool {
	op.setState(stateBackingOff)
	op.loggers.Debugf(logMsgBackoff, op.name, d)

	fired := make(chan struct{})
	timer := op.clock.AfterFunc(d, func() { close(fired) })

	select {
	case <-fired:
		return true
	case <-op.ctx.Done():
		timer.Stop()
		return false
	}
}
