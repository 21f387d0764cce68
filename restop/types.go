// Package restop implements the operation engine: a cancellable, retrying request executor
// that composes pluggable request builders, authorization providers, and response handlers,
// rotating the address cache on transport failure.
package restop

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mullvad/api-core/addresscache"
)

// Authorization is the tagged union of ways a caller can identify itself to the server.
type Authorization struct {
	accountCredential *string
	bearerToken       *string
}

// AccountCredential constructs an Authorization carrying a raw legacy account number.
func AccountCredential(accountNumber string) Authorization {
	return Authorization{accountCredential: &accountNumber}
}

// BearerToken constructs an Authorization carrying a session access token.
func BearerToken(token string) Authorization {
	return Authorization{bearerToken: &token}
}

// Header renders the value to send in the Authorization HTTP header.
func (a Authorization) Header() string {
	switch {
	case a.accountCredential != nil:
		return "Token " + *a.accountCredential
	case a.bearerToken != nil:
		return "Bearer " + *a.bearerToken
	default:
		return ""
	}
}

// Delay is the inter-attempt wait of a RetryStrategy: either immediate retry with no sleep,
// or a fixed wait.
type Delay struct {
	immediate bool
	duration  time.Duration
}

// Never is the "never" delay variant: retry immediately without sleeping.
func Never() Delay { return Delay{immediate: true} }

// After constructs a Delay that waits d before the next attempt.
func After(d time.Duration) Delay { return Delay{duration: d} }

// IsImmediate reports whether this delay means "retry immediately."
func (d Delay) IsImmediate() bool { return d.immediate }

// Duration returns the wait, valid only when IsImmediate is false.
func (d Delay) Duration() time.Duration { return d.duration }

// RetryStrategy bounds the number of attempts and the inter-attempt delay for one operation.
// MaxAttempts = 0 disables retrying: exactly one attempt is made.
type RetryStrategy struct {
	MaxAttempts uint
	Delay       Delay
}

// TransportError is implemented by errors returned from a Transport. It lets the engine
// classify a failure without knowing the transport's concrete error types: Cancelled signals
// user-cancellation, Transient signals a local condition (not connected, roaming off, call
// active) under which the engine should retry the same endpoint rather than rotating.
type TransportError interface {
	error
	Cancelled() bool
	Transient() bool
}

// Transport is the external collaborator that actually performs the HTTP exchange. It is out
// of scope for this module (HTTPS, certificate pinning) and is supplied by the host.
type Transport interface {
	Do(ctx context.Context, req *http.Request) (status int, header http.Header, body []byte, err error)
}

// RequestBuilder produces a fully-formed HTTP request for one attempt against endpoint. If the
// operation has an AuthProvider, the engine sets the Authorization header after BuildRequest
// returns, replacing any value the builder set; otherwise the request is sent as built.
type RequestBuilder interface {
	BuildRequest(endpoint addresscache.Endpoint) (*http.Request, error)
}

// AuthProvider resolves the Authorization value for one attempt. It is itself cancellable: if
// ctx is cancelled while Authorize is in flight, it must return promptly with ctx.Err().
type AuthProvider interface {
	Authorize(ctx context.Context) (Authorization, error)
}

// ResponseHandler maps a raw (status, body) pair to a typed result. A non-nil error here is
// never retried: the transport succeeded, so any error is a semantic one surfaced as-is.
type ResponseHandler[T any] interface {
	HandleResponse(status int, header http.Header, body []byte) (T, error)
}

// OperationSpec bundles the collaborators and retry policy for one logical REST call.
type OperationSpec[T any] struct {
	Name            string
	RequestBuilder  RequestBuilder
	AuthProvider    AuthProvider // nil for unauthenticated operations
	ResponseHandler ResponseHandler[T]
	RetryStrategy   RetryStrategy
}

// ErrorKind discriminates the error taxonomy from the error-handling design.
type ErrorKind int

const (
	KindNetwork ErrorKind = iota
	KindEncodePayload
	KindDecodeSuccessResponse
	KindDecodeErrorResponse
	KindServer
	KindUnhandledResponse
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindEncodePayload:
		return "encode_payload"
	case KindDecodeSuccessResponse:
		return "decode_success_response"
	case KindDecodeErrorResponse:
		return "decode_error_response"
	case KindServer:
		return "server"
	case KindUnhandledResponse:
		return "unhandled_response"
	default:
		return "unknown"
	}
}

// ServerError is a well-formed, non-2xx error body, as decoded by a facade's response handler.
type ServerError struct {
	Code    string
	Message string
}

// RestError is the concrete error type surfaced to callers, implementing the error taxonomy
// of the error-handling design with a chained cause.
type RestError struct {
	Kind   ErrorKind
	Cause  error
	Status int
	Server *ServerError
}

func (e *RestError) Error() string {
	switch {
	case e.Server != nil:
		return fmt.Sprintf("%s: status %d, server error %q: %s", e.Kind, e.Status, e.Server.Code, e.Server.Message)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
	default:
		return fmt.Sprintf("%s: status %d", e.Kind, e.Status)
	}
}

func (e *RestError) Unwrap() error { return e.Cause }

// Outcome is the three-valued completion type: exactly one of ok, err, or cancelled holds,
// so cancellation is never confused with either success or failure.
type Outcome[T any] struct {
	ok        *T
	err       error
	cancelled bool
}

// OK constructs a successful Outcome.
func OK[T any](v T) Outcome[T] { return Outcome[T]{ok: &v} }

// Failure constructs a failed Outcome.
func Failure[T any](err error) Outcome[T] { return Outcome[T]{err: err} }

// Cancelled constructs a cancelled Outcome.
func Cancelled[T any]() Outcome[T] { return Outcome[T]{cancelled: true} }

// Unwrap decomposes the Outcome into (value, error, cancelled). Exactly one of the three
// carries meaningful information: if cancelled is true, value and err are zero/nil; if err is
// non-nil, value is zero; otherwise value is the result.
func (o Outcome[T]) Unwrap() (T, error, bool) {
	if o.ok != nil {
		return *o.ok, nil, false
	}
	var zero T
	return zero, o.err, o.cancelled
}

// IsCancelled reports whether the outcome is the cancelled variant.
func (o Outcome[T]) IsCancelled() bool { return o.cancelled }

// Err returns the failure error, or nil if the outcome is ok or cancelled.
func (o Outcome[T]) Err() error { return o.err }
