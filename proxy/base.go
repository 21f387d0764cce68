// Package proxy implements the thin per-service layer: a Facade bundles a path prefix, a
// hostname, and an Operation Engine, and exposes add_operation as the single generic helper
// every concrete service method is built on.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/mullvad/api-core/accesstoken"
	"github.com/mullvad/api-core/addresscache"
	"github.com/mullvad/api-core/internal/corelog"
	"github.com/mullvad/api-core/restop"
)

// AuthMode selects how a single operation authenticates itself, mirroring the two
// Authorization variants: a raw legacy account number, or a bearer token obtained and cached
// by the Access-Token Manager.
type AuthMode struct {
	kind          authKind
	accountNumber string
	accountID     string
}

type authKind int

const (
	authNone authKind = iota
	authAccountCredential
	authBearerViaManager
)

// NoAuth marks an operation as unauthenticated.
func NoAuth() AuthMode { return AuthMode{kind: authNone} }

// WithAccountCredential authenticates directly with a raw account number, for the small set of
// legacy endpoints that never use a session token.
func WithAccountCredential(accountNumber string) AuthMode {
	return AuthMode{kind: authAccountCredential, accountNumber: accountNumber}
}

// WithBearerToken authenticates via the Access-Token Manager, keyed by accountID.
func WithBearerToken(accountID string) AuthMode {
	return AuthMode{kind: authBearerViaManager, accountID: accountID}
}

// Facade is the per-service layer described in the component design: a path prefix, the
// logical API hostname sent in the Host header, and the engine operations are submitted to.
type Facade struct {
	hostname   string
	pathPrefix string
	engine     *restop.Engine
	tokens     *accesstoken.Manager
	authRetry  restop.RetryStrategy
	loggers    ldlog.Loggers
}

// Option configures a Facade at construction.
type Option func(*Facade)

// WithLoggers injects a logger bundle; the default is a disabled logger.
func WithLoggers(loggers ldlog.Loggers) Option {
	return func(f *Facade) { f.loggers = loggers }
}

// WithAuthRetry overrides the retry strategy used while resolving a bearer token, independent
// of the retry strategy used for the operation's own transport attempts.
func WithAuthRetry(retry restop.RetryStrategy) Option {
	return func(f *Facade) { f.authRetry = retry }
}

// New constructs a Facade bound to one service's path prefix on the given hostname. tokens may
// be nil if the facade never serves a bearer-authenticated operation.
func New(hostname, pathPrefix string, engine *restop.Engine, tokens *accesstoken.Manager, opts ...Option) *Facade {
	f := &Facade{
		hostname:   hostname,
		pathPrefix: pathPrefix,
		engine:     engine,
		tokens:     tokens,
		authRetry:  restop.RetryStrategy{MaxAttempts: 1, Delay: restop.After(time.Second)},
		loggers:    corelog.Disabled(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.loggers = corelog.WithPrefix(f.loggers, "[Proxy:"+pathPrefix+"]")
	return f
}

// RequestSpec describes the one piece of every operation that varies per service method: its
// HTTP method, path suffix (appended to the facade's prefix), optional JSON body, and optional
// conditional-GET etag.
type RequestSpec struct {
	Method      string
	Path        string
	Body        any    // marshalled as JSON if non-nil
	IfNoneMatch string // sent as If-None-Match, weak-prefixed per the wire protocol
}

// Decoder maps a raw (status, body) pair to T. It owns the full inbound-status decision:
// 2xx success, 304 Not Modified where applicable, and server-error-body decoding for anything
// else, exactly as the component design assigns that responsibility to the response handler.
type Decoder[T any] func(status int, header http.Header, body []byte) (T, error)

// AddOperation is the facade's single generic helper: every concrete service method builds a
// RequestSpec and a Decoder and calls this to get back a live, cancellable operation handle.
func AddOperation[T any](f *Facade, ctx context.Context, name string, spec RequestSpec, auth AuthMode, decode Decoder[T], retry restop.RetryStrategy) *restop.Operation[T] {
	opSpec := restop.OperationSpec[T]{
		Name:            name,
		RequestBuilder:  requestBuilder{facade: f, spec: spec},
		AuthProvider:    f.authProviderFor(auth),
		ResponseHandler: decodeHandler[T]{decode: decode},
		RetryStrategy:   retry,
	}
	return restop.Submit(f.engine, ctx, opSpec)
}

func (f *Facade) authProviderFor(auth AuthMode) restop.AuthProvider {
	switch auth.kind {
	case authNone:
		return nil
	case authAccountCredential:
		return staticAuthProvider{restop.AccountCredential(auth.accountNumber)}
	case authBearerViaManager:
		return bearerAuthProvider{tokens: f.tokens, accountID: auth.accountID, retry: f.authRetry}
	default:
		return nil
	}
}

type staticAuthProvider struct {
	authz restop.Authorization
}

func (p staticAuthProvider) Authorize(ctx context.Context) (restop.Authorization, error) {
	return p.authz, nil
}

type bearerAuthProvider struct {
	tokens    *accesstoken.Manager
	accountID string
	retry     restop.RetryStrategy
}

func (p bearerAuthProvider) Authorize(ctx context.Context) (restop.Authorization, error) {
	return p.tokens.GetAuthorization(ctx, p.accountID, p.retry)
}

type requestBuilder struct {
	facade *Facade
	spec   RequestSpec
}

func (b requestBuilder) BuildRequest(endpoint addresscache.Endpoint) (*http.Request, error) {
	url := fmt.Sprintf("https://%s%s%s", endpoint.String(), b.facade.pathPrefix, b.spec.Path)

	var bodyReader io.Reader
	if b.spec.Body != nil {
		encoded, err := json.Marshal(b.spec.Body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(b.spec.Method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Host = b.facade.hostname
	if b.spec.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.spec.IfNoneMatch != "" {
		req.Header.Set("If-None-Match", weakEtag(b.spec.IfNoneMatch))
	}
	return req, nil
}

// weakEtag forces weak validation, prepending W/ to a strong etag that doesn't already carry
// it; a conditional GET against this API is always acceptable as a weak match.
func weakEtag(etag string) string {
	if len(etag) >= 2 && etag[0] == 'W' && etag[1] == '/' {
		return etag
	}
	return "W/" + etag
}

type decodeHandler[T any] struct {
	decode Decoder[T]
}

func (h decodeHandler[T]) HandleResponse(status int, header http.Header, body []byte) (T, error) {
	return h.decode(status, header, body)
}

// DecodeServerError parses a non-2xx JSON error body in the common {"code": "...", "error":
// "..."} shape the server uses, returning a *restop.ServerError for callers that want to map
// specific codes to typed variants before falling back to unhandled_response.
func DecodeServerError(body []byte) (*restop.ServerError, error) {
	var payload struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	return &restop.ServerError{Code: payload.Code, Message: payload.Error}, nil
}
