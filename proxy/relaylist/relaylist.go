// Package relaylist implements the unauthenticated relay-list facade, exercising the
// conditional-GET / 304 Not Modified branch of the response-handling design.
package relaylist

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mullvad/api-core/proxy"
	"github.com/mullvad/api-core/restop"
)

const pathPrefix = "/app/v1/relays"

// Relay is one entry in the relay list.
type Relay struct {
	Hostname  string  `json:"hostname"`
	Location  string  `json:"location"`
	IPv4Addr  string  `json:"ipv4_addr_in"`
	WeightPct float64 `json:"weight"`
}

// Result is the conditional-GET response's two-way outcome: either the body hadn't
// changed since the caller's etag (NotModified), or a fresh list arrived with a new etag.
type Result struct {
	NotModified bool
	Etag        string
	Relays      []Relay
}

// Facade wraps proxy.Facade with the relay-list service's single method.
type Facade struct {
	base *proxy.Facade
}

// New constructs a relay-list Facade. The relay list is unauthenticated, so it needs no
// Access-Token Manager.
func New(hostname string, engine *restop.Engine, opts ...proxy.Option) *Facade {
	return &Facade{base: proxy.New(hostname, pathPrefix, engine, nil, opts...)}
}

// GetRelayList fetches the current relay list. If etag is non-empty and the server still has
// the same content, the operation completes with Result{NotModified: true} and no body decode.
func (f *Facade) GetRelayList(ctx context.Context, etag string, retry restop.RetryStrategy) *restop.Operation[Result] {
	spec := proxy.RequestSpec{Method: http.MethodGet, Path: "", IfNoneMatch: etag}
	return proxy.AddOperation(f.base, ctx, "get-relay-list", spec, proxy.NoAuth(), decodeRelayList, retry)
}

func decodeRelayList(status int, header http.Header, body []byte) (Result, error) {
	switch {
	case status == http.StatusNotModified:
		return Result{NotModified: true, Etag: header.Get("ETag")}, nil
	case status >= 200 && status < 300:
		var relays []Relay
		if err := json.Unmarshal(body, &relays); err != nil {
			return Result{}, &restop.RestError{Kind: restop.KindDecodeSuccessResponse, Cause: err, Status: status}
		}
		return Result{Relays: relays, Etag: header.Get("ETag")}, nil
	default:
		serverErr, err := proxy.DecodeServerError(body)
		if err != nil {
			return Result{}, &restop.RestError{Kind: restop.KindDecodeErrorResponse, Cause: err, Status: status}
		}
		return Result{}, &restop.RestError{Kind: restop.KindUnhandledResponse, Status: status, Server: serverErr}
	}
}
