// Package apiaddrs implements the unauthenticated facade for the "/api-addrs" endpoint the
// Address Tracker polls, and adapts it to addresstracker.Fetcher so the tracker's periodic
// refresh loop actually exercises an engine operation end to end.
package apiaddrs

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/mullvad/api-core/addresscache"
	"github.com/mullvad/api-core/proxy"
	"github.com/mullvad/api-core/restop"
)

const pathPrefix = "/api-addrs"

type addressJSON struct {
	IP   string `json:"ip"`
	Port uint16 `json:"port"`
}

// Facade wraps proxy.Facade with the single method the Address Tracker needs.
type Facade struct {
	base *proxy.Facade
}

// New constructs an apiaddrs Facade. The endpoint list is unauthenticated, so it needs no
// Access-Token Manager.
func New(hostname string, engine *restop.Engine, opts ...proxy.Option) *Facade {
	return &Facade{base: proxy.New(hostname, pathPrefix, engine, nil, opts...)}
}

// GetAddresses fetches the current candidate endpoint list.
func (f *Facade) GetAddresses(ctx context.Context, retry restop.RetryStrategy) *restop.Operation[[]addresscache.Endpoint] {
	spec := proxy.RequestSpec{Method: http.MethodGet, Path: ""}
	return proxy.AddOperation(f.base, ctx, "get-api-addrs", spec, proxy.NoAuth(), decodeAddresses, retry)
}

func decodeAddresses(status int, header http.Header, body []byte) ([]addresscache.Endpoint, error) {
	if status < 200 || status >= 300 {
		serverErr, err := proxy.DecodeServerError(body)
		if err != nil {
			return nil, &restop.RestError{Kind: restop.KindDecodeErrorResponse, Cause: err, Status: status}
		}
		return nil, &restop.RestError{Kind: restop.KindUnhandledResponse, Status: status, Server: serverErr}
	}

	var raw []addressJSON
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &restop.RestError{Kind: restop.KindDecodeSuccessResponse, Cause: err, Status: status}
	}

	out := make([]addresscache.Endpoint, 0, len(raw))
	for _, a := range raw {
		ip := net.ParseIP(a.IP)
		if ip == nil {
			return nil, &restop.RestError{Kind: restop.KindDecodeSuccessResponse, Status: status}
		}
		out = append(out, addresscache.Endpoint{IP: ip, Port: a.Port})
	}
	if len(out) == 0 {
		return nil, &restop.RestError{Kind: restop.KindDecodeSuccessResponse, Status: status}
	}
	return out, nil
}

// Fetcher adapts Facade to addresstracker.Fetcher, running one operation to completion and
// translating its Outcome into the plain (result, error) shape the tracker expects.
type Fetcher struct {
	Facade *Facade
	Retry  restop.RetryStrategy
}

// FetchEndpoints implements addresstracker.Fetcher.
func (f Fetcher) FetchEndpoints(ctx context.Context) ([]addresscache.Endpoint, error) {
	op := f.Facade.GetAddresses(ctx, f.Retry)
	select {
	case <-op.Done():
	case <-ctx.Done():
		op.Cancel()
		<-op.Done()
	}
	eps, err, cancelled := op.Result()
	if cancelled {
		return nil, ctx.Err()
	}
	return eps, err
}
