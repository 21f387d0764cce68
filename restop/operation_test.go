package restop

import (
	"context"
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mullvad/api-core/addresscache"
	"github.com/mullvad/api-core/internal/clock"
)

func newTestCache(t *testing.T, endpoints ...addresscache.Endpoint) *addresscache.Cache {
	t.Helper()
	dir := t.TempDir()
	c := addresscache.New(filepath.Join(dir, "cache.json"), filepath.Join(dir, "bundle.json"))
	if len(endpoints) > 0 {
		require.NoError(t, c.ReplaceEndpoints(time.Now(), endpoints))
	}
	return c
}

type stubRequestBuilder struct {
	err error
}

func (b stubRequestBuilder) BuildRequest(endpoint addresscache.Endpoint) (*http.Request, error) {
	if b.err != nil {
		return nil, b.err
	}
	return http.NewRequest(http.MethodGet, "http://"+endpoint.String()+"/", nil)
}

type stubAuthProvider struct {
	authz Authorization
	err   error
}

func (p stubAuthProvider) Authorize(ctx context.Context) (Authorization, error) {
	if p.err != nil {
		return Authorization{}, p.err
	}
	return p.authz, nil
}

type stubResponseHandler struct {
	result string
	err    error
}

func (h stubResponseHandler) HandleResponse(status int, header http.Header, body []byte) (string, error) {
	if h.err != nil {
		return "", h.err
	}
	return h.result, nil
}

type fakeTransportError struct {
	msg       string
	cancelled bool
	transient bool
}

func (e *fakeTransportError) Error() string   { return e.msg }
func (e *fakeTransportError) Cancelled() bool { return e.cancelled }
func (e *fakeTransportError) Transient() bool { return e.transient }

// scriptedTransport returns a fixed sequence of (status, body, err) triples, one per call,
// holding the last entry for any call past the end of the script.
type scriptedTransport struct {
	calls   atomic.Int32
	script  []transportResult
	lastReq chan *http.Request
}

type transportResult struct {
	status int
	body   []byte
	err    error
}

func (s *scriptedTransport) Do(ctx context.Context, req *http.Request) (int, http.Header, []byte, error) {
	n := int(s.calls.Add(1)) - 1
	if s.lastReq != nil {
		s.lastReq <- req
	}
	if n >= len(s.script) {
		n = len(s.script) - 1
	}
	r := s.script[n]
	return r.status, nil, r.body, r.err
}

func TestOperationSucceedsOnFirstAttempt(t *testing.T) {
	cache := newTestCache(t, addresscache.Endpoint{IP: net.ParseIP("1.1.1.1"), Port: 443})
	transport := &scriptedTransport{script: []transportResult{{status: 200, body: []byte("ok")}}}
	engine := New(cache, transport)
	defer engine.Close()

	spec := OperationSpec[string]{
		Name:            "get-thing",
		RequestBuilder:  stubRequestBuilder{},
		ResponseHandler: stubResponseHandler{result: "done"},
		RetryStrategy:   RetryStrategy{MaxAttempts: 2, Delay: Never()},
	}
	op := Submit(engine, context.Background(), spec)
	<-op.Done()

	val, err, cancelled := op.Result()
	assert.NoError(t, err)
	assert.False(t, cancelled)
	assert.Equal(t, "done", val)
	assert.Equal(t, int32(1), transport.calls.Load())
}

func TestOperationExhaustsAfterMaxAttemptsPlusOne(t *testing.T) {
	cache := newTestCache(t, addresscache.Endpoint{IP: net.ParseIP("2.2.2.2"), Port: 443})
	transport := &scriptedTransport{script: []transportResult{
		{err: errors.New("boom")},
	}}
	engine := New(cache, transport)
	defer engine.Close()

	spec := OperationSpec[string]{
		Name:            "flaky",
		RequestBuilder:  stubRequestBuilder{},
		ResponseHandler: stubResponseHandler{result: "done"},
		RetryStrategy:   RetryStrategy{MaxAttempts: 2, Delay: Never()},
	}
	op := Submit(engine, context.Background(), spec)
	<-op.Done()

	_, err, cancelled := op.Result()
	require.Error(t, err)
	assert.False(t, cancelled)
	var restErr *RestError
	require.ErrorAs(t, err, &restErr)
	assert.Equal(t, KindNetwork, restErr.Kind)
	assert.Equal(t, int32(3), transport.calls.Load()) // MaxAttempts+1 attempts total
}

func TestOperationTransientTransportErrorKeepsEndpoint(t *testing.T) {
	start := addresscache.Endpoint{IP: net.ParseIP("3.3.3.3"), Port: 443}
	other := addresscache.Endpoint{IP: net.ParseIP("4.4.4.4"), Port: 443}
	cache := newTestCache(t, start, other)
	transport := &scriptedTransport{script: []transportResult{
		{err: &fakeTransportError{msg: "no network", transient: true}},
		{status: 200, body: []byte("ok")},
	}}
	engine := New(cache, transport)
	defer engine.Close()

	spec := OperationSpec[string]{
		Name:            "transient",
		RequestBuilder:  stubRequestBuilder{},
		ResponseHandler: stubResponseHandler{result: "done"},
		RetryStrategy:   RetryStrategy{MaxAttempts: 1, Delay: Never()},
	}
	before := cache.CurrentEndpoint()
	op := Submit(engine, context.Background(), spec)
	<-op.Done()

	_, err, _ := op.Result()
	assert.NoError(t, err)
	assert.True(t, before.Equal(cache.CurrentEndpoint()), "transient error must not rotate the endpoint")
}

func TestOperationNonTransientTransportErrorRotatesEndpoint(t *testing.T) {
	start := addresscache.Endpoint{IP: net.ParseIP("5.5.5.5"), Port: 443}
	other := addresscache.Endpoint{IP: net.ParseIP("6.6.6.6"), Port: 443}
	cache := newTestCache(t, start, other)
	transport := &scriptedTransport{script: []transportResult{
		{err: errors.New("connection refused")},
		{status: 200, body: []byte("ok")},
	}}
	engine := New(cache, transport)
	defer engine.Close()

	spec := OperationSpec[string]{
		Name:            "rotates",
		RequestBuilder:  stubRequestBuilder{},
		ResponseHandler: stubResponseHandler{result: "done"},
		RetryStrategy:   RetryStrategy{MaxAttempts: 1, Delay: Never()},
	}
	before := cache.CurrentEndpoint()
	op := Submit(engine, context.Background(), spec)
	<-op.Done()

	_, err, _ := op.Result()
	assert.NoError(t, err)
	assert.False(t, before.Equal(cache.CurrentEndpoint()), "non-transient error must rotate past the failed endpoint")
}

func TestOperationCancelledDuringBackoffCompletesExactlyOnce(t *testing.T) {
	cache := newTestCache(t, addresscache.Endpoint{IP: net.ParseIP("7.7.7.7"), Port: 443})
	transport := &scriptedTransport{script: []transportResult{
		{err: errors.New("boom")},
	}}
	fc := clock.NewFake(time.Now())
	engine := New(cache, transport, WithClock(fc))
	defer engine.Close()

	spec := OperationSpec[string]{
		Name:            "cancel-in-backoff",
		RequestBuilder:  stubRequestBuilder{},
		ResponseHandler: stubResponseHandler{result: "done"},
		RetryStrategy:   RetryStrategy{MaxAttempts: 3, Delay: After(time.Hour)},
	}
	ctx, cancel := context.WithCancel(context.Background())
	op := Submit(engine, ctx, spec)

	// run() is synchronous on the engine's single worker, so by the time Submit returns the
	// operation may already be backing off; cancel and let it observe ctx.Done().
	cancel()
	<-op.Done()

	_, err, cancelled := op.Result()
	assert.NoError(t, err)
	assert.True(t, cancelled)

	select {
	case <-op.Done():
	default:
		t.Fatal("Done channel should already be closed")
	}
}

func TestOperationAuthFailureIsNotRetried(t *testing.T) {
	cache := newTestCache(t, addresscache.Endpoint{IP: net.ParseIP("8.8.8.8"), Port: 443})
	transport := &scriptedTransport{script: []transportResult{{status: 200}}}
	engine := New(cache, transport)
	defer engine.Close()

	wantErr := errors.New("no credentials")
	spec := OperationSpec[string]{
		Name:            "needs-auth",
		RequestBuilder:  stubRequestBuilder{},
		AuthProvider:    stubAuthProvider{err: wantErr},
		ResponseHandler: stubResponseHandler{result: "done"},
		RetryStrategy:   RetryStrategy{MaxAttempts: 5, Delay: Never()},
	}
	op := Submit(engine, context.Background(), spec)
	<-op.Done()

	_, err, _ := op.Result()
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, int32(0), transport.calls.Load())
}

func TestOperationRequestBuildFailureIsFatal(t *testing.T) {
	cache := newTestCache(t, addresscache.Endpoint{IP: net.ParseIP("9.9.9.9"), Port: 443})
	transport := &scriptedTransport{script: []transportResult{{status: 200}}}
	engine := New(cache, transport)
	defer engine.Close()

	spec := OperationSpec[string]{
		Name:            "bad-request",
		RequestBuilder:  stubRequestBuilder{err: errors.New("invalid payload")},
		ResponseHandler: stubResponseHandler{result: "done"},
		RetryStrategy:   RetryStrategy{MaxAttempts: 5, Delay: Never()},
	}
	op := Submit(engine, context.Background(), spec)
	<-op.Done()

	_, err, _ := op.Result()
	require.Error(t, err)
	var restErr *RestError
	require.ErrorAs(t, err, &restErr)
	assert.Equal(t, KindEncodePayload, restErr.Kind)
	assert.Equal(t, int32(0), transport.calls.Load())
}

func TestEngineRunsOperationsSerially(t *testing.T) {
	cache := newTestCache(t, addresscache.Endpoint{IP: net.ParseIP("10.0.0.1"), Port: 443})
	release := make(chan struct{})
	var order []int
	transport := &blockingTransport{release: release, order: &order}
	engine := New(cache, transport)
	defer engine.Close()

	spec := func(n int) OperationSpec[string] {
		return OperationSpec[string]{
			Name:            "serial",
			RequestBuilder:  stubRequestBuilder{},
			ResponseHandler: stubResponseHandler{result: "done"},
			RetryStrategy:   RetryStrategy{MaxAttempts: 0, Delay: Never()},
		}
	}
	op1 := Submit(engine, context.Background(), spec(1))
	op2 := Submit(engine, context.Background(), spec(2))

	time.Sleep(20 * time.Millisecond)
	select {
	case <-op2.Done():
		t.Fatal("second operation must not start before the first finishes")
	default:
	}

	close(release)
	<-op1.Done()
	<-op2.Done()
}

type blockingTransport struct {
	release <-chan struct{}
	order   *[]int
	n       atomic.Int32
}

func (b *blockingTransport) Do(ctx context.Context, req *http.Request) (int, http.Header, []byte, error) {
	if b.n.Add(1) == 1 {
		<-b.release
	}
	return 200, nil, []byte("ok"), nil
}
