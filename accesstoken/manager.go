package accesstoken

import (
	"context"
	"sync"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"golang.org/x/sync/singleflight"

	"github.com/mullvad/api-core/internal/clock"
	"github.com/mullvad/api-core/internal/corelog"
	"github.com/mullvad/api-core/restop"
)

// SpecFactory builds the operation spec that obtains a fresh token for accountID, using the
// caller-supplied retry strategy. existing is the zero TokenRecord on a cache-miss obtain, or
// the stale cached record on a refresh: per the component design, a refresh is a distinct wire
// call that uses the existing (expired) token as the refresh credential, not a fresh account
// credential. It is the manager's only dependency on how a token is actually fetched over the
// wire, so this package never needs to know about a specific facade.
type SpecFactory func(accountID string, existing TokenRecord, retry restop.RetryStrategy) restop.OperationSpec[TokenRecord]

// Manager caches one access token per account, obtaining on a cache miss and refreshing once
// the cached record's expiry has passed. Concurrent callers for the same account that race
// into a miss or an expiry are coalesced onto a single in-flight obtain via singleflight.
type Manager struct {
	engine      *restop.Engine
	specFactory SpecFactory
	clock       clock.Clock
	loggers     ldlog.Loggers

	mu      sync.Mutex
	records map[string]TokenRecord

	inflight singleflight.Group
	eviction *expiryWatcher
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithLoggers injects a logger bundle; the default is a disabled logger.
func WithLoggers(loggers ldlog.Loggers) Option {
	return func(m *Manager) { m.loggers = loggers }
}

// WithClock injects the Clock used for expiry comparisons; the default is the real wall clock.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// New constructs a Manager that submits obtain operations to engine via factory.
func New(engine *restop.Engine, factory SpecFactory, opts ...Option) *Manager {
	m := &Manager{
		engine:      engine,
		specFactory: factory,
		clock:       clock.Real(),
		loggers:     corelog.Disabled(),
		records:     make(map[string]TokenRecord),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.loggers = corelog.WithPrefix(m.loggers, "[AccessTokenManager]")
	m.eviction = newExpiryWatcher(m.loggers, m.clock.Now)
	return m
}

// Stop cancels every pending proactive-eviction timer. It does not affect in-flight obtains.
func (m *Manager) Stop() {
	m.eviction.Stop()
}

// GetToken returns a non-expired cached record for accountID if one exists, otherwise obtains
// a fresh one through the operation engine. It is cancellable via ctx.
func (m *Manager) GetToken(ctx context.Context, accountID string, retry restop.RetryStrategy) (TokenRecord, error) {
	now := m.clock.Now()
	if rec, ok := m.cached(accountID); ok && rec.Valid(now) {
		m.loggers.Debugf(logMsgCacheHit, accountID, rec.Expiry)
		return rec, nil
	}

	v, err, shared := m.inflight.Do(accountID, func() (interface{}, error) {
		return m.obtainLocked(ctx, accountID, retry)
	})
	if shared {
		m.loggers.Debugf(logMsgCoalesced, accountID)
	}
	if err != nil {
		return TokenRecord{}, err
	}
	return v.(TokenRecord), nil
}

// GetAuthorization is GetToken followed by wrapping the result as a bearer-token Authorization,
// the form every authenticated proxy operation actually needs.
func (m *Manager) GetAuthorization(ctx context.Context, accountID string, retry restop.RetryStrategy) (restop.Authorization, error) {
	rec, err := m.GetToken(ctx, accountID, retry)
	if err != nil {
		return restop.Authorization{}, err
	}
	return restop.BearerToken(rec.Token), nil
}

// Invalidate drops any cached record for accountID, forcing the next GetToken to obtain a
// fresh one regardless of its recorded expiry.
func (m *Manager) Invalidate(accountID string) {
	m.mu.Lock()
	delete(m.records, accountID)
	m.mu.Unlock()
}

func (m *Manager) cached(accountID string) (TokenRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[accountID]
	return rec, ok
}

// obtainLocked runs inside the singleflight group for accountID: it re-checks the cache first
// (another caller may have just refreshed it while this one waited to enter the group), then
// falls through to a real engine submission.
func (m *Manager) obtainLocked(ctx context.Context, accountID string, retry restop.RetryStrategy) (TokenRecord, error) {
	now := m.clock.Now()
	if rec, ok := m.cached(accountID); ok && rec.Valid(now) {
		return rec, nil
	}

	existing, hasExisting := m.cached(accountID)
	if hasExisting {
		m.loggers.Debugf(logMsgCacheExpired, accountID, existing.Expiry)
	} else {
		m.loggers.Debugf(logMsgCacheMiss, accountID)
	}
	spec := m.specFactory(accountID, existing, retry)
	op := restop.Submit(m.engine, ctx, spec)
	<-op.Done()

	rec, err, cancelled := op.Result()
	if cancelled {
		return TokenRecord{}, ctx.Err()
	}
	if err != nil {
		m.loggers.Warnf(logMsgObtainFailed, accountID, err)
		return TokenRecord{}, err
	}

	m.mu.Lock()
	m.records[accountID] = rec
	m.mu.Unlock()
	m.eviction.Watch(accountID, rec.Expiry, m.Invalidate)
	return rec, nil
}
