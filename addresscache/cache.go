// Package addresscache maintains a persistent, priority-ordered pool of candidate API
// endpoints. It exposes the current endpoint to callers, rotates away from endpoints the
// Operation Engine reports as failed, and persists every mutation atomically to disk.
package addresscache

import (
	"net"
	"sync"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/mullvad/api-core/internal/clock"
	"github.com/mullvad/api-core/internal/corelog"
)

// DefaultEndpoint is the built-in fallback used when neither the disk cache nor the bundled
// seed can be read. It is deliberately a single, well-known address rather than empty, so the
// invariant "the cache is never empty" holds even on a pristine, offline install.
var DefaultEndpoint = Endpoint{IP: net.ParseIP("45.83.223.196"), Port: 443}

// Cache is the persistent, priority-ordered pool of candidate endpoints described in the
// component design. All state lives behind a single mutex; read paths hold it only long
// enough to copy out the head, write paths hold it across persistence.
type Cache struct {
	diskPath   string
	bundlePath string
	rng        clock.Rand
	loggers    ldlog.Loggers

	mu       sync.Mutex
	snapshot Snapshot
	source   Source
}

// Option configures a Cache at construction.
type Option func(*Cache)

// WithLoggers injects a logger bundle; the default is a disabled logger.
func WithLoggers(loggers ldlog.Loggers) Option {
	return func(c *Cache) { c.loggers = loggers }
}

// WithRand injects the randomness source used to shuffle replacement endpoint lists. The
// default is a real PRNG seeded from wall-clock time.
func WithRand(rng clock.Rand) Option {
	return func(c *Cache) { c.rng = rng }
}

// New bootstraps a Cache from disk, falling back to the bundled seed, falling back to the
// built-in default, per the bootstrap algorithm in the component design. Bootstrap never
// fails: each step degrades to the next on any error.
func New(diskPath, bundlePath string, opts ...Option) *Cache {
	c := &Cache{
		diskPath:   diskPath,
		bundlePath: bundlePath,
		rng:        clock.NewRand(),
		loggers:    corelog.Disabled(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.loggers = corelog.WithPrefix(c.loggers, "[AddressCache]")
	c.bootstrap()
	return c
}

func (c *Cache) bootstrap() {
	if snap, err := readDiskSnapshot(c.diskPath); err == nil && len(snap.Endpoints) > 0 {
		c.loggers.Infof(logMsgBootstrapFromDisk, len(snap.Endpoints))
		c.snapshot = snap
		c.source = SourceDisk
		return
	}

	if snap, err := readBundleSnapshot(c.bundlePath); err == nil && len(snap.Endpoints) > 0 {
		c.loggers.Warnf(logMsgBootstrapFromBundle, "disk cache missing or invalid", len(snap.Endpoints))
		c.rng.Shuffle(len(snap.Endpoints), func(i, j int) {
			snap.Endpoints[i], snap.Endpoints[j] = snap.Endpoints[j], snap.Endpoints[i]
		})
		c.snapshot = snap
		c.source = SourceBundle
		if err := writeDiskSnapshotAtomic(c.diskPath, c.snapshot); err != nil {
			// Per the spec's propagation policy, failure to persist after bundle adoption is
			// logged but not fatal: the process continues with the in-memory snapshot.
			c.loggers.Warnf(logMsgPersistAfterBundle, err)
		}
		return
	}

	c.loggers.Warn(logMsgBootstrapFromDefault)
	c.snapshot = Snapshot{Endpoints: []Endpoint{DefaultEndpoint}}
	c.source = SourceDefault
}

// CurrentEndpoint returns the head of the endpoint list. It never fails and never blocks
// beyond the short critical section needed to copy out one value.
func (c *Cache) CurrentEndpoint() Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot.Endpoints[0]
}

// LastUpdateTime returns the wall-clock time of the last successful refresh, or the zero time
// ("epoch-0") if the cache has never been successfully refreshed.
func (c *Cache) LastUpdateTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot.UpdatedAt
}

// Source returns the provenance of the current snapshot, for logging.
func (c *Cache) Source() Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source
}

// RotateAfterFailure moves failed to the tail of the list and returns the new head, but only
// if failed is still the current head; otherwise it leaves state unchanged and returns the
// current head. This makes rotation idempotent under concurrent retries: if two callers both
// observed the same failed endpoint and both call RotateAfterFailure, only the first rotates.
func (c *Cache) RotateAfterFailure(failed Endpoint) Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()

	head := c.snapshot.Endpoints[0]
	if !head.Equal(failed) {
		c.loggers.Debugf(logMsgRotateStale, failed)
		return head
	}

	rotated := make([]Endpoint, len(c.snapshot.Endpoints))
	copy(rotated, c.snapshot.Endpoints[1:])
	rotated[len(rotated)-1] = head
	c.snapshot.Endpoints = rotated

	if err := writeDiskSnapshotAtomic(c.diskPath, c.snapshot); err != nil {
		c.loggers.Errorf("Failed to persist rotated cache: %s", err)
	}
	c.loggers.Infof(logMsgRotated, failed, rotated[0])
	return rotated[0]
}

// ReplaceEndpoints installs a new candidate list, rejecting empty input. If the new set of
// endpoints (ignoring order) equals the stored set, only UpdatedAt is bumped. Otherwise the
// new list is shuffled uniformly and the previously-current endpoint, if present in the new
// set, is pinned back to the head before the result is persisted.
func (c *Cache) ReplaceEndpoints(now time.Time, next []Endpoint) error {
	if len(next) == 0 {
		return ErrEmptyList{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	previous := c.snapshot

	if sameEndpointSet(c.snapshot.Endpoints, next) {
		c.snapshot.UpdatedAt = now
		c.loggers.Info(logMsgReplacedUnchanged)
		return c.persistOrRollbackLocked(previous)
	}

	shuffled := make([]Endpoint, len(next))
	copy(shuffled, next)
	c.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	previousHead := previous.Endpoints[0]
	for i, e := range shuffled {
		if e.Equal(previousHead) {
			shuffled[0], shuffled[i] = shuffled[i], shuffled[0]
			break
		}
	}

	c.snapshot = Snapshot{UpdatedAt: now, Endpoints: shuffled}
	c.loggers.Infof(logMsgReplaced, len(shuffled))
	return c.persistOrRollbackLocked(previous)
}

// persistOrRollbackLocked writes the current snapshot to disk. Per the resolved ambiguity in
// the design notes, UpdatedAt reflects the last *persisted* update, not merely the last
// successful network fetch: if the write fails, the snapshot (including its timestamp) is
// rolled back to what it was before this call.
func (c *Cache) persistOrRollbackLocked(previous Snapshot) error {
	if err := writeDiskSnapshotAtomic(c.diskPath, c.snapshot); err != nil {
		c.snapshot = previous
		return err
	}
	return nil
}
