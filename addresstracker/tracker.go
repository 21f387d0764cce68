// Package addresstracker drives periodic refresh of an addresscache.Cache by asking the API
// for its current address list, and coordinates retry backoff and hand-off to a host-provided
// background-task scheduler.
package addresstracker

import (
	"context"
	"sync"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/mullvad/api-core/addresscache"
	"github.com/mullvad/api-core/internal/clock"
	"github.com/mullvad/api-core/internal/corelog"
)

// UpdateInterval is how often the tracker refreshes the address cache on success.
const UpdateInterval = 24 * time.Hour

// RetryInterval is how soon the tracker retries after a failed or cancelled update.
const RetryInterval = 15 * time.Minute

// Result is the three-way outcome of one update attempt, mirroring the completion-outcome
// type used throughout this module: success carries a sub-variant (finished vs throttled),
// failure and cancellation are distinct from each other and from success.
type Result int

const (
	ResultFinished Result = iota
	ResultThrottled
	ResultFailed
	ResultCancelled
)

func (r Result) String() string {
	switch r {
	case ResultFinished:
		return "finished"
	case ResultThrottled:
		return "throttled"
	case ResultFailed:
		return "failed"
	case ResultCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Fetcher retrieves the current address list from the API. In production this is implemented
// on top of the Operation Engine (restop.Engine); it is expressed as an interface here so the
// tracker has no compile-time dependency on the engine package.
type Fetcher interface {
	FetchEndpoints(ctx context.Context) ([]addresscache.Endpoint, error)
}

// Tracker periodically refreshes cache by calling fetcher, per the scheduling algorithm in the
// component design: success reschedules at cache.LastUpdateTime()+UpdateInterval, failure or
// cancellation reschedules at now+RetryInterval. Exactly one timer is armed at a time.
type Tracker struct {
	cache   *addresscache.Cache
	fetcher Fetcher
	clock   clock.Clock
	loggers ldlog.Loggers

	mu            sync.Mutex
	running       bool
	timer         clock.Timer
	lastFailureAt time.Time
	stopCh        chan struct{}
}

// Option configures a Tracker at construction.
type Option func(*Tracker)

// WithLoggers injects a logger bundle; the default is a disabled logger.
func WithLoggers(loggers ldlog.Loggers) Option {
	return func(t *Tracker) { t.loggers = loggers }
}

// WithClock injects the Clock used for scheduling; the default is the real wall clock.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// New constructs a Tracker. It does not start anything; call Start to begin the internal
// periodic loop, or use RegisterBackgroundTask/ScheduleBackgroundTask to drive updates from a
// host scheduler instead.
func New(cache *addresscache.Cache, fetcher Fetcher, opts ...Option) *Tracker {
	t := &Tracker{
		cache:   cache,
		fetcher: fetcher,
		clock:   clock.Real(),
		loggers: corelog.Disabled(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.loggers = corelog.WithPrefix(t.loggers, "[AddressTracker]")
	return t
}

// Start begins the internal periodic update loop. Starting while already running is a no-op.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		t.loggers.Debug(logMsgStartIgnored)
		return
	}
	t.running = true
	t.stopCh = make(chan struct{})
	t.mu.Unlock()

	t.runOnceAndReschedule(ctx)
}

// Stop cancels any armed timer. It is safe to call multiple times and from any goroutine.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.running = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	close(t.stopCh)
	t.loggers.Info(logMsgStopped)
}

func (t *Tracker) runOnceAndReschedule(ctx context.Context) {
	result := t.updateOnce(ctx)
	delay := t.nextDelay(result)

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	stopCh := t.stopCh
	t.timer = t.clock.AfterFunc(delay, func() {
		select {
		case <-stopCh:
			return
		default:
		}
		t.runOnceAndReschedule(ctx)
	})
}

// nextDelay implements the scheduling algorithm: success (finished or throttled) schedules
// relative to the cache's last persisted update time; failure or cancellation schedules a
// fixed RetryInterval from now and records lastFailureAt.
func (t *Tracker) nextDelay(result Result) time.Duration {
	now := t.clock.Now()
	switch result {
	case ResultFinished, ResultThrottled:
		t.mu.Lock()
		t.lastFailureAt = time.Time{}
		t.mu.Unlock()
		next := t.cache.LastUpdateTime().Add(UpdateInterval)
		delay := next.Sub(now)
		if delay < 0 {
			delay = 0
		}
		t.loggers.Debugf(logMsgScheduledAfter, result, now.Add(delay))
		return delay
	default:
		t.mu.Lock()
		t.lastFailureAt = now
		t.mu.Unlock()
		t.loggers.Debugf(logMsgScheduledAfter, result, now.Add(RetryInterval))
		return RetryInterval
	}
}

// updateOnce runs a single refresh attempt, throttled at the source: if the cache was updated
// within UpdateInterval of now, it short-circuits with ResultThrottled and issues no network
// request at all.
func (t *Tracker) updateOnce(ctx context.Context) Result {
	now := t.clock.Now()
	if since := now.Sub(t.cache.LastUpdateTime()); since < UpdateInterval {
		t.loggers.Debugf(logMsgThrottled, t.cache.LastUpdateTime(), t.cache.LastUpdateTime().Add(UpdateInterval))
		return ResultThrottled
	}

	endpoints, err := t.fetcher.FetchEndpoints(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ResultCancelled
		}
		t.loggers.Warnf("Address update failed: %s", err)
		return ResultFailed
	}

	if err := t.cache.ReplaceEndpoints(t.clock.Now(), endpoints); err != nil {
		t.loggers.Warnf("Address update fetched successfully but failed to persist: %s", err)
		return ResultFailed
	}
	return ResultFinished
}

// TrackerOutcome is what a background-task handler reports back to the host scheduler after
// one invocation: the update's outcome and the time at which the host should invoke the
// handler again.
type TrackerOutcome struct {
	Result Result
	Next   time.Time
}

// RegisterBackgroundTask is the adapter a host's own background-task facility calls instead of
// using the internal Start/Stop loop. It hands register a handler closure: the host invokes
// that closure on whatever schedule it chooses, the closure runs a single update, reschedules
// the next invocation, and reports completion back to the host as a TrackerOutcome.
// Cancelling the context passed to the handler maps to the update being cancelled, per spec.
func (t *Tracker) RegisterBackgroundTask(register func(handler func(context.Context) TrackerOutcome)) {
	register(t.runBackgroundHandler)
}

// ScheduleBackgroundTask is the companion adapter: it hands schedule the time at which the host
// should next invoke the registered handler, computed from the cache's last successful update.
// A host calls this once, at startup or after registering, to arm the first invocation without
// having run an update itself.
func (t *Tracker) ScheduleBackgroundTask(schedule func(next time.Time)) {
	schedule(t.nextScheduledTime())
}

func (t *Tracker) runBackgroundHandler(ctx context.Context) TrackerOutcome {
	result := t.updateOnce(ctx)
	delay := t.nextDelay(result)
	return TrackerOutcome{Result: result, Next: t.clock.Now().Add(delay)}
}

func (t *Tracker) nextScheduledTime() time.Time {
	now := t.clock.Now()
	next := t.cache.LastUpdateTime().Add(UpdateInterval)
	if next.Before(now) {
		return now
	}
	return next
}

// LastFailureTime returns the time of the most recent failed or cancelled update, or the zero
// time if the most recent update succeeded (or none has run yet).
func (t *Tracker) LastFailureTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastFailureAt
}
