package accesstoken

import (
	"sync"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/mullvad/api-core/internal/masking"
)

// expiryWatcher proactively evicts a cached TokenRecord from the Manager's store the instant
// its expiry passes, rather than waiting for the next GetToken call to notice. This keeps an
// idle Manager's store from holding onto records no caller will ever look at again, and logs
// the transition the way a credential's deprecation-to-expiry transition is logged elsewhere
// in this codebase.
type expiryWatcher struct {
	loggers ldlog.Loggers
	now     func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newExpiryWatcher(loggers ldlog.Loggers, now func() time.Time) *expiryWatcher {
	return &expiryWatcher{
		loggers: loggers,
		now:     now,
		timers:  make(map[string]*time.Timer),
	}
}

// Watch (re)schedules eviction of accountID's record at expiry. Any previously scheduled timer
// for the same account is replaced, since only the current record's expiry matters.
func (w *expiryWatcher) Watch(accountID string, expiry time.Time, onExpiry func(accountID string)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.timers[accountID]; ok {
		existing.Stop()
	}
	w.loggers.Debugf(logMsgScheduledEviction, masking.Obscure(accountID), expiry)
	w.timers[accountID] = time.AfterFunc(expiry.Sub(w.now()), func() {
		w.loggers.Debugf(logMsgEvicted, masking.Obscure(accountID))
		onExpiry(accountID)
	})
}

// Stop cancels every pending eviction timer, for use during shutdown.
func (w *expiryWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, t := range w.timers {
		t.Stop()
	}
}
