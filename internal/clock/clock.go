// Package clock provides an injectable notion of wall-clock time and a source of randomness,
// so that components with time-dependent behavior (token expiry, cache shuffling, retry
// backoff) can be driven deterministically in tests.
package clock

import (
	"math/rand"
	"time"
)

// Clock is implemented by anything that can report the current time and arm a timer.
//
// The real implementation simply delegates to the time package; tests supply a fake that
// advances only when told to.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the subset of *time.Timer that callers need: the ability to cancel it.
type Timer interface {
	Stop() bool
}

type realClock struct{}

// Real returns the Clock implementation backed by the time package.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Rand is the subset of *rand.Rand used by the address cache to shuffle candidate endpoints.
// Production code seeds a real PRNG at construction; tests inject a deterministic one.
type Rand interface {
	Shuffle(n int, swap func(i, j int))
}

// NewRand returns a Rand seeded from the current time, suitable for production use.
func NewRand() Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
