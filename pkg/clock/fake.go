package clock

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Fake wraps benbjohnson/clock's mock clock (an indirect dependency of the
// teacher's go.mod, promoted to direct here since this package is the only
// place that drives it) so tests can deterministically exercise deadline,
// interval, and backoff timing without real sleeps.
type Fake struct {
	mock *clock.Mock
}

// NewFake returns a Fake clock initialized to the given wall time.
func NewFake(start time.Time) *Fake {
	m := clock.NewMock()
	m.Set(start)
	return &Fake{mock: m}
}

func (f *Fake) Now() time.Time       { return f.mock.Now() }
func (f *Fake) Monotonic() time.Time { return f.mock.Now() }

// Advance moves the fake clock forward by d, firing any timers/tickers
// created against it via NewTimer/NewTicker (see Timer/Ticker below).
func (f *Fake) Advance(d time.Duration) { f.mock.Add(d) }

// NewTimer creates a timer driven by this fake clock.
func (f *Fake) NewTimer(d time.Duration) *clock.Timer { return f.mock.Timer(d) }

// NewTicker creates a ticker driven by this fake clock.
func (f *Fake) NewTicker(d time.Duration) *clock.Ticker { return f.mock.Ticker(d) }
