// Package circuit implements the per-destination health breaker the
// writer worker wraps around each destination write (spec §4.8 enrichment):
// a destination that keeps failing stops being hammered and is given time
// to recover before writes resume.
//
// Grounded on the teacher's pkg/circuit/breaker.go: closed/open/half-open
// state machine with a three-phase Execute (pre-check under lock, run fn
// without the lock so concurrent breakers for different destinations never
// serialize on one lock, post-record under lock). Adapted from the
// teacher's types.CircuitBreakerState (an external package dependency on
// the teacher's own pkg/types, which this module's pkg/types no longer
// provides in that shape) to a self-contained State type, and wired to
// pkg/metrics instead of only logging state transitions.
package circuit

import (
	"fmt"
	"sync"
	"time"

	"github.com/logxpy/logxpy-go/pkg/metrics"
	"github.com/sirupsen/logrus"
)

// State is the breaker's position in the closed/open/half-open machine.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config configures a Breaker.
type Config struct {
	Name             string
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	HalfOpenMaxCalls int
}

func (c *Config) setDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 10
	}
}

// Breaker is a circuit breaker guarding a single destination.
type Breaker struct {
	config  Config
	logger  *logrus.Logger
	metrics *metrics.Registry

	mu                sync.Mutex
	state             State
	failures          int64
	successes         int64
	nextRetryTime     time.Time
	halfOpenCalls     int
	halfOpenSuccesses int
	halfOpenStartTime time.Time

	onStateChange func(from, to State)
}

// New constructs a Breaker for the named destination. logger and m may be nil.
func New(config Config, logger *logrus.Logger, m *metrics.Registry) *Breaker {
	config.setDefaults()
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	b := &Breaker{config: config, logger: logger, metrics: m}
	if m != nil {
		m.CircuitBreakerState.WithLabelValues(config.Name).Set(float64(StateClosed))
	}
	return b
}

// Execute runs fn under the breaker's protection. fn is not called at all
// when the breaker is open and the retry deadline hasn't elapsed, or when
// half-open call admission is exhausted.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	if b.state == StateOpen {
		if time.Now().Before(b.nextRetryTime) {
			b.mu.Unlock()
			return fmt.Errorf("circuit breaker %s is open", b.config.Name)
		}
		b.setState(StateHalfOpen)
		b.halfOpenCalls = 0
		b.halfOpenSuccesses = 0
		b.halfOpenStartTime = time.Now()
	}
	if b.state == StateHalfOpen {
		if time.Since(b.halfOpenStartTime) > b.config.Timeout*2 {
			b.trip()
			b.mu.Unlock()
			return fmt.Errorf("circuit breaker %s half-open probe timed out", b.config.Name)
		}
		if b.halfOpenCalls >= b.config.HalfOpenMaxCalls {
			b.mu.Unlock()
			return fmt.Errorf("circuit breaker %s half-open call limit reached", b.config.Name)
		}
		b.halfOpenCalls++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		if b.state == StateHalfOpen {
			b.trip()
		} else if b.state == StateClosed && b.failures >= int64(b.config.FailureThreshold) {
			b.trip()
		}
		return err
	}

	b.successes++
	switch b.state {
	case StateHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.config.SuccessThreshold {
			b.setState(StateClosed)
			b.resetCounters()
		}
	case StateClosed:
		if b.failures > 0 {
			b.failures--
		}
	}
	return nil
}

func (b *Breaker) trip() {
	if b.state == StateOpen {
		return
	}
	b.setState(StateOpen)
	b.nextRetryTime = time.Now().Add(b.config.Timeout)
	b.logger.WithFields(logrus.Fields{
		"breaker":  b.config.Name,
		"failures": b.failures,
	}).Warn("circuit breaker opened")
}

func (b *Breaker) resetCounters() {
	b.failures = 0
	b.halfOpenCalls = 0
	b.halfOpenSuccesses = 0
	b.nextRetryTime = time.Time{}
}

func (b *Breaker) setState(newState State) {
	if b.state == newState {
		return
	}
	old := b.state
	b.state = newState
	if b.onStateChange != nil {
		b.onStateChange(old, newState)
	}
	if b.metrics != nil {
		b.metrics.CircuitBreakerState.WithLabelValues(b.config.Name).Set(float64(newState))
	}
	b.logger.WithFields(logrus.Fields{
		"breaker":   b.config.Name,
		"old_state": old.String(),
		"new_state": newState.String(),
	}).Info("circuit breaker state changed")
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen reports whether the breaker is currently rejecting calls outright.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateOpen
}

// Reset forces the breaker back to closed, e.g. after an operator-confirmed
// destination recovery.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(StateClosed)
	b.resetCounters()
}

// SetStateChangeCallback installs a hook invoked on every state transition.
func (b *Breaker) SetStateChangeCallback(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}
