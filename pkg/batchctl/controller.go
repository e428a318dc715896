// Package batchctl is the flush controller (spec §4.6, component C8): given
// the writer worker's batch state, it decides which of the five
// priority-ordered triggers fires, and optionally adapts batch size and
// flush interval to the observed record rate (spec §4.6 "Adaptive tuning").
//
// Grounded on the teacher's pkg/batching/adaptive_batcher.go: atomic
// current-batch-size/current-flush-delay state, an exponential-moving-
// average latency/throughput estimator, and a periodic adaptation loop that
// nudges parameters toward configured bounds. Reshaped from the teacher's
// "batcher that also owns the batch slice and a flush channel" into a pure
// decision component — spec §4.6 gives the worker goroutine itself
// ownership of the batch buffer ("no other thread touches the batch"), so
// batchctl.Controller holds no records, only the trigger/timing state.
package batchctl

import (
	"sync"
	"time"
)

// Mode is the writer's wake-up discipline (spec §4.6), fixed at
// configuration time.
type Mode int

const (
	// ModeTrigger blocks on the queue pop and wakes per message. Default.
	ModeTrigger Mode = iota
	// ModeLoop wakes on a fixed tick interval regardless of arrivals.
	ModeLoop
	// ModeManual only flushes when the consumer explicitly signals it.
	ModeManual
)

func (m Mode) String() string {
	switch m {
	case ModeTrigger:
		return "trigger"
	case ModeLoop:
		return "loop"
	case ModeManual:
		return "manual"
	default:
		return "unknown"
	}
}

// Trigger identifies which of the five priority-ordered conditions (spec
// §4.6) caused Evaluate to recommend a flush.
type Trigger int

const (
	TriggerNone Trigger = iota
	TriggerExplicit
	TriggerDeadline
	TriggerBatchSize
	TriggerInterval
	TriggerShutdown
)

func (t Trigger) String() string {
	switch t {
	case TriggerExplicit:
		return "explicit"
	case TriggerDeadline:
		return "deadline"
	case TriggerBatchSize:
		return "batch_size"
	case TriggerInterval:
		return "interval"
	case TriggerShutdown:
		return "shutdown"
	default:
		return "none"
	}
}

// AdaptiveConfig bounds the optional rate-based tuning of batch size and
// flush interval. Explicit Config fields are the hard clamp: the tuner
// never proposes a batch size or interval outside [MinBatchSize,
// MaxBatchSize] / [MinInterval, MaxInterval].
type AdaptiveConfig struct {
	Enabled       bool
	MinBatchSize  int
	MaxBatchSize  int
	MinInterval   time.Duration
	MaxInterval   time.Duration
	HighRateFloor float64 // records/sec above which batch size grows
	LowRateCeil   float64 // records/sec below which batch size shrinks
}

// Config configures a Controller.
type Config struct {
	Mode             Mode
	BatchSize        int           // 0 disables the batch-size trigger
	BatchInterval    time.Duration // 0 disables the interval trigger
	MaxRecordAge     time.Duration // 0 disables the deadline trigger
	LoopTickInterval time.Duration // ModeLoop's fixed wake-up period
	Adaptive         AdaptiveConfig
}

func (c *Config) setDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 0 // explicit: disabled unless configured
	}
	if c.LoopTickInterval <= 0 {
		c.LoopTickInterval = time.Second
	}
	if c.Adaptive.Enabled {
		if c.Adaptive.MinBatchSize <= 0 {
			c.Adaptive.MinBatchSize = 1
		}
		if c.Adaptive.MaxBatchSize <= 0 {
			c.Adaptive.MaxBatchSize = 1000
		}
		if c.Adaptive.MinInterval <= 0 {
			c.Adaptive.MinInterval = 10 * time.Millisecond
		}
		if c.Adaptive.MaxInterval <= 0 {
			c.Adaptive.MaxInterval = 10 * time.Second
		}
		if c.Adaptive.HighRateFloor <= 0 {
			c.Adaptive.HighRateFloor = 1000
		}
		if c.Adaptive.LowRateCeil <= 0 {
			c.Adaptive.LowRateCeil = 100
		}
	}
}

// Controller is the flush decision component shared by the writer worker.
// It never touches record payloads — the worker owns the batch slice.
type Controller struct {
	config Config

	mu               sync.Mutex
	currentBatchSize int
	currentInterval  time.Duration
	lastFlush        time.Time
	rate             float64 // exponential moving average of records/sec
}

// New constructs a Controller. The initial batch size/interval equal the
// static config; adaptive tuning only ever moves them within the configured
// bounds.
func New(config Config) *Controller {
	config.setDefaults()
	return &Controller{
		config:           config,
		currentBatchSize: config.BatchSize,
		currentInterval:  config.BatchInterval,
		lastFlush:        time.Now(),
	}
}

// Mode returns the configured wake-up discipline.
func (c *Controller) Mode() Mode { return c.config.Mode }

// BatchSize returns the currently effective batch-size trigger threshold
// (may differ from the static config if adaptive tuning is enabled).
func (c *Controller) BatchSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentBatchSize
}

// Interval returns the currently effective batch-interval trigger
// threshold.
func (c *Controller) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentInterval
}

// Evaluate applies the five priority-ordered triggers (spec §4.6) to the
// worker's current batch state and returns the highest-priority one that
// fires, or TriggerNone if the worker should keep accumulating.
func (c *Controller) Evaluate(batchLen int, oldestEnqueued time.Time, explicitRequested, sentinelSeen bool) Trigger {
	if explicitRequested {
		return TriggerExplicit
	}
	if batchLen == 0 {
		if sentinelSeen {
			return TriggerShutdown
		}
		return TriggerNone
	}
	if c.config.MaxRecordAge > 0 && !oldestEnqueued.IsZero() && time.Since(oldestEnqueued) >= c.config.MaxRecordAge {
		return TriggerDeadline
	}

	c.mu.Lock()
	batchSize := c.currentBatchSize
	interval := c.currentInterval
	lastFlush := c.lastFlush
	c.mu.Unlock()

	if batchSize > 0 && batchLen >= batchSize {
		return TriggerBatchSize
	}
	if interval > 0 && time.Since(lastFlush) >= interval {
		return TriggerInterval
	}
	if sentinelSeen {
		return TriggerShutdown
	}
	return TriggerNone
}

// NextWaitTimeout bounds how long the worker's blocking queue pop should
// wait before re-evaluating triggers: the remaining time until the
// interval trigger would fire. The deadline trigger is not considered
// here. ModeLoop instead always waits a fixed tick.
func (c *Controller) NextWaitTimeout() time.Duration {
	if c.config.Mode == ModeLoop {
		return c.config.LoopTickInterval
	}

	c.mu.Lock()
	interval := c.currentInterval
	lastFlush := c.lastFlush
	c.mu.Unlock()

	if interval <= 0 {
		return 0 // block indefinitely; only size/deadline/shutdown triggers apply
	}
	remaining := interval - time.Since(lastFlush)
	if remaining <= 0 {
		return time.Millisecond
	}
	return remaining
}

// RecordFlush tells the controller a batch of n records was just flushed,
// resetting the interval clock and feeding the adaptive rate estimator.
func (c *Controller) RecordFlush(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(c.lastFlush).Seconds()
	c.lastFlush = now
	if elapsed <= 0 {
		return
	}
	instantRate := float64(n) / elapsed
	if c.rate == 0 {
		c.rate = instantRate
	} else {
		c.rate = c.rate*0.9 + instantRate*0.1
	}

	if !c.config.Adaptive.Enabled {
		return
	}
	a := c.config.Adaptive
	switch {
	case c.rate >= a.HighRateFloor:
		if c.config.BatchSize > 0 && c.currentBatchSize < a.MaxBatchSize {
			c.currentBatchSize = minInt(a.MaxBatchSize, c.currentBatchSize*12/10+1)
		}
		if c.config.BatchInterval > 0 && c.currentInterval > a.MinInterval {
			c.currentInterval = maxDuration(a.MinInterval, c.currentInterval*8/10)
		}
	case c.rate <= a.LowRateCeil:
		if c.config.BatchSize > 0 && c.currentBatchSize > a.MinBatchSize {
			c.currentBatchSize = maxInt(a.MinBatchSize, c.currentBatchSize*8/10)
		}
		if c.config.BatchInterval > 0 && c.currentInterval < a.MaxInterval {
			c.currentInterval = minDuration(a.MaxInterval, c.currentInterval*11/10+1)
		}
	}
}

// Rate returns the current exponential-moving-average flush rate in
// records/sec, for observability.
func (c *Controller) Rate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
