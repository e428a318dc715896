// Package admission implements the optional adaptive admission advisory
// described in SPEC_FULL.md §4.7: a continuous queue-utilization score that
// climbs through none/low/medium/high/critical levels and, at the critical
// level, tells the facade to synchronously degrade a record (drop its
// optional fields and write it straight to the destinations) instead of
// letting it take the normal async enqueue path.
//
// This does not replace any of pkg/queue's four backpressure policies
// (BLOCK/DROP_OLDEST/DROP_NEWEST/WARN still decide what happens to a record
// that is actually enqueued); it is an additional knob layered in front of
// enqueue, off unless explicitly enabled.
//
// Grounded on the teacher's pkg/backpressure/manager.go threshold/hysteresis
// state machine (score -> level, cooldown between changes, stabilize window
// before dropping back down), trimmed from five blended metrics
// (queue/memory/CPU/IO/error-rate, none of which this module collects except
// queue) down to the one signal this pipeline actually has: queue
// utilization.
package admission

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Level is the current admission pressure tier.
type Level int

const (
	LevelNone Level = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Config configures the thresholds (as a fraction of queue capacity) at
// which the level steps up, and the hysteresis that keeps it from
// flapping.
type Config struct {
	LowThreshold      float64
	MediumThreshold   float64
	HighThreshold     float64
	CriticalThreshold float64

	StabilizeTime time.Duration
	CooldownTime  time.Duration
}

func (c *Config) setDefaults() {
	if c.LowThreshold <= 0 {
		c.LowThreshold = 0.6
	}
	if c.MediumThreshold <= 0 {
		c.MediumThreshold = 0.75
	}
	if c.HighThreshold <= 0 {
		c.HighThreshold = 0.9
	}
	if c.CriticalThreshold <= 0 {
		c.CriticalThreshold = 0.95
	}
	if c.StabilizeTime <= 0 {
		c.StabilizeTime = 30 * time.Second
	}
	if c.CooldownTime <= 0 {
		c.CooldownTime = 10 * time.Second
	}
}

// Manager tracks the admission level derived from queue utilization
// samples fed in via Update.
type Manager struct {
	config Config
	logger *logrus.Logger

	mu              sync.RWMutex
	currentLevel    Level
	lastLevelChange time.Time
	lastUtilization float64
	stabilizeUntil  time.Time
}

// New builds a Manager. logger may be nil, in which case level changes are
// not logged.
func New(config Config, logger *logrus.Logger) *Manager {
	config.setDefaults()
	return &Manager{config: config, logger: logger}
}

// Update records the current queue utilization (0.0-1.0) and advances the
// level state machine.
func (m *Manager) Update(utilization float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastUtilization = utilization
	newLevel := m.levelFor(utilization)

	if time.Since(m.lastLevelChange) < m.config.CooldownTime {
		return
	}
	if time.Now().Before(m.stabilizeUntil) && newLevel != m.currentLevel {
		return
	}
	if newLevel == m.currentLevel {
		return
	}

	old := m.currentLevel
	m.currentLevel = newLevel
	m.lastLevelChange = time.Now()
	m.stabilizeUntil = time.Now().Add(m.config.StabilizeTime)

	if m.logger != nil {
		m.logger.WithFields(logrus.Fields{
			"old_level":        old.String(),
			"new_level":        newLevel.String(),
			"queue_utilization": utilization,
		}).Info("admission level changed")
	}
}

func (m *Manager) levelFor(utilization float64) Level {
	switch {
	case utilization >= m.config.CriticalThreshold:
		return LevelCritical
	case utilization >= m.config.HighThreshold:
		return LevelHigh
	case utilization >= m.config.MediumThreshold:
		return LevelMedium
	case utilization >= m.config.LowThreshold:
		return LevelLow
	default:
		return LevelNone
	}
}

// Level returns the current admission level.
func (m *Manager) Level() Level {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentLevel
}

// ShouldDegrade reports whether records should have their optional fields
// dropped and be routed synchronously rather than enqueued normally.
func (m *Manager) ShouldDegrade() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentLevel >= LevelCritical
}

// ShouldWarn reports whether the pipeline is under enough pressure to be
// worth surfacing in diagnostics, without yet requiring degradation.
func (m *Manager) ShouldWarn() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentLevel >= LevelHigh
}

// Reset returns the manager to LevelNone immediately, bypassing cooldown.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentLevel = LevelNone
	m.lastLevelChange = time.Now()
}
