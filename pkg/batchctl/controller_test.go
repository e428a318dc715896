package batchctl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestController_ExplicitTriggerOutranksEverything(t *testing.T) {
	c := New(Config{Mode: ModeTrigger, BatchSize: 100, BatchInterval: time.Hour})
	trig := c.Evaluate(1, time.Now(), true, false)
	assert.Equal(t, TriggerExplicit, trig)
}

func TestController_DeadlineOutranksBatchSizeAndInterval(t *testing.T) {
	c := New(Config{Mode: ModeTrigger, BatchSize: 100, BatchInterval: time.Hour, MaxRecordAge: 10 * time.Millisecond})
	old := time.Now().Add(-20 * time.Millisecond)
	trig := c.Evaluate(1, old, false, false)
	assert.Equal(t, TriggerDeadline, trig)
}

func TestController_BatchSizeTriggerFiresAtThreshold(t *testing.T) {
	c := New(Config{Mode: ModeTrigger, BatchSize: 5})
	assert.Equal(t, TriggerNone, c.Evaluate(4, time.Now(), false, false))
	assert.Equal(t, TriggerBatchSize, c.Evaluate(5, time.Now(), false, false))
}

func TestController_IntervalTriggerFiresAfterElapsed(t *testing.T) {
	c := New(Config{Mode: ModeTrigger, BatchInterval: 20 * time.Millisecond})
	assert.Equal(t, TriggerNone, c.Evaluate(1, time.Time{}, false, false))
	time.Sleep(25 * time.Millisecond)
	assert.Equal(t, TriggerInterval, c.Evaluate(1, time.Time{}, false, false))
}

func TestController_ShutdownFiresOnEmptyBatchWithSentinel(t *testing.T) {
	c := New(Config{Mode: ModeTrigger})
	assert.Equal(t, TriggerShutdown, c.Evaluate(0, time.Time{}, false, true))
}

func TestController_ZeroBatchSizeDisablesTrigger(t *testing.T) {
	c := New(Config{Mode: ModeTrigger, BatchSize: 0})
	assert.Equal(t, TriggerNone, c.Evaluate(10000, time.Time{}, false, false))
}

func TestController_LoopModeUsesFixedTick(t *testing.T) {
	c := New(Config{Mode: ModeLoop, LoopTickInterval: 250 * time.Millisecond})
	assert.Equal(t, 250*time.Millisecond, c.NextWaitTimeout())
}

func TestController_AdaptiveGrowsBatchSizeUnderHighRate(t *testing.T) {
	c := New(Config{
		Mode:          ModeTrigger,
		BatchSize:     10,
		BatchInterval: 100 * time.Millisecond,
		Adaptive: AdaptiveConfig{
			Enabled:       true,
			MinBatchSize:  5,
			MaxBatchSize:  1000,
			MinInterval:   10 * time.Millisecond,
			MaxInterval:   time.Second,
			HighRateFloor: 100,
			LowRateCeil:   10,
		},
	})

	time.Sleep(5 * time.Millisecond)
	c.RecordFlush(1000) // very high instantaneous rate

	assert.Greater(t, c.BatchSize(), 10)
}

func TestController_AdaptiveNeverExceedsConfiguredMax(t *testing.T) {
	c := New(Config{
		Mode:      ModeTrigger,
		BatchSize: 990,
		Adaptive: AdaptiveConfig{
			Enabled:       true,
			MinBatchSize:  5,
			MaxBatchSize:  1000,
			HighRateFloor: 1,
		},
	})
	for i := 0; i < 20; i++ {
		time.Sleep(time.Millisecond)
		c.RecordFlush(1000)
	}
	assert.LessOrEqual(t, c.BatchSize(), 1000)
}
