package admission

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestLevelClimbsWithUtilization(t *testing.T) {
	m := New(Config{CooldownTime: time.Microsecond, StabilizeTime: time.Microsecond}, testLogger())

	m.Update(0.1)
	assert.Equal(t, LevelNone, m.Level())

	time.Sleep(2 * time.Millisecond)
	m.Update(0.97)
	assert.Equal(t, LevelCritical, m.Level())
}

func TestShouldDegradeOnlyAtCritical(t *testing.T) {
	m := New(Config{CooldownTime: time.Microsecond, StabilizeTime: time.Microsecond}, testLogger())

	m.Update(0.8)
	time.Sleep(2 * time.Millisecond)
	m.Update(0.92)
	assert.False(t, m.ShouldDegrade())
	assert.True(t, m.ShouldWarn())

	time.Sleep(2 * time.Millisecond)
	m.Update(0.99)
	assert.True(t, m.ShouldDegrade())
}

func TestResetReturnsToNone(t *testing.T) {
	m := New(Config{CooldownTime: time.Microsecond, StabilizeTime: time.Microsecond}, testLogger())
	m.Update(0.99)
	m.Reset()
	assert.Equal(t, LevelNone, m.Level())
}

func TestCooldownSuppressesRapidFlapping(t *testing.T) {
	m := New(Config{CooldownTime: time.Hour, StabilizeTime: time.Hour}, testLogger())
	m.Update(0.99)
	assert.Equal(t, LevelCritical, m.Level())

	// A drop back to near-zero utilization immediately after should not
	// register: the cooldown window blocks the next level change.
	m.Update(0.01)
	assert.Equal(t, LevelCritical, m.Level())
}
