package circuit

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/logxpy/logxpy-go/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreaker(t *testing.T, cfg Config) *Breaker {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	m := metrics.New(prometheus.NewRegistry())
	return New(cfg, logger, m)
}

func TestBreaker_ClosedAllowsCalls(t *testing.T) {
	b := testBreaker(t, Config{Name: "test", FailureThreshold: 3, SuccessThreshold: 2, Timeout: 100 * time.Millisecond})

	err := b.Execute(func() error { return nil })

	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_OpensAfterFailureThreshold(t *testing.T) {
	b := testBreaker(t, Config{Name: "test", FailureThreshold: 3, SuccessThreshold: 2, Timeout: 100 * time.Millisecond})
	testErr := errors.New("destination unreachable")

	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return testErr })
	}
	assert.Equal(t, StateOpen, b.State())

	ran := false
	err := b.Execute(func() error { ran = true; return nil })
	assert.Error(t, err)
	assert.False(t, ran, "fn must not run while breaker is open")
}

func TestBreaker_TransitionsToHalfOpenAfterTimeout(t *testing.T) {
	b := testBreaker(t, Config{Name: "test", FailureThreshold: 2, SuccessThreshold: 2, Timeout: 50 * time.Millisecond, HalfOpenMaxCalls: 5})
	testErr := errors.New("destination unreachable")
	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return testErr })
	}
	require.Equal(t, StateOpen, b.State())

	time.Sleep(60 * time.Millisecond)

	var executed int32
	_ = b.Execute(func() error {
		atomic.AddInt32(&executed, 1)
		return nil
	})

	assert.Equal(t, StateHalfOpen, b.State())
	assert.EqualValues(t, 1, executed)
}

func TestBreaker_ClosesAfterHalfOpenSuccesses(t *testing.T) {
	b := testBreaker(t, Config{Name: "test", FailureThreshold: 2, SuccessThreshold: 2, Timeout: 50 * time.Millisecond, HalfOpenMaxCalls: 5})
	testErr := errors.New("destination unreachable")
	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return testErr })
	}
	time.Sleep(60 * time.Millisecond)

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Execute(func() error { return nil }))
	}

	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReturnsToOpen(t *testing.T) {
	b := testBreaker(t, Config{Name: "test", FailureThreshold: 2, SuccessThreshold: 2, Timeout: 50 * time.Millisecond, HalfOpenMaxCalls: 5})
	testErr := errors.New("destination unreachable")
	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return testErr })
	}
	time.Sleep(60 * time.Millisecond)

	_ = b.Execute(func() error { return nil })
	require.Equal(t, StateHalfOpen, b.State())

	_ = b.Execute(func() error { return testErr })
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_HalfOpenRespectsMaxCalls(t *testing.T) {
	b := testBreaker(t, Config{Name: "test", FailureThreshold: 2, SuccessThreshold: 5, Timeout: 50 * time.Millisecond, HalfOpenMaxCalls: 3})
	testErr := errors.New("destination unreachable")
	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return testErr })
	}
	time.Sleep(60 * time.Millisecond)

	var executed int32
	var rejected int
	for i := 0; i < 5; i++ {
		err := b.Execute(func() error {
			atomic.AddInt32(&executed, 1)
			return nil
		})
		if err != nil {
			rejected++
		}
	}

	assert.LessOrEqual(t, int(executed), 3)
	assert.Greater(t, rejected, 0)
}

func TestBreaker_ConcurrentCallsRunInParallel(t *testing.T) {
	b := testBreaker(t, Config{Name: "test", FailureThreshold: 100, SuccessThreshold: 2, Timeout: time.Second, HalfOpenMaxCalls: 50})

	const concurrentCalls = 10
	const sleepDuration = 50 * time.Millisecond

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrentCalls)
	for i := 0; i < concurrentCalls; i++ {
		go func() {
			defer wg.Done()
			_ = b.Execute(func() error {
				time.Sleep(sleepDuration)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Less(t, time.Since(start), sleepDuration*3, "Execute must not serialize calls on the state lock")
}

func TestBreaker_StateChangeCallbackFires(t *testing.T) {
	b := testBreaker(t, Config{Name: "test", FailureThreshold: 2, SuccessThreshold: 2, Timeout: 50 * time.Millisecond, HalfOpenMaxCalls: 5})

	var transitions []string
	var mu sync.Mutex
	b.SetStateChangeCallback(func(from, to State) {
		mu.Lock()
		transitions = append(transitions, from.String()+"->"+to.String())
		mu.Unlock()
	})

	testErr := errors.New("destination unreachable")
	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return testErr })
	}
	time.Sleep(60 * time.Millisecond)
	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return nil })
	}

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, len(transitions), 2)
}

func TestBreaker_ResetForcesClosed(t *testing.T) {
	b := testBreaker(t, Config{Name: "test", FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Minute})
	_ = b.Execute(func() error { return errors.New("boom") })
	require.Equal(t, StateOpen, b.State())

	b.Reset()

	assert.Equal(t, StateClosed, b.State())
	assert.False(t, b.IsOpen())
}
