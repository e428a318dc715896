package supervisor

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/logxpy/logxpy-go/pkg/batchctl"
	"github.com/logxpy/logxpy-go/pkg/metrics"
	"github.com/logxpy/logxpy-go/pkg/queue"
	"github.com/logxpy/logxpy-go/pkg/writer"
)

// TestMain verifies that no worker/supervisor goroutine outlives its test:
// a restart loop or a writer goroutine that fails to exit on Shutdown would
// otherwise only surface as flaky tests elsewhere in the suite.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testMetrics() *metrics.Registry {
	return metrics.New(prometheus.NewRegistry())
}

type recordingDest struct {
	mu  sync.Mutex
	got [][]byte
}

func (d *recordingDest) Name() string { return "rec" }
func (d *recordingDest) WriteBatch(batch [][]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, batch...)
	return nil
}
func (d *recordingDest) IsHealthy() bool { return true }
func (d *recordingDest) Close() error    { return nil }
func (d *recordingDest) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.got)
}

func TestSupervisor_StartsAndFlushesThroughWriter(t *testing.T) {
	q := queue.New(100, queue.PolicyBlock, testMetrics())
	dest := &recordingDest{}
	factory := func() *writer.Worker {
		ctrl := batchctl.New(batchctl.Config{Mode: batchctl.ModeTrigger, BatchSize: 1000})
		return writer.New(q, writer.Config{Controller: ctrl, Destinations: []*writer.Registered{{Name: "rec", Batch: dest}}}, testLogger(), testMetrics())
	}

	s := New(q, factory, nil, Config{}, testLogger(), testMetrics())
	s.Start()

	require.NoError(t, s.Write(context.Background(), []byte("hello\n")))
	require.NoError(t, s.Flush(time.Second))

	assert.Equal(t, 1, dest.count())
	assert.True(t, s.IsAsync())

	require.NoError(t, s.Shutdown(2*time.Second))
}

// panicDestination panics on its first WriteBatch call to exercise the
// supervisor's crash-restart path, then behaves once restarted.
type panicDestination struct {
	mu      sync.Mutex
	calls   int
	succeed bool
}

func (d *panicDestination) Name() string { return "panic" }
func (d *panicDestination) WriteBatch(batch [][]byte) error {
	d.mu.Lock()
	d.calls++
	shouldPanic := !d.succeed
	d.mu.Unlock()
	if shouldPanic {
		panic("simulated destination failure")
	}
	return nil
}
func (d *panicDestination) IsHealthy() bool { return true }
func (d *panicDestination) Close() error    { return nil }

func TestSupervisor_CrashRestartsWriterGoroutine(t *testing.T) {
	q := queue.New(100, queue.PolicyBlock, testMetrics())
	dest := &panicDestination{}

	var built int32
	factory := func() *writer.Worker {
		n := atomic.AddInt32(&built, 1)
		if n > 1 {
			dest.mu.Lock()
			dest.succeed = true
			dest.mu.Unlock()
		}
		ctrl := batchctl.New(batchctl.Config{Mode: batchctl.ModeTrigger, BatchSize: 1})
		return writer.New(q, writer.Config{Controller: ctrl, Destinations: []*writer.Registered{{Name: "panic", Batch: dest}}}, testLogger(), testMetrics())
	}

	s := New(q, factory, nil, Config{InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}, testLogger(), testMetrics())
	s.Start()

	require.NoError(t, s.Write(context.Background(), []byte("x\n")))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&built) >= 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Shutdown(time.Second))
}

func TestSupervisor_FallsBackToSyncAfterRestartLimitExceeded(t *testing.T) {
	q := queue.New(100, queue.PolicyBlock, testMetrics())
	dest := &panicDestination{} // never recovers: succeed stays false

	factory := func() *writer.Worker {
		ctrl := batchctl.New(batchctl.Config{Mode: batchctl.ModeTrigger, BatchSize: 1})
		return writer.New(q, writer.Config{Controller: ctrl, Destinations: []*writer.Registered{{Name: "panic", Batch: dest}}}, testLogger(), testMetrics())
	}

	var syncCalls int32
	syncWrite := func(record []byte) error {
		atomic.AddInt32(&syncCalls, 1)
		return nil
	}

	s := New(q, factory, syncWrite, Config{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		MaxAttempts:    2,
	}, testLogger(), testMetrics())
	s.Start()

	require.NoError(t, s.Write(context.Background(), []byte("x\n")))

	require.Eventually(t, func() bool {
		return !s.IsAsync()
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Write(context.Background(), []byte("y\n")))
	assert.Equal(t, int32(1), atomic.LoadInt32(&syncCalls))
}
