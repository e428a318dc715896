package writer

import (
	"context"
	"io"
	"sync"
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
)

// TestMain catches a worker goroutine that fails to exit when its Run loop
// should have returned (e.g. Done() closed but the goroutine itself wedged).
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

// fakeDestination records every batch it receives.
type fakeDestination struct {
	name string
	mu   sync.Mutex
	got  [][][]byte
	fail bool
}

func (f *fakeDestination) Name() string { return f.name }
func (f *fakeDestination) WriteBatch(batch [][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return assert.AnError
	}
	cp := make([][]byte, len(batch))
	copy(cp, batch)
	f.got = append(f.got, cp)
	return nil
}
func (f *fakeDestination) IsHealthy() bool { return true }
func (f *fakeDestination) Close() error    { return nil }

func (f *fakeDestination) batches() [][][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][][]byte, len(f.got))
	copy(out, f.got)
	return out
}

func TestWorker_FlushesOnBatchSizeTrigger(t *testing.T) {
	q := queue.New(100, queue.PolicyBlock, testMetrics())
	dest := &fakeDestination{name: "fake"}
	ctrl := batchctl.New(batchctl.Config{Mode: batchctl.ModeTrigger, BatchSize: 2})
	w := New(q, Config{Controller: ctrl, Destinations: []*Registered{{Name: "fake", Batch: dest}}}, testLogger(), testMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.True(t, q.Enqueue(ctx, []byte("a\n")))
	require.True(t, q.Enqueue(ctx, []byte("b\n")))

	require.Eventually(t, func() bool {
		return len(dest.batches()) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, [][]byte{[]byte("a\n"), []byte("b\n")}, dest.batches()[0])
}

func TestWorker_ExplicitFlushDrainsPartialBatch(t *testing.T) {
	q := queue.New(100, queue.PolicyBlock, testMetrics())
	dest := &fakeDestination{name: "fake"}
	ctrl := batchctl.New(batchctl.Config{Mode: batchctl.ModeTrigger, BatchSize: 100})
	w := New(q, Config{Controller: ctrl, Destinations: []*Registered{{Name: "fake", Batch: dest}}}, testLogger(), testMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.True(t, q.Enqueue(ctx, []byte("only\n")))

	flushCtx, flushCancel := context.WithTimeout(context.Background(), time.Second)
	defer flushCancel()
	require.NoError(t, w.RequestFlush(flushCtx))

	require.Len(t, dest.batches(), 1)
	assert.Equal(t, [][]byte{[]byte("only\n")}, dest.batches()[0])
}

func TestWorker_ShutdownSentinelFlushesAndExits(t *testing.T) {
	q := queue.New(100, queue.PolicyBlock, testMetrics())
	dest := &fakeDestination{name: "fake"}
	ctrl := batchctl.New(batchctl.Config{Mode: batchctl.ModeTrigger, BatchSize: 100})
	w := New(q, Config{Controller: ctrl, Destinations: []*Registered{{Name: "fake", Batch: dest}}}, testLogger(), testMetrics())

	ctx := context.Background()
	go w.Run(ctx)

	require.True(t, q.Enqueue(ctx, []byte("last\n")))
	q.EnqueueSentinel(ctx)

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after sentinel")
	}

	require.Len(t, dest.batches(), 1)
	assert.Equal(t, [][]byte{[]byte("last\n")}, dest.batches()[0])
}

func TestWorker_ContinuesAfterOneDestinationFails(t *testing.T) {
	q := queue.New(100, queue.PolicyBlock, testMetrics())
	bad := &fakeDestination{name: "bad", fail: true}
	good := &fakeDestination{name: "good"}
	ctrl := batchctl.New(batchctl.Config{Mode: batchctl.ModeTrigger, BatchSize: 1})
	w := New(q, Config{Controller: ctrl, Destinations: []*Registered{
		{Name: "bad", Batch: bad},
		{Name: "good", Batch: good},
	}}, testLogger(), testMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.True(t, q.Enqueue(ctx, []byte("x\n")))

	require.Eventually(t, func() bool {
		return len(good.batches()) == 1
	}, time.Second, 5*time.Millisecond)
}
