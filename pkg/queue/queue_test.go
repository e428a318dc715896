package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/logxpy/logxpy-go/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(capacity int, policy Policy, opts ...Option) *Queue {
	m := metrics.New(prometheus.NewRegistry())
	return New(capacity, policy, m, opts...)
}

func TestQueue_BlockPolicyWaitsForSpace(t *testing.T) {
	q := newTestQueue(1, PolicyBlock)
	ctx := context.Background()

	require.True(t, q.Enqueue(ctx, []byte("a")))

	done := make(chan bool, 1)
	go func() {
		done <- q.Enqueue(ctx, []byte("b"))
	}()

	select {
	case <-done:
		t.Fatal("Enqueue under BLOCK should not return until space frees up")
	case <-time.After(50 * time.Millisecond):
	}

	popped, ok := q.Pop(ctx, time.Second)
	require.True(t, ok)
	assert.Equal(t, "a", string(popped.Payload))

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("blocked Enqueue never unblocked after space freed")
	}
}

func TestQueue_DropOldestEvictsOldestItem(t *testing.T) {
	q := newTestQueue(2, PolicyDropOldest)
	ctx := context.Background()

	require.True(t, q.Enqueue(ctx, []byte("1")))
	require.True(t, q.Enqueue(ctx, []byte("2")))
	require.True(t, q.Enqueue(ctx, []byte("3"))) // queue full, drops "1"

	first, ok := q.Pop(ctx, time.Second)
	require.True(t, ok)
	assert.Equal(t, "2", string(first.Payload))

	second, ok := q.Pop(ctx, time.Second)
	require.True(t, ok)
	assert.Equal(t, "3", string(second.Payload))
}

func TestQueue_DropNewestRejectsIncomingItem(t *testing.T) {
	q := newTestQueue(1, PolicyDropNewest)
	ctx := context.Background()

	require.True(t, q.Enqueue(ctx, []byte("kept")))
	assert.False(t, q.Enqueue(ctx, []byte("rejected")))

	popped, ok := q.Pop(ctx, time.Second)
	require.True(t, ok)
	assert.Equal(t, "kept", string(popped.Payload))
}

func TestQueue_WarnPolicyFiresHookOncePerEpisode(t *testing.T) {
	var warnCount int
	var mu sync.Mutex
	q := newTestQueue(1, PolicyWarn, WithWarnHook(func() {
		mu.Lock()
		warnCount++
		mu.Unlock()
	}))
	ctx := context.Background()

	require.True(t, q.Enqueue(ctx, []byte("kept")))
	assert.False(t, q.Enqueue(ctx, []byte("dropped-1")))
	assert.False(t, q.Enqueue(ctx, []byte("dropped-2")))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, warnCount, "warn hook should fire once per sustained-full episode")
}

func TestQueue_TryPopIsNonBlockingWhenEmpty(t *testing.T) {
	q := newTestQueue(4, PolicyDropNewest)
	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestQueue_SentinelBypassesPolicy(t *testing.T) {
	q := newTestQueue(1, PolicyDropNewest)
	ctx := context.Background()
	require.True(t, q.Enqueue(ctx, []byte("full")))

	go q.EnqueueSentinel(ctx)

	popped, ok := q.Pop(ctx, time.Second)
	require.True(t, ok)
	assert.Equal(t, "full", string(popped.Payload))

	popped, ok = q.Pop(ctx, time.Second)
	require.True(t, ok)
	assert.True(t, popped.Sentinel)
}

type spillRecorder struct {
	mu      sync.Mutex
	spilled [][]byte
}

func (s *spillRecorder) Spill(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spilled = append(s.spilled, payload)
	return nil
}

func TestQueue_DropOldestSpillsToOverflowSink(t *testing.T) {
	rec := &spillRecorder{}
	q := newTestQueue(1, PolicyDropOldest, WithOverflow(rec))
	ctx := context.Background()

	require.True(t, q.Enqueue(ctx, []byte("evicted")))
	require.True(t, q.Enqueue(ctx, []byte("kept")))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.spilled, 1)
	assert.Equal(t, "evicted", string(rec.spilled[0]))
}
