// Package queue implements the bounded multi-producer/single-consumer queue
// of serialized records that sits between producer goroutines and the writer
// worker (spec §4.5), along with the four backpressure policies of spec
// §4.7.
//
// Grounded on the teacher's internal/dispatcher/dispatcher.go, whose
// `queue chan dispatchItem` plus worker-loop select is the same
// channel-as-bounded-queue construction, and pkg/workerpool/worker_pool.go's
// non-blocking `select default` pattern for try_pop-style drains.
package queue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/logxpy/logxpy-go/pkg/metrics"
)

// Policy is one of the four admission policies spec §4.7 defines for what
// happens when the queue is at capacity.
type Policy int

const (
	// PolicyBlock makes the caller wait until space is available. No data loss.
	PolicyBlock Policy = iota
	// PolicyDropOldest discards the oldest queued item to make room.
	PolicyDropOldest
	// PolicyDropNewest discards the incoming item; Enqueue reports failure.
	PolicyDropNewest
	// PolicyWarn behaves like PolicyDropNewest but additionally emits a
	// one-time warning per sustained-full episode.
	PolicyWarn
)

func (p Policy) String() string {
	switch p {
	case PolicyBlock:
		return "block"
	case PolicyDropOldest:
		return "drop_oldest"
	case PolicyDropNewest:
		return "drop_newest"
	case PolicyWarn:
		return "warn"
	default:
		return "unknown"
	}
}

// item is a queued entry: the serialized bytes plus the moment it was
// enqueued, needed by the flush controller's deadline trigger (spec §4.6
// trigger 2).
type item struct {
	payload   []byte
	enqueued  time.Time
	sentinel  bool
}

// OverflowSink is the optional durable-overflow destination for items that
// would otherwise be discarded under PolicyDropOldest (spec §4.5's "durable
// overflow buffer" enrichment — see pkg/buffer.DiskBuffer).
type OverflowSink interface {
	Spill(payload []byte) error
}

// Queue is the bounded MPSC queue of pre-serialized records.
type Queue struct {
	ch       chan item
	capacity int
	policy   Policy
	overflow OverflowSink
	metrics  *metrics.Registry

	size       int64 // atomic approximate size, tracked alongside len(ch)
	warnedOnce int32 // atomic bool: whether PolicyWarn has already warned this episode
	onWarn     func()
}

// Option configures a Queue at construction time.
type Option func(*Queue)

// WithOverflow enables spilling items dropped under PolicyDropOldest to a
// durable sink instead of discarding them (spec §4.5 enrichment).
func WithOverflow(sink OverflowSink) Option {
	return func(q *Queue) { q.overflow = sink }
}

// WithWarnHook installs the callback PolicyWarn invokes the first time the
// queue is observed full in a sustained-full episode.
func WithWarnHook(fn func()) Option {
	return func(q *Queue) { q.onWarn = fn }
}

// New constructs a Queue with the given capacity and backpressure policy.
func New(capacity int, policy Policy, m *metrics.Registry, opts ...Option) *Queue {
	if capacity <= 0 {
		capacity = 10000
	}
	q := &Queue{
		ch:       make(chan item, capacity),
		capacity: capacity,
		policy:   policy,
		metrics:  m,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue admits payload according to the configured policy. It returns
// false when the item was dropped (PolicyDropNewest/PolicyWarn at capacity)
// rather than accepted. PolicyBlock returns false only when ctx is done
// before space frees up; PolicyDropOldest returns false only when another
// producer takes the freed slot first.
func (q *Queue) Enqueue(ctx context.Context, payload []byte) bool {
	it := item{payload: payload, enqueued: time.Now()}

	select {
	case q.ch <- it:
		atomic.AddInt64(&q.size, 1)
		atomic.StoreInt32(&q.warnedOnce, 0)
		q.observeDepth()
		if q.metrics != nil {
			q.metrics.IncEnqueued()
		}
		return true
	default:
	}

	switch q.policy {
	case PolicyBlock:
		select {
		case q.ch <- it:
			atomic.AddInt64(&q.size, 1)
			q.observeDepth()
			if q.metrics != nil {
				q.metrics.IncEnqueued()
			}
			return true
		case <-ctx.Done():
			return false
		}

	case PolicyDropOldest:
		q.dropOldestToMakeRoom()
		select {
		case q.ch <- it:
			atomic.AddInt64(&q.size, 1)
			q.observeDepth()
			if q.metrics != nil {
				q.metrics.IncEnqueued()
			}
			return true
		default:
			// Someone else refilled the slot between the drop and our send;
			// the item is lost either way under this policy.
			q.countDrop("drop_oldest")
			return false
		}

	case PolicyWarn:
		if atomic.CompareAndSwapInt32(&q.warnedOnce, 0, 1) && q.onWarn != nil {
			q.onWarn()
		}
		q.countDrop("drop_newest")
		return false

	default: // PolicyDropNewest
		q.countDrop("drop_newest")
		return false
	}
}

func (q *Queue) dropOldestToMakeRoom() {
	select {
	case old := <-q.ch:
		atomic.AddInt64(&q.size, -1)
		if !old.sentinel && q.overflow != nil {
			_ = q.overflow.Spill(old.payload)
		}
		q.countDrop("drop_oldest")
	default:
	}
}

func (q *Queue) countDrop(reason string) {
	if q.metrics != nil {
		q.metrics.IncDropped(reason)
	}
}

func (q *Queue) observeDepth() {
	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(atomic.LoadInt64(&q.size)))
	}
}

// EnqueueSentinel pushes the shutdown tombstone spec §4.5 defines: a single
// sentinel value the writer worker recognizes as a request to flush and
// exit. It always blocks until admitted, bypassing the configured policy —
// shutdown must never be silently dropped.
func (q *Queue) EnqueueSentinel(ctx context.Context) {
	it := item{sentinel: true, enqueued: time.Now()}
	select {
	case q.ch <- it:
		atomic.AddInt64(&q.size, 1)
		q.observeDepth()
	case <-ctx.Done():
	}
}

// Popped is one dequeued entry, distinguishing the shutdown sentinel from a
// real payload.
type Popped struct {
	Payload   []byte
	Enqueued  time.Time
	Sentinel  bool
}

// Pop blocks until an item is available, ctx is done, or timeout elapses,
// whichever comes first. ok is false only on ctx cancellation or timeout.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (Popped, bool) {
	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}
	select {
	case it := <-q.ch:
		atomic.AddInt64(&q.size, -1)
		q.observeDepth()
		return toPopped(it), true
	case <-ctx.Done():
		return Popped{}, false
	case <-timerC:
		return Popped{}, false
	}
}

// TryPop performs the non-blocking drain spec §4.5/§4.6 requires after the
// worker's first blocking dequeue: pull whatever is immediately available
// without waiting.
func (q *Queue) TryPop() (Popped, bool) {
	select {
	case it := <-q.ch:
		atomic.AddInt64(&q.size, -1)
		q.observeDepth()
		return toPopped(it), true
	default:
		return Popped{}, false
	}
}

func toPopped(it item) Popped {
	return Popped{Payload: it.payload, Enqueued: it.enqueued, Sentinel: it.sentinel}
}

// Len returns the approximate current size of the queue.
func (q *Queue) Len() int {
	return int(atomic.LoadInt64(&q.size))
}

// Capacity returns the configured maximum size.
func (q *Queue) Capacity() int { return q.capacity }
