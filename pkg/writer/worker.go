// Package writer implements the single dedicated writer goroutine (spec
// §4.6, component C7): it owns the batch buffer exclusively, dequeues from
// pkg/queue, asks pkg/batchctl.Controller which trigger fires, and flushes
// to every registered pkg/destination.
//
// Grounded on the teacher's internal/dispatcher/dispatcher.go worker loop
// (the select-on-queue/timer-with-batch-accumulation shape) and the
// other_examples taskWriter.go drain-after-first-receive pattern for the
// non-blocking second phase of dequeue.
package writer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/logxpy/logxpy-go/pkg/batchctl"
	"github.com/logxpy/logxpy-go/pkg/circuit"
	"github.com/logxpy/logxpy-go/pkg/destination"
	pipelineerrors "github.com/logxpy/logxpy-go/pkg/errors"
	"github.com/logxpy/logxpy-go/pkg/metrics"
	"github.com/logxpy/logxpy-go/pkg/queue"
)

// explicitPollInterval bounds how long Run's blocking queue pop waits
// before re-checking for a pending RequestFlush, independent of whatever
// interval the flush controller is configured with.
const explicitPollInterval = 50 * time.Millisecond

// Registered is one destination the worker flushes to, plus the circuit
// breaker guarding it. Exactly one of Writer or BatchWriter is non-nil;
// the worker prefers BatchWriter when present, per spec §4.4.
type Registered struct {
	Name    string
	Writer  destination.Writer
	Batch   destination.BatchWriter
	Breaker *circuit.Breaker
	degraded bool
}

// DeadLetter receives batches that every destination failed to accept, so
// a configured DLQ (wired in by the logxpy facade) can spill them instead
// of losing them outright.
type DeadLetter interface {
	AddEntry(payload []byte, errMsg, destination string, retryCount int) error
}

// Config configures a Worker.
type Config struct {
	Controller   *batchctl.Controller
	Destinations []*Registered
	DeadLetter   DeadLetter // optional
}

// Worker is the C7 writer goroutine. It is not itself goroutine-safe to
// call concurrently from multiple callers — Run must own the only
// goroutine that touches the batch slice, matching spec §4.6 "no other
// thread touches the batch."
type Worker struct {
	queue        *queue.Queue
	controller   *batchctl.Controller
	destinations []*Registered
	deadLetter   DeadLetter
	logger       *logrus.Logger
	metrics      *metrics.Registry

	batch          [][]byte
	oldestEnqueued time.Time
	pendingAck     chan struct{} // non-nil while an explicit RequestFlush is in flight

	flushRequests chan chan struct{}
	done          chan struct{}
	mu            sync.Mutex
	running       bool
}

// New constructs a Worker that will consume from q.
func New(q *queue.Queue, cfg Config, logger *logrus.Logger, m *metrics.Registry) *Worker {
	return &Worker{
		queue:         q,
		controller:    cfg.Controller,
		destinations:  cfg.Destinations,
		deadLetter:    cfg.DeadLetter,
		logger:        logger,
		metrics:       m,
		flushRequests: make(chan chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Run executes the batching algorithm (spec §4.6) until ctx is cancelled or
// the shutdown sentinel is observed. It is meant to be launched in its own
// goroutine by pkg/supervisor, which also owns crash-restart.
func (w *Worker) Run(ctx context.Context) {
	w.mu.Lock()
	w.running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(w.done)
	}()

	for {
		explicit := w.drainExplicitRequest()

		// Bound the blocking pop so a concurrent RequestFlush is noticed
		// promptly even when the controller would otherwise wait
		// indefinitely (no interval configured) or for a long interval.
		timeout := w.controller.NextWaitTimeout()
		if timeout <= 0 || timeout > explicitPollInterval {
			timeout = explicitPollInterval
		}
		popped, ok := w.queue.Pop(ctx, timeout)
		if ok {
			if popped.Sentinel {
				w.flushBatch(batchctl.TriggerShutdown)
				return
			}
			w.appendLocked(popped)
		}

		// Phase 2: non-blocking drain of whatever else is already queued,
		// per spec §4.6 step 2.
		for {
			more, ok := w.queue.TryPop()
			if !ok {
				break
			}
			if more.Sentinel {
				w.flushBatch(batchctl.TriggerShutdown)
				return
			}
			w.appendLocked(more)
		}

		// The shutdown sentinel is handled inline above (Run returns as
		// soon as one is observed), so Evaluate is never asked to
		// recognize it here.
		trigger := w.controller.Evaluate(len(w.batch), w.oldestEnqueued, explicit, false)
		if trigger != batchctl.TriggerNone {
			w.flushBatch(trigger)
		}

		select {
		case <-ctx.Done():
			w.flushBatch(batchctl.TriggerShutdown)
			return
		default:
		}
	}
}

func (w *Worker) appendLocked(p queue.Popped) {
	if len(w.batch) == 0 {
		w.oldestEnqueued = p.Enqueued
	}
	w.batch = append(w.batch, p.Payload)
}

// drainExplicitRequest checks (without blocking) whether RequestFlush was
// called, returning the ack channel to signal once the flush completes.
func (w *Worker) drainExplicitRequest() bool {
	select {
	case ack := <-w.flushRequests:
		w.pendingAck = ack
		return true
	default:
		return false
	}
}

// RequestFlush asks the worker to flush everything currently buffered and
// waits (bounded by ctx) until it has done so, per spec §4.8's explicit
// flush(timeout) semantics: "wakes the worker... waits on a flush-complete
// event."
func (w *Worker) RequestFlush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case w.flushRequests <- ack:
	case <-ctx.Done():
		return ctx.Err()
	}
	// Run's blocking pop is bounded by explicitPollInterval, so the
	// request is picked up shortly without needing a dedicated wakeup
	// channel or the shutdown sentinel (which would make the worker exit
	// instead of just flushing).

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// flushBatch delivers the current batch to every destination (preferring
// BatchWriter) and clears it exactly once, per spec §4.6's flush step.
func (w *Worker) flushBatch(trigger batchctl.Trigger) {
	if w.metrics != nil {
		w.metrics.FlushTrigger.WithLabelValues(trigger.String()).Inc()
	}
	defer func() {
		n := len(w.batch)
		w.batch = nil
		w.oldestEnqueued = time.Time{}
		if w.pendingAck != nil {
			close(w.pendingAck)
			w.pendingAck = nil
		}
		if w.controller != nil {
			w.controller.RecordFlush(n)
		}
	}()

	if len(w.batch) == 0 {
		return
	}

	start := time.Now()
	defer func() {
		if w.metrics != nil {
			w.metrics.FlushDuration.Observe(time.Since(start).Seconds())
		}
	}()

	// DLQ spill is scoped to total failure (spec §7 enrichment beyond the
	// per-destination DestinationWriteError): track success across the
	// whole loop and spill at most once, not on every failing destination.
	anyDelivered := false
	var lastErr error
	var lastDest string
	for _, dest := range w.destinations {
		if err := w.flushToDestination(dest); err != nil {
			lastErr = err
			lastDest = dest.Name
			continue
		}
		anyDelivered = true
	}
	if !anyDelivered && len(w.destinations) > 0 && w.deadLetter != nil {
		errMsg := "all destinations failed"
		if lastErr != nil {
			errMsg = lastErr.Error()
		}
		joined := joinBatch(w.batch)
		if dlqErr := w.deadLetter.AddEntry(joined, errMsg, lastDest, 0); dlqErr != nil {
			w.logger.WithError(dlqErr).Warn("failed to spill batch to dead-letter queue")
		}
	}
	if w.metrics != nil && anyDelivered {
		w.metrics.AddWritten(len(w.batch))
	}
}

// flushToDestination writes the current batch to one destination through
// its circuit breaker, isolating the error so the writer continues with
// the remaining destinations (spec §7 DestinationWriteError semantics). The
// returned error is non-nil only to let flushBatch decide whether every
// destination failed; it is never propagated further.
func (w *Worker) flushToDestination(dest *Registered) error {
	call := func() error {
		if dest.Batch != nil {
			return dest.Batch.WriteBatch(w.batch)
		}
		for _, record := range w.batch {
			if err := dest.Writer.Write(record); err != nil {
				return err
			}
		}
		return nil
	}

	var err error
	if dest.Breaker != nil {
		err = dest.Breaker.Execute(call)
	} else {
		err = call()
	}

	if err != nil {
		dest.degraded = true
		pe := pipelineerrors.DestinationWriteError(dest.Name, err)
		w.logger.WithError(pe).WithField("destination", dest.Name).Warn("destination write failed; continuing with remaining destinations")
		if w.metrics != nil {
			w.metrics.IncDestinationError(dest.Name)
		}
		return err
	}
	dest.degraded = false
	return nil
}

func joinBatch(batch [][]byte) []byte {
	n := 0
	for _, r := range batch {
		n += len(r)
	}
	buf := make([]byte, 0, n)
	for _, r := range batch {
		buf = append(buf, r...)
	}
	return buf
}

// Pending returns the number of records currently buffered, for
// observability and shutdown-drain checks.
func (w *Worker) Pending() int {
	return len(w.batch)
}

// Done returns a channel closed once Run has returned.
func (w *Worker) Done() <-chan struct{} { return w.done }

// IsRunning reports whether Run is currently executing.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
