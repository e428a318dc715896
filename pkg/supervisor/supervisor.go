// Package supervisor implements the lifecycle wrapper around the writer
// goroutine (spec §4.8, component C9): starts it, restarts it with
// exponential backoff on crash, falls back to fully synchronous writes
// once the restart budget is exhausted, and exposes explicit
// flush(timeout)/shutdown(timeout) operations.
//
// Grounded on the teacher's internal/dispatcher/retry_manager.go backoff
// scheduling concept and pkg/task_manager/task_manager.go's
// recover()-based panic containment, generalized from "retry one failed
// batch" / "recover one task" to "restart the entire writer goroutine."
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	pipelineerrors "github.com/logxpy/logxpy-go/pkg/errors"
	"github.com/logxpy/logxpy-go/pkg/metrics"
	"github.com/logxpy/logxpy-go/pkg/queue"
	"github.com/logxpy/logxpy-go/pkg/writer"
)

// Config configures a Supervisor.
type Config struct {
	// InitialBackoff is the delay before the first restart attempt (spec
	// §4.8: "0.1s -> 0.2s -> 0.4s -> ... capped at 30s").
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int // 0 means use the spec default of 10
	ShutdownDrain  time.Duration
}

func (c *Config) setDefaults() {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.ShutdownDrain <= 0 {
		c.ShutdownDrain = 5 * time.Second
	}
}

// WorkerFactory builds a fresh writer.Worker for each (re)start attempt. A
// fresh Worker is used per attempt rather than re-running the same one,
// since a Worker's internal batch state and done channel are meant for a
// single Run call.
type WorkerFactory func() *writer.Worker

// SyncWriteFunc performs a fully synchronous write of one record directly
// to every destination, used once the supervisor has fallen back to
// sync-fallback mode (spec §4.8).
type SyncWriteFunc func(record []byte) error

// Supervisor owns the writer goroutine's lifecycle.
type Supervisor struct {
	config  Config
	queue   *queue.Queue
	factory WorkerFactory
	syncWrite SyncWriteFunc
	logger  *logrus.Logger
	metrics *metrics.Registry

	mu           sync.RWMutex
	current      *writer.Worker
	cancel       context.CancelFunc
	attempts     int
	syncFallback bool
	stopped      bool
	wg           sync.WaitGroup
}

// New constructs a Supervisor. syncWrite may be nil if sync-fallback is
// never expected to be exercised (the supervisor will simply drop records
// and log loudly if the restart budget is exhausted without one).
func New(q *queue.Queue, factory WorkerFactory, syncWrite SyncWriteFunc, config Config, logger *logrus.Logger, m *metrics.Registry) *Supervisor {
	config.setDefaults()
	return &Supervisor{
		config:    config,
		queue:     q,
		factory:   factory,
		syncWrite: syncWrite,
		logger:    logger,
		metrics:   m,
	}
}

// Start launches the writer goroutine under supervision. It returns once
// the first attempt has been launched (not once it has finished).
func (s *Supervisor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.superviseLoop(ctx)
}

// superviseLoop runs the writer, and on an unrecovered panic or early
// return, restarts it with exponential backoff up to config.MaxAttempts,
// per spec §4.8.
func (s *Supervisor) superviseLoop(ctx context.Context) {
	defer s.wg.Done()

	backoff := s.config.InitialBackoff
	for {
		w := s.factory()
		s.mu.Lock()
		s.current = w
		s.mu.Unlock()

		crashed := s.runOnce(ctx, w)

		select {
		case <-ctx.Done():
			return
		default:
		}

		if !crashed {
			// Run returned cleanly (shutdown sentinel / ctx cancellation
			// observed inside the worker) — nothing to restart.
			return
		}

		s.mu.Lock()
		s.attempts++
		attempts := s.attempts
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.IncRestarts()
		}

		if attempts > s.config.MaxAttempts {
			s.enterSyncFallback(attempts)
			return
		}

		s.logger.WithFields(logrus.Fields{"attempt": attempts, "backoff": backoff}).
			Warn("writer goroutine crashed; restarting after backoff")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}

		backoff *= 2
		if backoff > s.config.MaxBackoff {
			backoff = s.config.MaxBackoff
		}
	}
}

// runOnce executes w.Run to completion inside a recover() guard, reporting
// whether it terminated via an unrecovered panic (a crash warranting
// restart) as opposed to a clean return.
func (s *Supervisor) runOnce(ctx context.Context, w *writer.Worker) (crashed bool) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				crashed = true
				pe := pipelineerrors.WriterCrash(fmt.Errorf("%v", r))
				s.logger.WithError(pe).Error("writer goroutine panicked")
			}
		}()
		w.Run(ctx)
	}()
	<-done
	return crashed
}

// enterSyncFallback flips the supervisor into synchronous mode: from this
// point on, IsAsync reports false and Write should route directly through
// syncWrite instead of the queue, per spec §4.8's restart-cap behavior.
func (s *Supervisor) enterSyncFallback(attempts int) {
	s.mu.Lock()
	s.syncFallback = true
	s.mu.Unlock()

	pe := pipelineerrors.RestartLimitExceeded(attempts)
	s.logger.WithError(pe).Error("writer restart limit exceeded; falling back to synchronous writes")
	if s.metrics != nil {
		s.metrics.SyncFallback.Set(1)
	}
}

// IsAsync reports whether the pipeline is still operating through the
// async writer (true) or has fallen back to synchronous writes (false).
func (s *Supervisor) IsAsync() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.syncFallback
}

// Write routes one already-serialized record either onto the async queue
// or, in sync-fallback mode, directly to the destinations via syncWrite.
func (s *Supervisor) Write(ctx context.Context, record []byte) error {
	s.mu.RLock()
	fallback := s.syncFallback
	s.mu.RUnlock()

	if fallback {
		if s.syncWrite == nil {
			return pipelineerrors.New(pipelineerrors.CodeWriterCrash, "supervisor", "write", "sync fallback active with no sync writer configured")
		}
		return s.syncWrite(record)
	}

	if !s.queue.Enqueue(ctx, record) {
		return pipelineerrors.QueueFull("enqueue")
	}
	// pkg/queue.Enqueue already accounts for enqueued/pending via the shared
	// metrics.Registry; no separate bookkeeping needed here.
	return nil
}

// Flush requests the current writer flush everything buffered, waiting up
// to timeout, per spec §4.8's explicit flush(timeout).
func (s *Supervisor) Flush(timeout time.Duration) error {
	s.mu.RLock()
	w := s.current
	fallback := s.syncFallback
	s.mu.RUnlock()

	if fallback || w == nil {
		return nil // sync-fallback writes are already durable by the time Write returns
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := w.RequestFlush(ctx); err != nil {
		return pipelineerrors.ShutdownTimeout(w.Pending())
	}
	return nil
}

// Shutdown requests a graceful stop: flushes what's buffered, enqueues the
// shutdown sentinel, and waits up to timeout for the writer goroutine to
// exit.
func (s *Supervisor) Shutdown(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	// Checked above, before Flush: once stopped the worker goroutine has
	// already exited, so RequestFlush would block for the full timeout
	// waiting on an ack that will never arrive (spec.md: a second Shutdown
	// call must return without side effects).
	if err := s.Flush(timeout); err != nil {
		s.logger.WithError(err).Warn("flush during shutdown did not complete in time")
	}

	ctx := context.Background()
	remaining := time.Until(deadline)
	if remaining > 0 {
		sentinelCtx, sentinelCancel := context.WithTimeout(ctx, remaining)
		defer sentinelCancel()
		s.queue.EnqueueSentinel(sentinelCtx)
	}

	if cancel != nil {
		cancel()
	}

	waitDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
		return nil
	case <-time.After(time.Until(deadline)):
		return pipelineerrors.ShutdownTimeout(s.pendingCount())
	}
}

func (s *Supervisor) pendingCount() int {
	s.mu.RLock()
	w := s.current
	s.mu.RUnlock()
	if w == nil {
		return s.queue.Len()
	}
	return s.queue.Len() + w.Pending()
}
