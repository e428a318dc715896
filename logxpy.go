// Package logxpy is the public facade of the asynchronous write pipeline
// (spec §6): a package-level Init wires a bounded queue, a flush controller,
// a supervised writer goroutine, and a set of destinations behind the
// chainable log.<level>(...) / StartAction / Scope / Flush / Shutdown API.
//
// Grounded on the teacher's internal/app/app.go wiring sequence
// (config -> components -> start -> wait for shutdown signal), adapted from
// "boot a log-shipping agent" to "boot a producer-side SDK instance": the
// facade builds pkg/queue, pkg/batchctl, pkg/writer, pkg/supervisor and the
// selected pkg/destination implementations instead of the teacher's
// monitors/dispatcher/sinks trio, since this module is the library
// application code calls into rather than the ingestion agent itself.
package logxpy

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/logxpy/logxpy-go/internal/config"
	"github.com/logxpy/logxpy-go/pkg/actionctx"
	"github.com/logxpy/logxpy-go/pkg/admission"
	"github.com/logxpy/logxpy-go/pkg/batchctl"
	"github.com/logxpy/logxpy-go/pkg/buffer"
	"github.com/logxpy/logxpy-go/pkg/circuit"
	"github.com/logxpy/logxpy-go/pkg/clock"
	"github.com/logxpy/logxpy-go/pkg/destination"
	"github.com/logxpy/logxpy-go/pkg/dlq"
	"github.com/logxpy/logxpy-go/pkg/metrics"
	"github.com/logxpy/logxpy-go/pkg/ordered"
	"github.com/logxpy/logxpy-go/pkg/queue"
	"github.com/logxpy/logxpy-go/pkg/record"
	"github.com/logxpy/logxpy-go/pkg/serializer"
	"github.com/logxpy/logxpy-go/pkg/supervisor"
	"github.com/logxpy/logxpy-go/pkg/taskid"
	"github.com/logxpy/logxpy-go/pkg/types"
	"github.com/logxpy/logxpy-go/pkg/writer"
)

// Logger is one configured instance of the write pipeline. Multiple
// instances may coexist in the same process (each with its own queue,
// writer, and destinations); Init builds the package-level default.
type Logger struct {
	logger     *logrus.Logger
	clock      clock.Clock
	generator  taskid.Generator
	serializer serializer.Serializer
	metrics    *metrics.Registry

	queue      *queue.Queue
	supervisor *supervisor.Supervisor
	dlqQueue   *dlq.DeadLetterQueue
	admission  *admission.Manager // nil unless cfg.Backpressure.Enabled

	minLevel types.Level

	syncMu       sync.RWMutex
	syncOverride bool // set by SyncMode() scopes
	syncWrite    supervisor.SyncWriteFunc

	destClosers []func() error
}

var (
	defaultMu     sync.RWMutex
	defaultLogger *Logger
)

// Init performs one-shot configuration of the default package-level Logger,
// loading configFile (if non-empty) then applying LOGXPY_* environment
// overrides, per spec §6's init(...) and §0's config loading order.
func Init(configFile string) (*Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	l, err := New(cfg)
	if err != nil {
		return nil, err
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
	return l, nil
}

// Default returns the package-level Logger configured by the most recent
// Init call, or nil if Init has not been called.
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// New builds a standalone Logger from an already-loaded configuration,
// without touching the package-level default.
func New(cfg *config.Config) (*Logger, error) {
	diagLogger := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		diagLogger.SetLevel(lvl)
	}

	// A fresh prometheus.Registry is always built: the plain-struct
	// Snapshot() counters spec §6's metrics() relies on live alongside
	// (not behind) the Prometheus collectors. cfg.MetricsEnabled is not
	// read here or anywhere else in the pipeline, and no HTTP /metrics
	// exporter is started.
	reg := metrics.New(prometheus.NewRegistry())

	var gen taskid.Generator
	if cfg.Distributed {
		gen = taskid.NewUUIDGenerator()
	} else {
		gen = taskid.NewCounter()
	}

	ser := serializer.NewLineSerializer(reg)

	dests, closers, err := buildDestinations(cfg, diagLogger, reg)
	if err != nil {
		return nil, err
	}

	var overflow queue.OverflowSink
	if cfg.Queue.OverflowEnabled {
		db, err := buffer.New(buffer.Config{BaseDir: cfg.Queue.OverflowDirectory}, diagLogger)
		if err != nil {
			return nil, err
		}
		overflow = db
	}

	policy := queuePolicyFromString(cfg.Queue.Policy)
	q := queue.New(cfg.Queue.Capacity, policy, reg, queueOptions(overflow)...)

	var deadLetter *dlq.DeadLetterQueue
	var deadLetterAdapter writer.DeadLetter
	if cfg.DLQ.Enabled {
		deadLetter = dlq.New(dlq.Config{
			Enabled:       cfg.DLQ.Enabled,
			Directory:     cfg.DLQ.Directory,
			QueueSize:     cfg.DLQ.QueueSize,
			MaxFiles:      cfg.DLQ.MaxFiles,
			MaxFileSizeMB: cfg.DLQ.MaxFileSizeMB,
			RetentionDays: cfg.DLQ.RetentionDays,
			FlushInterval: cfg.DLQ.FlushInterval,
		}, diagLogger, reg)
		if err := deadLetter.Start(); err != nil {
			return nil, err
		}
		deadLetterAdapter = deadLetter
	}

	factory := func() *writer.Worker {
		ctrl := batchctl.New(batchctl.Config{
			Mode:             batchctlModeFromString(cfg.Flush.Mode),
			BatchSize:        cfg.Flush.BatchSize,
			BatchInterval:    cfg.Flush.BatchInterval,
			MaxRecordAge:     cfg.Flush.MaxRecordAge,
			LoopTickInterval: cfg.Flush.LoopTickInterval,
			Adaptive: batchctl.AdaptiveConfig{
				Enabled:      cfg.Flush.AdaptiveEnabled,
				MinBatchSize: cfg.Flush.AdaptiveMinBatch,
				MaxBatchSize: cfg.Flush.AdaptiveMaxBatch,
				MinInterval:  cfg.Flush.AdaptiveMinWait,
				MaxInterval:  cfg.Flush.AdaptiveMaxWait,
			},
		})
		return writer.New(q, writer.Config{
			Controller:   ctrl,
			Destinations: dests,
			DeadLetter:   deadLetterAdapter,
		}, diagLogger, reg)
	}

	syncWrite := func(payload []byte) error {
		var lastErr error
		for _, d := range dests {
			if d.Batch != nil {
				if err := d.Batch.WriteBatch([][]byte{payload}); err != nil {
					lastErr = err
				}
				continue
			}
			if err := d.Writer.Write(payload); err != nil {
				lastErr = err
			}
		}
		return lastErr
	}

	sup := supervisor.New(q, factory, syncWrite, supervisor.Config{
		InitialBackoff: cfg.Supervisor.InitialBackoff,
		MaxBackoff:     cfg.Supervisor.MaxBackoff,
		MaxAttempts:    cfg.Supervisor.MaxAttempts,
		ShutdownDrain:  cfg.Supervisor.ShutdownDrain,
	}, diagLogger, reg)

	var admissionMgr *admission.Manager
	if cfg.Backpressure.Enabled {
		admissionMgr = admission.New(admission.Config{
			LowThreshold:      cfg.Backpressure.LowThreshold,
			MediumThreshold:   cfg.Backpressure.MediumThreshold,
			HighThreshold:     cfg.Backpressure.HighThreshold,
			CriticalThreshold: cfg.Backpressure.CriticalThreshold,
		}, diagLogger)
	}

	l := &Logger{
		logger:      diagLogger,
		clock:       clock.System{},
		generator:   gen,
		serializer:  ser,
		metrics:     reg,
		queue:       q,
		supervisor:  sup,
		dlqQueue:    deadLetter,
		admission:   admissionMgr,
		syncWrite:   syncWrite,
		minLevel:    levelFromString(cfg.LogLevel),
		destClosers: closers,
	}
	l.syncOverride = cfg.Sync || os.Getenv("LOGXPY_SYNC") == "1"

	sup.Start()
	return l, nil
}

func buildDestinations(cfg *config.Config, logger *logrus.Logger, reg *metrics.Registry) ([]*writer.Registered, []func() error, error) {
	var out []*writer.Registered
	var closers []func() error

	breakerFor := func(name string) *circuit.Breaker {
		return circuit.New(circuit.Config{
			Name:             name,
			FailureThreshold: cfg.Circuit.FailureThreshold,
			SuccessThreshold: cfg.Circuit.SuccessThreshold,
			Timeout:          cfg.Circuit.Timeout,
			HalfOpenMaxCalls: cfg.Circuit.HalfOpenMaxCalls,
		}, logger, reg)
	}

	for _, f := range cfg.Destinations.Files {
		if !f.Enabled {
			continue
		}
		var d destination.BatchWriter
		var err error
		switch f.Variant {
		case "line":
			d, err = destination.NewLineFile(f.Name, f.Path, logger)
		case "mmap":
			d, err = destination.NewMmapFile(f.Name, f.Path, logger)
		default:
			d, err = destination.NewBlockFile(f.Name, f.Path, logger)
		}
		if err != nil {
			return nil, nil, err
		}
		out = append(out, &writer.Registered{Name: f.Name, Batch: d, Breaker: breakerFor(f.Name)})
		closers = append(closers, d.Close)
	}

	for _, k := range cfg.Destinations.Kafka {
		if !k.Enabled {
			continue
		}
		d, err := destination.NewKafka(k.Name, destination.KafkaConfig{
			Brokers:      k.Brokers,
			Topic:        k.Topic,
			ClientID:     k.ClientID,
			RequiredAcks: sarama.RequiredAcks(k.RequiredAcks),
			SASLEnabled:  k.SASLEnabled,
			SASLUser:     k.SASLUser,
			SASLPassword: k.SASLPassword,
			SASLSCRAMSHA: scramModeFromString(k.SASLMechanism),
			TLS: destination.TLSConfig{
				Enabled:  k.TLSEnabled,
				CertFile: k.TLSCertFile,
				KeyFile:  k.TLSKeyFile,
				CAFile:   k.TLSCAFile,
			},
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, &writer.Registered{Name: k.Name, Batch: d, Breaker: breakerFor(k.Name)})
		closers = append(closers, d.Close)
	}

	for _, lk := range cfg.Destinations.Loki {
		if !lk.Enabled {
			continue
		}
		d, err := destination.NewLoki(lk.Name, destination.LokiConfig{
			URL:          lk.URL,
			PushEndpoint: lk.PushEndpoint,
			TenantID:     lk.TenantID,
			Labels:       lk.Labels,
			Headers:      lk.Headers,
			Timeout:      lk.Timeout,
			TLS:          destination.TLSConfig{Enabled: lk.TLSEnabled},
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, &writer.Registered{Name: lk.Name, Batch: d, Breaker: breakerFor(lk.Name)})
		closers = append(closers, d.Close)
	}

	for _, e := range cfg.Destinations.Elasticsearch {
		if !e.Enabled {
			continue
		}
		d, err := destination.NewElasticsearch(e.Name, destination.ElasticsearchConfig{
			URL:       e.URL,
			IndexName: e.IndexName,
			Username:  e.Username,
			Password:  e.Password,
			APIKey:    e.APIKey,
			Pipeline:  e.Pipeline,
			Timeout:   e.Timeout,
			TLS:       destination.TLSConfig{Enabled: e.TLSEnabled},
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, &writer.Registered{Name: e.Name, Batch: d, Breaker: breakerFor(e.Name)})
		closers = append(closers, d.Close)
	}

	for _, s := range cfg.Destinations.Splunk {
		if !s.Enabled {
			continue
		}
		d, err := destination.NewSplunk(s.Name, destination.SplunkConfig{
			HECURL:     s.HECURL,
			Token:      s.Token,
			Index:      s.Index,
			Source:     s.Source,
			SourceType: s.SourceType,
			Host:       s.Host,
			Timeout:    s.Timeout,
			TLS:        destination.TLSConfig{Enabled: s.TLSEnabled},
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, &writer.Registered{Name: s.Name, Batch: d, Breaker: breakerFor(s.Name)})
		closers = append(closers, d.Close)
	}

	return out, closers, nil
}

func batchctlModeFromString(s string) batchctl.Mode {
	switch s {
	case "loop":
		return batchctl.ModeLoop
	case "manual":
		return batchctl.ModeManual
	default:
		return batchctl.ModeTrigger
	}
}

func queuePolicyFromString(s string) queue.Policy {
	switch s {
	case "drop_oldest":
		return queue.PolicyDropOldest
	case "drop_newest":
		return queue.PolicyDropNewest
	case "warn":
		return queue.PolicyWarn
	default:
		return queue.PolicyBlock
	}
}

func queueOptions(overflow queue.OverflowSink) []queue.Option {
	if overflow == nil {
		return nil
	}
	return []queue.Option{queue.WithOverflow(overflow)}
}

func scramModeFromString(s string) int {
	switch s {
	case "scram-sha-256":
		return 256
	case "scram-sha-512":
		return 512
	default:
		return 0
	}
}

// MetricsSnapshot is the plain-struct form spec §6's metrics() call returns.
type MetricsSnapshot = metrics.Snapshot

// Metrics returns the current { enqueued, written, dropped, errors, pending,
// restarts } snapshot (spec §6).
func (l *Logger) Metrics() MetricsSnapshot { return l.metrics.Snapshot() }

// IsAsync reports whether the pipeline is still writing through the async
// writer goroutine (spec §6 is_async).
func (l *Logger) IsAsync() bool {
	l.syncMu.RLock()
	override := l.syncOverride
	l.syncMu.RUnlock()
	return !override && l.supervisor.IsAsync()
}

// SyncMode returns a restore function; while in effect, handle bypasses the
// async writer for every emission through this Logger, from any goroutine
// (spec §6 sync_mode() scope). Implemented as a Logger-wide override rather than a true
// goroutine-local scope since Go has no continuation-local storage the
// teacher's context-manager equivalent could hook into beyond
// context.Context, and sync_mode is meant to wrap a whole critical section,
// not per-record.
func (l *Logger) SyncMode() func() {
	l.syncMu.Lock()
	prev := l.syncOverride
	l.syncOverride = true
	l.syncMu.Unlock()
	return func() {
		l.syncMu.Lock()
		l.syncOverride = prev
		l.syncMu.Unlock()
	}
}

// Flush requests the writer drain everything buffered at the moment of the
// call, waiting up to timeout (spec §6 flush(timeout)).
func (l *Logger) Flush(timeout time.Duration) bool {
	return l.supervisor.Flush(timeout) == nil
}

// Shutdown stops the writer goroutine, flushing pending items first (spec
// §6 shutdown(timeout)).
func (l *Logger) Shutdown(timeout time.Duration) bool {
	err := l.supervisor.Shutdown(timeout)
	for _, closeFn := range l.destClosers {
		_ = closeFn()
	}
	if l.dlqQueue != nil {
		_ = l.dlqQueue.Stop()
	}
	return err == nil
}

// handle serializes and enqueues one record, bypassing the async queue
// entirely for a direct synchronous write when SyncMode() is in effect
// (spec §6 sync_mode()). Restart-limit sync-fallback (spec §4.8) is handled
// one layer down, inside supervisor.Write itself.
func (l *Logger) handle(r *record.Record) {
	if l.admission != nil {
		l.admission.Update(float64(l.queue.Len()) / float64(l.queue.Capacity()))
		if l.admission.ShouldDegrade() && l.syncWrite != nil {
			degraded := *r
			degraded.Fields = nil
			degraded.Context = nil
			_ = l.syncWrite(l.serializer.Serialize(&degraded))
			return
		}
	}

	bytes := l.serializer.Serialize(r)

	l.syncMu.RLock()
	override := l.syncOverride
	l.syncMu.RUnlock()

	if override && l.syncWrite != nil {
		_ = l.syncWrite(bytes)
		return
	}
	_ = l.supervisor.Write(context.Background(), bytes)
}

// EmitActionBoundary implements actionctx.Emitter: builds and hands off the
// start/end record for an action scope (spec §4.3's paired boundary
// records).
func (l *Logger) EmitActionBoundary(ctx *actionctx.Context, actionType string, status types.ActionStatus, fields []types.Field, durationSeconds float64, hasDuration bool, errClass, errMsg string) {
	r := l.newRecord(ctx, types.LevelInfo, fmt.Sprintf("action %s", actionType), fields)
	r.ActionType = actionType
	r.ActionStatus = status
	r.DurationSeconds = durationSeconds
	r.HasDuration = hasDuration
	r.ErrorClass = errClass
	r.ErrorMessage = errMsg
	l.handle(&r)
}

// EmitDoubleFinish implements actionctx.Emitter: a scope finished twice is
// surfaced as an error record rather than a panic (spec §4.3).
func (l *Logger) EmitDoubleFinish(ctx *actionctx.Context, actionType string) {
	r := l.newRecord(ctx, types.LevelError, fmt.Sprintf("action %s finished more than once", actionType), nil)
	r.ActionType = actionType
	l.handle(&r)
}

func (l *Logger) newRecord(ctx *actionctx.Context, level types.Level, msg string, fields []types.Field) record.Record {
	var ambient *ordered.Fields
	if ctx != nil {
		ambient = ctx.Ambient()
	}
	r := record.Record{
		Timestamp:   clock.WallSeconds(l.clock),
		Level:       level,
		Message:     msg,
		MessageType: level.MessageType(),
		Fields:      ordered.FromSlice(fields),
		Context:     ambient,
	}
	if ctx != nil {
		r.TaskID = ctx.TaskID()
		r.TaskLevel = ctx.TaskLevel()
	}
	return r
}
