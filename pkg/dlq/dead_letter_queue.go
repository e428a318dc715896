// Package dlq is the durable spill for batches that no destination
// accepted (spec §4.8/§4.9 enrichment): rather than discard them, the
// writer worker hands a batch here when every destination failed its
// flush, so an operator — or an automatic reprocessing loop — can replay
// them later.
//
// Grounded on the teacher's pkg/dlq/dead_letter_queue.go: buffered channel
// in front of a rotating JSON-lines file, periodic cleanup by retention,
// and an optional reprocessing loop with per-entry exponential backoff.
// Adapted from storing a marshaled types.LogEntry to storing the already-
// serialized record line plus delivery-failure metadata, and the teacher's
// AlertManager (webhook/email notifications that were themselves only
// logged stubs in the teacher, never a real send) was dropped — see
// DESIGN.md.
package dlq

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/logxpy/logxpy-go/pkg/metrics"
	"github.com/sirupsen/logrus"
)

// ReprocessCallback retries delivery of a dead-lettered record against its
// originally failed destination.
type ReprocessCallback func(payload []byte, destination string) error

// DeadLetterQueue is the durable store of batches the writer worker could
// not deliver to any destination.
type DeadLetterQueue struct {
	config  Config
	logger  *logrus.Logger
	metrics *metrics.Registry

	queue chan Entry
	file  *os.File
	mutex sync.RWMutex
	stats Stats

	ctx       context.Context
	cancel    context.CancelFunc
	isRunning bool

	reprocessCallback ReprocessCallback
}

// Config configures a DeadLetterQueue.
type Config struct {
	Enabled            bool                `yaml:"enabled"`
	Directory          string              `yaml:"directory"`
	QueueSize          int                 `yaml:"queue_size"`
	MaxFiles           int                 `yaml:"max_files"`
	MaxFileSizeMB      int64               `yaml:"max_file_size_mb"`
	RetentionDays      int                 `yaml:"retention_days"`
	FlushInterval      time.Duration       `yaml:"flush_interval"`
	ReprocessingConfig ReprocessingConfig  `yaml:"reprocessing_config"`
}

// ReprocessingConfig governs the optional automatic redelivery loop.
type ReprocessingConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Interval        time.Duration `yaml:"interval"`
	MaxRetries      int           `yaml:"max_retries"`
	InitialDelay    time.Duration `yaml:"initial_delay"`
	DelayMultiplier float64       `yaml:"delay_multiplier"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	BatchSize       int           `yaml:"batch_size"`
	MinEntryAge     time.Duration `yaml:"min_entry_age"`
}

// Entry is one dead-lettered record.
type Entry struct {
	Timestamp         time.Time `json:"timestamp"`
	Payload           []byte    `json:"payload"`
	ErrorMessage      string    `json:"error_message"`
	FailedDestination string    `json:"failed_destination"`
	RetryCount        int       `json:"retry_count"`

	ReprocessAttempts    int       `json:"reprocess_attempts"`
	LastReprocessAttempt time.Time `json:"last_reprocess_attempt,omitempty"`
	NextReprocessTime    time.Time `json:"next_reprocess_time,omitempty"`
	ReprocessingEnabled  bool      `json:"reprocessing_enabled"`
	EntryID              string    `json:"entry_id"`
}

// Stats reports DeadLetterQueue activity counters.
type Stats struct {
	TotalEntries      int64
	EntriesWritten    int64
	WriteErrors       int64
	CurrentQueueSize  int
	FilesCreated      int64
	LastFlush         time.Time
	ReprocessAttempts int64
	ReprocessSuccess  int64
	ReprocessFailure  int64
	LastReprocessing  time.Time
	EntriesReplayed   int64
}

func (c *Config) setDefaults() {
	if c.QueueSize == 0 {
		c.QueueSize = 10000
	}
	if c.MaxFiles == 0 {
		c.MaxFiles = 10
	}
	if c.MaxFileSizeMB == 0 {
		c.MaxFileSizeMB = 100
	}
	if c.RetentionDays == 0 {
		c.RetentionDays = 7
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = 30 * time.Second
	}
	if c.Directory == "" {
		c.Directory = "./dlq"
	}
	if c.ReprocessingConfig.Interval == 0 {
		c.ReprocessingConfig.Interval = 5 * time.Minute
	}
	if c.ReprocessingConfig.MaxRetries == 0 {
		c.ReprocessingConfig.MaxRetries = 3
	}
	if c.ReprocessingConfig.InitialDelay == 0 {
		c.ReprocessingConfig.InitialDelay = time.Minute
	}
	if c.ReprocessingConfig.DelayMultiplier == 0 {
		c.ReprocessingConfig.DelayMultiplier = 2.0
	}
	if c.ReprocessingConfig.MaxDelay == 0 {
		c.ReprocessingConfig.MaxDelay = 30 * time.Minute
	}
	if c.ReprocessingConfig.BatchSize == 0 {
		c.ReprocessingConfig.BatchSize = 50
	}
	if c.ReprocessingConfig.MinEntryAge == 0 {
		c.ReprocessingConfig.MinEntryAge = 2 * time.Minute
	}
}

// New constructs a DeadLetterQueue. logger and m may be nil.
func New(config Config, logger *logrus.Logger, m *metrics.Registry) *DeadLetterQueue {
	config.setDefaults()
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DeadLetterQueue{
		config:  config,
		logger:  logger,
		metrics: m,
		queue:   make(chan Entry, config.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start opens the active DLQ file and launches its background loops.
func (dlq *DeadLetterQueue) Start() error {
	if !dlq.config.Enabled {
		dlq.logger.Info("dead letter queue disabled")
		return nil
	}

	dlq.mutex.Lock()
	defer dlq.mutex.Unlock()
	if dlq.isRunning {
		return fmt.Errorf("dead letter queue already running")
	}

	if err := os.MkdirAll(dlq.config.Directory, 0755); err != nil {
		return fmt.Errorf("create dlq directory: %w", err)
	}
	if err := dlq.createNewFile(); err != nil {
		return fmt.Errorf("create initial dlq file: %w", err)
	}
	dlq.isRunning = true

	go dlq.processingLoop()
	go dlq.cleanupLoop()
	if dlq.config.ReprocessingConfig.Enabled {
		go dlq.reprocessingLoop()
	}
	return nil
}

// Stop drains the in-memory queue to disk and closes the active file.
func (dlq *DeadLetterQueue) Stop() error {
	dlq.mutex.Lock()
	defer dlq.mutex.Unlock()
	if !dlq.isRunning {
		return nil
	}
	dlq.isRunning = false
	dlq.cancel()
	dlq.drainQueue()
	if dlq.file != nil {
		dlq.file.Close()
		dlq.file = nil
	}
	return nil
}

// AddEntry enqueues a delivery failure for durable storage. It never
// blocks — a full DLQ queue drops the entry and counts a write error rather
// than apply backpressure to the writer that is already struggling.
func (dlq *DeadLetterQueue) AddEntry(payload []byte, errMsg, destination string, retryCount int) error {
	if !dlq.config.Enabled {
		return nil
	}

	now := time.Now()
	entry := Entry{
		Timestamp:           now,
		Payload:             payload,
		ErrorMessage:        errMsg,
		FailedDestination:   destination,
		RetryCount:          retryCount,
		ReprocessingEnabled: dlq.config.ReprocessingConfig.Enabled,
		EntryID:             fmt.Sprintf("%s_%d", destination, now.UnixNano()),
		NextReprocessTime:   now.Add(dlq.config.ReprocessingConfig.MinEntryAge),
	}

	select {
	case dlq.queue <- entry:
		dlq.mutex.Lock()
		dlq.stats.TotalEntries++
		dlq.mutex.Unlock()
		if dlq.metrics != nil {
			dlq.metrics.DLQStoredTotal.Inc()
		}
		return nil
	default:
		dlq.logger.Warn("dead letter queue full, dropping entry")
		dlq.mutex.Lock()
		dlq.stats.WriteErrors++
		dlq.mutex.Unlock()
		return fmt.Errorf("dead letter queue full (capacity %d), entry dropped", cap(dlq.queue))
	}
}

func (dlq *DeadLetterQueue) processingLoop() {
	flushTicker := time.NewTicker(dlq.config.FlushInterval)
	defer flushTicker.Stop()
	for {
		select {
		case <-dlq.ctx.Done():
			return
		case entry := <-dlq.queue:
			dlq.writeEntry(entry)
		case <-flushTicker.C:
			dlq.flushFile()
		}
	}
}

func (dlq *DeadLetterQueue) writeEntry(entry Entry) {
	dlq.mutex.Lock()
	defer dlq.mutex.Unlock()

	if dlq.file == nil {
		dlq.logger.Error("dlq file not open")
		dlq.stats.WriteErrors++
		return
	}
	if dlq.shouldRotateFile() {
		dlq.rotateFile()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		dlq.logger.WithError(err).Error("failed to marshal dlq entry")
		dlq.stats.WriteErrors++
		return
	}
	data = append(data, '\n')

	if _, err := dlq.file.Write(data); err != nil {
		dlq.logger.WithError(err).Error("failed to write dlq entry")
		dlq.stats.WriteErrors++
		return
	}
	dlq.stats.EntriesWritten++
	if dlq.metrics != nil {
		if info, err := dlq.file.Stat(); err == nil {
			dlq.metrics.DLQSizeBytes.Set(float64(info.Size()))
		}
	}
}

func (dlq *DeadLetterQueue) shouldRotateFile() bool {
	if dlq.file == nil {
		return true
	}
	info, err := dlq.file.Stat()
	if err != nil {
		return true
	}
	return info.Size() >= dlq.config.MaxFileSizeMB*1024*1024
}

func (dlq *DeadLetterQueue) rotateFile() {
	if dlq.file != nil {
		dlq.file.Close()
	}
	if err := dlq.createNewFile(); err != nil {
		dlq.logger.WithError(err).Error("failed to create new dlq file")
	}
}

func (dlq *DeadLetterQueue) createNewFile() error {
	name := fmt.Sprintf("dlq_%s.jsonl", time.Now().Format("20060102_150405"))
	path := filepath.Join(dlq.config.Directory, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	dlq.file = f
	dlq.stats.FilesCreated++
	return nil
}

func (dlq *DeadLetterQueue) flushFile() {
	dlq.mutex.Lock()
	defer dlq.mutex.Unlock()
	if dlq.file != nil {
		dlq.file.Sync()
		dlq.stats.LastFlush = time.Now()
	}
}

func (dlq *DeadLetterQueue) drainQueue() {
	for {
		select {
		case entry := <-dlq.queue:
			dlq.writeEntry(entry)
		default:
			return
		}
	}
}

func (dlq *DeadLetterQueue) cleanupLoop() {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-dlq.ctx.Done():
			return
		case <-ticker.C:
			dlq.cleanupOldFiles()
		}
	}
}

func (dlq *DeadLetterQueue) cleanupOldFiles() {
	files, err := filepath.Glob(filepath.Join(dlq.config.Directory, "dlq_*.jsonl"))
	if err != nil {
		dlq.logger.WithError(err).Error("failed to list dlq files for cleanup")
		return
	}
	cutoff := time.Now().AddDate(0, 0, -dlq.config.RetentionDays)
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(f)
		}
	}
}

// GetStats returns a snapshot of DeadLetterQueue counters.
func (dlq *DeadLetterQueue) GetStats() Stats {
	dlq.mutex.RLock()
	defer dlq.mutex.RUnlock()
	stats := dlq.stats
	stats.CurrentQueueSize = len(dlq.queue)
	return stats
}

// IsHealthy reports whether the DLQ is ready to accept entries.
func (dlq *DeadLetterQueue) IsHealthy() bool {
	dlq.mutex.RLock()
	defer dlq.mutex.RUnlock()
	if !dlq.config.Enabled {
		return true
	}
	return dlq.isRunning && dlq.file != nil
}

// SetReprocessCallback installs the redelivery function the reprocessing
// loop uses to retry a dead-lettered payload against its destination.
func (dlq *DeadLetterQueue) SetReprocessCallback(cb ReprocessCallback) {
	dlq.reprocessCallback = cb
}

func (dlq *DeadLetterQueue) reprocessingLoop() {
	ticker := time.NewTicker(dlq.config.ReprocessingConfig.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-dlq.ctx.Done():
			return
		case <-ticker.C:
			dlq.processReprocessingBatch()
		}
	}
}

func (dlq *DeadLetterQueue) processReprocessingBatch() {
	if dlq.reprocessCallback == nil {
		return
	}
	entries, err := dlq.readEntriesForReprocessing()
	if err != nil {
		dlq.logger.WithError(err).Error("failed to read dlq entries for reprocessing")
		return
	}
	if len(entries) == 0 {
		return
	}

	var updated []Entry
	var successCount, failureCount int

	for _, entry := range entries {
		if time.Now().Before(entry.NextReprocessTime) {
			continue
		}
		if entry.ReprocessAttempts >= dlq.config.ReprocessingConfig.MaxRetries {
			continue
		}

		dlq.mutex.Lock()
		dlq.stats.ReprocessAttempts++
		dlq.mutex.Unlock()

		entry.ReprocessAttempts++
		entry.LastReprocessAttempt = time.Now()

		if err := dlq.reprocessCallback(entry.Payload, entry.FailedDestination); err != nil {
			failureCount++
			delay := time.Duration(float64(dlq.config.ReprocessingConfig.InitialDelay) *
				math.Pow(dlq.config.ReprocessingConfig.DelayMultiplier, float64(entry.ReprocessAttempts-1)))
			if delay > dlq.config.ReprocessingConfig.MaxDelay {
				delay = dlq.config.ReprocessingConfig.MaxDelay
			}
			entry.NextReprocessTime = time.Now().Add(delay)
			dlq.mutex.Lock()
			dlq.stats.ReprocessFailure++
			dlq.mutex.Unlock()
			updated = append(updated, entry)
		} else {
			successCount++
			dlq.mutex.Lock()
			dlq.stats.ReprocessSuccess++
			dlq.stats.EntriesReplayed++
			dlq.mutex.Unlock()
			if err := dlq.removeEntry(entry.EntryID); err != nil {
				dlq.logger.WithError(err).WithField("entry_id", entry.EntryID).
					Warn("failed to remove reprocessed dlq entry")
			}
		}
	}

	if len(updated) > 0 {
		if err := dlq.updateEntries(updated); err != nil {
			dlq.logger.WithError(err).Error("failed to update dlq files after reprocessing")
		}
	}

	dlq.mutex.Lock()
	dlq.stats.LastReprocessing = time.Now()
	dlq.mutex.Unlock()
	if successCount > 0 || failureCount > 0 {
		dlq.logger.WithFields(logrus.Fields{"succeeded": successCount, "failed": failureCount}).
			Info("dlq reprocessing batch completed")
	}
}

func (dlq *DeadLetterQueue) readEntriesForReprocessing() ([]Entry, error) {
	files, err := filepath.Glob(filepath.Join(dlq.config.Directory, "dlq_*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("list dlq files: %w", err)
	}

	var out []Entry
	for _, f := range files {
		entries, err := dlq.readEntriesFromFile(f)
		if err != nil {
			dlq.logger.WithError(err).WithField("file", f).Warn("failed to read dlq file")
			continue
		}
		for _, e := range entries {
			if e.ReprocessingEnabled &&
				e.ReprocessAttempts < dlq.config.ReprocessingConfig.MaxRetries &&
				time.Since(e.Timestamp) >= dlq.config.ReprocessingConfig.MinEntryAge {
				out = append(out, e)
				if len(out) >= dlq.config.ReprocessingConfig.BatchSize {
					return out, nil
				}
			}
		}
	}
	return out, nil
}

func (dlq *DeadLetterQueue) readEntriesFromFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			dlq.logger.WithError(err).Warn("failed to parse dlq entry")
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

func (dlq *DeadLetterQueue) updateEntries(updated []Entry) error {
	files, err := filepath.Glob(filepath.Join(dlq.config.Directory, "dlq_*.jsonl"))
	if err != nil {
		return fmt.Errorf("list dlq files: %w", err)
	}
	byID := make(map[string]Entry, len(updated))
	for _, e := range updated {
		byID[e.EntryID] = e
	}

	for _, path := range files {
		original, err := dlq.readEntriesFromFile(path)
		if err != nil {
			continue
		}
		final := make([]Entry, 0, len(original))
		for _, e := range original {
			if repl, ok := byID[e.EntryID]; ok {
				final = append(final, repl)
			} else {
				final = append(final, e)
			}
		}
		if err := dlq.rewriteFile(path, final); err != nil {
			return fmt.Errorf("rewrite dlq file %s: %w", path, err)
		}
	}
	return nil
}

func (dlq *DeadLetterQueue) rewriteFile(path string, entries []Entry) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	f.Close()
	return os.Rename(tmp, path)
}

func (dlq *DeadLetterQueue) removeEntry(entryID string) error {
	files, err := filepath.Glob(filepath.Join(dlq.config.Directory, "dlq_*.jsonl"))
	if err != nil {
		return fmt.Errorf("list dlq files: %w", err)
	}
	for _, path := range files {
		entries, err := dlq.readEntriesFromFile(path)
		if err != nil {
			continue
		}
		filtered := make([]Entry, 0, len(entries))
		found := false
		for _, e := range entries {
			if e.EntryID == entryID {
				found = true
				continue
			}
			filtered = append(filtered, e)
		}
		if found {
			return dlq.rewriteFile(path, filtered)
		}
	}
	return fmt.Errorf("dlq entry %s not found", entryID)
}
