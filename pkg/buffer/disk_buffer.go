// Package buffer implements the durable overflow buffer for queue.Queue
// (spec §4.5's optional "durable overflow buffer" enrichment, DESIGN.md):
// items evicted under PolicyDropOldest are appended here instead of
// discarded outright, trading disk for memory under sustained overload.
//
// Grounded on the teacher's pkg/buffer/disk_buffer.go: length-prefixed,
// checksummed, rotating flat files with a background sync loop and
// retention-based cleanup. Adapted from storing marshaled *types.LogEntry
// values to storing the pipeline's already-serialized record lines
// directly — this package never re-serializes a Record, it only persists
// the bytes pkg/serializer already produced.
package buffer

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
)

// DiskBuffer is a rotating, optionally-compressed append-only store for
// spilled queue items. It implements queue.OverflowSink.
type DiskBuffer struct {
	config Config
	logger *logrus.Logger

	mutex       sync.Mutex
	currentFile *os.File
	writer      *bufio.Writer
	gzipWriter  *gzip.Writer
	currentSize int64
	fileIndex   int

	stopSync chan struct{}
	wg       sync.WaitGroup
}

// Config configures a DiskBuffer.
type Config struct {
	BaseDir            string        `yaml:"base_dir"`
	MaxFileSize        int64         `yaml:"max_file_size"`
	MaxTotalSize       int64         `yaml:"max_total_size"`
	MaxFiles           int           `yaml:"max_files"`
	CompressionEnabled bool          `yaml:"compression_enabled"`
	SyncInterval       time.Duration `yaml:"sync_interval"`
	RetentionPeriod    time.Duration `yaml:"retention_period"`
	FilePermissions    os.FileMode   `yaml:"file_permissions"`
	DirPermissions     os.FileMode   `yaml:"dir_permissions"`
}

func (c *Config) setDefaults() {
	if c.BaseDir == "" {
		c.BaseDir = "/tmp/logxpy-overflow"
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 64 * 1024 * 1024
	}
	if c.MaxTotalSize <= 0 {
		c.MaxTotalSize = 512 * 1024 * 1024
	}
	if c.MaxFiles <= 0 {
		c.MaxFiles = 20
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = 5 * time.Second
	}
	if c.RetentionPeriod <= 0 {
		c.RetentionPeriod = 24 * time.Hour
	}
	if c.FilePermissions == 0 {
		c.FilePermissions = 0644
	}
	if c.DirPermissions == 0 {
		c.DirPermissions = 0755
	}
}

// New opens (or creates) a DiskBuffer rooted at config.BaseDir.
func New(config Config, logger *logrus.Logger) (*DiskBuffer, error) {
	config.setDefaults()
	if err := os.MkdirAll(config.BaseDir, config.DirPermissions); err != nil {
		return nil, fmt.Errorf("create overflow dir %s: %w", config.BaseDir, err)
	}

	db := &DiskBuffer{config: config, logger: logger, stopSync: make(chan struct{})}
	if err := db.scanExisting(); err != nil {
		return nil, fmt.Errorf("scan existing overflow files: %w", err)
	}
	if err := db.rotate(); err != nil {
		return nil, fmt.Errorf("create initial overflow file: %w", err)
	}

	db.wg.Add(1)
	go db.syncLoop()

	return db, nil
}

func (db *DiskBuffer) scanExisting() error {
	files, err := filepath.Glob(filepath.Join(db.config.BaseDir, "overflow_*.dat"))
	if err != nil {
		return err
	}
	maxIndex := -1
	for _, f := range files {
		var idx int
		if _, err := fmt.Sscanf(filepath.Base(f), "overflow_%d.dat", &idx); err == nil && idx > maxIndex {
			maxIndex = idx
		}
	}
	db.fileIndex = maxIndex + 1
	return nil
}

// Spill implements queue.OverflowSink: persist payload (already a complete
// serialized record line) to the current overflow file.
func (db *DiskBuffer) Spill(payload []byte) error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	checksum := sha256.Sum256(payload)

	lengthBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lengthBuf, uint32(len(payload)))

	w := io.Writer(db.writer)
	if db.config.CompressionEnabled && db.gzipWriter != nil {
		w = db.gzipWriter
	}

	if _, err := w.Write(lengthBuf); err != nil {
		return fmt.Errorf("write overflow length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write overflow payload: %w", err)
	}
	if _, err := w.Write(checksum[:]); err != nil {
		return fmt.Errorf("write overflow checksum: %w", err)
	}

	entrySize := int64(len(lengthBuf) + len(payload) + len(checksum))
	db.currentSize += entrySize

	if db.currentSize >= db.config.MaxFileSize {
		if err := db.rotate(); err != nil {
			db.logger.WithError(err).Error("failed to rotate overflow file")
		}
	}
	return nil
}

// ReadAll replays every persisted record across all overflow files, oldest
// first, verifying each checksum and skipping corrupt entries rather than
// failing the whole read (recovery must be best-effort).
func (db *DiskBuffer) ReadAll() ([][]byte, error) {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	files, err := filepath.Glob(filepath.Join(db.config.BaseDir, "overflow_*.dat"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var all [][]byte
	for _, f := range files {
		entries, err := db.readFile(f)
		if err != nil {
			db.logger.WithError(err).WithField("file", f).Error("failed to read overflow file")
			continue
		}
		all = append(all, entries...)
	}
	return all, nil
}

func (db *DiskBuffer) readFile(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var reader io.Reader = f
	if db.config.CompressionEnabled {
		gz, err := gzip.NewReader(f)
		if err == nil {
			defer gz.Close()
			reader = gz
		}
	}

	br := bufio.NewReader(reader)
	var out [][]byte
	for {
		lengthBuf := make([]byte, 4)
		if _, err := io.ReadFull(br, lengthBuf); err != nil {
			if err == io.EOF {
				break
			}
			return out, fmt.Errorf("read overflow length: %w", err)
		}
		length := binary.LittleEndian.Uint32(lengthBuf)
		if length > 32*1024*1024 {
			return out, fmt.Errorf("implausible overflow entry length %d", length)
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(br, payload); err != nil {
			return out, fmt.Errorf("read overflow payload: %w", err)
		}
		checksum := make([]byte, sha256.Size)
		if _, err := io.ReadFull(br, checksum); err != nil {
			return out, fmt.Errorf("read overflow checksum: %w", err)
		}
		expected := sha256.Sum256(payload)
		if string(expected[:]) != string(checksum) {
			db.logger.Warn("overflow entry failed checksum, skipping")
			continue
		}
		out = append(out, payload)
	}
	return out, nil
}

func (db *DiskBuffer) rotate() error {
	if err := db.closeCurrent(); err != nil {
		return err
	}
	path := filepath.Join(db.config.BaseDir, fmt.Sprintf("overflow_%06d.dat", db.fileIndex))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, db.config.FilePermissions)
	if err != nil {
		return fmt.Errorf("create overflow file %s: %w", path, err)
	}
	db.currentFile = f
	db.writer = bufio.NewWriter(f)
	db.currentSize = 0
	db.fileIndex++
	if db.config.CompressionEnabled {
		db.gzipWriter = gzip.NewWriter(db.writer)
	}
	db.enforceRetention()
	return nil
}

func (db *DiskBuffer) closeCurrent() error {
	var lastErr error
	if db.gzipWriter != nil {
		if err := db.gzipWriter.Close(); err != nil {
			lastErr = err
		}
		db.gzipWriter = nil
	}
	if db.writer != nil {
		if err := db.writer.Flush(); err != nil && lastErr == nil {
			lastErr = err
		}
		db.writer = nil
	}
	if db.currentFile != nil {
		if err := db.currentFile.Sync(); err != nil && lastErr == nil {
			lastErr = err
		}
		if err := db.currentFile.Close(); err != nil && lastErr == nil {
			lastErr = err
		}
		db.currentFile = nil
	}
	return lastErr
}

// enforceRetention drops the oldest overflow files past MaxFiles/RetentionPeriod;
// called with db.mutex already held (from rotate).
func (db *DiskBuffer) enforceRetention() {
	files, err := filepath.Glob(filepath.Join(db.config.BaseDir, "overflow_*.dat"))
	if err != nil {
		return
	}
	sort.Strings(files)
	now := time.Now()
	for len(files) > db.config.MaxFiles {
		_ = os.Remove(files[0])
		files = files[1:]
	}
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > db.config.RetentionPeriod {
			_ = os.Remove(f)
		}
	}
}

func (db *DiskBuffer) syncLoop() {
	defer db.wg.Done()
	ticker := time.NewTicker(db.config.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			db.mutex.Lock()
			if db.writer != nil {
				db.writer.Flush()
			}
			if db.gzipWriter != nil {
				db.gzipWriter.Flush()
			}
			if db.currentFile != nil {
				db.currentFile.Sync()
			}
			db.mutex.Unlock()
		case <-db.stopSync:
			return
		}
	}
}

// Close flushes and closes the active overflow file and stops the
// background sync loop.
func (db *DiskBuffer) Close() error {
	close(db.stopSync)
	db.wg.Wait()

	db.mutex.Lock()
	defer db.mutex.Unlock()
	return db.closeCurrent()
}
