package destination

import (
	"bufio"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// blockBufferSize matches the teacher's ~64KiB default OS write-buffer
// sizing referenced in internal/sinks/local_file_sink.go's throughput
// notes.
const blockBufferSize = 64 * 1024

// BlockFile is the block-buffered file destination (spec §4.4, the
// default): O_APPEND|O_CLOEXEC, relying on a bufio.Writer sized to the
// teacher's effective OS buffer for highest sustained throughput. fsync
// only happens on an explicit Flush or Close (DESIGN.md Open Question 2),
// never on every record.
type BlockFile struct {
	name   string
	logger *logrus.Logger

	mu sync.Mutex
	f  *os.File
	bw *bufio.Writer
}

// NewBlockFile opens path for append and wraps it in a buffered writer.
func NewBlockFile(name, path string, logger *logrus.Logger) (*BlockFile, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_CLOEXEC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &BlockFile{
		name:   name,
		logger: logger,
		f:      f,
		bw:     bufio.NewWriterSize(f, blockBufferSize),
	}, nil
}

func (d *BlockFile) Name() string { return d.name }

func (d *BlockFile) Write(record []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.bw.Write(record)
	return err
}

// WriteBatch writes every record into the buffered writer; bufio itself
// coalesces them into as few underlying write(2) calls as its buffer
// allows, matching spec §4.4's "issued as a single write where possible."
func (d *BlockFile) WriteBatch(batch [][]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, record := range batch {
		if _, err := d.bw.Write(record); err != nil {
			return err
		}
	}
	return nil
}

// Flush drains the bufio.Writer to the OS and fsyncs the file.
func (d *BlockFile) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.bw.Flush(); err != nil {
		return err
	}
	return d.f.Sync()
}

func (d *BlockFile) IsHealthy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f != nil
}

// Close flushes the buffer, fsyncs, and closes the file.
func (d *BlockFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	if err := d.bw.Flush(); err != nil {
		d.f.Close()
		d.f = nil
		return err
	}
	if err := d.f.Sync(); err != nil {
		d.logger.WithError(err).WithField("destination", d.name).Warn("fsync on close failed")
	}
	err := d.f.Close()
	d.f = nil
	return err
}
