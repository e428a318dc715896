package destination

import (
	"fmt"
	"os"
	"sync"

	"github.com/blevesearch/mmap-go"
	"github.com/sirupsen/logrus"
)

// mmapInitialSize is the first mapping window; it doubles every time the
// tail nears the end, per spec §4.4's "advances a mapping window... remaps
// when the tail nears the end."
const mmapInitialSize = 1 << 20 // 1 MiB

// MmapFile is the memory-mapped file destination (spec §4.4): writes land
// directly in a mapped window, amortizing syscall cost to near zero and
// avoiding a copy through a userspace buffer. Remapping (on growth) is the
// only syscall-heavy operation, and it happens rarely relative to writes.
//
// Grounded on the teacher's internal/sinks/local_file_sink.go file-growth
// handling, generalized from "preallocate then rotate" to "map, write,
// remap-on-overflow" using github.com/blevesearch/mmap-go, the one pack
// dependency that actually wraps mmap(2)/MapViewOfFile.
type MmapFile struct {
	name   string
	logger *logrus.Logger

	mu       sync.Mutex
	f        *os.File
	region   mmap.MMap
	size     int64 // current mapped/file size
	offset   int64 // next write offset within region
}

// NewMmapFile creates or truncates path to mmapInitialSize and maps it.
func NewMmapFile(name, path string, logger *logrus.Logger) (*MmapFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_CLOEXEC, 0644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(mmapInitialSize); err != nil {
		f.Close()
		return nil, err
	}
	region, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &MmapFile{name: name, logger: logger, f: f, region: region, size: mmapInitialSize}, nil
}

func (d *MmapFile) Name() string { return d.name }

func (d *MmapFile) Write(record []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeLocked(record)
}

func (d *MmapFile) WriteBatch(batch [][]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeLocked(joinLines(batch))
}

// writeLocked remaps (doubling the window) whenever record would overrun
// the current mapping, then copies record into place and advances offset.
func (d *MmapFile) writeLocked(record []byte) error {
	for d.offset+int64(len(record)) > d.size {
		if err := d.growLocked(); err != nil {
			return err
		}
	}
	copy(d.region[d.offset:], record)
	d.offset += int64(len(record))
	return nil
}

func (d *MmapFile) growLocked() error {
	newSize := d.size * 2
	for newSize < d.offset+mmapInitialSize {
		newSize *= 2
	}
	if err := d.region.Unmap(); err != nil {
		return fmt.Errorf("unmap before grow: %w", err)
	}
	if err := d.f.Truncate(newSize); err != nil {
		return fmt.Errorf("truncate to %d: %w", newSize, err)
	}
	region, err := mmap.Map(d.f, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("remap: %w", err)
	}
	d.region = region
	d.size = newSize
	return nil
}

func (d *MmapFile) IsHealthy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f != nil && d.region != nil
}

// Close flushes the mapping to disk, unmaps it, truncates the file down to
// the bytes actually written, and closes the fd.
func (d *MmapFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	if err := d.region.Flush(); err != nil {
		d.logger.WithError(err).WithField("destination", d.name).Warn("mmap flush on close failed")
	}
	if err := d.region.Unmap(); err != nil {
		d.logger.WithError(err).WithField("destination", d.name).Warn("mmap unmap on close failed")
	}
	if err := d.f.Truncate(d.offset); err != nil {
		d.logger.WithError(err).WithField("destination", d.name).Warn("truncate to final size failed")
	}
	err := d.f.Close()
	d.f = nil
	d.region = nil
	return err
}
