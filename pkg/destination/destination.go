// Package destination implements the byte sinks the writer worker flushes
// batches to (spec §4.4, component C5): file-based variants required by the
// spec, plus network variants supplementing the teacher's own output
// catalogue (Kafka, Loki, Elasticsearch, Splunk).
//
// A Destination exposes either single-item or batch writes; the writer
// worker (pkg/writer) type-asserts for BatchWriter first and falls back to
// Writer, per spec §4.4 "the writer detects which form each registered
// destination supports and uses the more efficient one." Every destination
// here is only ever called from the writer's single goroutine, matching
// spec §4.4 "MUST be safe to call only from the writer worker". The file
// destinations still take their own mutex around Write/WriteBatch/Close;
// the network destinations hold no lock of their own.
package destination

import "time"

// Writer is a destination that accepts one serialized record at a time.
type Writer interface {
	Name() string
	Write(record []byte) error
	IsHealthy() bool
	Close() error
}

// BatchWriter is a destination that can accept a whole flushed batch in one
// call; the writer worker prefers this form when a destination implements
// it, per spec §4.4.
type BatchWriter interface {
	Name() string
	WriteBatch(batch [][]byte) error
	IsHealthy() bool
	Close() error
}

// writeAll issues Write for every record in batch and returns the first
// error encountered, after attempting every record (used by destinations
// that only support the single-item form internally, e.g. none of the
// concrete types below need this — line/block/mmap all implement
// WriteBatch natively — but network destinations without a native batch
// endpoint would fall back here).
func writeAll(w Writer, batch [][]byte) error {
	var firstErr error
	for _, record := range batch {
		if err := w.Write(record); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// retryShortWrite issues w.Write(p) repeatedly until the full buffer is
// drained, per spec §4.4's invariant "All destinations retry on short
// writes until the full buffer is drained." Most *os.File writes on a
// regular file never return a short count, but pipes and some network
// file descriptors can.
func retryShortWrite(w interface{ Write([]byte) (int, error) }, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// joinLines concatenates already-newline-terminated records into a single
// buffer so a batch is issued as one write(2)/writev(2)-equivalent call,
// per spec §4.4's atomicity invariant ("a single record never interleaves
// with one from another process").
func joinLines(batch [][]byte) []byte {
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

// defaultHealthCheckInterval is not referenced by any destination: the
// network destinations' IsHealthy() only reports whether their client was
// built and never probes the remote end.
const defaultHealthCheckInterval = 5 * time.Second
