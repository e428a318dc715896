package dlq

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/logxpy/logxpy-go/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testMetrics() *metrics.Registry {
	return metrics.New(prometheus.NewRegistry())
}

func TestDLQ_AddEntryPersistsToFile(t *testing.T) {
	dir := t.TempDir()
	q := New(Config{
		Enabled:       true,
		Directory:     dir,
		MaxFileSizeMB: 1,
		MaxFiles:      5,
		RetentionDays: 7,
		FlushInterval: 50 * time.Millisecond,
		QueueSize:     100,
	}, testLogger(), testMetrics())

	require.NoError(t, q.Start())
	defer q.Stop()

	require.NoError(t, q.AddEntry([]byte(`{"msg":"hello"}`), "connection refused", "loki", 3))

	require.Eventually(t, func() bool {
		return q.GetStats().EntriesWritten == 1
	}, time.Second, 10*time.Millisecond)

	files, err := filepath.Glob(filepath.Join(dir, "dlq_*.jsonl"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestDLQ_DisabledIsNoop(t *testing.T) {
	q := New(Config{Enabled: false}, testLogger(), testMetrics())
	require.NoError(t, q.Start())
	require.NoError(t, q.AddEntry([]byte("x"), "err", "dest", 1))
	assert.Equal(t, int64(0), q.GetStats().TotalEntries)
	assert.True(t, q.IsHealthy())
}

func TestDLQ_CapacityOneAcceptsEntry(t *testing.T) {
	dir := t.TempDir()
	q := New(Config{
		Enabled:   true,
		Directory: dir,
		QueueSize: 1,
	}, testLogger(), testMetrics())
	require.NoError(t, q.Start())
	defer q.Stop()

	// Whether the in-memory queue is full at a given moment depends on the
	// running processing loop, so this only checks that a queue of
	// capacity 1 accepts an entry.
	err := q.AddEntry([]byte("a"), "err", "dest", 1)
	assert.NoError(t, err)
}

func TestDLQ_ReprocessingRetriesAndRemovesOnSuccess(t *testing.T) {
	dir := t.TempDir()
	q := New(Config{
		Enabled:       true,
		Directory:     dir,
		MaxFileSizeMB: 1,
		MaxFiles:      5,
		RetentionDays: 7,
		FlushInterval: 20 * time.Millisecond,
		QueueSize:     100,
		ReprocessingConfig: ReprocessingConfig{
			Enabled:      true,
			Interval:     30 * time.Millisecond,
			MaxRetries:   3,
			InitialDelay: time.Millisecond,
			MaxDelay:     10 * time.Millisecond,
			BatchSize:    10,
			MinEntryAge:  0,
		},
	}, testLogger(), testMetrics())

	var replayed int
	q.SetReprocessCallback(func(payload []byte, destination string) error {
		replayed++
		return nil
	})

	require.NoError(t, q.Start())
	defer q.Stop()

	require.NoError(t, q.AddEntry([]byte(`{"msg":"retry me"}`), "timeout", "kafka", 2))

	require.Eventually(t, func() bool {
		return q.GetStats().EntriesReplayed == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.GreaterOrEqual(t, replayed, 1)
}

func TestDLQ_CleanupRemovesExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	q := New(Config{Enabled: true, Directory: dir, RetentionDays: 1}, testLogger(), testMetrics())

	oldPath := filepath.Join(dir, "dlq_old.jsonl")
	require.NoError(t, os.WriteFile(oldPath, []byte("{}\n"), 0644))
	oldTime := time.Now().AddDate(0, 0, -2)
	require.NoError(t, os.Chtimes(oldPath, oldTime, oldTime))

	q.cleanupOldFiles()

	_, err := os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err))
}
