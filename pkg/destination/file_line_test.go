package destination

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestLineFile_WriteAppendsAndFsyncs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	d, err := NewLineFile("file", path, testLogger())
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Write([]byte("a\n")))
	require.NoError(t, d.Write([]byte("b\n")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "a\nb\n", string(data))
}

func TestLineFile_WriteBatchJoinsIntoSingleWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	d, err := NewLineFile("file", path, testLogger())
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.WriteBatch([][]byte{[]byte("a\n"), []byte("b\n"), []byte("c\n")}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "a\nb\nc\n", string(data))
}

func TestLineFile_CloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	d, err := NewLineFile("file", path, testLogger())
	require.NoError(t, err)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	require.False(t, d.IsHealthy())
}
