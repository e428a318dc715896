package destination

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockFile_FlushMakesDataVisibleWithoutClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	d, err := NewBlockFile("file", path, testLogger())
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.WriteBatch([][]byte{[]byte("a\n"), []byte("b\n")}))
	require.NoError(t, d.Flush())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", string(data))
}

func TestBlockFile_CloseFlushesAndFsyncs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	d, err := NewBlockFile("file", path, testLogger())
	require.NoError(t, err)

	require.NoError(t, d.Write([]byte("hello\n")))
	require.NoError(t, d.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
	assert.False(t, d.IsHealthy())
}
