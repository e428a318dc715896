package destination

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMmapFile_WriteBatchThenCloseTruncatesToWritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	d, err := NewMmapFile("file", path, testLogger())
	require.NoError(t, err)

	require.NoError(t, d.WriteBatch([][]byte{[]byte("a\n"), []byte("b\n"), []byte("c\n")}))
	require.NoError(t, d.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\n", string(data))
}

func TestMmapFile_GrowsPastInitialWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	d, err := NewMmapFile("file", path, testLogger())
	require.NoError(t, err)

	big := bytes.Repeat([]byte("x"), mmapInitialSize+1024)
	require.NoError(t, d.Write(big))
	require.NoError(t, d.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, big, data)
}
