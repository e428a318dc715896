package destination

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElasticsearch_WriteBatchBuildsBulkBody(t *testing.T) {
	var gotPath string
	var lines []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		scanner := bufio.NewScanner(r.Body)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, err := NewElasticsearch("es", ElasticsearchConfig{
		URL:       srv.URL,
		IndexName: "logxpy-records",
	}, testLogger())
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.WriteBatch([][]byte{[]byte(`{"msg":"a"}`), []byte(`{"msg":"b"}`)}))

	assert.Equal(t, "/_bulk", gotPath)
	require.Len(t, lines, 4) // action, doc, action, doc

	var action map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &action))
	assert.Equal(t, "logxpy-records", action["index"]["_index"])
}
