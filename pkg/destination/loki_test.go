package destination

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoki_WriteBatchPostsGzippedStream(t *testing.T) {
	var gotPath string
	var gotEncoding string
	var payload lokiPayload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotEncoding = r.Header.Get("Content-Encoding")

		gz, err := gzip.NewReader(r.Body)
		require.NoError(t, err)
		data, err := io.ReadAll(gz)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &payload))

		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d, err := NewLoki("loki", LokiConfig{
		URL:    srv.URL,
		Labels: map[string]string{"app": "logxpy"},
	}, testLogger())
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.WriteBatch([][]byte{[]byte(`{"msg":"a"}`), []byte(`{"msg":"b"}`)}))

	assert.Equal(t, "/loki/api/v1/push", gotPath)
	assert.Equal(t, "gzip", gotEncoding)
	require.Len(t, payload.Streams, 1)
	assert.Equal(t, "logxpy", payload.Streams[0].Stream["app"])
	assert.Len(t, payload.Streams[0].Values, 2)
}

func TestLoki_NonSuccessStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d, err := NewLoki("loki", LokiConfig{URL: srv.URL}, testLogger())
	require.NoError(t, err)
	defer d.Close()

	err = d.WriteBatch([][]byte{[]byte("x")})
	assert.Error(t, err)
}
