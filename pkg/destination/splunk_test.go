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

func TestSplunk_WriteBatchEncodesOneEventPerLine(t *testing.T) {
	var gotAuth string
	var events []splunkEvent

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		scanner := bufio.NewScanner(r.Body)
		for scanner.Scan() {
			var e splunkEvent
			require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
			events = append(events, e)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, err := NewSplunk("splunk", SplunkConfig{
		HECURL: srv.URL,
		Token:  "abc123",
		Index:  "main",
	}, testLogger())
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.WriteBatch([][]byte{[]byte(`{"msg":"a"}`), []byte(`{"msg":"b"}`)}))

	assert.Equal(t, "Splunk abc123", gotAuth)
	require.Len(t, events, 2)
	assert.Equal(t, "main", events[0].Index)
}
