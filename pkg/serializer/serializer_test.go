package serializer

import (
	"encoding/json"
	"testing"

	"github.com/logxpy/logxpy-go/pkg/metrics"
	"github.com/logxpy/logxpy-go/pkg/ordered"
	"github.com/logxpy/logxpy-go/pkg/record"
	"github.com/logxpy/logxpy-go/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineSerializer_RoundTripsAllFields(t *testing.T) {
	reg := metrics.New(prometheus.NewRegistry())
	s := NewLineSerializer(reg)

	fields := ordered.FromSlice([]types.Field{
		{Name: "count", Value: types.Int(7)},
		{Name: "ratio", Value: types.Float(0.5)},
		{Name: "ok", Value: types.Bool(true)},
		{Name: "name", Value: types.Str("widget")},
	})

	r := &record.Record{
		Timestamp:   1700000000.5,
		Level:       types.LevelInfo,
		Message:     "hello world",
		MessageType: "inf",
		TaskID:      "ab1",
		TaskLevel:   []int{1},
		Fields:      fields,
	}

	line := s.Serialize(r)
	require.True(t, len(line) > 0)
	assert.Equal(t, byte('\n'), line[len(line)-1])

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(line[:len(line)-1], &decoded))

	assert.Equal(t, "hello world", decoded["msg"])
	assert.Equal(t, "ab1", decoded["tid"])
	assert.Equal(t, "info", decoded["lvl"])
	assert.EqualValues(t, 7, decoded["count"])
	assert.Equal(t, "widget", decoded["name"])
}

func TestLineSerializer_PreservesKeyOrder(t *testing.T) {
	reg := metrics.New(prometheus.NewRegistry())
	s := NewLineSerializer(reg)

	fields := ordered.FromSlice([]types.Field{
		{Name: "z_first", Value: types.Int(1)},
		{Name: "a_second", Value: types.Int(2)},
	})
	r := &record.Record{Level: types.LevelDebug, Fields: fields}

	line := string(s.Serialize(r))
	zIdx := indexOf(line, `"z_first"`)
	aIdx := indexOf(line, `"a_second"`)
	require.True(t, zIdx >= 0 && aIdx >= 0)
	assert.Less(t, zIdx, aIdx, "insertion order must survive serialization")
}

func TestLineSerializer_ActionBoundaryFields(t *testing.T) {
	reg := metrics.New(prometheus.NewRegistry())
	s := NewLineSerializer(reg)

	r := &record.Record{
		Level:           types.LevelError,
		ActionType:      "fetch_widget",
		ActionStatus:    types.ActionStatusFailed,
		HasDuration:     true,
		DurationSeconds: 0.25,
		ErrorClass:      "timeout",
		ErrorMessage:    "deadline exceeded",
	}

	line := s.Serialize(r)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(line[:len(line)-1], &decoded))
	assert.Equal(t, "fetch_widget", decoded["at"])
	assert.Equal(t, "failed", decoded["st"])
	assert.Equal(t, "timeout", decoded["err_class"])
	assert.InDelta(t, 0.25, decoded["dur"], 0.0001)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
