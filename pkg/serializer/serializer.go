// Package serializer turns a Record into the self-delimiting wire form spec
// §4.2 defines: one compact, ordered-key line per record, terminated by \n.
//
// Grounded on the teacher's internal/sinks/common.go encoding helpers (the
// sink layer that turns structured data into bytes before handing it to a
// transport), generalized here to emit fixed header keys in a stable order
// followed by the caller's fields and ambient context in insertion order —
// something encoding/json's map marshaling cannot guarantee, which is why
// this package drives github.com/json-iterator/go per-value instead of
// handing it the whole record as a struct or map.
package serializer

import (
	"bytes"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/logxpy/logxpy-go/pkg/metrics"
	"github.com/logxpy/logxpy-go/pkg/ordered"
	"github.com/logxpy/logxpy-go/pkg/record"
	"github.com/logxpy/logxpy-go/pkg/types"
)

var jsonValue = jsoniter.ConfigCompatibleWithStandardLibrary

// Serializer turns a Record into a self-delimiting line of bytes. It never
// fails the pipeline (spec §4.2 "serializer never fails the pipeline");
// errors are folded into the output as a placeholder value and counted via
// metrics.
type Serializer interface {
	Serialize(r *record.Record) []byte
}

// LineSerializer is the default Serializer: compact, ordered-key JSON-like
// text, one record per line. Encoding runs on the caller's goroutine (spec
// §4.2: "CPU cost is charged to the producer, not the writer").
type LineSerializer struct {
	metrics *metrics.Registry
}

// NewLineSerializer builds the default Serializer. metrics may be nil, in
// which case serialization-error counts are simply not recorded.
func NewLineSerializer(m *metrics.Registry) *LineSerializer {
	return &LineSerializer{metrics: m}
}

// Serialize implements Serializer.
func (s *LineSerializer) Serialize(r *record.Record) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 256))
	buf.WriteByte('{')

	first := true
	writeKV := func(key string, writeVal func(*bytes.Buffer)) {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.WriteByte('"')
		buf.WriteString(key)
		buf.WriteString(`":`)
		writeVal(buf)
	}

	writeKV("ts", func(b *bytes.Buffer) { b.WriteString(strconv.FormatFloat(r.Timestamp, 'f', -1, 64)) })
	writeKV("tid", func(b *bytes.Buffer) { s.writeString(b, r.TaskID) })
	writeKV("lvl", func(b *bytes.Buffer) { s.writeString(b, r.Level.String()) })
	writeKV("mt", func(b *bytes.Buffer) { s.writeString(b, r.MessageType) })
	if r.ActionType != "" {
		writeKV("at", func(b *bytes.Buffer) { s.writeString(b, r.ActionType) })
	}
	if r.ActionStatus != types.ActionStatusNone {
		writeKV("st", func(b *bytes.Buffer) { s.writeString(b, r.ActionStatus.String()) })
	}
	if r.HasDuration {
		writeKV("dur", func(b *bytes.Buffer) { b.WriteString(strconv.FormatFloat(r.DurationSeconds, 'f', -1, 64)) })
	}
	writeKV("msg", func(b *bytes.Buffer) { s.writeString(b, r.Message) })

	if r.ErrorClass != "" {
		writeKV("err_class", func(b *bytes.Buffer) { s.writeString(b, r.ErrorClass) })
		writeKV("err_msg", func(b *bytes.Buffer) { s.writeString(b, r.ErrorMessage) })
	}

	s.writeFields(buf, &writeKV, "", r.Context)
	s.writeFields(buf, &writeKV, "", r.Fields)

	buf.WriteByte('}')
	buf.WriteByte('\n')
	return buf.Bytes()
}

func (s *LineSerializer) writeFields(buf *bytes.Buffer, writeKV *func(string, func(*bytes.Buffer)), prefix string, fields *ordered.Fields) {
	if fields == nil {
		return
	}
	fields.Range(func(name string, value types.FieldValue) bool {
		(*writeKV)(name, func(b *bytes.Buffer) { s.writeValue(b, value) })
		return true
	})
}

func (s *LineSerializer) writeValue(b *bytes.Buffer, v types.FieldValue) {
	switch v.Kind() {
	case types.KindInt64:
		n, _ := v.Int64()
		b.WriteString(strconv.FormatInt(n, 10))
	case types.KindFloat64:
		f, _ := v.Float64()
		b.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
	case types.KindBool:
		bl, _ := v.Bool()
		b.WriteString(strconv.FormatBool(bl))
	case types.KindString:
		str, _ := v.String()
		s.writeString(b, str)
	case types.KindBytes:
		raw, _ := v.ByteSlice()
		encoded, err := jsonValue.Marshal(raw)
		if err != nil {
			s.countError()
			s.writeString(b, "<bytes:unserializable>")
			return
		}
		b.Write(encoded)
	case types.KindMap:
		nested, _ := v.Fields()
		b.WriteByte('{')
		for i, f := range nested {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('"')
			b.WriteString(f.Name)
			b.WriteString(`":`)
			s.writeValue(b, f.Value)
		}
		b.WriteByte('}')
	default:
		s.countError()
		s.writeString(b, "<unknown-kind>")
	}
}

// writeString escapes str the same way encoding/json would and never fails:
// spec §4.2 requires the serializer to never fail the pipeline, so any
// marshal error here (unreachable for a plain string, kept defensively)
// degrades to a type-name placeholder instead of propagating.
func (s *LineSerializer) writeString(b *bytes.Buffer, str string) {
	encoded, err := jsonValue.Marshal(str)
	if err != nil {
		s.countError()
		b.WriteString(`"<string:unserializable>"`)
		return
	}
	b.Write(encoded)
}

func (s *LineSerializer) countError() {
	if s.metrics != nil {
		s.metrics.IncSerializationError()
	}
}
