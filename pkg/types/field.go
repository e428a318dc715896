package types

// Kind discriminates the FieldValue union. Closed set: no reflection required to
// serialize a field (spec §9: "Model as an ordered (name, typed-value) vector; the
// tagged-value enum covers integer, float, boolean, string, bytes, and a small
// nested map variant").
type Kind int

const (
	KindInt64 Kind = iota
	KindFloat64
	KindBool
	KindString
	KindBytes
	KindMap
)

// FieldValue is a tagged union over the scalar and small-nested-structure value
// types a Record field may hold.
type FieldValue struct {
	kind  Kind
	i     int64
	f     float64
	b     bool
	s     string
	bytes []byte
	m     []Field
}

// Field is one (name, typed-value) pair. Fields are kept in a slice, never a
// map, so that insertion order round-trips through the serializer (spec §3).
type Field struct {
	Name  string
	Value FieldValue
}

func Int(v int64) FieldValue    { return FieldValue{kind: KindInt64, i: v} }
func Float(v float64) FieldValue { return FieldValue{kind: KindFloat64, f: v} }
func Bool(v bool) FieldValue    { return FieldValue{kind: KindBool, b: v} }
func Str(v string) FieldValue   { return FieldValue{kind: KindString, s: v} }
func Bytes(v []byte) FieldValue {
	cp := make([]byte, len(v))
	copy(cp, v)
	return FieldValue{kind: KindBytes, bytes: cp}
}
func Map(fields []Field) FieldValue {
	cp := make([]Field, len(fields))
	copy(cp, fields)
	return FieldValue{kind: KindMap, m: cp}
}

func (v FieldValue) Kind() Kind { return v.kind }

// Int64, Float64, Bool, String, ByteSlice, and Fields return the underlying value
// along with whether the stored kind matches; callers that know the kind in
// advance (most serializer code) can ignore the second return.
func (v FieldValue) Int64() (int64, bool)     { return v.i, v.kind == KindInt64 }
func (v FieldValue) Float64() (float64, bool) { return v.f, v.kind == KindFloat64 }
func (v FieldValue) Bool() (bool, bool)       { return v.b, v.kind == KindBool }
func (v FieldValue) String() (string, bool)   { return v.s, v.kind == KindString }
func (v FieldValue) ByteSlice() ([]byte, bool) { return v.bytes, v.kind == KindBytes }
func (v FieldValue) Fields() ([]Field, bool)   { return v.m, v.kind == KindMap }
