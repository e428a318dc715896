// Package ordered provides an order-preserving, copy-on-write field list used
// for Record.Fields and Record.Context (ambient scope fields).
//
// It is the insertion-order analog of the teacher repo's LabelsCOW: a snapshot
// taken at start_action is marked readonly and shared by reference across
// sibling and child scopes until one of them mutates it, at which point that
// mutation triggers a private copy first. This is the "persistent map or small
// copy-on-grow array" construction spec §9 calls for in place of a mutated
// shared object.
package ordered

import "github.com/logxpy/logxpy-go/pkg/types"

// Fields is a copy-on-write, order-preserving list of (name, value) pairs.
type Fields struct {
	items    []types.Field
	index    map[string]int
	readonly bool
}

// New returns an empty Fields list.
func New() *Fields {
	return &Fields{}
}

// FromSlice builds a Fields list from an existing ordered slice, copying it so
// the caller's slice stays independent.
func FromSlice(items []types.Field) *Fields {
	f := &Fields{items: make([]types.Field, len(items))}
	copy(f.items, items)
	f.reindex()
	return f
}

func (f *Fields) reindex() {
	f.index = make(map[string]int, len(f.items))
	for i, it := range f.items {
		f.index[it.Name] = i
	}
}

// Len returns the number of fields.
func (f *Fields) Len() int {
	if f == nil {
		return 0
	}
	return len(f.items)
}

// Get returns the value for name and whether it was present.
func (f *Fields) Get(name string) (types.FieldValue, bool) {
	if f == nil {
		return types.FieldValue{}, false
	}
	if f.index == nil {
		f.reindex()
	}
	i, ok := f.index[name]
	if !ok {
		return types.FieldValue{}, false
	}
	return f.items[i].Value, true
}

// Range calls fn for every field in insertion order. Stops early if fn returns
// false.
func (f *Fields) Range(fn func(name string, value types.FieldValue) bool) {
	if f == nil {
		return
	}
	for _, it := range f.items {
		if !fn(it.Name, it.Value) {
			return
		}
	}
}

// ToSlice returns a copy of the fields in insertion order.
func (f *Fields) ToSlice() []types.Field {
	if f == nil {
		return nil
	}
	out := make([]types.Field, len(f.items))
	copy(out, f.items)
	return out
}

// Set returns a Fields list with name set to value. If f is not yet shared
// (not readonly), the set happens in place and the receiver is returned. If f
// is readonly (shared with a sibling/parent scope), a private copy is made
// first — the copy-on-write step.
func (f *Fields) Set(name string, value types.FieldValue) *Fields {
	target := f.copyOnWriteIfNeeded()
	if target.index == nil {
		target.reindex()
	}
	if i, ok := target.index[name]; ok {
		target.items[i].Value = value
		return target
	}
	target.index[name] = len(target.items)
	target.items = append(target.items, types.Field{Name: name, Value: value})
	return target
}

// WithAll returns a Fields list with every field of extra appended/overwritten
// on top of f, in extra's order, using the same copy-on-write discipline as
// Set. This is how a child action scope builds its snapshot from the parent's
// ambient context plus its own additional fields.
func (f *Fields) WithAll(extra []types.Field) *Fields {
	target := f
	for _, field := range extra {
		target = target.Set(field.Name, field.Value)
	}
	return target
}

// MarkReadOnly marks this Fields list as shared; the next mutating call
// triggers a private copy first.
func (f *Fields) MarkReadOnly() *Fields {
	if f == nil {
		return New()
	}
	f.readonly = true
	return f
}

// Snapshot returns a readonly Fields list sharing storage with f, suitable for
// handing to a child scope or to the Record at emission time without copying.
func (f *Fields) Snapshot() *Fields {
	if f == nil {
		return New()
	}
	f.readonly = true
	return &Fields{items: f.items, index: f.index, readonly: true}
}

func (f *Fields) copyOnWriteIfNeeded() *Fields {
	if f == nil {
		return New()
	}
	if !f.readonly {
		return f
	}
	items := make([]types.Field, len(f.items))
	copy(items, f.items)
	cp := &Fields{items: items}
	cp.reindex()
	return cp
}
