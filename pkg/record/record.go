// Package record defines Record, the immutable structured payload that flows
// through the asynchronous write pipeline (spec §3): built once on the
// caller's goroutine from pkg/types values and pkg/ordered field snapshots,
// then handed off to the serializer and never mutated again.
//
// Record lives in its own package, rather than alongside Level/FieldValue in
// pkg/types, because it composes pkg/ordered.Fields while pkg/ordered itself
// depends on pkg/types for Field/FieldValue — keeping Record out of pkg/types
// avoids a types->ordered->types import cycle.
package record

import (
	"github.com/logxpy/logxpy-go/pkg/ordered"
	"github.com/logxpy/logxpy-go/pkg/types"
)

// Record is the immutable structured payload that flows through the pipeline
// (spec §3). It is built once on the caller thread and never mutated again:
// ownership passes from the enqueueing goroutine to the serializer, and the
// resulting bytes pass from there to the writer worker (spec §3 "Ownership").
type Record struct {
	Timestamp float64 // wall-clock seconds since epoch, fractional

	Level       types.Level
	Message     string
	MessageType string

	Fields  *ordered.Fields // caller-supplied structured fields, insertion order
	Context *ordered.Fields // ambient scope fields captured at emission

	TaskID    string
	TaskLevel []int // non-empty; path from root to this record (1-based indices)

	ActionType   string
	ActionStatus types.ActionStatus // ActionStatusNone when this record is not a boundary

	// DurationSeconds is set on an action end-record: how long the scope ran.
	DurationSeconds float64
	HasDuration     bool

	// ErrorClass/ErrorMessage are set when ActionStatus == ActionStatusFailed.
	ErrorClass   string
	ErrorMessage string
}

// Clone returns a Record sharing its Fields/Context snapshots (both are
// already copy-on-write, so this is O(1) and safe to hand to a second
// destination or retry path without risking mutation of the original).
func (r Record) Clone() Record {
	return r
}
