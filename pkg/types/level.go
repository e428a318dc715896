// Package types defines the value types of the record model shared across the
// asynchronous write pipeline: levels, action statuses, and field values. The
// immutable Record built from them lives in pkg/record.
package types

import "fmt"

// Level is the severity of a Record, following the fixed set in spec §3.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelSuccess
	LevelNote
	LevelWarning
	LevelError
	LevelCritical
	LevelCheckpoint
	// LevelException marks a record emitted from an exception/error-recovery
	// path (spec §6's log.exception(msg, **fields)). It carries only the
	// caller's message and fields; no stack trace field is added. Level
	// filtering ranks it together with LevelError.
	LevelException
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelSuccess:
		return "success"
	case LevelNote:
		return "note"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	case LevelCritical:
		return "critical"
	case LevelCheckpoint:
		return "checkpoint"
	case LevelException:
		return "exception"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// MessageType returns the default message_type tag derived from the level, used
// when the caller does not supply one explicitly (spec §3: "message_type: short
// tag derived from level or caller-supplied").
func (l Level) MessageType() string {
	switch l {
	case LevelDebug:
		return "dbg"
	case LevelInfo:
		return "inf"
	case LevelSuccess:
		return "suc"
	case LevelNote:
		return "note"
	case LevelWarning:
		return "wrn"
	case LevelError:
		return "err"
	case LevelCritical:
		return "crt"
	case LevelCheckpoint:
		return "chk"
	case LevelException:
		return "exc"
	default:
		return "unk"
	}
}

// ActionStatus marks the boundary state of an action scope (spec §3/§4.3).
type ActionStatus int

const (
	ActionStatusNone ActionStatus = iota
	ActionStatusStarted
	ActionStatusSucceeded
	ActionStatusFailed
)

func (s ActionStatus) String() string {
	switch s {
	case ActionStatusStarted:
		return "started"
	case ActionStatusSucceeded:
		return "succeeded"
	case ActionStatusFailed:
		return "failed"
	default:
		return ""
	}
}
