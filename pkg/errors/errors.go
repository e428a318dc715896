// Package errors carries the write pipeline's internal fault taxonomy (spec
// §7): QueueFull, SerializationError, DestinationWriteError, WriterCrash,
// RestartLimitExceeded, and ShutdownTimeout. These are never returned to
// application code: pipeline faults become metrics counts and diagnostic
// log entries, and no synthetic record describing a fault is written to
// the destinations. Package-internal callers (pkg/writer, pkg/supervisor)
// use PipelineError to classify and log a fault uniformly.
//
// Grounded on the teacher's pkg/errors/errors.go AppError: code + component +
// operation + cause + severity, generalized here to a closed Code enum
// instead of the teacher's open string-constant codes, since every value
// this package needs is known up front.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// Code is the closed set of internal pipeline fault classes (spec §7).
type Code string

const (
	CodeQueueFull              Code = "QUEUE_FULL"
	CodeSerializationError     Code = "SERIALIZATION_ERROR"
	CodeDestinationWriteError  Code = "DESTINATION_WRITE_ERROR"
	CodeWriterCrash            Code = "WRITER_CRASH"
	CodeRestartLimitExceeded   Code = "RESTART_LIMIT_EXCEEDED"
	CodeShutdownTimeout        Code = "SHUTDOWN_TIMEOUT"
)

// Severity mirrors the teacher's Severity levels, trimmed to the subset the
// pipeline actually distinguishes.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// PipelineError is the internal fault representation every pipeline
// component wraps an underlying error in before logging or counting it.
type PipelineError struct {
	Code      Code
	Component string
	Operation string
	Message   string
	Cause     error
	Severity  Severity
	Timestamp time.Time
}

// New constructs a PipelineError with default (warning) severity.
func New(code Code, component, operation, message string) *PipelineError {
	return &PipelineError{
		Code:      code,
		Component: component,
		Operation: operation,
		Message:   message,
		Severity:  SeverityWarning,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Component, e.Operation, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
}

// Unwrap exposes Cause to errors.Is/errors.As.
func (e *PipelineError) Unwrap() error { return e.Cause }

// Wrap attaches an underlying cause.
func (e *PipelineError) Wrap(cause error) *PipelineError {
	e.Cause = cause
	return e
}

// WithSeverity overrides the default severity.
func (e *PipelineError) WithSeverity(s Severity) *PipelineError {
	e.Severity = s
	return e
}

// QueueFull reports an admission rejected under PolicyDropNewest/PolicyWarn.
func QueueFull(operation string) *PipelineError {
	return New(CodeQueueFull, "queue", operation, "queue at capacity, item rejected")
}

// SerializationError reports a field value that could not be encoded and was
// replaced with a placeholder.
func SerializationError(operation string, cause error) *PipelineError {
	return New(CodeSerializationError, "serializer", operation, "value could not be serialized").Wrap(cause)
}

// DestinationWriteError reports a destination write failure; the writer
// continues with the remaining destinations per spec §4.6.
func DestinationWriteError(destination string, cause error) *PipelineError {
	return New(CodeDestinationWriteError, "destination", destination, "write failed").Wrap(cause)
}

// WriterCrash reports the writer goroutine terminating on an unrecovered
// panic, triggering the supervisor's restart path.
func WriterCrash(cause error) *PipelineError {
	return New(CodeWriterCrash, "writer", "run", "writer goroutine panicked").
		Wrap(cause).
		WithSeverity(SeverityCritical)
}

// RestartLimitExceeded reports the supervisor giving up on restarting the
// writer and falling back to synchronous writes.
func RestartLimitExceeded(attempts int) *PipelineError {
	return New(CodeRestartLimitExceeded, "supervisor", "restart",
		fmt.Sprintf("writer restart limit exceeded after %d attempts", attempts)).
		WithSeverity(SeverityCritical)
}

// ShutdownTimeout reports Shutdown(timeout) expiring before the queue
// drained.
func ShutdownTimeout(pending int) *PipelineError {
	return New(CodeShutdownTimeout, "supervisor", "shutdown",
		fmt.Sprintf("shutdown timed out with %d records still pending", pending)).
		WithSeverity(SeverityCritical)
}

// IsPipelineError reports whether err is (or wraps) a *PipelineError.
func IsPipelineError(err error) (*PipelineError, bool) {
	var pe *PipelineError
	ok := stderrors.As(err, &pe)
	return pe, ok
}
