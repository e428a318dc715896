package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPipelineErrorWrapAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	pe := SerializationError("encode", cause)

	assert.Equal(t, CodeSerializationError, pe.Code)
	assert.ErrorIs(t, pe, cause)
	assert.Contains(t, pe.Error(), "disk full")
}

func TestConstructorsSetExpectedSeverity(t *testing.T) {
	assert.Equal(t, SeverityWarning, QueueFull("enqueue").Severity)
	assert.Equal(t, SeverityCritical, WriterCrash(errors.New("panic")).Severity)
	assert.Equal(t, SeverityCritical, RestartLimitExceeded(10).Severity)
	assert.Equal(t, SeverityCritical, ShutdownTimeout(5).Severity)
}

func TestIsPipelineError(t *testing.T) {
	_, ok := IsPipelineError(QueueFull("enqueue"))
	assert.True(t, ok)

	_, ok = IsPipelineError(errors.New("plain"))
	assert.False(t, ok)
}
