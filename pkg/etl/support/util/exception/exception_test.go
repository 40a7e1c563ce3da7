package exception

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEtlError_IsMatchesKind(t *testing.T) {
	err := New(CycleError, "graph", "edge would close a cycle", nil)
	wrapped := fmt.Errorf("add dependency: %w", err)

	assert.True(t, errors.Is(wrapped, CycleError))
	assert.False(t, errors.Is(wrapped, ConfigError))
	assert.Equal(t, CycleError, KindOf(wrapped))
	assert.Equal(t, "[graph] edge would close a cycle", err.Error())
}

func TestEtlError_Fatality(t *testing.T) {
	assert.True(t, New(TransactionError, "engine.load", "commit failed", nil).IsFatal())
	assert.True(t, New(TimeLimitExceeded, "scheduler", "hard limit", nil).IsFatal())
	assert.False(t, New(TransformError, "transform", "bad expression", nil).IsFatal())
	assert.False(t, New(ExtractionError, "source", "bad row", nil).IsFatal())
	assert.True(t, NewFatal(ExtractionError, "source", "unreadable", io.ErrUnexpectedEOF).IsFatal())

	assert.True(t, IsFatal(errors.New("plain")))
	assert.False(t, IsFatal(nil))
	assert.False(t, IsFatal(New(ValidationViolation, "validate", "bad", nil)))
}

func TestNewf_TrailingErrorIsCause(t *testing.T) {
	err := Newf(ExtractionError, "source.csv", "row %d unreadable", 7, io.ErrUnexpectedEOF)
	assert.Equal(t, "row 7 unreadable", err.Message)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, "row 7 unreadable", ExtractErrorMessage(err))
}

func TestIsErrorOfType(t *testing.T) {
	err := New(ExtractionError, "source", "bad row", nil)
	assert.True(t, IsErrorOfType(err, "ExtractionError"))
	assert.True(t, IsErrorOfType(err, "bad row"))
	assert.True(t, IsErrorOfType(err, "exception.EtlError"))
	assert.False(t, IsErrorOfType(err, "TransactionError"))
	assert.False(t, IsErrorOfType(nil, "ExtractionError"))
}
