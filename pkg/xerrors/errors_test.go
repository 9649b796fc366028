package xerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New(ErrorTypeConfig, "minsize must be non-negative")
	assert.Equal(t, "config: minsize must be non-negative", err.Error())
	assert.Equal(t, ErrorTypeConfig, err.Type)
	assert.NotEmpty(t, err.Stack)
}

func TestWrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, ErrorTypeConnection, "connect failed")

	assert.Equal(t, "connection: connect failed: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestWrapNil(t *testing.T) {
	require.Nil(t, Wrap(nil, ErrorTypeConnection, "ignored"))
}

func TestWrapPreservesStack(t *testing.T) {
	inner := New(ErrorTypeConnection, "dial")
	outer := Wrap(inner, ErrorTypeDispatch, "run")
	assert.Equal(t, inner.Stack, outer.Stack)
}

func TestIsType(t *testing.T) {
	err := New(ErrorTypeUsage, "connection not held by pool")

	assert.True(t, IsType(err, ErrorTypeUsage))
	assert.False(t, IsType(err, ErrorTypeClosed))
	assert.False(t, IsType(errors.New("plain"), ErrorTypeUsage))

	// Wrapped through fmt still resolves
	wrapped := fmt.Errorf("caller context: %w", err)
	assert.True(t, IsType(wrapped, ErrorTypeUsage))
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, ErrorTypeClosed, TypeOf(New(ErrorTypeClosed, "pool is closed")))
	assert.Equal(t, ErrorType(""), TypeOf(errors.New("plain")))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrorTypeConfig, "invalid sizes").
		WithDetail("minsize", 5).
		WithDetail("maxsize", 2)

	assert.Equal(t, 5, err.Details["minsize"])
	assert.Equal(t, 2, err.Details["maxsize"])
}
