package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesKind(t *testing.T) {
	a := NewMalformed("truncated frame")
	b := NewMalformed("different message, same kind")

	assert.True(t, errors.Is(a, b), "expected Malformed errors to match by kind")
}

func TestErrorIsDistinguishesSubKind(t *testing.T) {
	a := NewConsensusInvalid(SubKindDoubleSpend, "input already spent")
	b := NewConsensusInvalid(SubKindMissingUTXO, "no such output")

	assert.False(t, errors.Is(a, b), "expected different sub-kinds not to match")
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	wrapped := New(KindResourceError, "chunk read failed", cause)

	assert.True(t, errors.Is(wrapped, cause), "expected Unwrap chain to reach cause")
	assert.NotEmpty(t, wrapped.Error())
}

func TestNilErrorIsSafe(t *testing.T) {
	var e *Error
	assert.Equal(t, "<nil>", e.Error())
	assert.False(t, e.Is(errors.New("x")), "nil *Error.Is should be false")
}
