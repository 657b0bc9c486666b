package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesByCode(t *testing.T) {
	err := NotFound("task", "t-1")

	assert.True(t, IsNotFound(err))
	assert.False(t, IsValidation(err))
	assert.Equal(t, CodeNotFound, CodeOf(err))
	assert.Equal(t, `[NOT_FOUND] task "t-1" not found`, err.Error())
}

func TestWrappedErrorKeepsCode(t *testing.T) {
	err := fmt.Errorf("add dependency: %w", Validation("edge %s -> %s would create a cycle", "a", "b"))

	assert.True(t, IsValidation(err))
	assert.Equal(t, CodeValidation, CodeOf(err))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestCauseIsUnwrapped(t *testing.T) {
	cause := errors.New("connection reset")
	err := &Error{Code: CodeConflict, Message: "transition failed", Cause: cause}

	assert.ErrorIs(t, err, cause)
	assert.True(t, IsConflict(err))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestWithDetail(t *testing.T) {
	err := Validation("bad edge").WithDetail("from", "a").WithDetail("to", "b")

	assert.Equal(t, map[string]any{"from": "a", "to": "b"}, err.Details)
}
