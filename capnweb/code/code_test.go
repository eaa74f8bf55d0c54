package code

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromError(t *testing.T) {
	assert.Equal(t, NoError, FromError(nil))
	assert.Equal(t, Canceled, FromError(context.Canceled))
	assert.Equal(t, Canceled, FromError(context.DeadlineExceeded))
	assert.Equal(t, Internal, FromError(errors.New("boom")))
	assert.Equal(t, NotFound, FromError(NotFound.Err()))
}

func TestRegisterRejectsConflicting(t *testing.T) {
	Register("test_custom_code", "a custom code")
	assert.Panics(t, func() {
		Register("test_custom_code", "a different message")
	})
}

func TestCodeErrIs(t *testing.T) {
	err := BadRequest.Err()
	assert.True(t, errors.Is(err, BadRequest.Err()))
	assert.False(t, errors.Is(err, NotFound.Err()))
}
