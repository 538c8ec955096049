package errors_test

import (
	"fmt"
	"testing"

	"codeberg.org/mutker/padctl/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestFactoryMessages(t *testing.T) {
	errFactory := errors.New()

	err := errFactory.New(errors.ErrNoOpenSession)
	assert.Equal(t, "No open session", err.Error())
	assert.Equal(t, errors.ErrNoOpenSession, err.Code())

	err = errFactory.WithMessage(errors.ErrInvalidSpeed, "speed 7.0 km/h outside 0.0-6.0")
	assert.Equal(t, "speed 7.0 km/h outside 0.0-6.0", err.Error())

	err = errFactory.WithData(errors.ErrInvalidGoal, "target must be positive")
	assert.Equal(t, "Invalid goal: target must be positive", err.Error())
	assert.Equal(t, "target must be positive", err.GetData())
}

func TestWrapKeepsCause(t *testing.T) {
	errFactory := errors.New()
	cause := fmt.Errorf("link closed")

	err := errFactory.Wrap(errors.ErrDeviceUnavailable, cause)
	assert.Equal(t, "Device unavailable: link closed", err.Error())
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestCodeOfAndHasCode(t *testing.T) {
	errFactory := errors.New()
	inner := errFactory.New(errors.ErrTimeout)
	outer := errFactory.Wrap(errors.ErrDeviceUnavailable, inner)
	wrapped := fmt.Errorf("start: %w", outer)

	assert.Equal(t, errors.ErrDeviceUnavailable, errors.CodeOf(wrapped))
	assert.True(t, errors.HasCode(wrapped, errors.ErrTimeout))
	assert.True(t, errors.HasCode(wrapped, errors.ErrDeviceUnavailable))
	assert.False(t, errors.HasCode(wrapped, errors.ErrInvalidSpeed))
	assert.Equal(t, errors.ErrInternal, errors.CodeOf(fmt.Errorf("plain")))
}

func TestIsMatchesByCode(t *testing.T) {
	errFactory := errors.New()
	err := errFactory.WithMessage(errors.ErrInvalidTransition, "belt is running")

	assert.True(t, errors.Is(err, errFactory.New(errors.ErrInvalidTransition)))
	assert.False(t, errors.Is(err, errFactory.New(errors.ErrInvalidSpeed)))
	assert.Equal(t, errors.ErrResourceNotFound, errors.ErrNotFound)
}
