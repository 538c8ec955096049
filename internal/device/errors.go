package device

import "codeberg.org/mutker/padctl/internal/errors"

const (
	ErrInvalidTransition = errors.ErrInvalidTransition
	ErrInvalidSpeed      = errors.ErrInvalidSpeed
	ErrDeviceUnavailable = errors.ErrDeviceUnavailable

	ErrUnknownMode      = errors.ErrorCode("device_unknown_mode")
	ErrCommandFailed    = errors.ErrorCode("device_command_failed")
	ErrNoConfirmation   = errors.ErrorCode("device_no_confirmation")
	ErrCommandAbandoned = errors.ErrorCode("device_command_abandoned")
)
