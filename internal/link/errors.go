package link

import "codeberg.org/mutker/padctl/internal/errors"

const (
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrNotConnected  = errors.ErrorCode("link_not_connected")
	ErrDialFailed    = errors.ErrorCode("link_dial_failed")
	ErrSendFailed    = errors.ErrorCode("link_send_failed")
	ErrRejected      = errors.ErrorCode("link_command_rejected")
	ErrAckTimeout    = errors.ErrorCode("link_ack_timeout")
	ErrDisconnected  = errors.ErrorCode("link_disconnected")
)
