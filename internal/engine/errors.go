package engine

import "codeberg.org/mutker/padctl/internal/errors"

const (
	ErrInitFailed     = errors.ErrInitFailed
	ErrShutdownFailed = errors.ErrShutdownFailed
)
