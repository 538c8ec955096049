package config

import "codeberg.org/mutker/padctl/internal/errors"

const (
	ErrInvalidConfig   = errors.ErrInvalidConfig
	ErrReadConfig      = errors.ErrReadConfig
	ErrBindFlags       = errors.ErrBindFlags
	ErrInvalidLogLevel = errors.ErrInvalidLogLevel
)
