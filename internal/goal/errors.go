package goal

import "codeberg.org/mutker/padctl/internal/errors"

const (
	ErrInvalidGoal        = errors.ErrInvalidGoal
	ErrNotFound           = errors.ErrNotFound
	ErrPersistenceFailure = errors.ErrPersistenceFailure
)
