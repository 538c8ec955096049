package session

import "codeberg.org/mutker/padctl/internal/errors"

const (
	ErrNoOpenSession      = errors.ErrNoOpenSession
	ErrNotFound           = errors.ErrNotFound
	ErrPersistenceFailure = errors.ErrPersistenceFailure
	ErrInvalidTransition  = errors.ErrInvalidTransition

	ErrInvalidSession      = errors.ErrorCode("session_invalid")
	ErrUnknownIntegrator   = errors.ErrorCode("session_unknown_integrator")
	ErrUnknownCalorieModel = errors.ErrorCode("session_unknown_calorie_model")
)
