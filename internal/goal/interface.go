package goal

import (
	"context"
	"strings"
	"time"

	"codeberg.org/mutker/padctl/internal/errors"
	"codeberg.org/mutker/padctl/internal/session"
)

// Type is the metric a goal tracks.
type Type string

const (
	Distance Type = "distance"
	Steps    Type = "steps"
	Calories Type = "calories"
	// Duration goals are measured in seconds.
	Duration Type = "duration"
)

// upperBounds are the largest accepted targets per type.
var upperBounds = map[Type]float64{
	Distance: 42.2,
	Steps:    100000,
	Calories: 5000,
	Duration: 86400,
}

// ParseType accepts the names of the Type constants.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := upperBounds[t]; !ok {
		return "", errors.New().WithMessage(ErrInvalidGoal, "unknown goal type "+s)
	}

	return t, nil
}

// Unit names the unit of a target for display.
func (t Type) Unit() string {
	switch t {
	case Distance:
		return "km"
	case Steps:
		return "steps"
	case Calories:
		return "kcal"
	case Duration:
		return "s"
	default:
		return ""
	}
}

// Value extracts the contribution of s to a goal of this type.
func (t Type) Value(s session.Session) float64 {
	switch t {
	case Distance:
		return s.DistanceKm
	case Steps:
		return float64(s.Steps)
	case Calories:
		return s.CaloriesKcal
	case Duration:
		return float64(s.DurationSeconds)
	default:
		return 0
	}
}

// Goal is a target value over a date window. StartDate and EndDate are
// calendar days; EndDate is inclusive and nil means open-ended.
type Goal struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Type        Type       `json:"type"`
	Target      float64    `json:"target_value"`
	StartDate   time.Time  `json:"start_date"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Validate checks the target range and the date window.
func (g Goal) Validate() error {
	errFactory := errors.New()

	limit, ok := upperBounds[g.Type]
	if !ok {
		return errFactory.WithMessage(ErrInvalidGoal, "unknown goal type "+string(g.Type))
	}
	if g.Target <= 0 {
		return errFactory.WithMessage(ErrInvalidGoal, "target must be greater than zero")
	}
	if g.Target > limit {
		return errFactory.WithMessage(ErrInvalidGoal, "target exceeds the limit for "+string(g.Type))
	}
	if g.EndDate != nil && g.EndDate.Before(g.StartDate) {
		return errFactory.WithMessage(ErrInvalidGoal, "end date is before start date")
	}

	return nil
}

// Window returns the session end-time range that counts towards g.
// before is zero for open-ended goals.
func (g Goal) Window() (from, before time.Time) {
	from = g.StartDate
	if g.EndDate != nil {
		before = g.EndDate.AddDate(0, 0, 1)
	}

	return from, before
}

// Progress is the read-side view of a goal.
type Progress struct {
	Goal      Goal    `json:"goal"`
	Current   float64 `json:"current_value"`
	Percent   float64 `json:"progress_percent"`
	Remaining float64 `json:"remaining"`
}

// Filter selects goals.
type Filter struct {
	UserID     string
	ActiveOnly bool
}

// Repository stores goals. SaveGoal must never turn a completed goal back
// into an incomplete one.
type Repository interface {
	SaveGoal(ctx context.Context, g Goal) error
	// GetGoal fails with ErrNotFound for unknown ids.
	GetGoal(ctx context.Context, id string) (Goal, error)
	LoadGoals(ctx context.Context, f Filter) ([]Goal, error)
	// DeleteGoal fails with ErrNotFound for unknown ids.
	DeleteGoal(ctx context.Context, id string) error
}

// SessionSource supplies closed sessions; session.Tracker implements it.
type SessionSource interface {
	ClosedSessions(ctx context.Context, f session.Filter) ([]session.Session, error)
}
