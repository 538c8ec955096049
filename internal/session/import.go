package session

import (
	"math"

	"codeberg.org/mutker/padctl/internal/errors"
	"github.com/google/uuid"
)

// Import records a session that was walked without the device connected.
// The session must be closed; missing duration, average speed and calories
// are derived from the rest. It is written through the same queue as live
// sessions, so closed hooks (goal evaluation) run for it once it is stored.
func (t *Tracker) Import(s Session) (Session, error) {
	if err := validateImport(s); err != nil {
		return Session{}, err
	}

	window := int(s.EndTime.Sub(s.StartTime).Seconds())
	if s.DurationSeconds == 0 {
		s.DurationSeconds = window
	}
	if s.AverageSpeed == 0 {
		s.AverageSpeed = AverageSpeed(s.DistanceKm, s.DurationSeconds)
	}
	if s.MaxSpeed < s.AverageSpeed {
		s.MaxSpeed = s.AverageSpeed
	}
	if s.CaloriesKcal == 0 {
		s.CaloriesKcal = t.calories.Calories(s.DistanceKm, s.DurationSeconds)
	}
	if s.Mode == "" {
		s.Mode = "manual"
	}

	s.ID = uuid.NewString()
	s.UserID = t.cfg.UserID
	s.Provenance = ProvenanceManual
	s.Segments = nil
	s.StartTime = s.StartTime.UTC()
	end := s.EndTime.UTC()
	s.EndTime = &end

	t.mu.Lock()
	t.closed[s.ID] = s
	t.order = append(t.order, s.ID)
	t.unpersisted[s.ID] = true
	t.evictLocked()
	t.mu.Unlock()

	t.logger.Info().
		Str("session_id", s.ID).
		Float64("distance_km", s.DistanceKm).
		Int("duration_s", s.DurationSeconds).
		Msg("Manual session recorded")

	t.w.enqueue(job{s: s.clone(), notify: true})

	return s.clone(), nil
}

func validateImport(s Session) error {
	errFactory := errors.New()
	invalid := func(msg string) error {
		return errFactory.WithMessage(ErrInvalidSession, msg)
	}

	switch {
	case s.StartTime.IsZero():
		return invalid("start time is required")
	case s.EndTime == nil:
		return invalid("end time is required")
	case !s.EndTime.After(s.StartTime):
		return invalid("end time must be after start time")
	case s.DistanceKm < 0 || math.IsNaN(s.DistanceKm):
		return invalid("distance must not be negative")
	case s.Steps < 0:
		return invalid("steps must not be negative")
	case s.DurationSeconds < 0:
		return invalid("duration must not be negative")
	case float64(s.DurationSeconds) > s.EndTime.Sub(s.StartTime).Seconds():
		return invalid("duration is longer than the session")
	case s.CaloriesKcal < 0, s.AverageSpeed < 0, s.MaxSpeed < 0, s.MinSpeed < 0:
		return invalid("metrics must not be negative")
	}

	return nil
}
