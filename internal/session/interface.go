package session

import (
	"context"
	"time"

	"codeberg.org/mutker/padctl/internal/events"
)

// Provenance records how a session was opened.
type Provenance string

const (
	// ProvenanceExplicit sessions were opened by a start command.
	ProvenanceExplicit Provenance = "explicit"
	// ProvenanceRecovered sessions were opened because telemetry showed the
	// belt running with nothing open.
	ProvenanceRecovered Provenance = "recovered"
	// ProvenanceManual sessions were entered by hand after the fact.
	ProvenanceManual Provenance = "manual"
)

// Segment is one point of the speed/distance trace.
type Segment struct {
	Time       time.Time `json:"timestamp"`
	SpeedKmH   float64   `json:"speed"`
	DistanceKm float64   `json:"cumulative_distance"`
}

// Session is one continuous walking activity. Metrics are always stored in
// km, kcal, steps and seconds.
type Session struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Provenance      Provenance `json:"provenance"`
	Mode            string     `json:"mode"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DistanceKm      float64    `json:"distance_km"`
	Steps           int        `json:"steps"`
	DurationSeconds int        `json:"duration_seconds"`
	CaloriesKcal    float64    `json:"calories"`
	AverageSpeed    float64    `json:"average_speed"`
	MaxSpeed        float64    `json:"max_speed"`
	MinSpeed        float64    `json:"min_speed"`
	Notes           string     `json:"notes,omitempty"`
	Segments        []Segment  `json:"segments,omitempty"`
}

// Closed reports whether the session has an end time.
func (s Session) Closed() bool {
	return s.EndTime != nil
}

// Summary is the SessionEnded payload.
func (s Session) Summary() events.SessionSummary {
	sum := events.SessionSummary{
		SessionID:       s.ID,
		StartTime:       s.StartTime,
		DistanceKm:      s.DistanceKm,
		Steps:           s.Steps,
		DurationSeconds: s.DurationSeconds,
		CaloriesKcal:    s.CaloriesKcal,
		AverageSpeed:    s.AverageSpeed,
	}
	if s.EndTime != nil {
		sum.EndTime = *s.EndTime
	}

	return sum
}

func (s Session) clone() Session {
	c := s
	if s.EndTime != nil {
		end := *s.EndTime
		c.EndTime = &end
	}
	c.Segments = append([]Segment(nil), s.Segments...)

	return c
}

// Filter selects closed sessions. Zero times are unbounded; From bounds are
// inclusive, Before bounds exclusive.
type Filter struct {
	UserID        string
	StartedFrom   time.Time
	StartedBefore time.Time
	EndedFrom     time.Time
	EndedBefore   time.Time
	WithSegments  bool
}

// Match applies the filter in memory.
func (f Filter) Match(s Session) bool {
	if !s.Closed() {
		return false
	}
	if f.UserID != "" && s.UserID != f.UserID {
		return false
	}

	return within(s.StartTime, f.StartedFrom, f.StartedBefore) &&
		within(*s.EndTime, f.EndedFrom, f.EndedBefore)
}

func within(t, from, before time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}

	return before.IsZero() || t.Before(before)
}

// Page is a 1-based page. A zero Size means everything.
type Page struct {
	Number int
	Size   int
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	if p.Size <= 0 || p.Number <= 1 {
		return 0
	}

	return (p.Number - 1) * p.Size
}

// Repository is the durable side of the tracker.
type Repository interface {
	SaveSession(ctx context.Context, s Session) error
	// GetSession fails with ErrNotFound for unknown ids.
	GetSession(ctx context.Context, id string) (Session, error)
	// LoadSessions returns one page of matching sessions, newest first, and
	// the total number of matches.
	LoadSessions(ctx context.Context, f Filter, p Page) ([]Session, int, error)
}

// ClosedHook is called, outside any tracker lock, once for every closed
// session after its write was attempted.
type ClosedHook func(ctx context.Context, s Session)
