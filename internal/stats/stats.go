// Package stats rolls closed sessions up into calendar periods. Everything
// here is a read-side projection; nothing is stored.
package stats

import (
	"context"
	"strings"
	"time"

	"codeberg.org/mutker/padctl/internal/errors"
	"codeberg.org/mutker/padctl/internal/session"
)

const ErrUnknownPeriod = errors.ErrorCode("stats_unknown_period")

// KmPerMile converts distances for display only.
const KmPerMile = 1.609344

type Period string

const (
	Daily   Period = "daily"
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
)

func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case Daily, Weekly, Monthly:
		return p, nil
	default:
		return "", errors.New().WithData(ErrUnknownPeriod, s)
	}
}

// Bounds returns the bucket containing ref: the calendar day, the ISO week
// starting on Monday, or the calendar month, in ref's location.
func Bounds(p Period, ref time.Time) (from, before time.Time) {
	day := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())

	switch p {
	case Weekly:
		offset := (int(day.Weekday()) + 6) % 7
		from = day.AddDate(0, 0, -offset)
		return from, from.AddDate(0, 0, 7)
	case Monthly:
		from = time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, ref.Location())
		return from, from.AddDate(0, 1, 0)
	default:
		return day, day.AddDate(0, 0, 1)
	}
}

// Summary is the roll-up of one period.
type Summary struct {
	Period        Period    `json:"period"`
	From          time.Time `json:"from"`
	Before        time.Time `json:"before"`
	TotalSessions int       `json:"total_sessions"`
	TotalDistance float64   `json:"total_distance"`
	TotalSteps    int       `json:"total_steps"`
	TotalDuration int       `json:"total_duration"`
	TotalCalories float64   `json:"total_calories"`
	// AverageSpeed is weighted by distance.
	AverageSpeed float64 `json:"average_speed"`
}

// Reduce folds sessions into totals. Open sessions are skipped.
func Reduce(sessions []session.Session) Summary {
	var sum Summary
	var weighted float64

	for _, s := range sessions {
		if !s.Closed() {
			continue
		}
		sum.TotalSessions++
		sum.TotalDistance += s.DistanceKm
		sum.TotalSteps += s.Steps
		sum.TotalDuration += s.DurationSeconds
		sum.TotalCalories += s.CaloriesKcal
		weighted += s.DistanceKm * s.AverageSpeed
	}

	if sum.TotalDistance > 0 {
		sum.AverageSpeed = weighted / sum.TotalDistance
	}

	return sum
}

// Display is a Summary converted for presentation.
type Display struct {
	Summary
	DistanceUnit string  `json:"distance_unit"`
	Distance     float64 `json:"distance"`
	Speed        float64 `json:"speed"`
}

// Display converts distance and speed to miles when asked. The stored
// summary is left in km.
func (s Summary) Display(unitsMiles bool) Display {
	if !unitsMiles {
		return Display{Summary: s, DistanceUnit: "km", Distance: s.TotalDistance, Speed: s.AverageSpeed}
	}

	return Display{
		Summary:      s,
		DistanceUnit: "mi",
		Distance:     s.TotalDistance / KmPerMile,
		Speed:        s.AverageSpeed / KmPerMile,
	}
}

// Source supplies closed sessions; session.Tracker and the store implement
// it.
type Source interface {
	ClosedSessions(ctx context.Context, f session.Filter) ([]session.Session, error)
}

type Aggregator struct {
	source Source
	userID string
	loc    *time.Location
}

func NewAggregator(source Source, userID string, loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.Local
	}

	return &Aggregator{source: source, userID: userID, loc: loc}
}

// Aggregate summarizes the closed sessions that started in the period
// containing ref.
func (a *Aggregator) Aggregate(ctx context.Context, p Period, ref time.Time) (Summary, error) {
	from, before := Bounds(p, ref.In(a.loc))

	sessions, err := a.source.ClosedSessions(ctx, session.Filter{
		UserID:        a.userID,
		StartedFrom:   from,
		StartedBefore: before,
	})
	if err != nil {
		return Summary{}, err
	}

	sum := Reduce(sessions)
	sum.Period = p
	sum.From = from
	sum.Before = before

	return sum, nil
}

// Streak counts consecutive days with at least one session ending on them.
// The streak is alive when its latest day is ref's day or the day before.
func (a *Aggregator) Streak(ctx context.Context, ref time.Time) (int, error) {
	_, before := Bounds(Daily, ref.In(a.loc))

	sessions, err := a.source.ClosedSessions(ctx, session.Filter{
		UserID:      a.userID,
		EndedBefore: before,
	})
	if err != nil {
		return 0, err
	}

	days := make(map[time.Time]bool, len(sessions))
	for _, s := range sessions {
		if s.EndTime == nil {
			continue
		}
		day, _ := Bounds(Daily, s.EndTime.In(a.loc))
		days[day] = true
	}

	day := before.AddDate(0, 0, -1)
	if !days[day] {
		day = day.AddDate(0, 0, -1)
	}

	streak := 0
	for days[day] {
		streak++
		day = day.AddDate(0, 0, -1)
	}

	return streak, nil
}
