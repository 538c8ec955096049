package engine

import (
	"context"
	"time"

	"codeberg.org/mutker/padctl/internal/device"
	"codeberg.org/mutker/padctl/internal/session"
	"codeberg.org/mutker/padctl/internal/settings"
	"codeberg.org/mutker/padctl/internal/stats"
)

// Status is the read-side view for monitoring.
type Status struct {
	Device      device.State         `json:"device"`
	Session     *session.Session     `json:"session,omitempty"`
	Preferences settings.Preferences `json:"preferences"`
	Unpersisted int                  `json:"unpersisted"`
}

func (e *Engine) Status() Status {
	st := Status{
		Device:      e.machine.Snapshot(),
		Preferences: e.settings.Get(),
		Unpersisted: e.tracker.Unpersisted(),
	}
	if s, ok := e.tracker.Current(); ok {
		st.Session = &s
	}

	return st
}

// Start refuses while a session is in progress, then starts the belt.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.tracker.CanStart(); err != nil {
		return err
	}

	return e.machine.Start(ctx)
}

func (e *Engine) Stop(ctx context.Context) error {
	return e.machine.Stop(ctx)
}

func (e *Engine) SetMode(ctx context.Context, name string) error {
	mode, err := device.ParseMode(name)
	if err != nil {
		return err
	}

	return e.machine.SetMode(ctx, mode)
}

// SetSpeed returns the speed actually applied, in km/h.
func (e *Engine) SetSpeed(ctx context.Context, kmh float64) (float64, error) {
	v, err := e.machine.SetSpeed(ctx, device.SpeedFromKmH(kmh))
	return v.KmH(), err
}

// EndSession closes the session with the given id, or the open one when
// id is empty.
func (e *Engine) EndSession(ctx context.Context, id string) (session.Session, error) {
	if id == "" {
		return e.tracker.EndCurrent()
	}

	return e.tracker.EndSession(ctx, id)
}

func (e *Engine) UpdatePreferences(ctx context.Context, p settings.Preferences) (settings.Preferences, error) {
	return e.settings.Update(ctx, p)
}

// Summary aggregates the period containing ref and converts it for
// display in the user's units.
func (e *Engine) Summary(ctx context.Context, p stats.Period, ref time.Time) (stats.Display, error) {
	sum, err := e.stats.Aggregate(ctx, p, ref)
	if err != nil {
		return stats.Display{}, err
	}

	return sum.Display(e.settings.Get().UnitsMiles), nil
}
