// Package settings owns the user's device preferences.
package settings

import (
	"context"
	"fmt"
	"sync"
	"time"

	"codeberg.org/mutker/padctl/internal/device"
	"codeberg.org/mutker/padctl/internal/errors"
	"codeberg.org/mutker/padctl/internal/logger"
	"github.com/cenkalti/backoff/v5"
)

const (
	ErrInvalidPreferences = errors.ErrorCode("settings_invalid_preferences")
	ErrDeviceUnavailable  = errors.ErrDeviceUnavailable
	ErrPersistenceFailure = errors.ErrPersistenceFailure

	defaultPushAttempts = 3
	defaultPushInterval = 2 * time.Second
)

// Preferences are stored per user. Speeds are km/h.
type Preferences struct {
	MaxSpeed    float64 `json:"max_speed" mapstructure:"max_speed"`
	StartSpeed  float64 `json:"start_speed" mapstructure:"start_speed"`
	Sensitivity int     `json:"sensitivity" mapstructure:"sensitivity"`
	ChildLock   bool    `json:"child_lock" mapstructure:"child_lock"`
	UnitsMiles  bool    `json:"units_miles" mapstructure:"units_miles"`
}

// Default returns the device factory preferences.
func Default() Preferences {
	return Preferences{
		MaxSpeed:    6.0,
		StartSpeed:  2.0,
		Sensitivity: 2,
	}
}

// ValidationError names the offending preference.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s (%v): %s", e.Field, e.Value, e.Reason)
}

func (p Preferences) Validate() error {
	errFactory := errors.New()
	invalid := func(field string, value any, reason string) error {
		return errFactory.Wrap(ErrInvalidPreferences, &ValidationError{Field: field, Value: value, Reason: reason})
	}

	if p.MaxSpeed < 1.0 || p.MaxSpeed > 6.0 {
		return invalid("max_speed", p.MaxSpeed, "must be between 1.0 and 6.0")
	}
	if p.StartSpeed < 1.0 || p.StartSpeed > 3.0 {
		return invalid("start_speed", p.StartSpeed, "must be between 1.0 and 3.0")
	}
	if p.StartSpeed > p.MaxSpeed {
		return invalid("start_speed", p.StartSpeed, "must not exceed max_speed")
	}
	if p.Sensitivity < 1 || p.Sensitivity > 3 {
		return invalid("sensitivity", p.Sensitivity, "must be 1, 2 or 3")
	}

	return nil
}

// commands lists the device preference writes in the order the device
// expects them.
func (p Preferences) commands() []device.Command {
	pref := func(name string, v int) device.Command {
		return device.Command{Kind: device.CmdSetPreference, Pref: name, Value: v}
	}

	return []device.Command{
		pref("max_speed", int(device.SpeedFromKmH(p.MaxSpeed))),
		pref("start_speed", int(device.SpeedFromKmH(p.StartSpeed))),
		pref("sensitivity", p.Sensitivity),
		pref("child_lock", boolInt(p.ChildLock)),
		pref("units", boolInt(p.UnitsMiles)),
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Repository stores preferences per user.
type Repository interface {
	// LoadPreferences reports false when nothing is stored for userID.
	LoadPreferences(ctx context.Context, userID string) (Preferences, bool, error)
	SavePreferences(ctx context.Context, userID string, p Preferences) error
}

// Commander sends a single device command; device.Link satisfies it.
type Commander interface {
	SendCommand(ctx context.Context, cmd device.Command) error
}

// Service caches the active preferences and implements device.SpeedBounds.
type Service struct {
	mu       sync.RWMutex
	current  Preferences
	repo     Repository
	link     Commander
	userID   string
	attempts int
	interval time.Duration
	logger   logger.Logger
}

type Option func(*Service)

// WithLink enables pushing preferences to the device on Update.
func WithLink(link Commander) Option {
	return func(s *Service) { s.link = link }
}

func WithRetry(attempts int, interval time.Duration) Option {
	return func(s *Service) {
		s.attempts = attempts
		s.interval = interval
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(repo Repository, userID string, defaults Preferences, opts ...Option) *Service {
	s := &Service{
		current:  defaults,
		repo:     repo,
		userID:   userID,
		attempts: defaultPushAttempts,
		interval: defaultPushInterval,
		logger:   logger.New("settings"),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Load replaces the cached value with the stored one, if any.
func (s *Service) Load(ctx context.Context) error {
	p, ok, err := s.repo.LoadPreferences(ctx, s.userID)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Debug().Str("user_id", s.userID).Msg("No stored preferences, using defaults")
		return nil
	}
	if err := p.Validate(); err != nil {
		s.logger.Warn().Err(err).Msg("Ignoring invalid stored preferences")
		return nil
	}

	s.mu.Lock()
	s.current = p
	s.mu.Unlock()

	return nil
}

func (s *Service) Get() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.current
}

// SpeedBounds returns the start and max speed preferences.
func (s *Service) SpeedBounds() (lo, hi device.Speed) {
	p := s.Get()
	return device.SpeedFromKmH(p.StartSpeed), device.SpeedFromKmH(p.MaxSpeed)
}

// Update validates p, pushes it to the device, stores it and makes it the
// active value. When a push or the save fails, preferences already written to
// the device are set back to the active value before the error is returned.
func (s *Service) Update(ctx context.Context, p Preferences) (Preferences, error) {
	errFactory := errors.New()

	if err := p.Validate(); err != nil {
		return s.Get(), err
	}

	prev := s.Get()
	pushed := 0
	if s.link != nil {
		for _, cmd := range p.commands() {
			if err := s.push(ctx, cmd); err != nil {
				s.rollback(ctx, prev, pushed)
				return prev, errFactory.Wrap(ErrDeviceUnavailable, err)
			}
			pushed++
		}
	}

	if err := s.repo.SavePreferences(ctx, s.userID, p); err != nil {
		s.rollback(ctx, prev, pushed)
		return prev, errFactory.Wrap(ErrPersistenceFailure, err)
	}

	s.mu.Lock()
	s.current = p
	s.mu.Unlock()

	s.logger.Info().
		Float64("max_speed", p.MaxSpeed).
		Float64("start_speed", p.StartSpeed).
		Int("sensitivity", p.Sensitivity).
		Msg("Preferences updated")

	return p, nil
}

// rollback rewrites the first n preferences from prev, last written first.
// Failures are logged; the device may keep the newer value until reconnect.
func (s *Service) rollback(ctx context.Context, prev Preferences, n int) {
	cmds := prev.commands()
	for i := n - 1; i >= 0; i-- {
		if err := s.link.SendCommand(ctx, cmds[i]); err != nil {
			s.logger.Error().Err(err).Str("pref", cmds[i].Pref).Msg("Failed to restore preference on device")
		}
	}
	if n > 0 {
		s.logger.Warn().Int("restored", n).Msg("Preference update rolled back")
	}
}

func (s *Service) push(ctx context.Context, cmd device.Command) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, s.link.SendCommand(ctx, cmd)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(s.interval)),
		backoff.WithMaxTries(uint(s.attempts)),
		backoff.WithNotify(func(err error, _ time.Duration) {
			s.logger.Warn().Err(err).Str("pref", cmd.Pref).Msg("Preference write failed, retrying")
		}),
	)

	return err
}
