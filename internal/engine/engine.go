// Package engine assembles the device machine, session tracker, goal
// evaluator and store into the running daemon.
package engine

import (
	"context"
	"time"

	"codeberg.org/mutker/padctl/internal/config"
	"codeberg.org/mutker/padctl/internal/device"
	"codeberg.org/mutker/padctl/internal/errors"
	"codeberg.org/mutker/padctl/internal/events"
	"codeberg.org/mutker/padctl/internal/goal"
	"codeberg.org/mutker/padctl/internal/link"
	"codeberg.org/mutker/padctl/internal/logger"
	"codeberg.org/mutker/padctl/internal/session"
	"codeberg.org/mutker/padctl/internal/settings"
	"codeberg.org/mutker/padctl/internal/stats"
	"codeberg.org/mutker/padctl/internal/store"
	"codeberg.org/mutker/padctl/internal/telemetry"
)

const (
	tickInterval = time.Second
	simInterval  = time.Second
)

type Engine struct {
	cfg *config.Config

	store     *store.Store
	bus       *events.Bus
	link      device.Link
	machine   *device.Machine
	tracker   *session.Tracker
	goals     *goal.Evaluator
	stats     *stats.Aggregator
	settings  *settings.Service
	telemetry telemetry.Collector

	tick   time.Duration
	logger logger.Logger
}

type Option func(*Engine)

// WithLink replaces the link chosen from configuration.
func WithLink(l device.Link) Option {
	return func(e *Engine) { e.link = l }
}

// WithTick sets how often liveness and idle sessions are checked.
func WithTick(d time.Duration) Option {
	return func(e *Engine) { e.tick = d }
}

func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New opens the store and wires every component. Close releases what New
// acquired.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	errFactory := errors.New()

	e := &Engine{
		cfg:    cfg,
		bus:    events.NewBus(),
		tick:   tickInterval,
		logger: logger.New("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}

	st, err := store.Open(StoreConfig(cfg), e.logger.With("store"))
	if err != nil {
		return nil, err
	}
	e.store = st

	fail := func(phase string, err error) (*Engine, error) {
		e.Close()
		return nil, errFactory.WithData(ErrInitFailed, struct {
			Phase string
			Error string
		}{
			Phase: phase,
			Error: err.Error(),
		})
	}

	if e.link == nil {
		if e.link, err = newLink(cfg, e.logger.With("link")); err != nil {
			return fail("link", err)
		}
	}

	e.settings = settings.NewService(st, cfg.UserID, cfg.Preferences,
		settings.WithLink(e.link),
		settings.WithLogger(e.logger.With("settings")),
	)
	if err := e.settings.Load(ctx); err != nil {
		return fail("preferences", err)
	}

	e.telemetry, err = telemetry.NewService(telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		BatchSize:    cfg.Telemetry.BatchSize,
		BatchTimeout: cfg.Telemetry.BatchTimeout,
	}, st.DB(), e.logger.With("telemetry"))
	if err != nil {
		return fail("telemetry", err)
	}

	trackerOpts, err := trackerOptions(cfg)
	if err != nil {
		return fail("session", err)
	}
	trackerOpts = append(trackerOpts,
		session.WithPublisher(e.bus),
		session.WithLogger(e.logger.With("session")),
		session.WithClosedHook(e.onSessionClosed),
	)
	e.tracker = session.NewTracker(st, session.Config{
		UserID:          cfg.UserID,
		IdleTimeout:     cfg.Session.IdleTimeout,
		PersistAttempts: cfg.Session.PersistAttempts,
		PersistInterval: cfg.Session.PersistInterval,
	}, trackerOpts...)

	e.goals = goal.NewEvaluator(st, e.tracker, cfg.UserID,
		goal.WithPublisher(e.bus),
		goal.WithRetry(cfg.Session.PersistAttempts, cfg.Session.PersistInterval),
		goal.WithLogger(e.logger.With("goal")),
	)
	e.stats = stats.NewAggregator(e.tracker, cfg.UserID, time.Local)

	e.machine = device.NewMachine(e.link, e.settings, device.Config{
		ConfirmTimeout: cfg.Device.ConfirmTimeout,
		LivenessWindow: cfg.Device.LivenessWindow,
	},
		device.WithObserver(observers{e.tracker, sampleLog{e.telemetry, e.logger}}),
		device.WithPublisher(e.bus),
		device.WithLogger(e.logger.With("device")),
	)

	return e, nil
}

func newLink(cfg *config.Config, log logger.Logger) (device.Link, error) {
	if cfg.Device.Simulate {
		log.Info().Msg("Using simulated device")
		return link.NewSim(simInterval), nil
	}

	return link.NewWSLink(link.Config{
		Address:        cfg.Device.Address,
		CommandSpacing: cfg.Device.CommandSpacing,
	}, log)
}

// StoreConfig maps the database section onto the store.
func StoreConfig(cfg *config.Config) store.Config {
	return store.Config{
		DBPath:          cfg.Database.Path,
		BackupOnMigrate: cfg.Database.BackupOnMigrate,
		BackupDir:       cfg.Database.BackupDir,
	}
}

func trackerOptions(cfg *config.Config) ([]session.Option, error) {
	integrator, err := session.NewIntegrator(cfg.Session.Integration)
	if err != nil {
		return nil, err
	}

	calories, err := session.NewCalorieModel(session.CalorieConfig{
		Model:    cfg.Calories.Model,
		MET:      cfg.Calories.MET,
		Factor:   cfg.Calories.Factor,
		WeightKg: cfg.Calories.WeightKg,
	})
	if err != nil {
		return nil, err
	}

	return []session.Option{
		session.WithIntegrator(integrator),
		session.WithStepEstimator(session.Stride{LengthM: cfg.Session.StrideLengthM}),
		session.WithCalorieModel(calories),
	}, nil
}

func (e *Engine) onSessionClosed(ctx context.Context, s session.Session) {
	if err := e.goals.OnSessionClosed(ctx, s); err != nil {
		e.logger.Warn().Err(err).Str("session_id", s.ID).Msg("Goal evaluation failed")
	}
}

// Close stops the telemetry log, the event bus and the store. Run must
// have returned.
func (e *Engine) Close() error {
	var first error

	if e.telemetry != nil {
		if err := e.telemetry.Close(); err != nil {
			first = err
		}
	}
	e.bus.Close()
	if c, ok := e.link.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil && first == nil {
			first = err
		}
	}

	if first != nil {
		return errors.New().Wrap(ErrShutdownFailed, first)
	}

	return nil
}

func (e *Engine) Tracker() *session.Tracker       { return e.tracker }
func (e *Engine) Goals() *goal.Evaluator          { return e.goals }
func (e *Engine) Subscribe() *events.Subscription { return e.bus.Subscribe() }
