package engine

import (
	"context"
	"time"

	"codeberg.org/mutker/padctl/internal/config"
	"codeberg.org/mutker/padctl/internal/errors"
	"codeberg.org/mutker/padctl/internal/goal"
	"codeberg.org/mutker/padctl/internal/logger"
	"codeberg.org/mutker/padctl/internal/session"
	"codeberg.org/mutker/padctl/internal/settings"
	"codeberg.org/mutker/padctl/internal/stats"
	"codeberg.org/mutker/padctl/internal/store"
)

// Records is the bookkeeping half of the engine without a device: history,
// goals and stats over the store. Sessions imported through its tracker are
// written and evaluated against goals on Close.
type Records struct {
	cfg     *config.Config
	store   *store.Store
	tracker *session.Tracker
	goals   *goal.Evaluator
	stats   *stats.Aggregator
	logger  logger.Logger
}

func OpenRecords(cfg *config.Config, log logger.Logger) (*Records, error) {
	st, err := store.Open(StoreConfig(cfg), log.With("store"))
	if err != nil {
		return nil, err
	}

	opts, err := trackerOptions(cfg)
	if err != nil {
		st.Close()
		return nil, errors.New().Wrap(ErrInitFailed, err)
	}

	r := &Records{cfg: cfg, store: st, logger: log}
	opts = append(opts,
		session.WithLogger(log.With("session")),
		session.WithClosedHook(func(ctx context.Context, s session.Session) {
			if err := r.goals.OnSessionClosed(ctx, s); err != nil {
				log.Warn().Err(err).Str("session_id", s.ID).Msg("Goal evaluation failed")
			}
		}),
	)
	r.tracker = session.NewTracker(st, session.Config{
		UserID:          cfg.UserID,
		PersistAttempts: cfg.Session.PersistAttempts,
		PersistInterval: cfg.Session.PersistInterval,
	}, opts...)
	r.goals = goal.NewEvaluator(st, r.tracker, cfg.UserID,
		goal.WithRetry(cfg.Session.PersistAttempts, cfg.Session.PersistInterval),
		goal.WithLogger(log.With("goal")),
	)
	r.stats = stats.NewAggregator(r.tracker, cfg.UserID, time.Local)

	return r, nil
}

func (r *Records) Tracker() *session.Tracker { return r.tracker }
func (r *Records) Goals() *goal.Evaluator    { return r.goals }
func (r *Records) Stats() *stats.Aggregator  { return r.stats }

// Preferences returns the stored preferences, or the configured ones when
// none were saved yet.
func (r *Records) Preferences(ctx context.Context) (settings.Preferences, error) {
	p, ok, err := r.store.LoadPreferences(ctx, r.cfg.UserID)
	if err != nil {
		return settings.Preferences{}, err
	}
	if !ok {
		return r.cfg.Preferences, nil
	}

	return p, nil
}

// Close writes imported sessions, runs their goal evaluation and closes the
// store.
func (r *Records) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Session.FlushTimeout)
	defer cancel()

	flushErr := r.tracker.Flush(ctx)
	if err := r.store.Close(); err != nil && flushErr == nil {
		flushErr = err
	}

	return flushErr
}
