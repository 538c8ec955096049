package goal

import (
	"context"
	"math"
	"sync"
	"time"

	"codeberg.org/mutker/padctl/internal/errors"
	"codeberg.org/mutker/padctl/internal/events"
	"codeberg.org/mutker/padctl/internal/logger"
	"codeberg.org/mutker/padctl/internal/session"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

const (
	defaultSaveAttempts = 3
	defaultSaveInterval = 200 * time.Millisecond
)

// Evaluator owns goal completion. Evaluations are serialized; progress is
// always recomputed from the full set of closed sessions in the window.
type Evaluator struct {
	mu        sync.Mutex
	repo      Repository
	sessions  SessionSource
	userID    string
	publisher events.Publisher
	now       func() time.Time
	loc       *time.Location
	attempts  int
	interval  time.Duration
	logger    logger.Logger
}

type Option func(*Evaluator)

func WithPublisher(p events.Publisher) Option {
	return func(e *Evaluator) { e.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// WithLocation sets the time zone calendar days are taken in.
func WithLocation(loc *time.Location) Option {
	return func(e *Evaluator) { e.loc = loc }
}

// WithRetry bounds the write retries of a goal update.
func WithRetry(attempts int, interval time.Duration) Option {
	return func(e *Evaluator) {
		e.attempts = attempts
		e.interval = interval
	}
}

func WithLogger(l logger.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

func NewEvaluator(repo Repository, sessions SessionSource, userID string, opts ...Option) *Evaluator {
	e := &Evaluator{
		repo:      repo,
		sessions:  sessions,
		userID:    userID,
		publisher: events.Discard,
		now:       time.Now,
		loc:       time.Local,
		attempts:  defaultSaveAttempts,
		interval:  defaultSaveInterval,
		logger:    logger.New("goal"),
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Create validates and stores a new goal. StartDate defaults to today.
func (e *Evaluator) Create(ctx context.Context, g Goal) (Goal, error) {
	now := e.now().In(e.loc)

	if g.StartDate.IsZero() {
		g.StartDate = now
	}
	g.StartDate = e.day(g.StartDate)
	if g.EndDate != nil {
		end := e.day(*g.EndDate)
		g.EndDate = &end
	}
	g.ID = uuid.NewString()
	g.UserID = e.userID
	g.Completed = false
	g.CompletedAt = nil
	g.CreatedAt = now

	if err := g.Validate(); err != nil {
		return Goal{}, err
	}

	if err := e.repo.SaveGoal(ctx, g); err != nil {
		return Goal{}, errors.New().Wrap(ErrPersistenceFailure, err)
	}

	e.logger.Info().
		Str("goal_id", g.ID).
		Str("type", string(g.Type)).
		Float64("target", g.Target).
		Msg("Goal created")

	return g, nil
}

// Update changes the target and/or end date. Completion is kept.
func (e *Evaluator) Update(ctx context.Context, id string, target *float64, endDate *time.Time) (Goal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, err := e.repo.GetGoal(ctx, id)
	if err != nil {
		return Goal{}, err
	}

	if target != nil {
		g.Target = *target
	}
	if endDate != nil {
		end := e.day(*endDate)
		g.EndDate = &end
	}

	if err := g.Validate(); err != nil {
		return Goal{}, err
	}
	if err := e.repo.SaveGoal(ctx, g); err != nil {
		return Goal{}, errors.New().Wrap(ErrPersistenceFailure, err)
	}

	return g, nil
}

// Delete removes a goal. Evaluations in progress finish before it runs.
func (e *Evaluator) Delete(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.repo.DeleteGoal(ctx, id); err != nil {
		return err
	}

	e.logger.Info().Str("goal_id", id).Msg("Goal deleted")

	return nil
}

func (e *Evaluator) Get(ctx context.Context, id string) (Goal, error) {
	return e.repo.GetGoal(ctx, id)
}

func (e *Evaluator) List(ctx context.Context, activeOnly bool) ([]Goal, error) {
	return e.repo.LoadGoals(ctx, Filter{UserID: e.userID, ActiveOnly: activeOnly})
}

// OnSessionClosed re-evaluates every incomplete goal whose window contains
// the end of s and completes the ones that reached their target.
func (e *Evaluator) OnSessionClosed(ctx context.Context, s session.Session) error {
	if !s.Closed() {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	goals, err := e.repo.LoadGoals(ctx, Filter{UserID: e.userID, ActiveOnly: true})
	if err != nil {
		return err
	}

	for _, g := range goals {
		if g.Completed || !inWindow(g, *s.EndTime) {
			continue
		}

		current, err := e.current(ctx, g)
		if err != nil {
			return err
		}
		if current < g.Target {
			continue
		}

		completedAt := e.now()
		g.Completed = true
		g.CompletedAt = &completedAt

		if err := e.save(ctx, g); err != nil {
			e.logger.ErrorWithCode(errors.New().Wrap(ErrPersistenceFailure, err)).
				Str("goal_id", g.ID).
				Msg("Failed to store goal completion")
			e.publisher.Publish(events.PersistenceFailure, events.FailurePayload{
				Kind:     "goal",
				ID:       g.ID,
				Attempts: e.attempts,
				Error:    err.Error(),
			})
		}

		e.logger.Info().Str("goal_id", g.ID).Float64("current", current).Msg("Goal achieved")
		e.publisher.Publish(events.GoalAchieved, events.GoalPayload{
			GoalID:  g.ID,
			Type:    string(g.Type),
			Target:  g.Target,
			Current: current,
		})
	}

	return nil
}

func (e *Evaluator) save(ctx context.Context, g Goal) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.interval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, e.repo.SaveGoal(ctx, g)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(e.attempts)))

	return err
}

// Progress is a pure read of one goal.
func (e *Evaluator) Progress(ctx context.Context, id string) (Progress, error) {
	g, err := e.repo.GetGoal(ctx, id)
	if err != nil {
		return Progress{}, err
	}

	return e.progress(ctx, g)
}

// ProgressAll reports progress for every goal of the user.
func (e *Evaluator) ProgressAll(ctx context.Context) ([]Progress, error) {
	goals, err := e.List(ctx, false)
	if err != nil {
		return nil, err
	}

	out := make([]Progress, 0, len(goals))
	for _, g := range goals {
		p, err := e.progress(ctx, g)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}

	return out, nil
}

func (e *Evaluator) progress(ctx context.Context, g Goal) (Progress, error) {
	current, err := e.current(ctx, g)
	if err != nil {
		return Progress{}, err
	}

	return Progress{
		Goal:      g,
		Current:   current,
		Percent:   math.Min(100, 100*current/g.Target),
		Remaining: math.Max(0, g.Target-current),
	}, nil
}

func (e *Evaluator) current(ctx context.Context, g Goal) (float64, error) {
	from, before := g.Window()

	sessions, err := e.sessions.ClosedSessions(ctx, session.Filter{
		UserID:      g.UserID,
		EndedFrom:   from,
		EndedBefore: before,
	})
	if err != nil {
		return 0, err
	}

	var total float64
	for _, s := range sessions {
		total += g.Type.Value(s)
	}

	return total, nil
}

func (e *Evaluator) day(t time.Time) time.Time {
	t = t.In(e.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, e.loc)
}

func inWindow(g Goal, t time.Time) bool {
	from, before := g.Window()
	if t.Before(from) {
		return false
	}

	return before.IsZero() || t.Before(before)
}
