package session

import (
	"context"
	"math"
	"sync"
	"time"

	"codeberg.org/mutker/padctl/internal/device"
	"codeberg.org/mutker/padctl/internal/errors"
	"codeberg.org/mutker/padctl/internal/events"
	"codeberg.org/mutker/padctl/internal/logger"
	"github.com/google/uuid"
)

const (
	DefaultIdleTimeout     = 2 * time.Minute
	DefaultPersistAttempts = 5
	DefaultPersistInterval = 500 * time.Millisecond

	closedCacheSize = 32
)

type Config struct {
	UserID          string
	IdleTimeout     time.Duration
	PersistAttempts int
	PersistInterval time.Duration
}

// open is the single slot for the session in progress. Accumulators keep
// full precision; the Session fields are derived on read.
type open struct {
	s        Session
	last     *device.Sample
	running  bool
	distance float64
	duration float64
	steps    float64
	pausedAt time.Time
}

// Tracker turns device transitions and telemetry into sessions. It is a
// device.Observer and never calls back into the machine.
type Tracker struct {
	mu   sync.Mutex
	open *open

	// closed keeps recent and not yet durable sessions, oldest first in order.
	closed      map[string]Session
	order       []string
	unpersisted map[string]bool
	failed      map[string]bool

	w writer

	cfg        Config
	repo       Repository
	integrator Integrator
	steps      StepEstimator
	calories   CalorieModel
	publisher  events.Publisher
	hooks      []ClosedHook
	now        func() time.Time
	logger     logger.Logger
}

type Option func(*Tracker)

func WithIntegrator(i Integrator) Option {
	return func(t *Tracker) { t.integrator = i }
}

func WithStepEstimator(e StepEstimator) Option {
	return func(t *Tracker) { t.steps = e }
}

func WithCalorieModel(m CalorieModel) Option {
	return func(t *Tracker) { t.calories = m }
}

func WithPublisher(p events.Publisher) Option {
	return func(t *Tracker) { t.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func WithLogger(l logger.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithClosedHook registers h to run after each closed session was handed to
// the repository.
func WithClosedHook(h ClosedHook) Option {
	return func(t *Tracker) { t.hooks = append(t.hooks, h) }
}

func NewTracker(repo Repository, cfg Config, opts ...Option) *Tracker {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.PersistAttempts <= 0 {
		cfg.PersistAttempts = DefaultPersistAttempts
	}
	if cfg.PersistInterval <= 0 {
		cfg.PersistInterval = DefaultPersistInterval
	}

	t := &Tracker{
		closed:      make(map[string]Session),
		unpersisted: make(map[string]bool),
		failed:      make(map[string]bool),
		w:           writer{wake: make(chan struct{}, 1)},
		cfg:         cfg,
		repo:        repo,
		integrator:  Trapezoid{},
		steps:       Stride{LengthM: DefaultStrideLength},
		calories:    METBands{WeightKg: DefaultWeightKg},
		publisher:   events.Discard,
		now:         time.Now,
		logger:      logger.New("session"),
	}
	for _, opt := range opts {
		opt(t)
	}

	return t
}

// OnStateTransition opens, pauses, resumes and closes sessions.
func (t *Tracker) OnStateTransition(tr device.Transition) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case tr.Opens():
		t.openOrResumeLocked(tr)

	case t.open == nil:
		// nothing to pause or close

	case tr.To == device.BeltIdle && tr.Cause == device.CauseCommand:
		t.closeLocked(tr.At)

	case tr.From == device.BeltRunning || tr.From == device.BeltStopping:
		if tr.To == device.BeltStopping {
			return
		}
		if t.open.pausedAt.IsZero() {
			t.open.pausedAt = tr.At
			t.logger.Info().
				Str("session_id", t.open.s.ID).
				Str("cause", tr.Cause.String()).
				Msg("Session paused")
		}
		if tr.Cause == device.CauseLinkLost {
			t.open.running = false
		}
	}
}

func (t *Tracker) openOrResumeLocked(tr device.Transition) {
	if o := t.open; o != nil {
		if !o.pausedAt.IsZero() {
			o.pausedAt = time.Time{}
			t.logger.Info().Str("session_id", o.s.ID).Msg("Session resumed")
		}
		return
	}

	provenance := ProvenanceRecovered
	if tr.Cause == device.CauseCommand {
		provenance = ProvenanceExplicit
	}

	t.open = &open{s: Session{
		ID:         uuid.NewString(),
		UserID:     t.cfg.UserID,
		Provenance: provenance,
		Mode:       tr.Mode.String(),
		StartTime:  tr.At,
	}}

	t.logger.Info().
		Str("session_id", t.open.s.ID).
		Str("provenance", string(provenance)).
		Msg("Session started")

	t.publisher.Publish(events.SessionStarted, events.SessionStartedPayload{
		SessionID:  t.open.s.ID,
		Provenance: string(provenance),
	})
}

// OnTelemetry accumulates the interval since the previous sample when the
// belt was running at that sample. Samples that do not move time forward
// are dropped.
func (t *Tracker) OnTelemetry(s device.Sample, belt device.BeltState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	o := t.open
	if o == nil {
		return
	}

	var delta float64
	if o.last != nil {
		if !s.Time.After(o.last.Time) {
			t.logger.Debug().Time("sample", s.Time).Msg("Dropping out of order sample")
			return
		}
		if o.running {
			delta = t.integrator.Distance(*o.last, s)
			if delta < 0 {
				delta = 0
			}
			o.distance += delta
			o.duration += s.Time.Sub(o.last.Time).Seconds()
			if s.StepDelta == nil {
				o.steps += t.steps.Steps(delta)
			}
		}
	}
	if s.StepDelta != nil && *s.StepDelta > 0 {
		o.steps += float64(*s.StepDelta)
	}

	sample := s
	o.last = &sample
	o.running = belt == device.BeltRunning

	t.appendSegmentLocked(o, s)
}

func (t *Tracker) appendSegmentLocked(o *open, s device.Sample) {
	seg := Segment{Time: s.Time, SpeedKmH: s.Speed.KmH(), DistanceKm: o.distance}

	n := len(o.s.Segments)
	if n > 0 {
		prev := o.s.Segments[n-1]
		if !seg.Time.After(prev.Time) || seg.DistanceKm <= prev.DistanceKm {
			return
		}
	}

	o.s.Segments = append(o.s.Segments, seg)
	if n == 0 || seg.SpeedKmH > o.s.MaxSpeed {
		o.s.MaxSpeed = seg.SpeedKmH
	}
	if n == 0 || seg.SpeedKmH < o.s.MinSpeed {
		o.s.MinSpeed = seg.SpeedKmH
	}
}

// CanStart refuses an explicit start while a session is active.
func (t *Tracker) CanStart() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.open != nil && t.open.pausedAt.IsZero() {
		return errors.New().WithMessage(ErrInvalidTransition, "session "+t.open.s.ID+" is already in progress")
	}

	return nil
}

// Current returns a copy of the open session with live metrics.
func (t *Tracker) Current() (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.open == nil {
		return Session{}, false
	}

	return t.snapshotLocked(t.open), true
}

func (t *Tracker) snapshotLocked(o *open) Session {
	s := o.s.clone()
	s.DistanceKm = o.distance
	s.Steps = int(math.Round(o.steps))
	s.DurationSeconds = int(math.Round(o.duration))
	s.CaloriesKcal = t.calories.Calories(s.DistanceKm, s.DurationSeconds)
	s.AverageSpeed = AverageSpeed(s.DistanceKm, s.DurationSeconds)

	return s
}

// AverageSpeed is distance over duration in km/h, zero without duration.
func AverageSpeed(distanceKm float64, durationSeconds int) float64 {
	if durationSeconds <= 0 {
		return 0
	}

	return distanceKm / (float64(durationSeconds) / 3600)
}

// EndSession closes the open session with the given id. Ending an already
// closed session returns the same finalized record.
func (t *Tracker) EndSession(ctx context.Context, id string) (Session, error) {
	errFactory := errors.New()

	t.mu.Lock()
	if o := t.open; o != nil && o.s.ID == id {
		s := t.closeLocked(t.endTimeLocked(o))
		t.mu.Unlock()
		return s, nil
	}
	if s, ok := t.closed[id]; ok {
		t.mu.Unlock()
		return s.clone(), nil
	}
	t.mu.Unlock()

	s, err := t.repo.GetSession(ctx, id)
	if err != nil {
		if errors.HasCode(err, ErrNotFound) {
			return Session{}, errFactory.WithData(ErrNoOpenSession, id)
		}
		return Session{}, err
	}
	if !s.Closed() {
		return Session{}, errFactory.WithData(ErrNoOpenSession, id)
	}

	return s, nil
}

// EndCurrent closes whatever session is open.
func (t *Tracker) EndCurrent() (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.open == nil {
		return Session{}, errors.New().New(ErrNoOpenSession)
	}

	return t.closeLocked(t.endTimeLocked(t.open)), nil
}

// Expire closes a paused session whose idle timeout has elapsed. The end
// time is the moment the belt stopped.
func (t *Tracker) Expire(now time.Time) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	o := t.open
	if o == nil || o.pausedAt.IsZero() || now.Sub(o.pausedAt) < t.cfg.IdleTimeout {
		return Session{}, false
	}

	t.logger.Info().Str("session_id", o.s.ID).Msg("Closing idle session")

	return t.closeLocked(o.pausedAt), true
}

func (t *Tracker) endTimeLocked(o *open) time.Time {
	if !o.pausedAt.IsZero() {
		return o.pausedAt
	}

	return t.now()
}

func (t *Tracker) closeLocked(end time.Time) Session {
	o := t.open
	t.open = nil

	if end.Before(o.s.StartTime) {
		end = o.s.StartTime
	}

	s := t.snapshotLocked(o)
	s.EndTime = &end

	t.closed[s.ID] = s
	t.order = append(t.order, s.ID)
	t.unpersisted[s.ID] = true
	t.evictLocked()

	t.logger.Info().
		Str("session_id", s.ID).
		Float64("distance_km", s.DistanceKm).
		Int("duration_s", s.DurationSeconds).
		Msg("Session ended")

	t.publisher.Publish(events.SessionEnded, s.Summary())
	t.w.enqueue(job{s: s.clone(), notify: true})

	return s.clone()
}

// evictLocked trims durable sessions beyond the cache size. Sessions still
// waiting for a write are never evicted.
func (t *Tracker) evictLocked() {
	for len(t.order) > closedCacheSize {
		evicted := false
		for i, id := range t.order {
			if t.unpersisted[id] {
				continue
			}
			delete(t.closed, id)
			t.order = append(t.order[:i], t.order[i+1:]...)
			evicted = true
			break
		}
		if !evicted {
			return
		}
	}
}

// Get returns a session by id from memory or the repository.
func (t *Tracker) Get(ctx context.Context, id string) (Session, error) {
	t.mu.Lock()
	if o := t.open; o != nil && o.s.ID == id {
		s := t.snapshotLocked(o)
		t.mu.Unlock()
		return s, nil
	}
	if s, ok := t.closed[id]; ok {
		t.mu.Unlock()
		return s.clone(), nil
	}
	t.mu.Unlock()

	return t.repo.GetSession(ctx, id)
}

// History pages through durable sessions.
func (t *Tracker) History(ctx context.Context, f Filter, p Page) ([]Session, int, error) {
	return t.repo.LoadSessions(ctx, f, p)
}

// ClosedSessions returns every closed session matching f, including the ones
// whose durable write has not completed yet. The result is a private copy.
//
// Pending sessions are copied before the repository is read so a write that
// completes in between is seen by at least one of the two reads.
func (t *Tracker) ClosedSessions(ctx context.Context, f Filter) ([]Session, error) {
	t.mu.Lock()
	var pending []Session
	for _, id := range t.order {
		if !t.unpersisted[id] {
			continue
		}
		if s := t.closed[id]; f.Match(s) {
			pending = append(pending, s.clone())
		}
	}
	t.mu.Unlock()

	stored, _, err := t.repo.LoadSessions(ctx, f, Page{})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(stored))
	for _, s := range stored {
		seen[s.ID] = true
	}

	for _, s := range pending {
		if seen[s.ID] {
			continue
		}
		if !f.WithSegments {
			s.Segments = nil
		}
		stored = append(stored, s)
	}

	return stored, nil
}

// Unpersisted returns the number of closed sessions not yet durable.
func (t *Tracker) Unpersisted() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.unpersisted)
}
