package engine_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/padctl/internal/config"
	"codeberg.org/mutker/padctl/internal/device"
	"codeberg.org/mutker/padctl/internal/engine"
	"codeberg.org/mutker/padctl/internal/errors"
	"codeberg.org/mutker/padctl/internal/events"
	"codeberg.org/mutker/padctl/internal/goal"
	"codeberg.org/mutker/padctl/internal/link"
	"codeberg.org/mutker/padctl/internal/logger"
	"codeberg.org/mutker/padctl/internal/session"
	"codeberg.org/mutker/padctl/internal/settings"
	"codeberg.org/mutker/padctl/internal/stats"
	"codeberg.org/mutker/padctl/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		LogLevel: config.LogLevelError,
		UserID:   "default",
		Device: config.Device{
			Simulate:             true,
			ConfirmTimeout:       2 * time.Second,
			LivenessWindow:       time.Second,
			ReconnectMaxInterval: 50 * time.Millisecond,
		},
		Session: config.Session{
			IdleTimeout:     time.Minute,
			Integration:     "trapezoid",
			StrideLengthM:   0.7,
			PersistAttempts: 2,
			PersistInterval: time.Millisecond,
			RetryInterval:   time.Minute,
			FlushTimeout:    2 * time.Second,
		},
		Calories:    config.Calories{Model: "met_bands", WeightKg: 70},
		Preferences: settings.Default(),
		Database:    config.Database{Path: filepath.Join(t.TempDir(), "padctl.db")},
	}
}

type running struct {
	eng    *engine.Engine
	sim    *link.Sim
	cancel context.CancelFunc
	done   chan error
}

func start(t *testing.T, cfg *config.Config) *running {
	t.Helper()

	sim := link.NewSim(10 * time.Millisecond)
	eng, err := engine.New(context.Background(), cfg,
		engine.WithLink(sim),
		engine.WithTick(20*time.Millisecond),
		engine.WithLogger(logger.Nop()),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r := &running{eng: eng, sim: sim, cancel: cancel, done: make(chan error, 1)}
	go func() { r.done <- eng.Run(ctx) }()

	require.Eventually(t, func() bool { return eng.Status().Device.Connected }, 2*time.Second, 5*time.Millisecond)

	return r
}

func (r *running) stop(t *testing.T) error {
	t.Helper()

	r.cancel()
	err := <-r.done
	require.NoError(t, r.eng.Close())

	return err
}

func waitFor(t *testing.T, sub *events.Subscription, typ events.Type) events.Event {
	t.Helper()

	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C:
			require.True(t, ok, "bus closed waiting for %s", typ)
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			require.FailNow(t, "timed out waiting for "+string(typ))
		}
	}
}

func TestWalkEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	r := start(t, cfg)
	ctx := context.Background()

	sub := r.eng.Subscribe()
	defer sub.Cancel()

	g, err := r.eng.Goals().Create(ctx, goal.Goal{Type: goal.Distance, Target: 0.0001})
	require.NoError(t, err)

	require.NoError(t, r.eng.Start(ctx))
	started := waitFor(t, sub, events.SessionStarted)

	st := r.eng.Status()
	assert.Equal(t, device.BeltRunning, st.Device.Belt)
	assert.Equal(t, device.ModeManual, st.Device.Mode)
	require.NotNil(t, st.Session)
	assert.Equal(t, session.ProvenanceExplicit, st.Session.Provenance)

	applied, err := r.eng.SetSpeed(ctx, 4.0)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, applied, 1e-9)

	err = r.eng.Start(ctx)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidTransition), "start while walking")

	time.Sleep(400 * time.Millisecond)
	require.NoError(t, r.eng.Stop(ctx))

	ended := waitFor(t, sub, events.SessionEnded)
	sum := ended.Payload.(events.SessionSummary)
	assert.Equal(t, started.Payload.(events.SessionStartedPayload).SessionID, sum.SessionID)
	assert.Greater(t, sum.DistanceKm, 0.0)

	achieved := waitFor(t, sub, events.GoalAchieved)
	assert.Equal(t, g.ID, achieved.Payload.(events.GoalPayload).GoalID)

	require.NoError(t, r.stop(t))

	st2, err := store.Open(engine.StoreConfig(cfg), logger.Nop())
	require.NoError(t, err)
	defer st2.Close()

	saved, err := st2.GetSession(ctx, sum.SessionID)
	require.NoError(t, err)
	assert.InDelta(t, sum.DistanceKm, saved.DistanceKm, 1e-9)
	assert.NotEmpty(t, saved.Segments)

	stored, err := st2.GetGoal(ctx, g.ID)
	require.NoError(t, err)
	assert.True(t, stored.Completed)

	agg := stats.NewAggregator(st2, "default", time.Local)
	daily, err := agg.Aggregate(ctx, stats.Daily, saved.StartTime)
	require.NoError(t, err)
	assert.Equal(t, 1, daily.TotalSessions)
}

func TestSpeedAboveDeviceRangeRejected(t *testing.T) {
	r := start(t, testConfig(t))
	defer r.stop(t)
	ctx := context.Background()

	require.NoError(t, r.eng.Start(ctx))

	before := r.eng.Status().Device.Speed
	_, err := r.eng.SetSpeed(ctx, 7.0)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidSpeed))
	assert.Equal(t, before, r.eng.Status().Device.Speed)
}

func TestShutdownClosesOpenSession(t *testing.T) {
	cfg := testConfig(t)
	r := start(t, cfg)
	ctx := context.Background()

	require.NoError(t, r.eng.Start(ctx))
	cur, ok := r.eng.Tracker().Current()
	require.True(t, ok)

	require.NoError(t, r.stop(t))

	st, err := store.Open(engine.StoreConfig(cfg), logger.Nop())
	require.NoError(t, err)
	defer st.Close()

	saved, err := st.GetSession(ctx, cur.ID)
	require.NoError(t, err)
	assert.True(t, saved.Closed())
}

func TestLinkLossMarksDisconnected(t *testing.T) {
	r := start(t, testConfig(t))
	defer r.stop(t)

	sub := r.eng.Subscribe()
	defer sub.Cancel()

	r.sim.Drop()
	ev := waitFor(t, sub, events.DeviceConnectivityChanged)
	assert.False(t, ev.Payload.(events.ConnectivityPayload).Connected)

	// the pump reconnects on its own
	require.Eventually(t, func() bool { return r.eng.Status().Device.Connected }, 2*time.Second, 5*time.Millisecond)
}

func TestEndSessionWithoutOpenSession(t *testing.T) {
	r := start(t, testConfig(t))
	defer r.stop(t)

	_, err := r.eng.EndSession(context.Background(), "")
	assert.True(t, errors.HasCode(err, errors.ErrNoOpenSession))
}

func TestUpdatePreferencesBoundsSpeedAndUnits(t *testing.T) {
	cfg := testConfig(t)
	r := start(t, cfg)
	ctx := context.Background()

	_, err := r.eng.UpdatePreferences(ctx, settings.Preferences{MaxSpeed: 9.0, StartSpeed: 2.0, Sensitivity: 2})
	assert.True(t, errors.HasCode(err, settings.ErrInvalidPreferences))

	prefs, err := r.eng.UpdatePreferences(ctx, settings.Preferences{
		MaxSpeed:    4.0,
		StartSpeed:  2.0,
		Sensitivity: 2,
		UnitsMiles:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, 4.0, prefs.MaxSpeed)
	assert.Equal(t, prefs, r.eng.Status().Preferences)

	require.NoError(t, r.eng.Start(ctx))
	require.Eventually(t, func() bool {
		return r.eng.Status().Device.Belt == device.BeltRunning
	}, 2*time.Second, 5*time.Millisecond)

	applied, err := r.eng.SetSpeed(ctx, 5.0)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, applied, 1e-9)

	display, err := r.eng.Summary(ctx, stats.Daily, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "mi", display.DistanceUnit)

	require.NoError(t, r.stop(t))

	st, err := store.Open(engine.StoreConfig(cfg), logger.Nop())
	require.NoError(t, err)
	defer st.Close()

	stored, ok, err := st.LoadPreferences(ctx, cfg.UserID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, stored.UnitsMiles)
	assert.Equal(t, 4.0, stored.MaxSpeed)
}
