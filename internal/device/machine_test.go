package device_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/padctl/internal/device"
	"codeberg.org/mutker/padctl/internal/errors"
	"codeberg.org/mutker/padctl/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLink struct {
	mu     sync.Mutex
	sent   []device.Command
	err    error
	onSend func(device.Command)
}

func (f *fakeLink) SendCommand(_ context.Context, cmd device.Command) error {
	f.mu.Lock()
	f.sent = append(f.sent, cmd)
	err, hook := f.err, f.onSend
	f.mu.Unlock()

	if hook != nil {
		hook(cmd)
	}

	return err
}

func (f *fakeLink) Telemetry(context.Context) (<-chan device.Sample, error) {
	ch := make(chan device.Sample)
	close(ch)
	return ch, nil
}

func (f *fakeLink) setHook(hook func(device.Command)) {
	f.mu.Lock()
	f.onSend = hook
	f.mu.Unlock()
}

func (f *fakeLink) kinds() []device.CommandKind {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]device.CommandKind, 0, len(f.sent))
	for _, c := range f.sent {
		out = append(out, c.Kind)
	}
	return out
}

type bounds struct{ lo, hi device.Speed }

func (b bounds) SpeedBounds() (device.Speed, device.Speed) { return b.lo, b.hi }

type recorder struct {
	mu          sync.Mutex
	transitions []device.Transition
	samples     int
}

func (r *recorder) OnStateTransition(t device.Transition) {
	r.mu.Lock()
	r.transitions = append(r.transitions, t)
	r.mu.Unlock()
}

func (r *recorder) OnTelemetry(device.Sample, device.BeltState) {
	r.mu.Lock()
	r.samples++
	r.mu.Unlock()
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.transitions = nil
	r.mu.Unlock()
}

func (r *recorder) last() device.Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitions[len(r.transitions)-1]
}

type published struct {
	t       events.Type
	payload any
}

type capture struct {
	mu  sync.Mutex
	got []published
}

func (c *capture) Publish(t events.Type, payload any) {
	c.mu.Lock()
	c.got = append(c.got, published{t, payload})
	c.mu.Unlock()
}

func (c *capture) of(t events.Type) []any {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []any
	for _, p := range c.got {
		if p.t == t {
			out = append(out, p.payload)
		}
	}
	return out
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	m     *device.Machine
	link  *fakeLink
	obs   *recorder
	pub   *capture
	clock *clock
}

func newHarness(t *testing.T, b device.SpeedBounds) *harness {
	t.Helper()

	h := &harness{
		link:  &fakeLink{},
		obs:   &recorder{},
		pub:   &capture{},
		clock: &clock{t: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)},
	}
	h.m = device.NewMachine(h.link, b, device.Config{
		ConfirmTimeout: 50 * time.Millisecond,
		LivenessWindow: 10 * time.Second,
	},
		device.WithObserver(h.obs),
		device.WithPublisher(h.pub),
		device.WithClock(h.clock.Now),
	)

	return h
}

func (h *harness) sample(kmh float64, running bool) {
	h.m.OnTelemetry(device.Sample{
		Time:        h.clock.Now(),
		Speed:       device.SpeedFromKmH(kmh),
		BeltRunning: running,
	})
}

// confirmWith feeds a sample from inside the link, as a real device would.
func (h *harness) confirmWith(kind device.CommandKind, kmh float64, running bool) {
	h.link.setHook(func(c device.Command) {
		if c.Kind == kind {
			h.sample(kmh, running)
		}
	})
}

// runningManual brings the machine to a confirmed running manual state.
func (h *harness) runningManual(t *testing.T, kmh float64) {
	t.Helper()

	h.sample(0, false)
	h.confirmWith(device.CmdStart, kmh, true)
	require.NoError(t, h.m.Start(context.Background()))
	h.link.setHook(nil)
	require.Equal(t, device.BeltRunning, h.m.Snapshot().Belt)
}

func TestMachineStartsDisconnected(t *testing.T) {
	h := newHarness(t, nil)

	s := h.m.Snapshot()
	assert.False(t, s.Connected)
	assert.Equal(t, device.BeltIdle, s.Belt)

	err := h.m.Start(context.Background())
	assert.True(t, errors.HasCode(err, device.ErrDeviceUnavailable))
	assert.Empty(t, h.link.kinds())
}

func TestStartFromStandbyConfirmed(t *testing.T) {
	h := newHarness(t, nil)
	h.sample(0, false)
	require.Equal(t, device.BeltStandby, h.m.Snapshot().Belt)
	h.obs.reset()

	h.confirmWith(device.CmdStart, 2.0, true)
	require.NoError(t, h.m.Start(context.Background()))

	s := h.m.Snapshot()
	assert.Equal(t, device.BeltRunning, s.Belt)
	assert.Equal(t, device.ModeManual, s.Mode)
	assert.Equal(t, device.SpeedFromKmH(2.0), s.Speed)
	assert.Equal(t, []device.CommandKind{device.CmdSetMode, device.CmdStart}, h.link.kinds())

	require.Len(t, h.obs.transitions, 2)
	assert.Equal(t, device.BeltStarting, h.obs.transitions[0].To)
	assert.False(t, h.obs.transitions[0].Opens())
	assert.True(t, h.obs.transitions[1].Opens())
	assert.Equal(t, device.CauseCommand, h.obs.transitions[1].Cause)
}

func TestStartRevertsWithoutConfirmation(t *testing.T) {
	h := newHarness(t, nil)
	h.sample(0, false)
	require.NoError(t, h.m.SetMode(context.Background(), device.ModeManual))

	err := h.m.Start(context.Background())
	assert.True(t, errors.HasCode(err, device.ErrDeviceUnavailable))
	assert.True(t, errors.HasCode(err, device.ErrNoConfirmation))

	s := h.m.Snapshot()
	assert.Equal(t, device.BeltIdle, s.Belt)
	assert.Equal(t, device.ModeManual, s.Mode)
	assert.Equal(t, device.CauseTimeout, h.obs.last().Cause)
}

func TestStartSendFailureReverts(t *testing.T) {
	h := newHarness(t, nil)
	h.sample(0, false)
	require.NoError(t, h.m.SetMode(context.Background(), device.ModeAuto))

	h.link.mu.Lock()
	h.link.err = assert.AnError
	h.link.mu.Unlock()

	err := h.m.Start(context.Background())
	assert.True(t, errors.HasCode(err, device.ErrCommandFailed))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, device.BeltIdle, h.m.Snapshot().Belt)
	assert.Equal(t, device.ModeAuto, h.m.Snapshot().Mode)
}

func TestAbandonedStartReverts(t *testing.T) {
	h := newHarness(t, nil)
	h.sample(0, false)

	ctx, cancel := context.WithCancel(context.Background())
	h.link.setHook(func(c device.Command) {
		if c.Kind == device.CmdStart {
			cancel()
		}
	})

	err := h.m.Start(ctx)
	assert.True(t, errors.HasCode(err, device.ErrCommandAbandoned))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, device.BeltIdle, h.m.Snapshot().Belt)
}

func TestSecondStartRejectedWhilePending(t *testing.T) {
	h := newHarness(t, nil)
	h.sample(0, false)

	h.link.setHook(func(c device.Command) {
		if c.Kind == device.CmdStart {
			err := h.m.Start(context.Background())
			assert.True(t, errors.HasCode(err, device.ErrInvalidTransition))
			h.sample(1.0, true)
		}
	})

	require.NoError(t, h.m.Start(context.Background()))
	assert.Equal(t, device.BeltRunning, h.m.Snapshot().Belt)
}

func TestStopSupersedesPendingStart(t *testing.T) {
	h := newHarness(t, nil)
	h.sample(0, false)

	var startErr error
	h.link.setHook(func(c device.Command) {
		switch c.Kind {
		case device.CmdStart:
			h.link.setHook(func(c device.Command) {
				if c.Kind == device.CmdStop {
					h.sample(0, false)
				}
			})
			assert.NoError(t, h.m.Stop(context.Background()))
		}
	})

	startErr = h.m.Start(context.Background())
	assert.True(t, errors.HasCode(startErr, device.ErrInvalidTransition))
	assert.Equal(t, device.BeltIdle, h.m.Snapshot().Belt)
}

func TestStopConfirmed(t *testing.T) {
	h := newHarness(t, nil)
	h.runningManual(t, 3.0)

	h.confirmWith(device.CmdStop, 0, false)
	require.NoError(t, h.m.Stop(context.Background()))

	assert.Equal(t, device.BeltIdle, h.m.Snapshot().Belt)
	last := h.obs.last()
	assert.Equal(t, device.BeltStopping, last.From)
	assert.Equal(t, device.CauseCommand, last.Cause)
}

func TestStopWithoutConfirmationRevertsToRunning(t *testing.T) {
	h := newHarness(t, nil)
	h.runningManual(t, 3.0)

	err := h.m.Stop(context.Background())
	assert.True(t, errors.HasCode(err, device.ErrDeviceUnavailable))
	assert.Equal(t, device.BeltRunning, h.m.Snapshot().Belt)
}

func TestSetSpeedOutOfRangeRejected(t *testing.T) {
	h := newHarness(t, bounds{lo: 10, hi: 60})
	h.runningManual(t, 2.0)
	before := len(h.link.kinds())

	got, err := h.m.SetSpeed(context.Background(), device.SpeedFromKmH(7.0))
	assert.True(t, errors.HasCode(err, device.ErrInvalidSpeed))
	assert.Equal(t, device.SpeedFromKmH(2.0), got)
	assert.Equal(t, device.SpeedFromKmH(2.0), h.m.Snapshot().Speed)
	assert.Len(t, h.link.kinds(), before)

	_, err = h.m.SetSpeed(context.Background(), -1)
	assert.True(t, errors.HasCode(err, device.ErrInvalidSpeed))
}

func TestSetSpeedClampsToPreferences(t *testing.T) {
	h := newHarness(t, bounds{lo: 10, hi: 40})
	h.runningManual(t, 2.0)

	got, err := h.m.SetSpeed(context.Background(), device.SpeedFromKmH(5.5))
	require.NoError(t, err)
	assert.Equal(t, device.Speed(40), got)
	assert.Equal(t, device.Speed(40), h.m.Snapshot().Speed)

	got, err = h.m.SetSpeed(context.Background(), device.SpeedFromKmH(0.5))
	require.NoError(t, err)
	assert.Equal(t, device.Speed(10), got)

	speeds := h.pub.of(events.SpeedChanged)
	require.NotEmpty(t, speeds)
	assert.InDelta(t, 1.0, speeds[len(speeds)-1].(events.SpeedPayload).KmH, 1e-9)
}

func TestSetSpeedRequiresManualRunning(t *testing.T) {
	h := newHarness(t, nil)
	h.sample(0, false)

	_, err := h.m.SetSpeed(context.Background(), 20)
	assert.True(t, errors.HasCode(err, device.ErrInvalidTransition))

	require.NoError(t, h.m.SetMode(context.Background(), device.ModeAuto))
	h.sample(2.0, true)
	_, err = h.m.SetSpeed(context.Background(), 20)
	assert.True(t, errors.HasCode(err, device.ErrInvalidTransition))
}

func TestSetModeRejectedWhileRunning(t *testing.T) {
	h := newHarness(t, nil)
	h.runningManual(t, 2.0)
	before := len(h.link.kinds())

	err := h.m.SetMode(context.Background(), device.ModeAuto)
	assert.True(t, errors.HasCode(err, device.ErrInvalidTransition))
	assert.Equal(t, device.ModeManual, h.m.Snapshot().Mode)
	assert.Len(t, h.link.kinds(), before)
}

func TestSetModeToStandby(t *testing.T) {
	h := newHarness(t, nil)
	h.sample(0, false)
	require.NoError(t, h.m.SetMode(context.Background(), device.ModeManual))
	require.NoError(t, h.m.SetMode(context.Background(), device.ModeStandby))

	s := h.m.Snapshot()
	assert.Equal(t, device.ModeStandby, s.Mode)
	assert.Equal(t, device.BeltStandby, s.Belt)
}

func TestAutoRecoveryFromTelemetry(t *testing.T) {
	h := newHarness(t, nil)
	h.sample(0, false)
	h.obs.reset()

	h.sample(3.0, true)

	s := h.m.Snapshot()
	assert.Equal(t, device.BeltRunning, s.Belt)
	assert.Equal(t, device.ModeManual, s.Mode)

	last := h.obs.last()
	assert.True(t, last.Opens())
	assert.Equal(t, device.CauseTelemetry, last.Cause)
}

func TestUnsolicitedStop(t *testing.T) {
	h := newHarness(t, nil)
	h.runningManual(t, 3.0)

	h.sample(0, false)

	assert.Equal(t, device.BeltIdle, h.m.Snapshot().Belt)
	last := h.obs.last()
	assert.Equal(t, device.BeltRunning, last.From)
	assert.Equal(t, device.CauseTelemetry, last.Cause)
}

func TestLivenessLossFreezesCommands(t *testing.T) {
	h := newHarness(t, nil)
	h.runningManual(t, 3.0)

	assert.False(t, h.m.CheckLiveness(h.clock.Now().Add(5*time.Second)))

	h.clock.Advance(11 * time.Second)
	assert.True(t, h.m.CheckLiveness(h.clock.Now()))
	assert.False(t, h.m.CheckLiveness(h.clock.Now()))

	s := h.m.Snapshot()
	assert.False(t, s.Connected)
	assert.Equal(t, device.BeltIdle, s.Belt)

	last := h.obs.last()
	assert.Equal(t, device.BeltRunning, last.From)
	assert.Equal(t, device.CauseLinkLost, last.Cause)

	err := h.m.Start(context.Background())
	assert.True(t, errors.HasCode(err, device.ErrDeviceUnavailable))

	conn := h.pub.of(events.DeviceConnectivityChanged)
	require.NotEmpty(t, conn)
	assert.False(t, conn[len(conn)-1].(events.ConnectivityPayload).Connected)
}

func TestReconnectReconcilesFromSample(t *testing.T) {
	h := newHarness(t, nil)
	h.runningManual(t, 3.0)
	h.m.OnDisconnect()
	require.False(t, h.m.Snapshot().Connected)

	h.sample(3.0, true)

	s := h.m.Snapshot()
	assert.True(t, s.Connected)
	assert.Equal(t, device.BeltRunning, s.Belt)
	assert.True(t, h.obs.last().Opens())
}

func TestLinkLossFailsPendingCommand(t *testing.T) {
	h := newHarness(t, nil)
	h.sample(0, false)

	h.link.setHook(func(c device.Command) {
		if c.Kind == device.CmdStart {
			h.m.OnDisconnect()
		}
	})

	err := h.m.Start(context.Background())
	assert.True(t, errors.HasCode(err, device.ErrDeviceUnavailable))
	assert.False(t, h.m.Snapshot().Connected)
}
