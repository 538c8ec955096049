package device

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/padctl/internal/errors"
	"codeberg.org/mutker/padctl/internal/events"
	"codeberg.org/mutker/padctl/internal/logger"
)

const (
	DefaultConfirmTimeout = 5 * time.Second
	DefaultLivenessWindow = 10 * time.Second
)

// Config bounds the waits of the machine.
type Config struct {
	ConfirmTimeout time.Duration
	LivenessWindow time.Duration
}

// Machine is the single owner of the device state. All mutations happen
// under mu; link I/O never does.
type Machine struct {
	mu           sync.Mutex
	phase        phase
	speed        Speed
	lastSeen     time.Time
	lastSample   time.Time
	pending      *pending
	modeChanging bool

	link      Link
	bounds    SpeedBounds
	observer  Observer
	publisher events.Publisher
	cfg       Config
	now       func() time.Time
	logger    logger.Logger
}

// pending is a command waiting for telemetry to confirm it.
type pending struct {
	want BeltState
	done chan error
}

type Option func(*Machine)

func WithObserver(o Observer) Option {
	return func(m *Machine) { m.observer = o }
}

func WithPublisher(p events.Publisher) Option {
	return func(m *Machine) { m.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func WithLogger(l logger.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// NewMachine returns a machine in the disconnected state. It stays there
// until the first telemetry sample arrives.
func NewMachine(link Link, bounds SpeedBounds, cfg Config, opts ...Option) *Machine {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.LivenessWindow <= 0 {
		cfg.LivenessWindow = DefaultLivenessWindow
	}

	m := &Machine{
		phase:     disconnectedPhase{last: ModeStandby},
		link:      link,
		bounds:    bounds,
		publisher: events.Discard,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.New("device"),
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return State{
		Mode:       m.phase.mode(),
		Belt:       m.phase.belt(),
		Speed:      m.speed,
		Connected:  m.connectedLocked(),
		LastSample: m.lastSample,
	}
}

// Start starts the belt and waits for telemetry to confirm it is running.
// From standby the device is switched to manual first.
func (m *Machine) Start(ctx context.Context) error {
	errFactory := errors.New()

	m.mu.Lock()
	from := m.phase
	to, err := next(from, evStart{})
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if m.pending != nil || m.modeChanging {
		m.mu.Unlock()
		return errFactory.WithMessage(ErrInvalidTransition, "another command is in flight")
	}
	_, fromStandby := from.(standbyPhase)
	m.setPhaseLocked(to, CauseCommand)
	p := m.armLocked(BeltRunning)
	m.mu.Unlock()

	if fromStandby {
		err = m.link.SendCommand(ctx, Command{Kind: CmdSetMode, Mode: ModeManual})
	}
	if err == nil {
		err = m.link.SendCommand(ctx, Command{Kind: CmdStart})
	}
	if err != nil {
		return m.abort(p, commandFailed(err))
	}

	return m.await(ctx, p)
}

// Stop stops the belt and waits for telemetry to confirm it is idle. A
// start still waiting for confirmation is superseded.
func (m *Machine) Stop(ctx context.Context) error {
	errFactory := errors.New()

	m.mu.Lock()
	to, err := next(m.phase, evStop{})
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.setPhaseLocked(to, CauseCommand)
	if m.pending != nil {
		m.resolveLocked(errFactory.WithMessage(ErrInvalidTransition, "start superseded by stop"))
	}
	p := m.armLocked(BeltIdle)
	m.mu.Unlock()

	if err := m.link.SendCommand(ctx, Command{Kind: CmdStop}); err != nil {
		return m.abort(p, commandFailed(err))
	}

	return m.await(ctx, p)
}

// SetMode switches the operating mode. It is refused while the belt moves.
func (m *Machine) SetMode(ctx context.Context, mode Mode) error {
	errFactory := errors.New()

	m.mu.Lock()
	if _, err := next(m.phase, evSetMode{m: mode}); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.pending != nil || m.modeChanging {
		m.mu.Unlock()
		return errFactory.WithMessage(ErrInvalidTransition, "another command is in flight")
	}
	if m.phase.mode() == mode {
		m.mu.Unlock()
		return nil
	}
	m.modeChanging = true
	m.mu.Unlock()

	err := m.link.SendCommand(ctx, Command{Kind: CmdSetMode, Mode: mode})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.modeChanging = false

	if err != nil {
		return commandFailed(err)
	}

	// the belt may have moved or the link dropped while the command was out
	to, err := next(m.phase, evSetMode{m: mode})
	if err != nil {
		return err
	}
	m.setPhaseLocked(to, CauseCommand)

	return nil
}

// SetSpeed sets the belt speed in manual mode and returns the speed that was
// actually applied after clamping to the preferred range. Values outside
// the hard device range are rejected.
func (m *Machine) SetSpeed(ctx context.Context, v Speed) (Speed, error) {
	errFactory := errors.New()

	if v < MinSpeed || v > MaxSpeed {
		return m.speedSnapshot(), errFactory.WithData(ErrInvalidSpeed, v.String())
	}

	m.mu.Lock()
	if !m.connectedLocked() {
		m.mu.Unlock()
		return v, errFactory.WithMessage(ErrDeviceUnavailable, "device is not connected")
	}
	if r, ok := m.phase.(runningPhase); !ok || r.m != ActiveManual {
		msg := "speed can only be set while running in manual mode"
		m.mu.Unlock()
		return v, errFactory.WithMessage(ErrInvalidTransition, msg)
	}
	if m.pending != nil {
		m.mu.Unlock()
		return v, errFactory.WithMessage(ErrInvalidTransition, "another command is in flight")
	}
	target := m.clamp(v)
	m.mu.Unlock()

	if err := m.link.SendCommand(ctx, Command{Kind: CmdSetSpeed, Speed: target}); err != nil {
		return target, commandFailed(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.phase.(runningPhase); ok {
		m.setSpeedLocked(target)
	}

	return target, nil
}

// OnTelemetry folds one sample into the state. Speed and liveness are
// updated unconditionally, the belt state is reconciled from the sample.
func (m *Machine) OnTelemetry(s Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastSeen = m.now()
	m.lastSample = s.Time
	m.setSpeedLocked(s.Speed)

	to, err := next(m.phase, evObserved{running: s.BeltRunning})
	if err != nil {
		m.logger.Warn().Err(err).Msg("Ignoring telemetry")
	} else {
		confirmed := m.pending != nil && to.belt() == m.pending.want
		cause := CauseTelemetry
		if confirmed {
			cause = CauseCommand
		}
		m.setPhaseLocked(to, cause)
		if confirmed {
			m.resolveLocked(nil)
		}
	}

	if m.observer != nil {
		m.observer.OnTelemetry(s, m.phase.belt())
	}
}

// OnDisconnect is called when the telemetry sequence ends.
func (m *Machine) OnDisconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loseLinkLocked("telemetry stream closed")
}

// CheckLiveness marks the device disconnected when no sample arrived within
// the liveness window. It reports whether the link was declared lost.
func (m *Machine) CheckLiveness(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connectedLocked() || now.Sub(m.lastSeen) <= m.cfg.LivenessWindow {
		return false
	}

	m.loseLinkLocked("no telemetry within liveness window")

	return true
}

func (m *Machine) loseLinkLocked(reason string) {
	if !m.connectedLocked() {
		return
	}

	m.logger.Warn().Str("reason", reason).Msg("Device link lost")

	to, _ := next(m.phase, evLinkLost{})
	m.setPhaseLocked(to, CauseLinkLost)
	if m.pending != nil {
		m.resolveLocked(errors.New().WithMessage(ErrDeviceUnavailable, reason))
	}
}

func (m *Machine) connectedLocked() bool {
	_, down := m.phase.(disconnectedPhase)
	return !down
}

func (m *Machine) speedSnapshot() Speed {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.speed
}

func (m *Machine) clamp(v Speed) Speed {
	lo, hi := MinSpeed, MaxSpeed
	if m.bounds != nil {
		lo, hi = m.bounds.SpeedBounds()
	}

	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}

	return v
}

func (m *Machine) setSpeedLocked(v Speed) {
	if v == m.speed {
		return
	}

	m.speed = v
	m.publisher.Publish(events.SpeedChanged, events.SpeedPayload{KmH: v.KmH()})
}

func (m *Machine) setPhaseLocked(to phase, cause Cause) {
	from := m.phase
	if from == to {
		return
	}
	m.phase = to

	_, wasDown := from.(disconnectedPhase)
	_, isDown := to.(disconnectedPhase)
	if wasDown != isDown {
		m.publisher.Publish(events.DeviceConnectivityChanged, events.ConnectivityPayload{Connected: !isDown})
	}

	if from.belt() == to.belt() && from.mode() == to.mode() {
		return
	}

	m.logger.Debug().
		Str("from", from.belt().String()).
		Str("to", to.belt().String()).
		Str("mode", to.mode().String()).
		Str("cause", cause.String()).
		Msg("Device state changed")

	m.publisher.Publish(events.DeviceStateChanged, events.StatePayload{
		Mode:     to.mode().String(),
		Belt:     to.belt().String(),
		FromBelt: from.belt().String(),
	})

	if from.belt() != to.belt() && m.observer != nil {
		m.observer.OnStateTransition(Transition{
			From:  from.belt(),
			To:    to.belt(),
			Mode:  to.mode(),
			At:    m.now(),
			Cause: cause,
		})
	}
}

func (m *Machine) armLocked(want BeltState) *pending {
	p := &pending{want: want, done: make(chan error, 1)}
	m.pending = p

	return p
}

func (m *Machine) resolveLocked(err error) {
	m.pending.done <- err
	m.pending = nil
}

// await blocks until p is resolved, the confirm timeout fires or ctx ends.
// The last two revert the optimistic transition.
func (m *Machine) await(ctx context.Context, p *pending) error {
	errFactory := errors.New()

	timer := time.NewTimer(m.cfg.ConfirmTimeout)
	defer timer.Stop()

	select {
	case err := <-p.done:
		return err
	case <-timer.C:
		return m.abort(p, errFactory.Wrap(ErrDeviceUnavailable, errFactory.New(ErrNoConfirmation)))
	case <-ctx.Done():
		return m.abort(p, errFactory.Wrap(ErrCommandAbandoned, ctx.Err()))
	}
}

// abort reverts p unless telemetry or a newer command already resolved it,
// in which case that outcome wins.
func (m *Machine) abort(p *pending, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending != p {
		return <-p.done
	}

	m.pending = nil
	to, _ := next(m.phase, evConfirmTimeout{})
	m.setPhaseLocked(to, CauseTimeout)

	m.logger.Info().Err(cause).Msg("Device command reverted")

	return cause
}

func commandFailed(err error) error {
	errFactory := errors.New()
	return errFactory.Wrap(ErrDeviceUnavailable, errFactory.Wrap(ErrCommandFailed, err))
}
