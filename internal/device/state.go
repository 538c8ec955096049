package device

import "codeberg.org/mutker/padctl/internal/errors"

// phase is the closed set of machine states. Only the types in this file
// implement it. Running, starting and stopping carry an ActiveMode, so a
// running belt in standby mode cannot be constructed.
type phase interface {
	belt() BeltState
	mode() Mode
	isPhase()
}

type (
	// disconnectedPhase remembers the last mode for reconciliation.
	disconnectedPhase struct{ last Mode }
	standbyPhase      struct{}
	idlePhase         struct{ m ActiveMode }
	startingPhase     struct{ m ActiveMode }
	runningPhase      struct{ m ActiveMode }
	// stoppingPhase reverts to prev when the stop is not confirmed.
	stoppingPhase struct {
		m    ActiveMode
		prev phase
	}
)

func (disconnectedPhase) belt() BeltState { return BeltIdle }
func (standbyPhase) belt() BeltState      { return BeltStandby }
func (idlePhase) belt() BeltState         { return BeltIdle }
func (startingPhase) belt() BeltState     { return BeltStarting }
func (runningPhase) belt() BeltState      { return BeltRunning }
func (stoppingPhase) belt() BeltState     { return BeltStopping }

func (p disconnectedPhase) mode() Mode { return p.last }
func (standbyPhase) mode() Mode        { return ModeStandby }
func (p idlePhase) mode() Mode         { return p.m.Mode() }
func (p startingPhase) mode() Mode     { return p.m.Mode() }
func (p runningPhase) mode() Mode      { return p.m.Mode() }
func (p stoppingPhase) mode() Mode     { return p.m.Mode() }

func (disconnectedPhase) isPhase() {}
func (standbyPhase) isPhase()      {}
func (idlePhase) isPhase()         {}
func (startingPhase) isPhase()     {}
func (runningPhase) isPhase()      {}
func (stoppingPhase) isPhase()     {}

// event is the closed set of inputs to next.
type event interface{ isEvent() }

type (
	evStart    struct{}
	evStop     struct{}
	evSetMode  struct{ m Mode }
	evObserved struct{ running bool }
	// evConfirmTimeout also covers abandoned and failed commands.
	evConfirmTimeout struct{}
	evLinkLost       struct{}
)

func (evStart) isEvent()          {}
func (evStop) isEvent()           {}
func (evSetMode) isEvent()        {}
func (evObserved) isEvent()       {}
func (evConfirmTimeout) isEvent() {}
func (evLinkLost) isEvent()       {}

// next is the transition function. On error the caller keeps the current
// phase.
func next(p phase, ev event) (phase, error) {
	errFactory := errors.New()
	reject := func() (phase, error) {
		return p, errFactory.WithMessage(ErrInvalidTransition,
			describe(ev)+" not allowed while belt is "+p.belt().String())
	}

	switch cur := p.(type) {
	case disconnectedPhase:
		switch e := ev.(type) {
		case evStart, evStop, evSetMode:
			return p, errFactory.WithMessage(ErrDeviceUnavailable, "device is not connected")
		case evObserved:
			return reconcile(cur.last, e.running), nil
		case evConfirmTimeout, evLinkLost:
			return p, nil
		}

	case standbyPhase:
		switch e := ev.(type) {
		case evStart:
			return startingPhase{m: ActiveManual}, nil
		case evStop:
			return reject()
		case evSetMode:
			if e.m == ModeStandby {
				return p, nil
			}
			return idlePhase{m: activeOf(e.m)}, nil
		case evObserved:
			if e.running {
				return runningPhase{m: ActiveManual}, nil
			}
			return p, nil
		case evConfirmTimeout:
			return p, nil
		case evLinkLost:
			return disconnectedPhase{last: ModeStandby}, nil
		}

	case idlePhase:
		switch e := ev.(type) {
		case evStart:
			return startingPhase{m: cur.m}, nil
		case evStop:
			return reject()
		case evSetMode:
			if e.m == ModeStandby {
				return standbyPhase{}, nil
			}
			return idlePhase{m: activeOf(e.m)}, nil
		case evObserved:
			if e.running {
				return runningPhase{m: cur.m}, nil
			}
			return p, nil
		case evConfirmTimeout:
			return p, nil
		case evLinkLost:
			return disconnectedPhase{last: cur.m.Mode()}, nil
		}

	case startingPhase:
		switch e := ev.(type) {
		case evStart, evSetMode:
			return reject()
		case evStop:
			return stoppingPhase{m: cur.m, prev: idlePhase{m: cur.m}}, nil
		case evObserved:
			if e.running {
				return runningPhase{m: cur.m}, nil
			}
			return p, nil
		case evConfirmTimeout:
			return idlePhase{m: cur.m}, nil
		case evLinkLost:
			return disconnectedPhase{last: cur.m.Mode()}, nil
		}

	case runningPhase:
		switch e := ev.(type) {
		case evStart, evSetMode:
			return reject()
		case evStop:
			return stoppingPhase{m: cur.m, prev: cur}, nil
		case evObserved:
			if e.running {
				return p, nil
			}
			return idlePhase{m: cur.m}, nil
		case evConfirmTimeout:
			return p, nil
		case evLinkLost:
			return disconnectedPhase{last: cur.m.Mode()}, nil
		}

	case stoppingPhase:
		switch e := ev.(type) {
		case evStart, evStop, evSetMode:
			return reject()
		case evObserved:
			if e.running {
				return p, nil
			}
			return idlePhase{m: cur.m}, nil
		case evConfirmTimeout:
			return cur.prev, nil
		case evLinkLost:
			return disconnectedPhase{last: cur.m.Mode()}, nil
		}
	}

	return p, errFactory.WithMessage(errors.ErrInternal, "unhandled device event")
}

// reconcile derives a phase from a fresh sample after the link was lost.
func reconcile(last Mode, running bool) phase {
	if running {
		return runningPhase{m: activeOf(last)}
	}
	if last == ModeStandby {
		return standbyPhase{}
	}

	return idlePhase{m: activeOf(last)}
}

func describe(ev event) string {
	switch e := ev.(type) {
	case evStart:
		return "start"
	case evStop:
		return "stop"
	case evSetMode:
		return "set mode " + e.m.String()
	default:
		return "event"
	}
}
