package device

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"codeberg.org/mutker/padctl/internal/errors"
)

// Speed is a belt speed in tenths of km/h, the unit the device speaks.
type Speed int

const (
	MinSpeed Speed = 0
	MaxSpeed Speed = 60
)

// SpeedFromKmH rounds kmh to the device resolution.
func SpeedFromKmH(kmh float64) Speed {
	return Speed(math.Round(kmh * 10))
}

func (s Speed) KmH() float64 {
	return float64(s) / 10
}

func (s Speed) String() string {
	return fmt.Sprintf("%.1f km/h", s.KmH())
}

// Mode is the operating policy of the device.
type Mode int

const (
	ModeStandby Mode = iota
	ModeManual
	ModeAuto
)

func (m Mode) String() string {
	switch m {
	case ModeStandby:
		return "standby"
	case ModeManual:
		return "manual"
	case ModeAuto:
		return "auto"
	default:
		return "unknown"
	}
}

// ParseMode accepts the names produced by Mode.String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standby":
		return ModeStandby, nil
	case "manual":
		return ModeManual, nil
	case "auto":
		return ModeAuto, nil
	default:
		return ModeStandby, errors.New().WithData(ErrUnknownMode, s)
	}
}

// ActiveMode is a Mode the belt can run in. Standby is not one of them.
type ActiveMode int

const (
	ActiveManual ActiveMode = iota
	ActiveAuto
)

func (a ActiveMode) Mode() Mode {
	if a == ActiveAuto {
		return ModeAuto
	}

	return ModeManual
}

func activeOf(m Mode) ActiveMode {
	if m == ModeAuto {
		return ActiveAuto
	}

	return ActiveManual
}

// BeltState is the physical drive status.
type BeltState int

const (
	BeltIdle BeltState = iota
	BeltStarting
	BeltRunning
	BeltStopping
	BeltStandby
)

func (b BeltState) String() string {
	switch b {
	case BeltIdle:
		return "idle"
	case BeltStarting:
		return "starting"
	case BeltRunning:
		return "running"
	case BeltStopping:
		return "stopping"
	case BeltStandby:
		return "standby"
	default:
		return "unknown"
	}
}

// State is a point-in-time copy of the machine.
type State struct {
	Mode       Mode      `json:"mode"`
	Belt       BeltState `json:"belt_state"`
	Speed      Speed     `json:"speed"`
	Connected  bool      `json:"connected"`
	LastSample time.Time `json:"last_sample"`
}

// Sample is one decoded telemetry record from the device.
type Sample struct {
	Time        time.Time
	Speed       Speed
	BeltRunning bool
	// StepDelta is nil when the device does not report steps.
	StepDelta *int
}

// CommandKind names a device command.
type CommandKind string

const (
	CmdStart         CommandKind = "start"
	CmdStop          CommandKind = "stop"
	CmdSetMode       CommandKind = "set_mode"
	CmdSetSpeed      CommandKind = "set_speed"
	CmdSetPreference CommandKind = "set_preference"
)

// Command is a decoded command for the link.
type Command struct {
	Kind  CommandKind
	Mode  Mode
	Speed Speed
	// Pref and Value are used by CmdSetPreference.
	Pref  string
	Value int
}

// Link is the session-oriented channel to the physical device.
type Link interface {
	// SendCommand blocks until the device acknowledges or ctx ends.
	SendCommand(ctx context.Context, cmd Command) error

	// Telemetry opens a new sample sequence. The channel is closed when the
	// link drops; call Telemetry again to reconnect.
	Telemetry(ctx context.Context) (<-chan Sample, error)
}

// Cause says why a transition happened.
type Cause int

const (
	CauseCommand Cause = iota
	CauseTelemetry
	CauseLinkLost
	CauseTimeout
)

func (c Cause) String() string {
	switch c {
	case CauseCommand:
		return "command"
	case CauseTelemetry:
		return "telemetry"
	case CauseLinkLost:
		return "link_lost"
	case CauseTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Transition describes a belt state change.
type Transition struct {
	From  BeltState
	To    BeltState
	Mode  Mode
	At    time.Time
	Cause Cause
}

// Opens reports whether the belt just started running.
func (t Transition) Opens() bool {
	return t.To == BeltRunning && t.From != BeltRunning
}

// Observer receives transitions and samples in order, while the machine
// lock is held. Implementations must not call back into the Machine.
type Observer interface {
	OnStateTransition(t Transition)
	OnTelemetry(s Sample, belt BeltState)
}

// SpeedBounds supplies the user's preferred speed range.
type SpeedBounds interface {
	SpeedBounds() (lo, hi Speed)
}
