package link

import (
	"time"

	"codeberg.org/mutker/padctl/internal/device"
)

// Frame types exchanged with the bridge.
const (
	frameCommand   = "command"
	frameAck       = "ack"
	frameTelemetry = "telemetry"
)

// commandFrame is written for every device command.
type commandFrame struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Mode  string `json:"mode,omitempty"`
	Pref  string `json:"pref,omitempty"`
	Value *int   `json:"value,omitempty"`
}

// inFrame is either an ack or a telemetry report. Speed is in tenths of
// km/h and Steps is the device's running step counter.
type inFrame struct {
	Type        string `json:"type"`
	ID          string `json:"id,omitempty"`
	Error       string `json:"error,omitempty"`
	Time        int64  `json:"time,omitempty"`
	Speed       int    `json:"speed"`
	BeltRunning bool   `json:"belt_running"`
	Steps       *int   `json:"steps,omitempty"`
}

func encodeCommand(id string, cmd device.Command) commandFrame {
	f := commandFrame{Type: frameCommand, ID: id, Kind: string(cmd.Kind)}

	switch cmd.Kind {
	case device.CmdSetMode:
		f.Mode = cmd.Mode.String()
	case device.CmdSetSpeed:
		v := int(cmd.Speed)
		f.Value = &v
	case device.CmdSetPreference:
		v := cmd.Value
		f.Pref = cmd.Pref
		f.Value = &v
	}

	return f
}

// stepCounter turns the device's cumulative step count into deltas.
type stepCounter struct {
	last *int
}

func (c *stepCounter) delta(total *int) *int {
	if total == nil {
		return nil
	}

	d := 0
	switch {
	case c.last == nil:
	case *total >= *c.last:
		d = *total - *c.last
	default:
		// counter was reset by the device
		d = *total
	}

	t := *total
	c.last = &t

	return &d
}

func (f inFrame) speedInRange() bool {
	return f.Speed >= int(device.MinSpeed) && f.Speed <= int(device.MaxSpeed)
}

// sample clamps the reported speed to what the belt can do.
func (f inFrame) sample(steps *stepCounter, now time.Time) device.Sample {
	at := now
	if f.Time > 0 {
		at = time.UnixMilli(f.Time)
	}

	return device.Sample{
		Time:        at,
		Speed:       min(max(device.Speed(f.Speed), device.MinSpeed), device.MaxSpeed),
		BeltRunning: f.BeltRunning,
		StepDelta:   steps.delta(f.Steps),
	}
}
