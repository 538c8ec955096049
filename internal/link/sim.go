package link

import (
	"context"
	"math"
	"sync"
	"time"

	"codeberg.org/mutker/padctl/internal/device"
	"codeberg.org/mutker/padctl/internal/errors"
)

const (
	DefaultSimInterval = time.Second

	simStrideM = 0.7
)

// Sim is an in-process belt. It obeys commands the way the device does and
// reports a sample every interval while a telemetry sequence is open.
type Sim struct {
	interval time.Duration

	mu         sync.Mutex
	mode       device.Mode
	running    bool
	speed      device.Speed
	startSpeed device.Speed
	steps      float64
	stop       chan struct{}
}

func NewSim(interval time.Duration) *Sim {
	if interval <= 0 {
		interval = DefaultSimInterval
	}

	return &Sim{
		interval:   interval,
		mode:       device.ModeStandby,
		startSpeed: device.SpeedFromKmH(2.0),
	}
}

func (s *Sim) SendCommand(_ context.Context, cmd device.Command) error {
	errFactory := errors.New()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop == nil {
		return errFactory.New(ErrNotConnected)
	}

	switch cmd.Kind {
	case device.CmdStart:
		if s.mode == device.ModeStandby {
			return errFactory.WithMessage(ErrRejected, "device is in standby")
		}
		s.running = true
		if s.speed == 0 {
			s.speed = s.startSpeed
		}
	case device.CmdStop:
		s.running = false
		s.speed = 0
	case device.CmdSetMode:
		s.mode = cmd.Mode
		if cmd.Mode == device.ModeStandby {
			s.running = false
			s.speed = 0
		}
	case device.CmdSetSpeed:
		if !s.running {
			return errFactory.WithMessage(ErrRejected, "belt is not running")
		}
		s.speed = cmd.Speed
	case device.CmdSetPreference:
		if cmd.Pref == "start_speed" {
			s.startSpeed = device.Speed(cmd.Value)
		}
	default:
		return errFactory.WithMessage(ErrRejected, "unknown command "+string(cmd.Kind))
	}

	return nil
}

// Telemetry starts a new sequence, ending any previous one.
func (s *Sim) Telemetry(ctx context.Context) (<-chan device.Sample, error) {
	s.mu.Lock()
	if s.stop != nil {
		close(s.stop)
	}
	stop := make(chan struct{})
	s.stop = stop
	s.mu.Unlock()

	out := make(chan device.Sample, telemetryBuffer)
	go s.emit(ctx, stop, out)

	return out, nil
}

// Drop ends the current telemetry sequence as if the link was lost.
func (s *Sim) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// Belt is the simulated device's own view, for tests and status output.
func (s *Sim) Belt() (running bool, speed device.Speed, mode device.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running, s.speed, s.mode
}

func (s *Sim) emit(ctx context.Context, stop chan struct{}, out chan<- device.Sample) {
	defer close(out)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.release(stop)
			return
		case <-stop:
			return
		case now := <-ticker.C:
			sample := s.sample(now)
			select {
			case out <- sample:
			case <-ctx.Done():
				s.release(stop)
				return
			case <-stop:
				return
			}
		}
	}
}

func (s *Sim) release(stop chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop == stop {
		close(s.stop)
		s.stop = nil
	}
}

func (s *Sim) sample(now time.Time) device.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	var delta int
	if s.running {
		meters := s.speed.KmH() * 1000 * s.interval.Hours()
		before := math.Floor(s.steps)
		s.steps += meters / simStrideM
		delta = int(math.Floor(s.steps) - before)
	}

	return device.Sample{
		Time:        now,
		Speed:       s.speed,
		BeltRunning: s.running,
		StepDelta:   &delta,
	}
}
