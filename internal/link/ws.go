// Package link implements device.Link: a websocket client for the BLE
// bridge and an in-process simulator.
package link

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/padctl/internal/device"
	"codeberg.org/mutker/padctl/internal/errors"
	"codeberg.org/mutker/padctl/internal/logger"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

const (
	// DefaultCommandSpacing is the gap the device needs between commands.
	DefaultCommandSpacing = 690 * time.Millisecond
	DefaultAckTimeout     = 3 * time.Second

	telemetryBuffer = 16
)

type Config struct {
	// Address is the bridge websocket URL, e.g. ws://localhost:8765/pad.
	Address        string
	CommandSpacing time.Duration
	AckTimeout     time.Duration
}

func (c Config) Validate() error {
	if c.Address == "" {
		return errors.New().WithMessage(ErrInvalidConfig, "device address is required")
	}
	return nil
}

// WSLink talks JSON frames to a bridge that owns the Bluetooth connection.
// One Telemetry call owns one websocket connection; commands go over the
// current one.
type WSLink struct {
	cfg    Config
	logger logger.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan error

	// sendMu serializes commands so the spacing holds.
	sendMu   sync.Mutex
	lastSent time.Time
}

func NewWSLink(cfg Config, log logger.Logger) (*WSLink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.CommandSpacing < 0 {
		cfg.CommandSpacing = 0
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}

	return &WSLink{
		cfg:     cfg,
		logger:  log,
		pending: make(map[string]chan error),
	}, nil
}

func (l *WSLink) SendCommand(ctx context.Context, cmd device.Command) error {
	errFactory := errors.New()

	l.sendMu.Lock()
	defer l.sendMu.Unlock()

	if !l.lastSent.IsZero() {
		if wait := l.cfg.CommandSpacing - time.Since(l.lastSent); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return errFactory.Wrap(ErrSendFailed, ctx.Err())
			}
		}
	}

	l.mu.Lock()
	conn := l.conn
	if conn == nil {
		l.mu.Unlock()
		return errFactory.New(ErrNotConnected)
	}
	id := uuid.NewString()
	ack := make(chan error, 1)
	l.pending[id] = ack
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.pending, id)
		l.mu.Unlock()
	}()

	// A cancelled write context closes the connection, so the write is
	// bounded by the ack timeout only.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.AckTimeout)
	defer cancel()

	if err := wsjson.Write(writeCtx, conn, encodeCommand(id, cmd)); err != nil {
		return errFactory.Wrap(ErrSendFailed, err)
	}
	l.lastSent = time.Now()

	l.logger.Debug().Str("id", id).Str("kind", string(cmd.Kind)).Msg("Command sent")

	timer := time.NewTimer(l.cfg.AckTimeout)
	defer timer.Stop()

	select {
	case err := <-ack:
		return err
	case <-timer.C:
		return errFactory.WithMessage(ErrAckTimeout, "no ack for "+string(cmd.Kind))
	case <-ctx.Done():
		return errFactory.Wrap(ErrSendFailed, ctx.Err())
	}
}

// Telemetry dials the bridge. The returned channel closes when the
// connection drops or ctx ends.
func (l *WSLink) Telemetry(ctx context.Context) (<-chan device.Sample, error) {
	errFactory := errors.New()

	conn, _, err := websocket.Dial(ctx, l.cfg.Address, nil)
	if err != nil {
		return nil, errFactory.WithData(ErrDialFailed, struct {
			Address string
			Error   string
		}{
			Address: l.cfg.Address,
			Error:   err.Error(),
		})
	}

	l.mu.Lock()
	old := l.conn
	l.conn = conn
	l.mu.Unlock()

	if old != nil {
		old.CloseNow()
	}

	l.logger.Info().Str("address", l.cfg.Address).Msg("Connected to device bridge")

	out := make(chan device.Sample, telemetryBuffer)
	go l.read(ctx, conn, out)

	return out, nil
}

func (l *WSLink) read(ctx context.Context, conn *websocket.Conn, out chan<- device.Sample) {
	defer close(out)
	defer l.drop(conn)

	var steps stepCounter
	for {
		var f inFrame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			if ctx.Err() == nil {
				l.logger.Warn().Err(err).Msg("Device bridge connection lost")
			}
			return
		}

		switch f.Type {
		case frameAck:
			l.resolve(f.ID, f.Error)
		case frameTelemetry:
			if !f.speedInRange() {
				l.logger.Debug().Int("speed", f.Speed).Msg("Clamping out-of-range speed")
			}
			select {
			case out <- f.sample(&steps, time.Now()):
			case <-ctx.Done():
				return
			}
		default:
			l.logger.Debug().Str("type", f.Type).Msg("Ignoring unknown frame")
		}
	}
}

func (l *WSLink) resolve(id, msg string) {
	l.mu.Lock()
	ack, ok := l.pending[id]
	l.mu.Unlock()

	if !ok {
		return
	}

	var err error
	if msg != "" {
		err = errors.New().WithMessage(ErrRejected, msg)
	}

	select {
	case ack <- err:
	default:
	}
}

// drop forgets conn and fails every command still waiting on it.
func (l *WSLink) drop(conn *websocket.Conn) {
	l.mu.Lock()
	if l.conn == conn {
		l.conn = nil
		for id, ack := range l.pending {
			select {
			case ack <- errors.New().New(ErrDisconnected):
			default:
			}
			delete(l.pending, id)
		}
	}
	l.mu.Unlock()

	conn.CloseNow()
}

// Close drops the current connection, ending its telemetry sequence.
func (l *WSLink) Close() error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "")
	}
	return nil
}
