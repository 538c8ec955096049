package engine

import (
	"context"
	"time"

	"codeberg.org/mutker/padctl/internal/device"
	"codeberg.org/mutker/padctl/internal/errors"
	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
)

// Run drives the engine until ctx ends, then closes the open session and
// drains pending writes within the configured flush timeout.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return e.tracker.Run(gctx) })
	g.Go(func() error { return e.pump(gctx) })
	g.Go(func() error { return e.housekeeping(gctx) })

	err := g.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), e.cfg.Session.FlushTimeout)
	defer cancel()

	if ferr := e.tracker.Flush(flushCtx); ferr != nil {
		var appErr errors.Error
		if errors.As(ferr, &appErr) {
			e.logger.ErrorWithCode(appErr).Msg("Sessions left unwritten at shutdown")
		}
		if err == nil {
			err = ferr
		}
	}

	e.logger.Info().Msg("Engine stopped")

	return err
}

// pump feeds telemetry into the machine, reconnecting with backoff whenever
// the sequence ends.
func (e *Engine) pump(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = e.cfg.Device.ReconnectMaxInterval

	for {
		samples, err := backoff.Retry(ctx, func() (<-chan device.Sample, error) {
			return e.link.Telemetry(ctx)
		},
			backoff.WithBackOff(b),
			backoff.WithMaxElapsedTime(0),
			backoff.WithNotify(func(err error, next time.Duration) {
				e.logger.Warn().Err(err).Dur("retry_in", next).Msg("Device link unavailable")
			}),
		)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}

		for s := range samples {
			e.machine.OnTelemetry(s)
		}
		e.machine.OnDisconnect()

		if ctx.Err() != nil {
			return nil
		}
	}
}

// housekeeping runs the liveness check, idle expiry and write retries.
func (e *Engine) housekeeping(ctx context.Context) error {
	tick := time.NewTicker(e.tick)
	defer tick.Stop()

	retry := time.NewTicker(e.cfg.Session.RetryInterval)
	defer retry.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-tick.C:
			if e.machine.CheckLiveness(now) {
				e.logger.Warn().Msg("Device telemetry stalled")
			}
			if s, ok := e.tracker.Expire(now); ok {
				e.logger.Info().Str("session_id", s.ID).Msg("Idle session closed")
			}
		case <-retry.C:
			if n := e.tracker.RetryPending(); n > 0 {
				e.logger.Info().Int("sessions", n).Msg("Retrying session writes")
			}
		}
	}
}
