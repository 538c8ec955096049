package engine

import (
	"context"

	"codeberg.org/mutker/padctl/internal/device"
	"codeberg.org/mutker/padctl/internal/logger"
	"codeberg.org/mutker/padctl/internal/telemetry"
)

// observers fans machine callbacks out in order.
type observers []device.Observer

func (o observers) OnStateTransition(t device.Transition) {
	for _, x := range o {
		x.OnStateTransition(t)
	}
}

func (o observers) OnTelemetry(s device.Sample, belt device.BeltState) {
	for _, x := range o {
		x.OnTelemetry(s, belt)
	}
}

// sampleLog feeds the raw telemetry log.
type sampleLog struct {
	collector telemetry.Collector
	logger    logger.Logger
}

func (sampleLog) OnStateTransition(device.Transition) {}

func (l sampleLog) OnTelemetry(s device.Sample, _ device.BeltState) {
	if err := l.collector.Record(context.Background(), s); err != nil {
		l.logger.Debug().Err(err).Msg("Dropping telemetry sample")
	}
}
