// Package telemetry keeps a raw log of device samples for later analysis.
package telemetry

import (
	"context"

	"codeberg.org/mutker/padctl/internal/device"
)

// Collector records samples. Record must not block on storage.
type Collector interface {
	Record(ctx context.Context, s device.Sample) error
	Close() error
}
