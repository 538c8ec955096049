package telemetry

import (
	"time"

	"codeberg.org/mutker/padctl/internal/errors"
)

const (
	defaultBatchSize    = 30
	defaultBatchTimeout = 10 * time.Second
)

type Config struct {
	Enabled      bool
	BatchSize    int
	BatchTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.BatchSize <= 0 {
		return errors.New().WithMessage(ErrInvalidConfig, "batch_size must be positive")
	}
	if c.BatchTimeout <= 0 {
		return errors.New().WithMessage(ErrInvalidConfig, "batch_timeout must be positive")
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
