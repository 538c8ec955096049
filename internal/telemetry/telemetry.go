package telemetry

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"codeberg.org/mutker/padctl/internal/device"
	"codeberg.org/mutker/padctl/internal/errors"
	"codeberg.org/mutker/padctl/internal/logger"
)

const insertSampleSQL = `
    INSERT INTO telemetry (timestamp, speed, belt_running, step_delta)
    VALUES (?, ?, ?, ?)`

type noopCollector struct{}

func (noopCollector) Record(context.Context, device.Sample) error { return nil }
func (noopCollector) Close() error                                { return nil }

// recorder buffers samples and writes them in batches from one goroutine.
type recorder struct {
	db     *sql.DB
	cfg    Config
	logger logger.Logger

	mu     sync.Mutex
	buffer []device.Sample

	full          chan struct{}
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
	closeOnce     sync.Once
}

// NewService returns a no-op collector when telemetry is disabled. db must
// already carry the telemetry table.
func NewService(cfg Config, db *sql.DB, log logger.Logger) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if !cfg.Enabled || db == nil {
		log.Debug().Msg("Telemetry disabled, using no-op collector")
		return noopCollector{}, nil
	}

	if err := db.Ping(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	r := &recorder{
		db:            db,
		cfg:           cfg,
		logger:        log,
		buffer:        make([]device.Sample, 0, cfg.BatchSize),
		full:          make(chan struct{}, 1),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}
	go r.flusher()

	log.Debug().
		Int("batch_size", cfg.BatchSize).
		Dur("batch_timeout", cfg.BatchTimeout).
		Msg("Telemetry recorder started")

	return r, nil
}

func (r *recorder) Record(ctx context.Context, s device.Sample) error {
	if err := ctx.Err(); err != nil {
		return errors.New().Wrap(ErrOperationTimeout, err)
	}

	r.mu.Lock()
	r.buffer = append(r.buffer, s)
	full := len(r.buffer) >= r.cfg.BatchSize
	r.mu.Unlock()

	if full {
		select {
		case r.full <- struct{}{}:
		default:
		}
	}

	return nil
}

// Close writes whatever is buffered and stops the flusher. It does not
// close db.
func (r *recorder) Close() error {
	r.closeOnce.Do(func() { close(r.shutdownChan) })
	<-r.flushDoneChan

	return nil
}

func (r *recorder) flusher() {
	defer close(r.flushDoneChan)

	ticker := time.NewTicker(r.cfg.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-r.full:
		case <-r.shutdownChan:
			r.flushLogged()
			return
		}
		r.flushLogged()
	}
}

func (r *recorder) flushLogged() {
	if err := r.flush(); err != nil {
		r.logger.ErrorWithCode(errors.New().Wrap(ErrStorageAccess, err)).Msg("Failed to write telemetry batch")
	}
}

// flush drops the batch on failure; the log is best effort.
func (r *recorder) flush() error {
	r.mu.Lock()
	batch := r.buffer
	r.buffer = make([]device.Sample, 0, r.cfg.BatchSize)
	r.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertSampleSQL)
	if err != nil {
		if err := tx.Rollback(); err != nil {
			r.logger.Debug().Err(err).Msg("Failed to roll back transaction")
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, s := range batch {
		var steps sql.NullInt64
		if s.StepDelta != nil {
			steps = sql.NullInt64{Int64: int64(*s.StepDelta), Valid: true}
		}

		if _, err := stmt.Exec(s.Time.UnixNano(), int64(s.Speed), boolToInt(s.BeltRunning), steps); err != nil {
			if err := tx.Rollback(); err != nil {
				r.logger.Debug().Err(err).Msg("Failed to roll back transaction")
			}
			return errFactory.Wrap(ErrStorageAccess, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().Int("records", len(batch)).Msg("Flushed telemetry")

	return nil
}
