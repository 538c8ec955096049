package session

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/padctl/internal/errors"
	"codeberg.org/mutker/padctl/internal/events"
	"github.com/cenkalti/backoff/v5"
)

type job struct {
	s Session
	// notify runs the closed hooks; retries of failed writes do not.
	notify bool
}

// writer is the queue of closed sessions waiting for a durable write. The
// queue is unbounded so closing a session never blocks the device path.
type writer struct {
	mu    sync.Mutex
	queue []job
	wake  chan struct{}
	// busy is held while one job is being written.
	busy sync.Mutex
}

func (w *writer) enqueue(j job) {
	w.mu.Lock()
	w.queue = append(w.queue, j)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *writer) pop() (job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.queue) == 0 {
		return job{}, false
	}
	j := w.queue[0]
	w.queue = w.queue[1:]

	return j, true
}

// Run writes closed sessions until ctx ends.
func (t *Tracker) Run(ctx context.Context) error {
	for {
		for t.writeOne(ctx) {
		}

		select {
		case <-ctx.Done():
			return nil
		case <-t.w.wake:
		}
	}
}

// writeOne handles at most one queued job and reports whether it did.
func (t *Tracker) writeOne(ctx context.Context) bool {
	t.w.busy.Lock()
	defer t.w.busy.Unlock()

	j, ok := t.w.pop()
	if !ok {
		return false
	}

	t.persist(ctx, j)

	return true
}

func (t *Tracker) persist(ctx context.Context, j job) {
	errFactory := errors.New()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.cfg.PersistInterval

	attempts := 0
	op := func() (struct{}, error) {
		attempts++
		return struct{}{}, t.repo.SaveSession(ctx, j.s)
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(t.cfg.PersistAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			t.logger.Warn().
				Err(err).
				Str("session_id", j.s.ID).
				Dur("retry_in", next).
				Msg("Session write failed, retrying")
		}),
	)

	t.mu.Lock()
	if err == nil {
		delete(t.unpersisted, j.s.ID)
		delete(t.failed, j.s.ID)
		t.evictLocked()
	} else {
		t.failed[j.s.ID] = true
	}
	t.mu.Unlock()

	if err != nil {
		failure := errFactory.Wrap(ErrPersistenceFailure, err)
		t.logger.ErrorWithCode(failure).
			Str("session_id", j.s.ID).
			Int("attempts", attempts).
			Msg("Giving up on session write")

		t.publisher.Publish(events.PersistenceFailure, events.FailurePayload{
			Kind:     "session",
			ID:       j.s.ID,
			Attempts: attempts,
			Error:    err.Error(),
		})
	}

	if j.notify {
		for _, h := range t.hooks {
			h(ctx, j.s.clone())
		}
	}
}

// RetryPending queues every session whose write previously gave up. It
// returns the number queued.
func (t *Tracker) RetryPending() int {
	t.mu.Lock()
	var retry []Session
	for id := range t.failed {
		retry = append(retry, t.closed[id].clone())
	}
	t.failed = make(map[string]bool)
	t.mu.Unlock()

	for _, s := range retry {
		t.w.enqueue(job{s: s})
	}

	return len(retry)
}

// Flush closes the open session with its best known end time and writes
// everything queued before ctx ends. It is meant for shutdown.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	if t.open != nil {
		t.closeLocked(t.endTimeLocked(t.open))
	}
	t.mu.Unlock()

	// writeOne waits for a write Run may still have in flight
	for t.writeOne(ctx) {
	}

	if ctx.Err() != nil {
		return errors.New().Wrap(errors.ErrTimeout, ctx.Err())
	}
	if n := t.Unpersisted(); n > 0 {
		return errors.New().WithData(ErrPersistenceFailure, n)
	}

	return nil
}
