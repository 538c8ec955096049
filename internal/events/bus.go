package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bus fans events out to subscribers. Publish never blocks on a slow
// consumer: each subscription owns an unbounded queue drained by its own
// goroutine.
type Bus struct {
	mu     sync.Mutex
	seq    uint64
	nextID int
	subs   map[int]*Subscription
	closed bool
	now    func() time.Time
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[int]*Subscription),
		now:  time.Now,
	}
}

// Subscription receives events on C in publish order. Cancel closes C at
// once. Closing the bus closes C after the events already queued are read.
type Subscription struct {
	C <-chan Event

	bus     *Bus
	id      int
	out     chan Event
	mu      sync.Mutex
	queue   []Event
	wake    chan struct{}
	closing chan struct{}
	done    chan struct{}
	once    sync.Once
	drain   sync.Once
}

// Publish implements Publisher.
func (b *Bus) Publish(t Type, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.seq++
	ev := Event{
		ID:      uuid.NewString(),
		Seq:     b.seq,
		Type:    t,
		Time:    b.now(),
		Payload: payload,
	}

	for _, s := range b.subs {
		s.enqueue(ev)
	}
}

// Subscribe registers a new consumer.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(chan Event)
	s := &Subscription{
		C:       out,
		bus:     b,
		id:      b.nextID,
		out:     out,
		wake:    make(chan struct{}, 1),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	b.nextID++

	if b.closed {
		close(out)
		return s
	}

	b.subs[s.id] = s
	go s.pump()

	return s
}

// Close stops publishing. Subscribers still receive what was queued before.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[int]*Subscription)
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		s.finish()
	}
}

// Cancel detaches the subscription; pending events are discarded.
func (s *Subscription) Cancel() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()

	s.stop()
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) finish() {
	s.drain.Do(func() { close(s.closing) })
}

func (s *Subscription) enqueue(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) take() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.queue
	s.queue = nil

	return batch
}

// deliver reports false once the subscription is cancelled.
func (s *Subscription) deliver(batch []Event) bool {
	for _, ev := range batch {
		select {
		case s.out <- ev:
		case <-s.done:
			return false
		}
	}

	return true
}

func (s *Subscription) pump() {
	defer close(s.out)

	for {
		if !s.deliver(s.take()) {
			return
		}

		select {
		case <-s.wake:
		case <-s.closing:
			// Publish has stopped, so this is the last batch.
			s.deliver(s.take())
			return
		case <-s.done:
			return
		}
	}
}
