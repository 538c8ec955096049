package events_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/padctl/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *events.Subscription) events.Event {
	t.Helper()

	select {
	case ev, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return events.Event{}
	}
}

func TestBusDeliversInOrder(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	sub := bus.Subscribe()

	for i := 0; i < 100; i++ {
		bus.Publish(events.SpeedChanged, events.SpeedPayload{KmH: float64(i) / 10})
	}

	var last uint64
	for i := 0; i < 100; i++ {
		ev := receive(t, sub)
		assert.Equal(t, events.SpeedChanged, ev.Type)
		assert.Greater(t, ev.Seq, last)
		assert.NotEmpty(t, ev.ID)
		assert.InDelta(t, float64(i)/10, ev.Payload.(events.SpeedPayload).KmH, 1e-9)
		last = ev.Seq
	}
}

func TestPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	slow := bus.Subscribe()
	fast := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish(events.DeviceConnectivityChanged, events.ConnectivityPayload{Connected: i%2 == 0})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked")
	}

	for i := 0; i < 1000; i++ {
		receive(t, fast)
	}

	// nothing was dropped for the slow one either
	for i := 0; i < 1000; i++ {
		receive(t, slow)
	}
}

func TestCancelClosesChannel(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	sub := bus.Subscribe()
	sub.Cancel()

	select {
	case _, ok := <-sub.C:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}

	assert.NotPanics(t, func() { bus.Publish(events.GoalAchieved, nil) })
}

func TestSubscribeAfterCloseIsClosed(t *testing.T) {
	bus := events.NewBus()
	bus.Close()

	sub := bus.Subscribe()
	_, ok := <-sub.C
	assert.False(t, ok)
}

func TestCloseDeliversQueuedEvents(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe()

	for i := 0; i < 50; i++ {
		bus.Publish(events.SpeedChanged, events.SpeedPayload{KmH: 1})
	}
	bus.Publish(events.SessionEnded, events.SessionSummary{SessionID: "last"})
	bus.Close()
	bus.Publish(events.SpeedChanged, events.SpeedPayload{KmH: 2})

	var got []events.Event
	for ev := range sub.C {
		got = append(got, ev)
	}

	require.Len(t, got, 51)
	assert.Equal(t, events.SessionEnded, got[50].Type)
	assert.Equal(t, "last", got[50].Payload.(events.SessionSummary).SessionID)
}
