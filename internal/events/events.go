// Package events carries notifications from the engine to monitoring
// consumers. Delivery is ordered per subscriber and never drops; a consumer
// may see an event more than once across reconnects and must tolerate it.
package events

import (
	"time"
)

// Type identifies a notification.
type Type string

const (
	SpeedChanged              Type = "speed.changed"
	SessionStarted            Type = "session.started"
	SessionEnded              Type = "session.ended"
	GoalAchieved              Type = "goal.achieved"
	PersistenceFailure        Type = "persistence.failure"
	DeviceConnectivityChanged Type = "device.connectivity_changed"
	DeviceStateChanged        Type = "device.state_changed"
)

// Event is one notification. ID is unique per event, Seq is strictly
// increasing per Bus.
type Event struct {
	ID      string    `json:"id"`
	Seq     uint64    `json:"seq"`
	Type    Type      `json:"type"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload,omitempty"`
}

// Publisher is what producers depend on.
type Publisher interface {
	Publish(t Type, payload any)
}

type SpeedPayload struct {
	KmH float64 `json:"kmh"`
}

type ConnectivityPayload struct {
	Connected bool `json:"connected"`
}

type StatePayload struct {
	Mode     string `json:"mode"`
	Belt     string `json:"belt"`
	FromBelt string `json:"from_belt"`
}

type SessionStartedPayload struct {
	SessionID  string `json:"session_id"`
	Provenance string `json:"provenance"`
}

// SessionSummary is the payload of SessionEnded.
type SessionSummary struct {
	SessionID       string    `json:"session_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DistanceKm      float64   `json:"distance_km"`
	Steps           int       `json:"steps"`
	DurationSeconds int       `json:"duration_seconds"`
	CaloriesKcal    float64   `json:"calories_kcal"`
	AverageSpeed    float64   `json:"average_speed"`
}

type GoalPayload struct {
	GoalID  string  `json:"goal_id"`
	Type    string  `json:"type"`
	Target  float64 `json:"target"`
	Current float64 `json:"current"`
}

// FailurePayload describes a write that exhausted its retries.
type FailurePayload struct {
	Kind     string `json:"kind"`
	ID       string `json:"id"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

type nopPublisher struct{}

func (nopPublisher) Publish(Type, any) {}

// Discard is a Publisher that drops everything.
var Discard Publisher = nopPublisher{}
