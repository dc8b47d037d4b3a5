package model

import "time"

// EventType names a job lifecycle transition published to subscribers.
type EventType string

const (
	EventJobStarted   EventType = "job:started"
	EventJobCompleted EventType = "job:completed"
	EventJobFailed    EventType = "job:failed"
)

// Event is one job-state notification. Delivery is at-least-once with no
// cross-subscriber ordering; consumers de-duplicate on (job_id, event).
type Event struct {
	Type      EventType      `json:"event"`
	JobID     string         `json:"job_id"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}
