// Package bus provides a real-time event broker for job lifecycle events.
// It bridges the hook.Extension system to in-process consumers via
// topic-based pub/sub with bounded per-subscriber buffers.
package bus

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventJobCreated        EventType = "job.created"
	EventJobStarted        EventType = "job.started"
	EventJobProgress       EventType = "job.progress"
	EventJobCompleted      EventType = "job.completed"
	EventJobRetryScheduled EventType = "job.retry_scheduled"
	EventJobFailed         EventType = "job.failed"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the entity-specific channel this event was published on.
	Topic string `json:"topic"`

	// Priority is the priority label of the job the event concerns.
	Priority string `json:"priority,omitempty"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// JobEventData is the payload for job lifecycle events. Fields not
// relevant to a given event type are omitted.
type JobEventData struct {
	JobID     string          `json:"job_id"`
	Priority  string          `json:"priority,omitempty"`
	WorkerID  string          `json:"worker_id,omitempty"`
	Stage     string          `json:"stage,omitempty"`
	Percent   float64         `json:"percent,omitempty"`
	Message   string          `json:"message,omitempty"`
	ElapsedMs int64           `json:"elapsed_ms,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Attempt   int             `json:"attempt,omitempty"`
	DelayMs   int64           `json:"delay_ms,omitempty"`
	Category  string          `json:"category,omitempty"`
	Severity  string          `json:"severity,omitempty"`
}
