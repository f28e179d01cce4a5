package entity

import "time"

// QueuedNotification is a raw notification waiting for the consumer.
type QueuedNotification struct {
	ID         string              `json:"id"`
	Version    NotificationVersion `json:"version"`
	Payload    []byte              `json:"payload"`
	Attempts   int                 `json:"attempts"`
	EnqueuedAt time.Time           `json:"enqueued_at"`
}
