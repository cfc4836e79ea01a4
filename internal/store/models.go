// models.go -- Shared types and sentinel errors for the store package.
// Used by both Redis (credential store) and Postgres (webhook event log).
package store

import (
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when the key is not in Redis.
// Callers use errors.Is to distinguish a true miss from a Redis infrastructure failure.
var ErrCacheMiss = errors.New("cache miss")

// ErrDuplicateEvent is returned by RecordWebhookEvent when the same
// (event_time, object_id, aspect_type) delivery was already recorded.
// Strava retries deliveries it believes were lost; callers skip processing on this error.
var ErrDuplicateEvent = errors.New("duplicate webhook event")

// WebhookEvent represents a row in the webhook_events table.
// Nullable columns are pointers -- nil means SQL NULL.
type WebhookEvent struct {
	ID             int64
	ObjectType     string
	ObjectID       int64
	AspectType     string
	OwnerID        int64
	SubscriptionID int64
	EventTime      int64
	Updates        []byte // raw JSON of the updates object, nil when absent
	ReceivedAt     time.Time
	ProcessedAt    *time.Time
	Error          *string
}
