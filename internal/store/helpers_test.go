package store

import "context"

// GetWebhookEvent reads back a recorded delivery so tests can check what
// RecordWebhookEvent and MarkWebhookEventProcessed wrote.
// Returns pgx.ErrNoRows if no such row exists.
func (s *PostgresStore) GetWebhookEvent(ctx context.Context, id int64) (*WebhookEvent, error) {
	var e WebhookEvent
	err := s.pool.QueryRow(ctx, `
		SELECT id, object_type, object_id, aspect_type, owner_id, subscription_id,
		       event_time, updates, received_at, processed_at, error
		FROM webhook_events WHERE id = $1`, id,
	).Scan(&e.ID, &e.ObjectType, &e.ObjectID, &e.AspectType, &e.OwnerID, &e.SubscriptionID,
		&e.EventTime, &e.Updates, &e.ReceivedAt, &e.ProcessedAt, &e.Error)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
