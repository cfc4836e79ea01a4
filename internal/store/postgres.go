// Package store handles all database and cache interactions.
//
// postgres.go -- pgxpool connection setup and webhook event log queries.
// Postgres is optional: the bridge runs on Redis alone, and only records
// webhook deliveries here when DATABASE_URL is set.
// All queries use parameterized statements (no string concatenation).
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the webhook event log backed by a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates and returns a verified connection pool
// to PostgreSQL wrapped in a store.
// Call once at startup from main.go...the returned store is safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool}, nil
}

// Close shuts down the connection pool and releases all resources.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CheckHealth pings Postgres. Used by GET /health.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RecordWebhookEvent inserts a delivery and returns its row id.
// Returns ErrDuplicateEvent if the same (event_time, object_id, aspect_type) was already recorded.
func (s *PostgresStore) RecordWebhookEvent(ctx context.Context, e *WebhookEvent) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO webhook_events
			(object_type, object_id, aspect_type, owner_id, subscription_id, event_time, updates)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_time, object_id, aspect_type) DO NOTHING
		RETURNING id`,
		e.ObjectType, e.ObjectID, e.AspectType, e.OwnerID, e.SubscriptionID, e.EventTime, e.Updates,
	).Scan(&id)
	if err != nil {
		// DO NOTHING returns zero rows on conflict.
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrDuplicateEvent
		}
		return 0, fmt.Errorf("recording webhook event: %w", err)
	}
	return id, nil
}

// MarkWebhookEventProcessed stamps processed_at and stores procErr's message (NULL on success).
func (s *PostgresStore) MarkWebhookEventProcessed(ctx context.Context, id int64, procErr error) error {
	var msg *string
	if procErr != nil {
		m := procErr.Error()
		msg = &m
	}
	tag, err := s.pool.Exec(ctx,
		"UPDATE webhook_events SET processed_at = now(), error = $2 WHERE id = $1",
		id, msg)
	if err != nil {
		return fmt.Errorf("marking webhook event %d processed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
