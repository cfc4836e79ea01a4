// Package events publishes processed-activity notifications to RabbitMQ so
// other services can react to new workouts without polling Strava.
//
// publisher.go -- AMQP connection handling and publish.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ActivityQueue is the durable queue (and routing key on the default exchange)
// processed activities are published to.
const ActivityQueue = "activity.processed"

// ActivityProcessed is published after a new activity has been fetched and summarised.
type ActivityProcessed struct {
	OwnerID       int64   `json:"owner_id"`
	ActivityID    int64   `json:"activity_id"`
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	Distance      float64 `json:"distance"`
	MovingTime    int64   `json:"moving_time"`
	ElevationGain float64 `json:"elevation_gain"`
	StartDate     string  `json:"start_date"`
	Relayed       bool    `json:"relayed"`
	ProcessedAt   string  `json:"processed_at"`
}

// AMQPPublisher holds one broker connection and channel, reopened on demand
// after the broker drops them. Safe for concurrent use.
type AMQPPublisher struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPPublisher dials url and declares ActivityQueue.
// Fails fast so a misconfigured AMQP_URL surfaces at startup.
func NewAMQPPublisher(url string) (*AMQPPublisher, error) {
	p := &AMQPPublisher{url: url}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

// connect opens a connection and channel and declares the queue. Caller holds mu.
func (p *AMQPPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dialing amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("opening amqp channel: %w", err)
	}
	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(ActivityQueue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declaring %s: %w", ActivityQueue, err)
	}
	p.conn, p.ch = conn, ch
	return nil
}

// PublishActivity publishes ev as a persistent JSON message.
func (p *AMQPPublisher) PublishActivity(ctx context.Context, ev ActivityProcessed) error {
	msg, err := encode(ev)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() || p.ch == nil || p.ch.IsClosed() {
		slog.Warn("amqp connection lost, reconnecting")
		p.closeLocked()
		if err := p.connect(); err != nil {
			return err
		}
	}

	if err := p.ch.PublishWithContext(ctx, "", ActivityQueue, false, false, msg); err != nil {
		return fmt.Errorf("publishing activity %d: %w", ev.ActivityID, err)
	}
	return nil
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *AMQPPublisher) closeLocked() error {
	var err error
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err = p.conn.Close()
		p.conn = nil
	}
	return err
}

// encode builds the AMQP message for ev.
func encode(ev ActivityProcessed) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encoding activity event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         ActivityQueue,
		Body:         body,
	}, nil
}
