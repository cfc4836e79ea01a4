// Package webhook receives Strava push subscription callbacks.
//
// processor.go -- event types and the background handling of one event.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/radiansnail-1/strava-mcp-oauth/internal/events"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/notify"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/session"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/strava"
)

// SummaryTTL is how long an activity summary is kept.
const SummaryTTL = 30 * 24 * time.Hour

// summaryPrefix keys summaries as activity_webhook:<owner_id>:<activity_id>.
const summaryPrefix = "activity_webhook:"

// ErrNoSession is returned when an event's owner has no stored session.
var ErrNoSession = errors.New("no session for event owner")

// Event is one push subscription delivery.
type Event struct {
	ObjectType     string          `json:"object_type"`
	ObjectID       int64           `json:"object_id"`
	AspectType     string          `json:"aspect_type"`
	OwnerID        int64           `json:"owner_id"`
	SubscriptionID int64           `json:"subscription_id"`
	EventTime      int64           `json:"event_time"`
	Updates        json.RawMessage `json:"updates,omitempty"`
}

// LogAttrs returns the attributes that identify ev in log lines.
func (ev *Event) LogAttrs() []any {
	return []any{
		"object_type", ev.ObjectType,
		"aspect_type", ev.AspectType,
		"object_id", ev.ObjectID,
		"owner_id", ev.OwnerID,
		"event_time", ev.EventTime,
	}
}

// Deauthorized reports whether ev is the athlete revoking access.
// Strava sends updates.authorized as the string "false"; a JSON false is accepted too.
func (ev *Event) Deauthorized() bool {
	if ev.ObjectType != "athlete" || ev.AspectType != "update" || len(ev.Updates) == 0 {
		return false
	}
	var updates struct {
		Authorized any `json:"authorized"`
	}
	if err := json.Unmarshal(ev.Updates, &updates); err != nil {
		return false
	}
	switch v := updates.Authorized.(type) {
	case string:
		return v == "false"
	case bool:
		return !v
	}
	return false
}

// Sessions is the part of the session lifecycle the processor needs.
// Satisfied by *session.Manager.
type Sessions interface {
	Get(ctx context.Context, subjectID string) (*session.Session, error)
	Delete(ctx context.Context, subjectID string) error
	EnsureFresh(ctx context.Context, s *session.Session) (*session.Session, error)
}

// ActivityFetcher loads one activity. Satisfied by *strava.Client.
type ActivityFetcher interface {
	GetActivity(ctx context.Context, token string, id int64) (*strava.Activity, error)
}

// SummaryStore keeps activity summaries. Satisfied by *store.RedisStore.
type SummaryStore interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Publisher fans processed activities out to other services.
// Satisfied by *events.AMQPPublisher.
type Publisher interface {
	PublishActivity(ctx context.Context, ev events.ActivityProcessed) error
}

// Processor performs the work behind one webhook event.
// Relay and Publisher are optional; leave them nil when not configured.
type Processor struct {
	Sessions  Sessions
	Fetcher   ActivityFetcher
	Summaries SummaryStore
	Relay     notify.Relay
	Publisher Publisher

	// Now is overridable in tests.
	Now func() time.Time
}

// Process handles ev. Returned errors are for logging only; nothing is retried.
func (p *Processor) Process(ctx context.Context, ev *Event) error {
	switch ev.ObjectType {
	case "activity":
		switch ev.AspectType {
		case "create":
			return p.processNewActivity(ctx, ev)
		case "update":
			slog.Info("webhook: activity updated", append(ev.LogAttrs(), "updates", string(ev.Updates))...)
		case "delete":
			slog.Info("webhook: activity deleted", ev.LogAttrs()...)
		}
	case "athlete":
		if ev.Deauthorized() {
			subject := strconv.FormatInt(ev.OwnerID, 10)
			if err := p.Sessions.Delete(ctx, subject); err != nil {
				return fmt.Errorf("deleting session of deauthorized athlete %s: %w", subject, err)
			}
			slog.Info("webhook: athlete deauthorized, session deleted", ev.LogAttrs()...)
			return nil
		}
		slog.Info("webhook: athlete event ignored", ev.LogAttrs()...)
	default:
		slog.Warn("webhook: unknown object type", ev.LogAttrs()...)
	}
	return nil
}

// processNewActivity fetches the activity with the owner's token, relays the
// formatted message, stores the summary, and publishes it.
// A relay failure is reported but does not stop the summary being stored.
func (p *Processor) processNewActivity(ctx context.Context, ev *Event) error {
	subject := strconv.FormatInt(ev.OwnerID, 10)
	sess, err := p.Sessions.Get(ctx, subject)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return fmt.Errorf("%w: athlete %s", ErrNoSession, subject)
		}
		return fmt.Errorf("loading session: %w", err)
	}
	sess, err = p.Sessions.EnsureFresh(ctx, sess)
	if err != nil {
		return err
	}

	activity, err := p.Fetcher.GetActivity(ctx, sess.AccessToken, ev.ObjectID)
	if err != nil {
		return fmt.Errorf("fetching activity %d: %w", ev.ObjectID, err)
	}

	message := FormatActivity(activity)
	var relayErr error
	relayed := false
	if p.Relay != nil {
		if relayErr = p.Relay.Send(ctx, message); relayErr != nil {
			relayErr = fmt.Errorf("relaying activity %d: %w", ev.ObjectID, relayErr)
			slog.Error("webhook: relay failed", append(ev.LogAttrs(), "error", relayErr)...)
		} else {
			relayed = true
			slog.Info("webhook: activity relayed", ev.LogAttrs()...)
		}
	} else {
		slog.Info("webhook: relay not configured, skipping notification", append(ev.LogAttrs(), "message", message)...)
	}

	now := p.now()
	summary := NewSummary(ev.ObjectID, activity, now)
	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encoding activity summary: %w", err)
	}
	key := summaryPrefix + subject + ":" + strconv.FormatInt(ev.ObjectID, 10)
	if err := p.Summaries.Put(ctx, key, raw, SummaryTTL); err != nil {
		return errors.Join(relayErr, fmt.Errorf("storing activity summary: %w", err))
	}

	if p.Publisher != nil {
		pub := events.ActivityProcessed{
			OwnerID:       ev.OwnerID,
			ActivityID:    ev.ObjectID,
			Name:          summary.Name,
			Type:          summary.Type,
			Distance:      summary.Distance,
			MovingTime:    summary.MovingTime,
			ElevationGain: summary.ElevationGain,
			StartDate:     summary.StartDate,
			Relayed:       relayed,
			ProcessedAt:   summary.ReceivedAt,
		}
		if err := p.Publisher.PublishActivity(ctx, pub); err != nil {
			// Fan-out is best-effort.
			slog.Warn("webhook: publishing activity failed", append(ev.LogAttrs(), "error", err)...)
		}
	}
	return relayErr
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
