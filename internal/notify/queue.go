// queue.go
//
// Redis-backed async relay queue. QueuedRelay implements Relay and enqueues
// messages instead of sending synchronously; StartWorker drains the queue in a
// background goroutine and hands each message to the inner Relay (HTTPRelay).
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// QueueKey is the Redis list used as the outbound relay queue.
const QueueKey = "strava-mcp:notify:queue"

// DefaultMaxQueueSize caps the queue when the relay is down. 0 = unlimited.
const DefaultMaxQueueSize int64 = 1000

// ErrQueueFull is returned by Send when the queue has reached its size cap.
var ErrQueueFull = errors.New("notify queue full")

// Job is the serialized payload pushed onto the queue.
type Job struct {
	Message    string `json:"message"`
	EnqueuedAt int64  `json:"enqueued_at"` // unix seconds
}

// QueuedRelay enqueues relay messages to Redis so webhook tasks finish
// without waiting on the relay. Implements Relay.
type QueuedRelay struct {
	inner        Relay
	rdb          *redis.Client
	maxQueueSize int64 // 0 = unlimited
}

// NewQueuedRelay wraps inner with a Redis-backed async queue.
// maxSize caps the queue length (0 = unlimited); use DefaultMaxQueueSize for production.
func NewQueuedRelay(inner Relay, rdb *redis.Client, maxSize int64) *QueuedRelay {
	return &QueuedRelay{inner: inner, rdb: rdb, maxQueueSize: maxSize}
}

// enqueueScript atomically checks the queue length and pushes the job only if
// under the cap. Returns 1 if enqueued, 0 if rejected (queue full).
// KEYS[1] = queue key, ARGV[1] = max size (0 = skip check), ARGV[2] = payload.
var enqueueScript = redis.NewScript(`
local max = tonumber(ARGV[1])
if max > 0 and redis.call('LLEN', KEYS[1]) >= max then
    return 0
end
redis.call('RPUSH', KEYS[1], ARGV[2])
return 1
`)

// Send enqueues message. Returns ErrQueueFull if the queue is at its cap.
func (q *QueuedRelay) Send(ctx context.Context, message string) error {
	data, err := json.Marshal(Job{Message: message, EnqueuedAt: time.Now().Unix()})
	if err != nil {
		return fmt.Errorf("marshaling relay job: %w", err)
	}
	ok, err := enqueueScript.Run(ctx, q.rdb, []string{QueueKey}, q.maxQueueSize, data).Int64()
	if err != nil {
		return fmt.Errorf("enqueuing relay job: %w", err)
	}
	if ok == 0 {
		return ErrQueueFull
	}
	return nil
}

// StartWorker drains the queue in a loop, dispatching each job to inner.
// Blocks until ctx is cancelled (server shutdown). Call in a goroutine.
func (q *QueuedRelay) StartWorker(ctx context.Context) {
	for {
		// BLPop blocks up to 2s then returns redis.Nil, so ctx is rechecked regularly.
		res, err := q.rdb.BLPop(ctx, 2*time.Second, QueueKey).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			slog.Error("notify worker: queue pop failed", "err", err)
			continue
		}
		// res[0] = key name, res[1] = payload
		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			slog.Error("notify worker: bad job payload", "err", err)
			continue
		}
		q.dispatch(ctx, job)
	}
}

// dispatch sends one job through inner. Errors are logged and dropped -- no retry.
func (q *QueuedRelay) dispatch(ctx context.Context, job Job) {
	if err := q.inner.Send(ctx, job.Message); err != nil {
		slog.Error("notify worker: relay failed", "enqueued_at", job.EnqueuedAt, "err", err)
		return
	}
	slog.Debug("notify worker: relayed message", "enqueued_at", job.EnqueuedAt)
}
