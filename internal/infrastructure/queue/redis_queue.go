package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/wekeepgrowing/appstore-reconciler/internal/config"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/entity"
	"github.com/wekeepgrowing/appstore-reconciler/pkg/clock"
	"go.uber.org/zap"
)

// Handler processes one queued notification. Returning false schedules a retry.
type Handler func(ctx context.Context, msg *entity.QueuedNotification) bool

// RedisQueue is a delayed queue: a sorted set of ids scored by ready time and
// a hash holding message bodies.
type RedisQueue struct {
	client *redis.Client
	cfg    config.QueueConfig
	clock  clock.Clock
	logger *zap.Logger
}

// NewRedisQueue creates a queue rooted at cfg.Key
func NewRedisQueue(client *redis.Client, cfg config.QueueConfig, clk clock.Clock, logger *zap.Logger) *RedisQueue {
	return &RedisQueue{client: client, cfg: cfg, clock: clk, logger: logger}
}

func (q *RedisQueue) scheduleKey() string { return q.cfg.Key + ":scheduled" }
func (q *RedisQueue) bodyKey() string     { return q.cfg.Key + ":messages" }
func (q *RedisQueue) deadKey() string     { return q.cfg.Key + ":dead" }

// Enqueue stores msg and makes it visible after delay.
func (q *RedisQueue) Enqueue(ctx context.Context, msg *entity.QueuedNotification, delay time.Duration) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = q.clock.Now()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal queued notification: %w", err)
	}

	readyAt := q.clock.Now().Add(delay)
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.bodyKey(), msg.ID, body)
	pipe.ZAdd(ctx, q.scheduleKey(), redis.Z{Score: float64(readyAt.UnixMilli()), Member: msg.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}

	q.logger.Debug("notification enqueued",
		zap.String("id", msg.ID),
		zap.String("version", string(msg.Version)),
		zap.Int("attempts", msg.Attempts),
		zap.Time("ready_at", readyAt))
	return nil
}

// claimScript hides the first due id until ARGV[2] instead of removing it, so a
// worker that dies mid-message leaves it to be claimed again.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
	return false
end
redis.call('ZADD', KEYS[1], ARGV[2], ids[1])
return ids[1]
`)

const defaultVisibilityTimeout = 5 * time.Minute

func (q *RedisQueue) visibilityTimeout() time.Duration {
	if q.cfg.VisibilityTimeout > 0 {
		return q.cfg.VisibilityTimeout
	}
	return defaultVisibilityTimeout
}

// claim takes one due message and keeps it scheduled until it is acked or retried.
func (q *RedisQueue) claim(ctx context.Context) (*entity.QueuedNotification, error) {
	now := q.clock.Now()
	invisibleUntil := now.Add(q.visibilityTimeout())
	id, err := claimScript.Run(ctx, q.client, []string{q.scheduleKey()},
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(invisibleUntil.UnixMilli(), 10)).Text()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	body, err := q.client.HGet(ctx, q.bodyKey(), id).Bytes()
	if err != nil {
		if err == redis.Nil {
			q.logger.Warn("queued notification body missing", zap.String("id", id))
			q.client.ZRem(ctx, q.scheduleKey(), id)
			return nil, nil
		}
		return nil, err
	}

	var msg entity.QueuedNotification
	if err := json.Unmarshal(body, &msg); err != nil {
		q.logger.Error("dropping undecodable queued notification", zap.String("id", id), zap.Error(err))
		q.forget(ctx, id)
		return nil, nil
	}
	return &msg, nil
}

// ack removes a finished message
func (q *RedisQueue) ack(ctx context.Context, msg *entity.QueuedNotification) error {
	return q.forget(ctx, msg.ID)
}

func (q *RedisQueue) forget(ctx context.Context, id string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.scheduleKey(), id)
	pipe.HDel(ctx, q.bodyKey(), id)
	_, err := pipe.Exec(ctx)
	return err
}

// retry re-schedules a failed message with exponential backoff, or parks it
// in the dead list once MaxAttempts is reached.
func (q *RedisQueue) retry(ctx context.Context, msg *entity.QueuedNotification) error {
	msg.Attempts++
	if q.cfg.MaxAttempts > 0 && msg.Attempts >= q.cfg.MaxAttempts {
		q.logger.Error("notification exceeded max attempts",
			zap.String("id", msg.ID),
			zap.Int("attempts", msg.Attempts))
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.scheduleKey(), msg.ID)
		pipe.HDel(ctx, q.bodyKey(), msg.ID)
		if body, err := json.Marshal(msg); err == nil {
			pipe.RPush(ctx, q.deadKey(), body)
		}
		_, err := pipe.Exec(ctx)
		return err
	}
	return q.Enqueue(ctx, msg, Backoff(msg.Attempts, q.cfg.BaseBackoff, q.cfg.MaxBackoff))
}

// Backoff returns base * 2^(attempts-1), capped at max.
func Backoff(attempts int, base, max time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// Pending returns the number of scheduled or in-flight messages.
func (q *RedisQueue) Pending(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.scheduleKey()).Result()
}

// Consumer runs workers that drain the queue.
type Consumer struct {
	queue   *RedisQueue
	handler Handler
	workers int
	poll    time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewConsumer creates a consumer with cfg.Workers workers
func NewConsumer(queue *RedisQueue, handler Handler, logger *zap.Logger) *Consumer {
	workers := queue.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	poll := queue.cfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	return &Consumer{queue: queue, handler: handler, workers: workers, poll: poll, logger: logger}
}

// Run blocks until ctx is cancelled and all workers have returned.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info("starting notification consumer", zap.Int("workers", c.workers))
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}
	c.wg.Wait()
	c.logger.Info("notification consumer stopped")
}

func (c *Consumer) worker(ctx context.Context, id int) {
	defer c.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}

		processed, err := c.ProcessOne(ctx)
		if err != nil && ctx.Err() == nil {
			c.logger.Error("queue worker error", zap.Int("worker", id), zap.Error(err))
		}
		if processed {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.poll):
		}
	}
}

// ProcessOne handles at most one due message and reports whether one was taken.
func (c *Consumer) ProcessOne(ctx context.Context) (bool, error) {
	msg, err := c.queue.claim(ctx)
	if err != nil || msg == nil {
		return false, err
	}

	// handler runs detached from shutdown so a reconciliation is not cut in half
	if c.handler(context.WithoutCancel(ctx), msg) {
		return true, c.queue.ack(context.WithoutCancel(ctx), msg)
	}
	return true, c.queue.retry(context.WithoutCancel(ctx), msg)
}
