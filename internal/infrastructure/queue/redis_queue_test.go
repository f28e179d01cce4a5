package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wekeepgrowing/appstore-reconciler/internal/config"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/entity"
	"github.com/wekeepgrowing/appstore-reconciler/pkg/clock"
	"go.uber.org/zap"
)

func newQueue(t *testing.T, cfg config.QueueConfig) (*RedisQueue, *clock.Fixed, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	clk := clock.NewFixed(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	if cfg.Key == "" {
		cfg.Key = "test:notifications"
	}
	return NewRedisQueue(client, cfg, clk, zap.NewNop()), clk, mr
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 5 * time.Minute},
		{1, 5 * time.Minute},
		{2, 10 * time.Minute},
		{4, 40 * time.Minute},
		{20, 24 * time.Hour},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempts, 5*time.Minute, 24*time.Hour), "attempts=%d", tt.attempts)
	}
}

func TestDelayedDelivery(t *testing.T) {
	q, clk, _ := newQueue(t, config.QueueConfig{Workers: 1})
	ctx := context.Background()

	var got []*entity.QueuedNotification
	consumer := NewConsumer(q, func(ctx context.Context, msg *entity.QueuedNotification) bool {
		got = append(got, msg)
		return true
	}, zap.NewNop())

	require.NoError(t, q.Enqueue(ctx, &entity.QueuedNotification{Version: entity.NotificationV2, Payload: []byte(`{"signedPayload":"x"}`)}, time.Minute))

	processed, err := consumer.ProcessOne(ctx)
	require.NoError(t, err)
	assert.False(t, processed, "message must not be visible before its delay")

	clk.Advance(time.Minute)
	processed, err = consumer.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	require.Len(t, got, 1)
	assert.Equal(t, entity.NotificationV2, got[0].Version)
	assert.JSONEq(t, `{"signedPayload":"x"}`, string(got[0].Payload))

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestFailedMessageIsRetriedWithBackoff(t *testing.T) {
	q, clk, mr := newQueue(t, config.QueueConfig{Workers: 1, MaxAttempts: 2, BaseBackoff: 5 * time.Minute, MaxBackoff: time.Hour})
	ctx := context.Background()

	calls := 0
	consumer := NewConsumer(q, func(ctx context.Context, msg *entity.QueuedNotification) bool {
		calls++
		return false
	}, zap.NewNop())

	require.NoError(t, q.Enqueue(ctx, &entity.QueuedNotification{Version: entity.NotificationV1, Payload: []byte(`{}`)}, 0))

	processed, err := consumer.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	clk.Advance(4 * time.Minute)
	processed, _ = consumer.ProcessOne(ctx)
	assert.False(t, processed, "retry waits for backoff")

	clk.Advance(time.Minute)
	processed, err = consumer.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, 2, calls)

	dead, err := mr.List("test:notifications:dead")
	require.NoError(t, err)
	assert.Len(t, dead, 1)

	pending, _ := q.Pending(ctx)
	assert.Zero(t, pending)
}

func TestConsumerRunStopsOnCancel(t *testing.T) {
	q, _, _ := newQueue(t, config.QueueConfig{Workers: 2, PollInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	handled := make(chan struct{}, 1)
	consumer := NewConsumer(q, func(ctx context.Context, msg *entity.QueuedNotification) bool {
		handled <- struct{}{}
		return true
	}, zap.NewNop())

	go func() {
		consumer.Run(ctx)
		close(done)
	}()

	require.NoError(t, q.Enqueue(context.Background(), &entity.QueuedNotification{Payload: []byte(`{}`)}, 0))
	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("message not handled")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestUnackedClaimBecomesVisibleAgain(t *testing.T) {
	q, clk, mr := newQueue(t, config.QueueConfig{Workers: 1, VisibilityTimeout: 2 * time.Minute})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &entity.QueuedNotification{Version: entity.NotificationV2, Payload: []byte(`{"signedPayload":"x"}`)}, 0))

	// worker takes the message and dies before ack or retry
	claimed, err := q.claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending, "claimed message stays in the schedule")
	assert.True(t, mr.Exists("test:notifications:messages"))

	again, err := q.claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, again, "message is hidden while claimed")

	clk.Advance(2 * time.Minute)
	var got []*entity.QueuedNotification
	consumer := NewConsumer(q, func(ctx context.Context, msg *entity.QueuedNotification) bool {
		got = append(got, msg)
		return true
	}, zap.NewNop())
	processed, err := consumer.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	require.Len(t, got, 1)
	assert.Equal(t, claimed.ID, got[0].ID)

	pending, err = q.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.False(t, mr.Exists("test:notifications:messages"))
}

func TestDefaultVisibilityTimeout(t *testing.T) {
	q, clk, _ := newQueue(t, config.QueueConfig{Workers: 1})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &entity.QueuedNotification{Payload: []byte(`{}`)}, 0))
	claimed, err := q.claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	clk.Advance(defaultVisibilityTimeout - time.Second)
	msg, err := q.claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, msg)

	clk.Advance(time.Second)
	msg, err = q.claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, claimed.ID, msg.ID)
}
