package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := client.Subscribe(ctx, "appstore.reconciliation")
	require.NoError(t, err)

	require.NoError(t, client.Publish(ctx, "appstore.reconciliation", map[string]string{"status": "processed"}))

	select {
	case msg := <-ch:
		var body map[string]string
		require.NoError(t, json.Unmarshal(msg.Payload, &body))
		assert.Equal(t, "processed", body["status"])
		assert.Equal(t, "appstore.reconciliation", msg.Channel)
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}
}

func TestWrapRedisClient_CloseKeepsConnection(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	client := WrapRedisClient(rdb)
	require.NoError(t, client.Close())
	assert.NoError(t, rdb.Ping(context.Background()).Err())
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	_, err := NewRedisClient("127.0.0.1:1", "", 0)
	assert.Error(t, err)
}
