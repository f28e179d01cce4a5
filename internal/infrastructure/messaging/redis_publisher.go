package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/entity"
	"github.com/wekeepgrowing/appstore-reconciler/internal/domain/provider"
	"github.com/wekeepgrowing/appstore-reconciler/pkg/messaging"
)

// redisOutcomePublisher publishes reconciliation events over Redis pub/sub
type redisOutcomePublisher struct {
	redisClient messaging.RedisClient
	channel     string
}

// NewRedisOutcomePublisher creates a publisher on channel. Events are also sent
// to channel:<original transaction id> for consumers following one chain.
func NewRedisOutcomePublisher(client messaging.RedisClient, channel string) provider.OutcomePublisher {
	return &redisOutcomePublisher{
		redisClient: client,
		channel:     channel,
	}
}

func (p *redisOutcomePublisher) Publish(ctx context.Context, event *entity.ReconciliationEvent) error {
	if event == nil {
		return errors.New("reconciliation event is nil")
	}

	if err := p.redisClient.Publish(ctx, p.channel, event); err != nil {
		return fmt.Errorf("failed to publish reconciliation event: %w", err)
	}

	if event.OriginalTransactionID != "" {
		chainChannel := fmt.Sprintf("%s:%s", p.channel, event.OriginalTransactionID)
		if err := p.redisClient.Publish(ctx, chainChannel, event); err != nil {
			return fmt.Errorf("failed to publish reconciliation event to chain channel: %w", err)
		}
	}
	return nil
}
