package events

import (
	"context"
	"encoding/json"
	"fmt"

	redisw "github.com/lyzr/flowcore/common/redis"
)

// RedisPublisher fans events out over Redis pub/sub, one channel per
// execution. Any replica (or the local hub via Subscriber) can pick them up.
type RedisPublisher struct {
	client *redisw.Client
	logger Logger
}

// NewRedisPublisher creates a pub/sub backed publisher.
func NewRedisPublisher(client *redisw.Client, logger Logger) *RedisPublisher {
	return &RedisPublisher{client: client, logger: logger}
}

// Publish marshals the event and publishes it on the execution's channel.
func (p *RedisPublisher) Publish(ctx context.Context, e *Event) error {
	if err := stamp(e); err != nil {
		return err
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	channel := ChannelFor(e.ExecutionID)
	if err := p.client.PublishEvent(ctx, channel, string(payload)); err != nil {
		p.logger.Error("failed to publish event",
			"execution_id", e.ExecutionID,
			"type", e.Type,
			"error", err)
		return err
	}
	return nil
}
