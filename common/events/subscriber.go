package events

import (
	"context"
	"fmt"
	"strings"

	redisw "github.com/lyzr/flowcore/common/redis"
)

// Subscriber listens to Redis pub/sub and forwards event payloads to a hub.
// Run one per process that serves WebSocket clients.
type Subscriber struct {
	client *redisw.Client
	hub    *Hub
	logger Logger
}

// NewSubscriber creates a Redis-to-hub bridge.
func NewSubscriber(client *redisw.Client, hub *Hub, logger Logger) *Subscriber {
	return &Subscriber{client: client, hub: hub, logger: logger}
}

// Start subscribes to every execution channel and pumps messages into the hub
// until the context is cancelled.
func (s *Subscriber) Start(ctx context.Context) error {
	pattern := channelPrefix + "*"
	pubsub := s.client.Subscribe(ctx, pattern)
	defer pubsub.Close()

	// Wait for confirmation that the subscription was established.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", pattern, err)
	}
	s.logger.Info("event subscriber started", "pattern", pattern)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("event subscriber stopping")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if msg == nil {
				continue
			}

			executionID := executionFromChannel(msg.Channel)
			if executionID == "" {
				s.logger.Warn("ignoring event on unexpected channel", "channel", msg.Channel)
				continue
			}
			s.hub.Broadcast(executionID, []byte(msg.Payload))
		}
	}
}

// executionFromChannel extracts the execution id from a channel name.
// Example: "flow:events:exec-123" -> "exec-123".
func executionFromChannel(channel string) string {
	if !strings.HasPrefix(channel, channelPrefix) {
		return ""
	}
	id := strings.TrimPrefix(channel, channelPrefix)
	if id == "" || strings.Contains(id, ":") {
		return ""
	}
	return id
}
