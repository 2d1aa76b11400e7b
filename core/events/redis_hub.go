package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/relayloop/relayloop/core/infra/logging"
)

// RedisHub delivers run events over Redis pub/sub so that subscribers in other
// processes (gateway, audit log) see the same stream as in-process listeners.
type RedisHub struct {
	client redis.UniversalClient
}

// NewRedisHub wraps an existing Redis client.
func NewRedisHub(client redis.UniversalClient) *RedisHub {
	return &RedisHub{client: client}
}

// Publish sends the event on the run's channel.
func (h *RedisHub) Publish(ctx context.Context, event Event) error {
	if h == nil || h.client == nil {
		return fmt.Errorf("redis hub not initialized")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return h.client.Publish(ctx, Channel(event.RunID), payload).Err()
}

// Subscribe listens on the run's channel until cancel is called or the context
// ends. Undecodable payloads are skipped.
func (h *RedisHub) Subscribe(ctx context.Context, runID string) (<-chan Event, func(), error) {
	if h == nil || h.client == nil {
		return nil, nil, fmt.Errorf("redis hub not initialized")
	}
	pubsub := h.client.Subscribe(ctx, Channel(runID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", Channel(runID), err)
	}

	out := make(chan Event, subscriberBuffer)
	done := make(chan struct{})
	go func() {
		defer close(out)
		src := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-src:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					logging.Error("events", "decode run event", "channel", msg.Channel, "error", err)
					continue
				}
				select {
				case out <- event:
				default:
					// slow subscriber, drop
				}
			}
		}
	}()

	cancel := func() {
		close(done)
		_ = pubsub.Close()
	}
	return out, cancel, nil
}
