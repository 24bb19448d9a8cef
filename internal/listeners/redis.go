package listeners

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"retriever-agent/internal/common/errors"
	"retriever-agent/internal/retriever"
)

// RedisPublisher forwards events as JSON to a Redis pub/sub channel.
type RedisPublisher struct {
	client  redis.Cmdable
	channel string
}

func NewRedisPublisher(client redis.Cmdable, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Channel() string {
	return p.channel
}

// Handle publishes evt. Delivery failures come back as EVENT_PUBLISH_FAILED.
func (p *RedisPublisher) Handle(ctx context.Context, evt retriever.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return errors.NewEventPublishFailedError("redis", fmt.Errorf("marshal %s: %w", evt.Name, err))
	}
	ctx, cancel := detach(ctx)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return errors.NewEventPublishFailedError("redis", err)
	}
	return nil
}
