package eventbus

import (
	"context"

	redis "github.com/redis/go-redis/v9"

	"github.com/smallbiznis/billingcore/internal/errs"
)

// RedisPublisher PUBLISHes JSON-encoded events on a single channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	if err := event.validate(); err != nil {
		return err
	}
	raw, err := event.encode()
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, raw).Err(); err != nil {
		return errs.FromContext("eventbus.redis_publish", err)
	}
	return nil
}
