package tracking

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/listing-live/internal/domain"
)

// DefaultRedisChannelPrefix namespaces the pub/sub channels.
const DefaultRedisChannelPrefix = "livecore:"

// RedisSubscriber is a push source over Redis pub/sub.
type RedisSubscriber struct {
	client *redis.Client
	prefix string
}

// NewRedisSubscriber creates a subscriber. An empty prefix uses
// DefaultRedisChannelPrefix.
func NewRedisSubscriber(client *redis.Client, prefix string) *RedisSubscriber {
	if prefix == "" {
		prefix = DefaultRedisChannelPrefix
	}
	return &RedisSubscriber{client: client, prefix: prefix}
}

func (r *RedisSubscriber) Name() string { return "redis" }

// Channel returns the pub/sub channel for topic.
func (r *RedisSubscriber) Channel(topic domain.Topic) string {
	return r.prefix + string(topic)
}

func (r *RedisSubscriber) Listen(ctx context.Context, topic domain.Topic, out chan<- []byte) error {
	channel := r.Channel(topic)
	ps := r.client.Subscribe(ctx, channel)
	defer ps.Close()

	// Wait for the subscription confirmation so a dead server fails fast.
	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("redis subscription closed")
			}
			if !send(ctx, out, []byte(msg.Payload)) {
				return nil
			}
		}
	}
}

// RedisPublisher publishes change envelopes to the channels RedisSubscriber
// listens on.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

// NewRedisPublisher creates a publisher with the same prefix rules as
// NewRedisSubscriber.
func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultRedisChannelPrefix
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

// Publish encodes ev and publishes it on its topic's channel.
func (p *RedisPublisher) Publish(ctx context.Context, ev domain.Event) error {
	body, err := domain.EncodeChange(ev)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.prefix+string(ev.Topic()), body).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", ev.Topic(), err)
	}
	return nil
}
