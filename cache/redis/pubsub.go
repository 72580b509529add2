package redis

import (
	"context"

	goredis "github.com/redis/go-redis/v9"
)

// RedisMessage is a received pub/sub message.
type RedisMessage struct {
	Channel string
	Payload string
}

// RedisPubSub is the Redis-backed pub/sub transport.
type RedisPubSub struct {
	client *goredis.Client
}

// NewPubSub connects a pub/sub client to Redis.
func NewPubSub(cfg Config) (*RedisPubSub, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisPubSub{client: client}, nil
}

// Publish sends a message to the given channel.
func (ps *RedisPubSub) Publish(ctx context.Context, channel, message string) error {
	return ps.client.Publish(ctx, channel, message).Err()
}

// Subscribe returns a message channel for the given channels and a cancel
// function that unsubscribes and closes it.
func (ps *RedisPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan *RedisMessage, func(), error) {
	sub := ps.client.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		return nil, nil, err
	}

	out := make(chan *RedisMessage, 256)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			out <- &RedisMessage{Channel: msg.Channel, Payload: msg.Payload}
		}
	}()
	cancel := func() { _ = sub.Close() }
	return out, cancel, nil
}
