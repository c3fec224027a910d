// Package redisbus implements the bus.Bus interface over Redis pattern
// pub/sub. Exchanges map onto a channel-name prefix; routing patterns use
// Redis glob syntax, with the AMQP '#' wildcard translated to '*' for
// convenience. Note that Redis '*' matches across '.' word boundaries, so
// matching is coarser than memorybus's topic semantics.
//
// Redis pub/sub is fire-and-forget: there is no redelivery, so Delivery.Ack
// is a no-op. Handlers must still call it (see bus.Delivery).
package redisbus

import (
	"context"
	"fmt"
	"strings"

	"github.com/ionhub/session-broker-go/bus"
	"github.com/redis/go-redis/v9"
)

// Config contains configuration options for the Redis bus.
type Config struct {
	// Client is the Redis client to use. If nil, a default client pointed at
	// localhost:6379 is created.
	Client redis.UniversalClient
	// KeyPrefix is prepended to all channel names. Defaults to "broker:bus:".
	KeyPrefix string
}

// Bus implements bus.Bus over Redis pub/sub.
type Bus struct {
	client    redis.UniversalClient
	keyPrefix string
}

// New creates a Redis-backed bus.
func New(cfg Config) *Bus {
	client := cfg.Client
	if client == nil {
		client = redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	}
	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "broker:bus:"
	}
	return &Bus{client: client, keyPrefix: keyPrefix}
}

// Close closes the Redis client.
func (b *Bus) Close() error { return b.client.Close() }

func (b *Bus) channel(exchange, routingKey string) string {
	return b.keyPrefix + exchange + ":" + routingKey
}

// Publish implements bus.Bus.
func (b *Bus) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	if err := b.client.Publish(ctx, b.channel(exchange, routingKey), body).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", b.channel(exchange, routingKey), err)
	}
	return nil
}

// Subscribe implements bus.Bus. It blocks until ctx is done or the handler
// returns an error.
func (b *Bus) Subscribe(ctx context.Context, exchange string, patterns []string, h bus.Handler) error {
	globs := make([]string, 0, len(patterns))
	for _, p := range patterns {
		globs = append(globs, b.keyPrefix+exchange+":"+strings.ReplaceAll(p, "#", "*"))
	}
	ps := b.client.PSubscribe(ctx, globs...)
	defer ps.Close()

	prefix := b.keyPrefix + exchange + ":"
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return ctx.Err()
			}
			d := bus.Delivery{
				RoutingKey: strings.TrimPrefix(msg.Channel, prefix),
				Body:       []byte(msg.Payload),
				Ack:        func() {}, // no redelivery in Redis pub/sub
			}
			if err := h(ctx, d); err != nil {
				return err
			}
		}
	}
}

var _ bus.Bus = (*Bus)(nil)
