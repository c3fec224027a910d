package redisbus

import (
	"context"
	"testing"

	"github.com/ionhub/session-broker-go/bus"
	"github.com/ionhub/session-broker-go/bus/bustest"
	"github.com/redis/go-redis/v9"
)

func TestRedisBus(t *testing.T) {
	// Skip if Redis is not available.
	probe := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := probe.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	probe.Close()

	bustest.RunBusTests(t, func(t *testing.T) bus.Bus {
		client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
		t.Cleanup(func() { client.Close() })
		return New(Config{Client: client, KeyPrefix: "test:bus:"})
	})
}
