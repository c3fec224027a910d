// Package memorybus provides an in-process implementation of the bus.Bus
// interface using Go channels. It is suitable for single-node deployments
// and tests; state is local to the process.
package memorybus

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ionhub/session-broker-go/bus"
)

// Bus implements bus.Bus with AMQP-style topic matching: patterns are
// '.'-separated words where '*' matches exactly one word and '#' matches
// zero or more.
type Bus struct {
	mu        sync.RWMutex
	exchanges map[string]*exchange
	acked     atomic.Int64
}

type exchange struct {
	mu          sync.RWMutex
	subscribers map[*subscription]struct{}
}

type subscription struct {
	patterns []string
	ch       chan bus.Delivery
	ctx      context.Context
}

// New creates an empty in-memory bus.
func New() *Bus {
	return &Bus{exchanges: make(map[string]*exchange)}
}

// AckCount reports how many deliveries have been acknowledged, for tests.
func (b *Bus) AckCount() int64 { return b.acked.Load() }

func (b *Bus) exchange(name string) *exchange {
	b.mu.Lock()
	defer b.mu.Unlock()
	ex, ok := b.exchanges[name]
	if !ok {
		ex = &exchange{subscribers: make(map[*subscription]struct{})}
		b.exchanges[name] = ex
	}
	return ex
}

// Publish implements bus.Bus.
func (b *Bus) Publish(ctx context.Context, exchangeName, routingKey string, body []byte) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	ex := b.exchange(exchangeName)

	// Each subscriber gets its own copy of the delivery; Ack idempotence is
	// per delivery.
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	for sub := range ex.subscribers {
		if !matchesAny(sub.patterns, routingKey) {
			continue
		}
		var once sync.Once
		d := bus.Delivery{
			RoutingKey: routingKey,
			Body:       body,
			Ack:        func() { once.Do(func() { b.acked.Add(1) }) },
		}
		select {
		case sub.ch <- d:
		case <-sub.ctx.Done():
		}
	}
	return nil
}

// Subscribe implements bus.Bus.
func (b *Bus) Subscribe(ctx context.Context, exchangeName string, patterns []string, h bus.Handler) error {
	ex := b.exchange(exchangeName)

	// The derived context is canceled on exit so that publishers blocked on
	// this subscription's channel always unblock before we take the exchange
	// lock to unregister.
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub := &subscription{
		patterns: patterns,
		ch:       make(chan bus.Delivery, 100),
		ctx:      subCtx,
	}
	ex.mu.Lock()
	ex.subscribers[sub] = struct{}{}
	ex.mu.Unlock()
	defer func() {
		ex.mu.Lock()
		delete(ex.subscribers, sub)
		ex.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-sub.ch:
			if err := h(ctx, d); err != nil {
				return err
			}
		}
	}
}

func matchesAny(patterns []string, key string) bool {
	for _, p := range patterns {
		if matchTopic(p, key) {
			return true
		}
	}
	return false
}

// matchTopic implements AMQP topic-exchange matching over '.'-separated
// words: '*' matches exactly one word, '#' matches zero or more.
func matchTopic(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pat, key []string) bool {
	for len(pat) > 0 {
		switch pat[0] {
		case "#":
			if len(pat) == 1 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchWords(pat[1:], key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || pat[0] != key[0] {
				return false
			}
		}
		pat = pat[1:]
		key = key[1:]
	}
	return len(key) == 0
}

var _ bus.Bus = (*Bus)(nil)
