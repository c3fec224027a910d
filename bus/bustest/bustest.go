// Package bustest provides a conformance test suite for bus.Bus
// implementations.
package bustest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ionhub/session-broker-go/bus"
)

// Factory creates a fresh bus instance for a test.
type Factory func(t *testing.T) bus.Bus

// RunBusTests runs the conformance suite against the provided factory. The
// suite only relies on behavior common to all implementations: exact-match
// patterns, exchange isolation, handler error propagation and context
// cancellation. Wildcard semantics differ per implementation and are covered
// by each implementation's own tests.
func RunBusTests(t *testing.T, factory Factory) {
	t.Run("PublishAndSubscribe", func(t *testing.T) { testPublishAndSubscribe(t, factory) })
	t.Run("ExchangeIsolation", func(t *testing.T) { testExchangeIsolation(t, factory) })
	t.Run("PatternFiltering", func(t *testing.T) { testPatternFiltering(t, factory) })
	t.Run("MultipleSubscribers", func(t *testing.T) { testMultipleSubscribers(t, factory) })
	t.Run("HandlerErrorStopsSubscription", func(t *testing.T) { testHandlerErrorStops(t, factory) })
	t.Run("ContextCancellation", func(t *testing.T) { testContextCancellation(t, factory) })
}

// subscribeAsync starts a blocking Subscribe in a goroutine and returns a
// channel carrying its terminal error.
func subscribeAsync(ctx context.Context, b bus.Bus, exchange string, patterns []string, h bus.Handler) <-chan error {
	done := make(chan error, 1)
	go func() { done <- b.Subscribe(ctx, exchange, patterns, h) }()
	return done
}

// publishUntil repeatedly publishes until stop yields a value or the deadline
// passes. Subscriptions attach asynchronously, so the first publishes may be
// dropped; retrying keeps the suite free of arbitrary sleeps.
func publishUntil[T any](t *testing.T, b bus.Bus, exchange, key string, body []byte, stop <-chan T) (T, bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if err := b.Publish(context.Background(), exchange, key, body); err != nil {
			t.Fatalf("publish: %v", err)
		}
		select {
		case v := <-stop:
			return v, true
		case <-deadline:
			var zero T
			return zero, false
		case <-tick.C:
		}
	}
}

func testPublishAndSubscribe(t *testing.T, factory Factory) {
	b := factory(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan bus.Delivery, 16)
	subscribeAsync(ctx, b, "ex", []string{"user.created"}, func(ctx context.Context, d bus.Delivery) error {
		d.Ack()
		d.Ack() // idempotent
		got <- d
		return nil
	})

	d, ok := publishUntil(t, b, "ex", "user.created", []byte(`{"n":1}`), got)
	if !ok {
		t.Fatal("delivery never arrived")
	}
	if d.RoutingKey != "user.created" {
		t.Errorf("routing key = %q, want user.created", d.RoutingKey)
	}
	if string(d.Body) != `{"n":1}` {
		t.Errorf("body = %q", d.Body)
	}
}

func testExchangeIsolation(t *testing.T, factory Factory) {
	b := factory(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wrong := make(chan bus.Delivery, 16)
	right := make(chan bus.Delivery, 16)
	subscribeAsync(ctx, b, "other", []string{"k"}, func(ctx context.Context, d bus.Delivery) error {
		d.Ack()
		wrong <- d
		return nil
	})
	subscribeAsync(ctx, b, "ex", []string{"k"}, func(ctx context.Context, d bus.Delivery) error {
		d.Ack()
		right <- d
		return nil
	})

	if _, ok := publishUntil(t, b, "ex", "k", []byte("x"), right); !ok {
		t.Fatal("delivery never arrived on the right exchange")
	}
	select {
	case d := <-wrong:
		t.Fatalf("message leaked across exchanges: %+v", d)
	case <-time.After(100 * time.Millisecond):
	}
}

func testPatternFiltering(t *testing.T, factory Factory) {
	b := factory(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan bus.Delivery, 16)
	subscribeAsync(ctx, b, "ex", []string{"orders.created"}, func(ctx context.Context, d bus.Delivery) error {
		d.Ack()
		got <- d
		return nil
	})

	// Interleave non-matching keys with matching ones; only the matching key
	// may come through.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	var d bus.Delivery
loop:
	for {
		if err := b.Publish(context.Background(), "ex", "orders.deleted", []byte("no")); err != nil {
			t.Fatalf("publish: %v", err)
		}
		if err := b.Publish(context.Background(), "ex", "orders.created", []byte("yes")); err != nil {
			t.Fatalf("publish: %v", err)
		}
		select {
		case d = <-got:
			break loop
		case <-deadline:
			t.Fatal("delivery never arrived")
		case <-tick.C:
		}
	}
	if d.RoutingKey != "orders.created" || string(d.Body) != "yes" {
		t.Fatalf("received %q %q, want orders.created yes", d.RoutingKey, d.Body)
	}
	// Drain: everything buffered must match the bound pattern too.
	for {
		select {
		case extra := <-got:
			if extra.RoutingKey != "orders.created" {
				t.Fatalf("non-matching key delivered: %q", extra.RoutingKey)
			}
		default:
			return
		}
	}
}

func testMultipleSubscribers(t *testing.T, factory Factory) {
	b := factory(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const n = 3
	chans := make([]chan bus.Delivery, n)
	for i := range chans {
		chans[i] = make(chan bus.Delivery, 16)
		ch := chans[i]
		subscribeAsync(ctx, b, "ex", []string{"k"}, func(ctx context.Context, d bus.Delivery) error {
			d.Ack()
			ch <- d
			return nil
		})
	}

	if _, ok := publishUntil(t, b, "ex", "k", []byte("fanout"), chans[0]); !ok {
		t.Fatal("first subscriber never received")
	}
	// Publishes retried until subscriber 0 saw one; by then all three were
	// bound, so each other subscriber sees at least one too.
	for i := 1; i < n; i++ {
		select {
		case d := <-chans[i]:
			if string(d.Body) != "fanout" {
				t.Errorf("subscriber %d body = %q", i, d.Body)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("subscriber %d never received", i)
		}
	}
}

func testHandlerErrorStops(t *testing.T, factory Factory) {
	b := factory(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sentinel := errors.New("handler failed")
	done := subscribeAsync(ctx, b, "ex", []string{"k"}, func(ctx context.Context, d bus.Delivery) error {
		d.Ack()
		return sentinel
	})

	if _, ok := publishUntil(t, b, "ex", "k", []byte("boom"), done); !ok {
		t.Fatal("subscription never terminated")
	}
}

func testContextCancellation(t *testing.T, factory Factory) {
	b := factory(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := subscribeAsync(ctx, b, "ex", []string{"k"}, func(ctx context.Context, d bus.Delivery) error {
		d.Ack()
		return nil
	})
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not stop on cancellation")
	}
}
