// Package bus abstracts the upstream publish/subscribe transport the broker
// consumes notifications from. The broker only ever sees a delivered message
// and an acknowledge callback; connection management, redelivery and pattern
// semantics belong to the implementation.
//
// Two implementations ship with the module: memorybus (in-process channels,
// AMQP-style topic wildcards, suitable for tests and single-node use) and
// redisbus (Redis pattern pub/sub). The bustest package holds a conformance
// suite both run against.
package bus

import "context"

// Delivery is one message handed to a subscription handler.
type Delivery struct {
	// RoutingKey is the key the message was published under.
	RoutingKey string
	// Body is the raw payload.
	Body []byte
	// Ack acknowledges the delivery. Implementations without redelivery make
	// this a no-op, but handlers must still call it so that swapping in an
	// acknowledging bus never introduces redelivery loops. Ack is idempotent.
	Ack func()
}

// Handler consumes deliveries for a subscription. Returning a non-nil error
// terminates the subscription with that error; deliveries are handled one at
// a time, in the order the bus hands them over.
type Handler func(ctx context.Context, d Delivery) error

// Bus is a topic-style exchange: subscribers bind a set of routing patterns
// and receive every message whose routing key matches any of them.
type Bus interface {
	// Subscribe binds patterns on the named exchange and blocks delivering
	// messages to h until ctx is done or h returns an error. Pattern syntax
	// is implementation-defined; all implementations treat a pattern with no
	// wildcard characters as an exact routing-key match.
	Subscribe(ctx context.Context, exchange string, patterns []string, h Handler) error

	// Publish sends body to the named exchange under routingKey.
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}
