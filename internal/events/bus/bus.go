// Package bus provides the message-bus abstraction Mission Control uses
// for its queue ingress and replies. Messages on the bus are the same
// envelope the HTTP ingress accepts.
package bus

import (
	"context"

	v1 "github.com/stage7/missionctl/pkg/api/v1"
)

// MessageHandler is a function that handles an inbound envelope.
type MessageHandler func(ctx context.Context, msg *v1.Message) error

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// MessageBus interface for bus operations.
type MessageBus interface {
	// Publish sends an envelope to a subject
	Publish(ctx context.Context, subject string, msg *v1.Message) error

	// Subscribe creates a subscription to a subject pattern
	Subscribe(subject string, handler MessageHandler) (Subscription, error)

	// QueueSubscribe creates a queue subscription for load balancing
	QueueSubscribe(subject, queue string, handler MessageHandler) (Subscription, error)

	// Close closes the connection
	Close()

	// IsConnected returns connection status
	IsConnected() bool
}
