// Package messaging defines broker-agnostic publish/subscribe abstractions
// used for the metrics feed and incident lifecycle events.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Message is a payload received from or sent to the broker.
type Message struct {
	Subject   string
	Data      []byte
	Reply     string
	Metadata  map[string]string
	Timestamp time.Time
}

// MessageHandler processes a received message. A returned error is logged by
// the transport; core subscriptions do not redeliver.
type MessageHandler func(ctx context.Context, msg *Message) error

// Subscription is an active subscription.
type Subscription interface {
	Unsubscribe() error
	Subject() string
	IsValid() bool
}

// Publisher publishes fire-and-forget messages.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	PublishMsg(ctx context.Context, msg *Message) error
	Close() error
}

// Subscriber receives messages on subjects.
type Subscriber interface {
	Subscribe(subject string, handler MessageHandler) (Subscription, error)
	// QueueSubscribe load-balances messages across members of queue.
	QueueSubscribe(subject, queue string, handler MessageHandler) (Subscription, error)
	Close() error
}

// Client combines Publisher and Subscriber.
type Client interface {
	Publisher
	Subscriber
	Drain() error
	IsConnected() bool
}

// PublishJSON marshals v and publishes it on subject via p.
func PublishJSON(ctx context.Context, p Publisher, subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message for %s: %w", subject, err)
	}
	return p.Publish(ctx, subject, data)
}
