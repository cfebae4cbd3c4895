package backends

import "context"

// Message is a message read from a queue or topic subscription.
type Message struct {
	Data       []byte
	Properties map[string]any

	MessageID     string
	CorrelationID string
	ReplyTo       string
	ContentType   string
	Priority      int
	Persistent    bool
	// Destination is the address the message was published to, e.g.
	// topic://orders/created for a message that reached a queue through a
	// topic subscription.
	Destination string

	// InternalMetadata carries AMQP header and annotation values for display.
	InternalMetadata map[string]any
}

// SendOptions describes a message sent straight to a queue.
type SendOptions struct {
	Queue   string
	Message []byte

	Properties    map[string]any
	MessageID     string // generated when empty
	CorrelationID string
	ReplyTo       string
	ContentType   string
	Priority      int
	Persistent    bool
	TTL           int64 // milliseconds, 0 never expires
}

// ReceiveOptions configures reading one message from a queue.
type ReceiveOptions struct {
	Queue   string
	Timeout float32
	Wait    bool
	// Acknowledge accepts the message. Otherwise it is released and stays
	// on the queue.
	Acknowledge bool

	WithHeaderAndProperties   bool
	WithApplicationProperties bool
	Selector                  string // evaluated by the broker
}

// QueueBackend sends to and receives from queues of one messaging service
type QueueBackend interface {
	Send(ctx context.Context, opts SendOptions) error
	Receive(ctx context.Context, opts ReceiveOptions) (*Message, error)
	Close() error
}

// QueueManager provisions queues and their topic subscriptions on the broker.
// Implementations treat existing queues and subscriptions as success.
type QueueManager interface {
	CreateQueue(ctx context.Context, name string, properties map[string]any) error
	RemoveQueue(ctx context.Context, name string) error
	CreateQueueSubscription(ctx context.Context, queue, topic string) error
}
