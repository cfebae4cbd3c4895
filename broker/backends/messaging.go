package backends

import "context"

// QueueListener handles a message consumed from a queue. topic is the topic
// the message was published to, without scheme prefix. A returned error
// rejects the message.
type QueueListener func(ctx context.Context, topic string, msg *Message) error

// MessagingBackend is the capability set a host runtime drives: topology
// management, publishing and queue consumption.
type MessagingBackend interface {
	QueueManager

	// RegisterQueueListener starts consuming queue in the background
	RegisterQueueListener(ctx context.Context, queue string, listener QueueListener) error

	// EmitTopicMessage publishes to opts.Topic
	EmitTopicMessage(ctx context.Context, opts PublishOptions) error

	// Stop releases the broker connection
	Stop()
}
