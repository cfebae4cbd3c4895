package backends

import "context"

// PublishOptions describes a message emitted to a topic. Topic uses the
// Solace hierarchy with '/' levels, a "topic://" prefix is optional.
type PublishOptions struct {
	Topic   string
	Message []byte

	// Properties become AMQP application properties.
	Properties    map[string]any
	MessageID     string // generated when empty
	CorrelationID string
	ReplyTo       string
	ContentType   string
	Priority      int  // 0-9
	Persistent    bool // guaranteed delivery instead of direct
	TTL           int64
}

// SubscribeOptions configures a receive from a transient topic
// subscription. Topic may contain the Solace wildcards '*' and '>'.
type SubscribeOptions struct {
	Topic   string
	Timeout float32 // seconds, ignored when Wait is set
	Wait    bool

	WithHeaderAndProperties   bool
	WithApplicationProperties bool
	Selector                  string
}

// TopicBackend publishes to and subscribes on topics of one messaging
// service
type TopicBackend interface {
	Publish(ctx context.Context, opts PublishOptions) error
	Subscribe(ctx context.Context, opts SubscribeOptions) (*Message, error)
	Close() error
}
