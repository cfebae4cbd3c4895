package amqpcommon

import (
	"fmt"
	"time"

	"github.com/Azure/go-amqp"
	"github.com/makibytes/aem/broker/backends"
	"github.com/makibytes/aem/log"
)

// SendArguments describes an outgoing AMQP message.
type SendArguments struct {
	Message       []byte
	Properties    map[string]any
	MessageID     string
	CorrelationID string
	ReplyTo       string
	ContentType   string
	Subject       string
	To            string
	Priority      uint8
	Durable       bool
	TTL           int64 // Time-to-live in milliseconds (0 = no expiry)
}

// NewMessage builds an AMQP message. Empty string properties are left unset.
func NewMessage(args SendArguments) *amqp.Message {
	message := amqp.NewMessage(args.Message)
	message.Header = &amqp.MessageHeader{
		Durable:  args.Durable,
		Priority: args.Priority,
	}
	if args.TTL > 0 {
		message.Header.TTL = time.Duration(args.TTL) * time.Millisecond
		log.Verbose("setting TTL to %d ms", args.TTL)
	}

	message.Properties = &amqp.MessageProperties{
		ContentType: optional(args.ContentType),
		ReplyTo:     optional(args.ReplyTo),
		Subject:     optional(args.Subject),
		To:          optional(args.To),
	}
	if args.MessageID != "" {
		message.Properties.MessageID = args.MessageID
	}
	if args.CorrelationID != "" {
		message.Properties.CorrelationID = args.CorrelationID
	}

	if len(args.Properties) > 0 {
		message.ApplicationProperties = args.Properties
	}
	return message
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ConvertAMQPToBackendMessage converts an AMQP 1.0 message to the common backend Message type
func ConvertAMQPToBackendMessage(msg *amqp.Message) *backends.Message {
	result := &backends.Message{
		Data:             msg.GetData(),
		Properties:       msg.ApplicationProperties,
		InternalMetadata: make(map[string]any),
	}

	if msg.Properties != nil {
		if msg.Properties.MessageID != nil {
			result.MessageID = fmt.Sprintf("%v", msg.Properties.MessageID)
		}
		if msg.Properties.CorrelationID != nil {
			result.CorrelationID = fmt.Sprintf("%v", msg.Properties.CorrelationID)
		}
		if msg.Properties.ReplyTo != nil {
			result.ReplyTo = *msg.Properties.ReplyTo
		}
		if msg.Properties.ContentType != nil {
			result.ContentType = *msg.Properties.ContentType
		}
		if msg.Properties.To != nil {
			result.Destination = *msg.Properties.To
		}

		if log.IsVerbose {
			result.InternalMetadata["Header"] = fmt.Sprintf("%+v", msg.Header)
			result.InternalMetadata["MessageProperties"] = fmt.Sprintf("%+v", msg.Properties)
		}
	}

	if msg.Header != nil {
		result.Priority = int(msg.Header.Priority)
		result.Persistent = msg.Header.Durable
	}

	return result
}
