package aem

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/makibytes/aem/broker/aem/client"
	"github.com/makibytes/aem/broker/amqpcommon"
	"github.com/makibytes/aem/broker/backends"
)

// QueueAdapter adapts a running MessagingService to the QueueBackend interface
type QueueAdapter struct {
	service *MessagingService
}

func NewQueueAdapter(service *MessagingService) *QueueAdapter {
	return &QueueAdapter{service: service}
}

// Send implements backends.QueueBackend
func (a *QueueAdapter) Send(ctx context.Context, opts backends.SendOptions) error {
	conn, err := a.service.Connection()
	if err != nil {
		return err
	}

	address := queueAddress(opts.Queue)
	messageID := opts.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	msg := amqpcommon.NewMessage(amqpcommon.SendArguments{
		Message:       opts.Message,
		Properties:    opts.Properties,
		MessageID:     messageID,
		CorrelationID: opts.CorrelationID,
		ReplyTo:       opts.ReplyTo,
		ContentType:   opts.ContentType,
		To:            address,
		Priority:      uint8(opts.Priority),
		Durable:       opts.Persistent,
		TTL:           opts.TTL,
	})
	return conn.Publish(ctx, address, msg)
}

// Receive implements backends.QueueBackend
func (a *QueueAdapter) Receive(ctx context.Context, opts backends.ReceiveOptions) (*backends.Message, error) {
	return receive(ctx, a.service, amqpcommon.ReceiveOptions{
		Address:     queueAddress(opts.Queue),
		Timeout:     opts.Timeout,
		Wait:        opts.Wait,
		Acknowledge: opts.Acknowledge,
		Selector:    opts.Selector,
		LinkName:    "aem-receiver",
	}, opts.WithApplicationProperties)
}

// Close implements backends.QueueBackend
func (a *QueueAdapter) Close() error {
	a.service.Stop()
	return nil
}

func receive(ctx context.Context, service *MessagingService, opts amqpcommon.ReceiveOptions, withProperties bool) (*backends.Message, error) {
	conn, err := service.Connection()
	if err != nil {
		return nil, err
	}
	message, err := conn.Receive(ctx, opts)
	if err != nil {
		return nil, err
	}
	if message == nil {
		return nil, errors.New("no message available")
	}

	result := amqpcommon.ConvertAMQPToBackendMessage(message)
	if !withProperties {
		result.Properties = nil
	}
	return result, nil
}

func queueAddress(queue string) string {
	return client.QueuePrefix + strings.TrimPrefix(queue, client.QueuePrefix)
}

func topicAddress(topic string) string {
	return client.TopicPrefix + strings.TrimPrefix(topic, client.TopicPrefix)
}
