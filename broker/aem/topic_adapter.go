package aem

import (
	"context"

	"github.com/makibytes/aem/broker/amqpcommon"
	"github.com/makibytes/aem/broker/backends"
)

// TopicAdapter adapts a running MessagingService to the TopicBackend interface
type TopicAdapter struct {
	service *MessagingService
}

func NewTopicAdapter(service *MessagingService) *TopicAdapter {
	return &TopicAdapter{service: service}
}

// Publish implements backends.TopicBackend
func (a *TopicAdapter) Publish(ctx context.Context, opts backends.PublishOptions) error {
	return a.service.EmitTopicMessage(ctx, opts)
}

// Subscribe receives one message through a non-durable topic subscription.
func (a *TopicAdapter) Subscribe(ctx context.Context, opts backends.SubscribeOptions) (*backends.Message, error) {
	return receive(ctx, a.service, amqpcommon.ReceiveOptions{
		Address:     topicAddress(opts.Topic),
		Timeout:     opts.Timeout,
		Wait:        opts.Wait,
		Acknowledge: true,
		Selector:    opts.Selector,
		LinkName:    "aem-subscriber",
	}, opts.WithApplicationProperties)
}

// Close implements backends.TopicBackend
func (a *TopicAdapter) Close() error {
	a.service.Stop()
	return nil
}
