package client

import (
	"context"
	"maps"
	"net/url"
	"strings"

	"github.com/makibytes/aem/broker/aem/binding"
	"github.com/makibytes/aem/log"
)

const (
	TopicPrefix = "topic://"
	QueuePrefix = "queue://"

	// DeadMessageQueueAttribute names the queue property referencing the
	// dead message queue.
	DeadMessageQueueAttribute = "deadMsgQueue"
)

// QueueDescriptor is the SEMP representation of a queue.
type QueueDescriptor struct {
	Name       string
	Attributes map[string]any
}

type Subscription struct {
	MsgVpnName        string `json:"msgVpnName"`
	QueueName         string `json:"queueName"`
	SubscriptionTopic string `json:"subscriptionTopic"`
}

// SubscriptionList is the SEMP response listing the subscriptions of a queue.
type SubscriptionList struct {
	Data []Subscription `json:"data"`
}

type queueResponse struct {
	Data map[string]any `json:"data"`
}

// ManagementClient manages queues and subscriptions of one message VPN
// through the SEMP v2 config API.
type ManagementClient struct {
	rest *RestClient
	vpn  string
}

// NewManagementClient returns a client for the management endpoint of
// view. doer is expected to authenticate the requests.
func NewManagementClient(view binding.EndpointView, doer Doer) (*ManagementClient, error) {
	uri, ok := view.URI()
	if !ok {
		return nil, NewServiceError("Management endpoint not available in binding")
	}
	vpn, ok := view.VPN()
	if !ok {
		return nil, NewServiceError("VPN name is missing in the service binding")
	}
	return &ManagementClient{rest: NewRestClient("management", uri, doer), vpn: vpn}, nil
}

// Endpoint returns the management base URI.
func (c *ManagementClient) Endpoint() string {
	return c.rest.baseURL
}

func (c *ManagementClient) VPN() string {
	return c.vpn
}

func (c *ManagementClient) queuesPath() string {
	return binding.ManagementPath + "/msgVpns/" + url.PathEscape(c.vpn) + "/queues"
}

func (c *ManagementClient) queuePath(queue string) string {
	return c.queuesPath() + "/" + url.PathEscape(queue)
}

func (c *ManagementClient) subscriptionsPath(queue string) string {
	return c.queuePath(queue) + "/subscriptions"
}

// GetQueue looks a queue up. Any failure, including a missing queue, is
// reported as absent.
func (c *ManagementClient) GetQueue(ctx context.Context, name string) (*QueueDescriptor, bool) {
	var resp queueResponse
	if err := c.rest.Get(ctx, c.queuePath(name), &resp); err != nil {
		log.Debug("queue '%s' not found: %v", name, err)
		return nil, false
	}
	return &QueueDescriptor{Name: name, Attributes: resp.Data}, true
}

// CreateQueue creates the queue unless it exists. The queue is always
// created consumable with ingress and egress enabled.
func (c *ManagementClient) CreateQueue(ctx context.Context, name string, properties map[string]any) error {
	if _, ok := c.GetQueue(ctx, name); ok {
		log.Debug("queue '%s' already exists", name)
		return nil
	}

	body := make(map[string]any, len(properties)+4)
	maps.Copy(body, properties)
	body["queueName"] = name
	body["permission"] = "consume"
	body["ingressEnabled"] = true
	body["egressEnabled"] = true

	log.Info("creating queue '%s'", name)
	if err := c.rest.Post(ctx, c.queuesPath(), body, nil); err != nil {
		return WrapServiceError(err, "could not create queue '%s'", name)
	}
	return nil
}

func (c *ManagementClient) RemoveQueue(ctx context.Context, name string) error {
	log.Info("removing queue '%s'", name)
	if err := c.rest.Delete(ctx, c.queuePath(name), nil); err != nil {
		return WrapServiceError(err, "could not remove queue '%s'", name)
	}
	return nil
}

func (c *ManagementClient) GetQueueSubscription(ctx context.Context, queue string) (*SubscriptionList, error) {
	var list SubscriptionList
	if err := c.rest.Get(ctx, c.subscriptionsPath(queue), &list); err != nil {
		return nil, WrapServiceError(err, "could not list subscriptions of queue '%s'", queue)
	}
	return &list, nil
}

// CreateQueueSubscription subscribes queue to topic unless the exact topic
// is already subscribed.
func (c *ManagementClient) CreateQueueSubscription(ctx context.Context, queue, topic string) error {
	list, err := c.GetQueueSubscription(ctx, queue)
	if err != nil {
		return err
	}
	if IsTopicSubscribed(list, c.vpn, queue, topic) {
		log.Debug("queue '%s' already subscribed to '%s'", queue, topic)
		return nil
	}

	raw := strings.TrimPrefix(topic, TopicPrefix)
	body := map[string]any{
		"msgVpnName":        c.vpn,
		"queueName":         queue,
		"subscriptionTopic": raw,
	}
	log.Info("subscribing queue '%s' to topic '%s'", queue, raw)
	if err := c.rest.Post(ctx, c.subscriptionsPath(queue), body, nil); err != nil {
		return WrapServiceError(err, "could not subscribe queue '%s' to topic '%s'", queue, raw)
	}
	return nil
}

// IsTopicSubscribed reports whether list holds a subscription of queue in
// vpn to topic. A topic:// prefix on topic is ignored.
func IsTopicSubscribed(list *SubscriptionList, vpn, queue, topic string) bool {
	if list == nil {
		return false
	}
	raw := strings.TrimPrefix(topic, TopicPrefix)
	for _, s := range list.Data {
		if s.MsgVpnName == vpn && s.QueueName == queue && s.SubscriptionTopic == raw {
			return true
		}
	}
	return false
}
