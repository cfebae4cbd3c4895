package cmd

import (
	"context"
	"sync"

	"github.com/makibytes/aem/broker/backends"
)

type mockQueueBackend struct {
	lastSendOpts    backends.SendOptions
	sent            [][]byte
	lastReceiveOpts backends.ReceiveOptions
	sendErr         error
	receiveMsgs     []*backends.Message
	receiveErr      error
	receiveCount    int
	closed          bool
}

func (m *mockQueueBackend) Send(_ context.Context, opts backends.SendOptions) error {
	m.lastSendOpts = opts
	m.sent = append(m.sent, opts.Message)
	return m.sendErr
}

func (m *mockQueueBackend) Receive(_ context.Context, opts backends.ReceiveOptions) (*backends.Message, error) {
	m.lastReceiveOpts = opts
	m.receiveCount++
	if idx := m.receiveCount - 1; idx < len(m.receiveMsgs) {
		return m.receiveMsgs[idx], nil
	}
	return nil, m.receiveErr
}

func (m *mockQueueBackend) Close() error {
	m.closed = true
	return nil
}

type mockTopicBackend struct {
	lastPublishOpts   backends.PublishOptions
	published         [][]byte
	publishErr        error
	lastSubscribeOpts backends.SubscribeOptions
	subscribeMsgs     []*backends.Message
	subscribeErr      error
	subscribeCount    int
	closed            bool
}

func (m *mockTopicBackend) Publish(_ context.Context, opts backends.PublishOptions) error {
	m.lastPublishOpts = opts
	m.published = append(m.published, opts.Message)
	return m.publishErr
}

func (m *mockTopicBackend) Subscribe(_ context.Context, opts backends.SubscribeOptions) (*backends.Message, error) {
	m.lastSubscribeOpts = opts
	m.subscribeCount++
	if idx := m.subscribeCount - 1; idx < len(m.subscribeMsgs) {
		return m.subscribeMsgs[idx], nil
	}
	return nil, m.subscribeErr
}

func (m *mockTopicBackend) Close() error {
	m.closed = true
	return nil
}

type delivery struct {
	topic string
	msg   *backends.Message
}

type mockMessagingBackend struct {
	mu              sync.Mutex
	createdQueues   map[string]map[string]any
	subscriptions   []string
	removed         []string
	listenedQueue   string
	deliveries      []delivery
	listenerResults []error
	stopped         bool
}

func (m *mockMessagingBackend) CreateQueue(_ context.Context, name string, properties map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createdQueues == nil {
		m.createdQueues = map[string]map[string]any{}
	}
	m.createdQueues[name] = properties
	return nil
}

func (m *mockMessagingBackend) RemoveQueue(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, name)
	return nil
}

func (m *mockMessagingBackend) CreateQueueSubscription(_ context.Context, queue, topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, queue+"<-"+topic)
	return nil
}

// RegisterQueueListener delivers the configured messages asynchronously.
func (m *mockMessagingBackend) RegisterQueueListener(ctx context.Context, queue string, listener backends.QueueListener) error {
	m.mu.Lock()
	m.listenedQueue = queue
	deliveries := m.deliveries
	m.mu.Unlock()

	go func() {
		for _, d := range deliveries {
			err := listener(ctx, d.topic, d.msg)
			m.mu.Lock()
			m.listenerResults = append(m.listenerResults, err)
			m.mu.Unlock()
		}
	}()
	return nil
}

func (m *mockMessagingBackend) EmitTopicMessage(_ context.Context, _ backends.PublishOptions) error {
	return nil
}

func (m *mockMessagingBackend) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}
