package aem

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/Azure/go-amqp"
	"github.com/google/uuid"

	"github.com/makibytes/aem/broker/aem/binding"
	"github.com/makibytes/aem/broker/aem/client"
	"github.com/makibytes/aem/broker/amqpcommon"
	"github.com/makibytes/aem/broker/backends"
	"github.com/makibytes/aem/log"
	"github.com/makibytes/aem/metrics"
)

const (
	PropertySkipManagement    = "skipManagement"
	PropertySkipManagementAlt = "skip-management"
	PropertySubaccountID      = "subaccountId"
)

// State is the lifecycle state of a MessagingService.
type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateRunning
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// QueueConfig describes the queue a service consumes from.
type QueueConfig struct {
	Name          string         `yaml:"name"`
	Config        map[string]any `yaml:"config"`
	Subscriptions []string       `yaml:"subscriptions"`
}

// ServiceConfig is everything needed to build a MessagingService.
type ServiceConfig struct {
	Name              string
	Binding           binding.Binding
	ValidationBinding binding.Binding
	Properties        map[string]string
	Queue             *QueueConfig

	// Listener receives the messages of Queue once the service is running.
	Listener backends.QueueListener
}

// MessagingService connects one messaging binding to the broker. Init
// connects in the background, then provisions the configured queue and
// starts its listener.
type MessagingService struct {
	name           string
	skipManagement bool
	subaccountID   string
	managementURI  string
	queue          *QueueConfig
	listener       backends.QueueListener

	connect    func(ctx context.Context) (Connection, error)
	management *client.ManagementClient
	validation *client.ValidationClient

	mu     sync.Mutex
	state  State
	conn   Connection
	err    error
	ready  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	validateMu sync.Mutex
	validated  bool
}

var _ backends.MessagingBackend = (*MessagingService)(nil)

// NewMessagingService wires a service from cfg. provider may be shared by
// services of the same binding; nil creates one. httpClient is the base
// for token, management and validation requests.
func NewMessagingService(ctx context.Context, cfg ServiceConfig, provider *ConnectionProvider, httpClient *http.Client) (*MessagingService, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if provider == nil {
		provider = NewConnectionProvider(cfg.Binding, httpClient)
	}

	s := newService(cfg)
	s.connect = func(ctx context.Context) (Connection, error) {
		conn, err := provider.CreateBrokerConnection(cfg.Name, cfg.Properties)
		if err != nil {
			return nil, err
		}
		if err := conn.Connect(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		return conn, nil
	}

	endpoints := binding.NewEndpointView(cfg.Binding)
	s.managementURI, _ = endpoints.URI()
	if !s.skipManagement {
		destination := client.NewDestination(ctx, binding.NewAuthorizationView(cfg.Binding), httpClient)
		management, err := client.NewManagementClient(endpoints, destination)
		if err != nil {
			return nil, err
		}
		s.management = management
	}

	validationView := binding.NewValidationView(cfg.ValidationBinding)
	validation, err := client.NewValidationClient(validationView,
		client.NewDestination(ctx, validationView.AuthorizationView, httpClient))
	if err != nil {
		return nil, err
	}
	s.validation = validation

	return s, nil
}

func newService(cfg ServiceConfig) *MessagingService {
	return &MessagingService{
		name:           cfg.Name,
		skipManagement: skipManagement(cfg.Properties),
		subaccountID:   cfg.Properties[PropertySubaccountID],
		queue:          cfg.Queue,
		listener:       cfg.Listener,
		ready:          make(chan struct{}),
	}
}

// skipManagement accepts either spelling; unparsable values count as false.
func skipManagement(properties map[string]string) bool {
	for _, key := range []string{PropertySkipManagement, PropertySkipManagementAlt} {
		raw, ok := properties[key]
		if !ok {
			continue
		}
		skip, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			log.Warn("ignoring invalid %s value '%s'", key, raw)
			continue
		}
		if skip {
			return true
		}
	}
	return false
}

func (s *MessagingService) Name() string {
	return s.name
}

func (s *MessagingService) SkipManagement() bool {
	return s.skipManagement
}

func (s *MessagingService) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the reason the service failed, or nil.
func (s *MessagingService) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Init starts connecting and returns immediately. Use WaitReady to observe
// the outcome: a failed connection moves the service to StateFailed for good.
func (s *MessagingService) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUninitialized {
		return client.NewServiceError("messaging service '%s' cannot be initialized in state %s", s.name, s.state)
	}
	s.state = StateConnecting
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	log.Debug("creating the broker connection of '%s' asynchronously", s.name)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.initialize(s.ctx)
	}()
	return nil
}

func (s *MessagingService) initialize(ctx context.Context) {
	conn, err := s.connect(ctx)
	if err != nil {
		s.fail(err)
		return
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()

	if err := s.provision(ctx); err != nil {
		s.fail(err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateConnecting {
		s.state = StateRunning
		close(s.ready)
		log.Info("messaging service '%s' is running", s.name)
	}
}

// provision creates the configured queue and its subscriptions and
// registers the listener.
func (s *MessagingService) provision(ctx context.Context) error {
	if s.queue == nil || s.queue.Name == "" {
		return nil
	}
	if err := s.CreateQueue(ctx, s.queue.Name, s.queue.Config); err != nil {
		return err
	}
	for _, topic := range s.queue.Subscriptions {
		if err := s.CreateQueueSubscription(ctx, s.queue.Name, topic); err != nil {
			return err
		}
	}
	if s.listener == nil {
		log.Debug("no listener for queue '%s' of service '%s'", s.queue.Name, s.name)
		return nil
	}
	return s.RegisterQueueListener(ctx, s.queue.Name, s.listener)
}

func (s *MessagingService) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting {
		return
	}
	log.Error("messaging service '%s' failed: %v", s.name, err)
	s.state = StateFailed
	s.err = err
	if s.conn != nil {
		if cerr := s.conn.Close(); cerr != nil {
			log.Debug("an error occurred while closing the broker connection: %v", cerr)
		}
		s.conn = nil
	}
	close(s.ready)
}

// WaitReady blocks until the service is running or has failed.
func (s *MessagingService) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the broker connection and waits for listeners to end. Close
// errors are logged only.
func (s *MessagingService) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = StateStopped
	if prev == StateUninitialized || prev == StateConnecting {
		close(s.ready)
	}
	if s.cancel != nil {
		s.cancel()
	}
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	log.Debug("stopping the broker connection of '%s'...", s.name)
	if conn == nil {
		log.Debug("no broker connection available")
	} else if err := conn.Close(); err != nil {
		log.Debug("an error occurred while stopping the broker connection: %v", err)
	}
	s.wg.Wait()
}

// connection returns the broker connection once connected. Provisioning
// may use it before the service reports running.
func (s *MessagingService) connection() (Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn, nil
	}
	if s.state == StateFailed {
		return nil, client.WrapServiceError(s.err, "messaging service '%s' failed", s.name)
	}
	return nil, client.NewServiceError("messaging service '%s' is not connected (state %s)", s.name, s.state)
}

// CreateQueue ensures the dead message queue, then the queue itself.
func (s *MessagingService) CreateQueue(ctx context.Context, name string, properties map[string]any) error {
	if s.skipManagement {
		log.Debug("skipping creation of queue '%s', skipManagement = true", name)
		return nil
	}

	if dmq, ok := properties[client.DeadMessageQueueAttribute].(string); ok && dmq != "" {
		if err := s.management.CreateQueue(ctx, dmq, map[string]any{}); err != nil {
			return err
		}
	}
	return s.management.CreateQueue(ctx, name, properties)
}

func (s *MessagingService) RemoveQueue(ctx context.Context, name string) error {
	if s.skipManagement {
		log.Debug("skipping deletion of queue '%s', skipManagement = true", name)
		return nil
	}
	return s.management.RemoveQueue(ctx, name)
}

func (s *MessagingService) CreateQueueSubscription(ctx context.Context, queue, topic string) error {
	if s.skipManagement {
		log.Debug("skipping creation of queue subscription for queue '%s' and topic '%s', skipManagement = true", queue, topic)
		return nil
	}
	return s.management.CreateQueueSubscription(ctx, queue, topic)
}

// RegisterQueueListener consumes queue in the background until Stop.
func (s *MessagingService) RegisterQueueListener(ctx context.Context, queue string, listener backends.QueueListener) error {
	conn, err := s.connection()
	if err != nil {
		return err
	}

	s.mu.Lock()
	listenCtx := s.ctx
	s.mu.Unlock()
	if listenCtx == nil {
		listenCtx = ctx
	}

	address := queueAddress(queue)
	handle := func(ctx context.Context, msg *amqp.Message) error {
		m := amqpcommon.ConvertAMQPToBackendMessage(msg)
		topic := strings.TrimPrefix(m.Destination, client.TopicPrefix)
		if err := listener(ctx, topic, m); err != nil {
			metrics.MessagesReceived.WithLabelValues(s.name, "rejected").Inc()
			return err
		}
		metrics.MessagesReceived.WithLabelValues(s.name, "accepted").Inc()
		return nil
	}

	log.Info("registering listener on queue '%s'", queue)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := conn.Listen(listenCtx, address, handle); err != nil {
			log.Error("listener on queue '%s' stopped: %v", queue, err)
		}
	}()
	return nil
}

// EmitTopicMessage validates the broker endpoint once, then publishes to
// topic://<topic>.
func (s *MessagingService) EmitTopicMessage(ctx context.Context, opts backends.PublishOptions) error {
	conn, err := s.connection()
	if err != nil {
		return err
	}
	if err := s.validate(ctx); err != nil {
		return err
	}

	address := topicAddress(opts.Topic)
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

	if err := conn.Publish(ctx, address, msg); err != nil {
		return err
	}
	metrics.MessagesPublished.WithLabelValues(s.name).Inc()
	return nil
}

// validate runs the validation service check until it succeeds once.
func (s *MessagingService) validate(ctx context.Context) error {
	s.validateMu.Lock()
	defer s.validateMu.Unlock()
	if s.validated {
		return nil
	}
	if err := s.validation.Validate(ctx, s.managementURI, s.subaccountID); err != nil {
		return client.WrapServiceError(err, "Failed to validate the AEM endpoint.")
	}
	s.validated = true
	return nil
}

// Connection exposes the broker connection for direct sends and receives.
func (s *MessagingService) Connection() (Connection, error) {
	return s.connection()
}

// Validated reports whether the endpoint validation succeeded.
func (s *MessagingService) Validated() bool {
	s.validateMu.Lock()
	defer s.validateMu.Unlock()
	return s.validated
}

func (s *MessagingService) String() string {
	return fmt.Sprintf("%s (%s)", s.name, s.State())
}
