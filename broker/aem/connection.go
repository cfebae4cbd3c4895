package aem

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/Azure/go-amqp"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/makibytes/aem/broker/aem/binding"
	"github.com/makibytes/aem/broker/aem/client"
	"github.com/makibytes/aem/broker/amqpcommon"
	"github.com/makibytes/aem/log"
)

const (
	saslMechanismsParam = "amqp.saslMechanisms"
	saslXOAUTH2         = "XOAUTH2"

	// PropertyTokenRefreshWindow overrides DefaultTokenWindow, e.g. "10m".
	PropertyTokenRefreshWindow = "tokenRefreshWindow"
)

// MessageHandler processes a message received by a listener. A returned
// error rejects the message, otherwise it is accepted.
type MessageHandler func(ctx context.Context, msg *amqp.Message) error

// Connection is the broker handle used by MessagingService.
type Connection interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, address string, msg *amqp.Message) error
	Receive(ctx context.Context, opts amqpcommon.ReceiveOptions) (*amqp.Message, error)
	Listen(ctx context.Context, address string, handle MessageHandler) error
	Close() error
}

// ConnectionProvider creates broker connections for one messaging binding.
// Connections created by the same provider share one token cache.
type ConnectionProvider struct {
	binding binding.Binding
	http    client.Doer
	clock   clockwork.Clock
	dial    amqpcommon.DialFunc

	mu     sync.Mutex
	tokens *TokenCache
}

// NewConnectionProvider returns a provider for b. doer sends the token
// requests and must not add authentication of its own.
func NewConnectionProvider(b binding.Binding, doer client.Doer) *ConnectionProvider {
	return &ConnectionProvider{binding: b, http: doer, clock: clockwork.NewRealClock()}
}

// CreateBrokerConnection builds the named connection descriptor. Nothing is
// dialed until Connect or the first use.
func (p *ConnectionProvider) CreateBrokerConnection(name string, properties map[string]string) (*BrokerConnection, error) {
	endpoints := binding.NewEndpointView(p.binding)

	amqpURI, ok := endpoints.AMQPURI()
	if !ok {
		return nil, client.NewServiceError("AMQP URI key is missing in the service binding. Please check the service binding configuration.")
	}
	uri, err := withXOAUTH2(amqpURI)
	if err != nil {
		return nil, err
	}

	vpn, ok := endpoints.VPN()
	if !ok {
		return nil, client.NewServiceError("VPN name is missing in the service binding. Please check the service binding configuration.")
	}

	tokens, err := p.tokenCache(properties)
	if err != nil {
		return nil, err
	}

	log.Debug("created broker connection '%s' for %s", name, uri)
	return &BrokerConnection{
		name: name,
		args: amqpcommon.ConnArguments{
			Server:      uri,
			ContainerID: "aem-" + uuid.NewString(),
			User:        vpn,
			Token:       tokens.Token,
		},
		dial:    p.dial,
		tokens:  tokens,
		senders: map[string]*amqp.Sender{},
	}, nil
}

func (p *ConnectionProvider) tokenCache(properties map[string]string) (*TokenCache, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tokens != nil {
		return p.tokens, nil
	}

	window := DefaultTokenWindow
	if raw := properties[PropertyTokenRefreshWindow]; raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return nil, client.NewServiceError("invalid %s '%s'", PropertyTokenRefreshWindow, raw)
		}
		window = d
	}

	fetcher := client.NewTokenFetchClient(binding.NewAuthorizationView(p.binding), p.http)
	p.tokens = NewTokenCache(fetcher, window, p.clock)
	return p.tokens, nil
}

// withXOAUTH2 forces the SASL mechanism query parameter onto uri.
func withXOAUTH2(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", client.WrapServiceError(err, "invalid AMQP URI in the service binding")
	}
	if u.Path == "" {
		u.Path = "/"
	}
	query := u.Query()
	query.Set(saslMechanismsParam, saslXOAUTH2)
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// BrokerConnection is a named AMQP connection authenticated with SASL
// XOAUTH2: the VPN name is the user and the cached token is the credential.
// It redials after failures and is closed exactly once.
type BrokerConnection struct {
	name   string
	args   amqpcommon.ConnArguments
	dial   amqpcommon.DialFunc
	tokens *TokenCache

	mu      sync.Mutex
	conn    *amqp.Conn
	session *amqp.Session
	senders map[string]*amqp.Sender
	closed  bool
}

var errConnectionClosed = errors.New("broker connection is closed")

func (c *BrokerConnection) Name() string {
	return c.name
}

// URI returns the AMQP URI including the SASL mechanism parameter.
func (c *BrokerConnection) URI() string {
	return c.args.Server
}

func (c *BrokerConnection) User() string {
	return c.args.User
}

// Connect dials the broker unless a session is open.
func (c *BrokerConnection) Connect(ctx context.Context) error {
	_, _, err := c.currentSession(ctx)
	return err
}

// currentSession also returns the connection the session belongs to, which
// is what a later reset for a failure on that session must name.
func (c *BrokerConnection) currentSession(ctx context.Context) (*amqp.Session, *amqp.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	session, err := c.sessionLocked(ctx)
	if err != nil {
		return nil, nil, err
	}
	return session, c.conn, nil
}

func (c *BrokerConnection) sessionLocked(ctx context.Context) (*amqp.Session, error) {
	if c.closed {
		return nil, errConnectionClosed
	}
	if c.session != nil {
		return c.session, nil
	}

	conn, session, err := amqpcommon.Connect(ctx, c.args, c.dial)
	if err != nil {
		return nil, client.WrapServiceError(err, "could not connect broker connection '%s'", c.name)
	}
	log.Info("broker connection '%s' established", c.name)
	c.conn = conn
	c.session = session
	return session, nil
}

// reset drops conn so the next use redials. It does nothing when conn has
// already been replaced, so a failure seen on an old link never closes a
// newer connection. The token is invalidated when the failure may stem from
// an expired credential.
func (c *BrokerConnection) reset(conn *amqp.Conn, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked(conn, cause)
}

func (c *BrokerConnection) resetLocked(conn *amqp.Conn, cause error) {
	if c.conn == nil || c.conn != conn {
		return
	}
	log.Warn("resetting broker connection '%s': %v", c.name, cause)
	var connErr *amqp.ConnError
	if errors.As(cause, &connErr) {
		c.tokens.Invalidate()
	}
	c.conn.Close()
	c.conn = nil
	c.session = nil
	clear(c.senders)
}

// Publish sends msg to address, e.g. topic://orders/created.
func (c *BrokerConnection) Publish(ctx context.Context, address string, msg *amqp.Message) error {
	c.mu.Lock()
	sender, err := c.senderLocked(ctx, address)
	conn := c.conn
	c.mu.Unlock()
	if err != nil {
		return err
	}

	log.Verbose("sending message to %s...", address)
	if err := sender.Send(ctx, msg, nil); err != nil {
		c.reset(conn, err)
		return client.WrapServiceError(err, "could not publish to '%s'", address)
	}
	return nil
}

func (c *BrokerConnection) senderLocked(ctx context.Context, address string) (*amqp.Sender, error) {
	if sender, ok := c.senders[address]; ok {
		return sender, nil
	}
	session, err := c.sessionLocked(ctx)
	if err != nil {
		return nil, err
	}

	sender, err := session.NewSender(ctx, address, &amqp.SenderOptions{
		Durability:       amqp.DurabilityUnsettledState,
		TargetDurability: amqp.DurabilityUnsettledState,
	})
	if err != nil {
		c.resetLocked(c.conn, err)
		return nil, client.WrapServiceError(err, "could not attach sender to '%s'", address)
	}
	c.senders[address] = sender
	return sender, nil
}

// Receive reads a single message, accepting it or releasing it back.
func (c *BrokerConnection) Receive(ctx context.Context, opts amqpcommon.ReceiveOptions) (*amqp.Message, error) {
	session, conn, err := c.currentSession(ctx)
	if err != nil {
		return nil, err
	}
	msg, err := amqpcommon.ReceiveMessage(ctx, session, opts)
	if err != nil && ctx.Err() == nil && !errors.Is(err, context.DeadlineExceeded) {
		c.reset(conn, err)
	}
	return msg, err
}

// Listen consumes address until ctx is done. Link and connection failures
// redial with exponential backoff; each redial presents a current token.
func (c *BrokerConnection) Listen(ctx context.Context, address string, handle MessageHandler) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0
	policy.MaxInterval = time.Minute

	linkName := "aem-listener-" + uuid.NewString()
	operation := func() error {
		conn, err := c.consume(ctx, address, linkName, handle, policy)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, errConnectionClosed) {
			return backoff.Permanent(err)
		}
		c.reset(conn, err)
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("listener on '%s' failed, retrying in %s: %v", address, wait, err)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// consume returns the connection its receiver was attached on together with
// the error that ended it.
func (c *BrokerConnection) consume(ctx context.Context, address, linkName string, handle MessageHandler, policy backoff.BackOff) (*amqp.Conn, error) {
	session, conn, err := c.currentSession(ctx)
	if err != nil {
		return nil, err
	}

	receiver, err := session.NewReceiver(ctx, address, amqpcommon.ReceiverOptions(linkName, ""))
	if err != nil {
		return conn, err
	}
	defer receiver.Close(context.WithoutCancel(ctx))
	log.Debug("listening on '%s'", address)

	for {
		msg, err := receiver.Receive(ctx, nil)
		if err != nil {
			return conn, err
		}
		policy.Reset()

		if herr := handle(ctx, msg); herr != nil {
			log.Error("listener on '%s' rejected message: %v", address, herr)
			err = receiver.RejectMessage(ctx, msg, &amqp.Error{
				Condition:   amqp.ErrCondInternalError,
				Description: herr.Error(),
			})
		} else {
			err = receiver.AcceptMessage(ctx, msg)
		}
		if err != nil {
			return conn, err
		}
	}
}

// Close closes the AMQP connection. Later calls are no-ops.
func (c *BrokerConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	clear(c.senders)
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.session = nil
	return err
}
