package amqpcommon

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"github.com/Azure/go-amqp"
	"github.com/makibytes/aem/log"
)

// TokenSupplier returns the bearer token presented during the SASL XOAUTH2
// handshake. It is consulted on every dial.
type TokenSupplier func(ctx context.Context) (string, error)

// ConnArguments holds common AMQP connection parameters
type ConnArguments struct {
	Server      string
	ContainerID string
	User        string
	Password    string
	Token       TokenSupplier // selects XOAUTH2 with User as the user name
	TLS         TLSConfig
}

// TLSConfig holds TLS connection parameters
type TLSConfig struct {
	Enabled    bool
	CACert     string // Path to CA certificate file
	ClientCert string // Path to client certificate file
	ClientKey  string // Path to client key file
	Insecure   bool   // Skip certificate verification
}

// DialFunc matches amqp.Dial.
type DialFunc func(ctx context.Context, addr string, opts *amqp.ConnOptions) (*amqp.Conn, error)

// ConnOptions builds the dial options for args. The token supplier, if any,
// is called here so each dial presents a current token.
func ConnOptions(ctx context.Context, args ConnArguments) (*amqp.ConnOptions, error) {
	connOptions := &amqp.ConnOptions{ContainerID: args.ContainerID}

	switch {
	case args.Token != nil:
		token, err := args.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("could not obtain token for SASL XOAUTH2: %w", err)
		}
		connOptions.SASLType = amqp.SASLTypeXOAUTH2(args.User, token, 0)
	case args.User != "":
		connOptions.SASLType = amqp.SASLTypePlain(args.User, args.Password)
	default:
		connOptions.SASLType = amqp.SASLTypeAnonymous()
	}

	// Configure TLS if URL scheme is amqps:// or TLS is explicitly enabled
	if args.TLS.Enabled || strings.HasPrefix(args.Server, "amqps://") {
		tlsConfig, err := buildTLSConfig(args.TLS)
		if err != nil {
			return nil, fmt.Errorf("TLS configuration error: %w", err)
		}
		connOptions.TLSConfig = tlsConfig
		log.Verbose("TLS enabled")
	}

	return connOptions, nil
}

// Connect establishes an AMQP 1.0 connection and opens a session on it.
// A nil dial uses amqp.Dial.
func Connect(ctx context.Context, args ConnArguments, dial DialFunc) (*amqp.Conn, *amqp.Session, error) {
	if dial == nil {
		dial = amqp.Dial
	}

	connOptions, err := ConnOptions(ctx, args)
	if err != nil {
		return nil, nil, err
	}

	log.Verbose("connecting to %s...", args.Server)
	connection, err := dial(ctx, args.Server, connOptions)
	if err != nil {
		return nil, nil, err
	}

	session, err := connection.NewSession(ctx, nil)
	if err != nil {
		connection.Close()
		return nil, nil, err
	}

	return connection, session, nil
}

func buildTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.Insecure,
	}

	if cfg.CACert != "" {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
