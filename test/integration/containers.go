//go:build integration

// Package integration provides testcontainer helpers for AEM integration tests.
// Build with: -tags integration
package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	solaceImage    = "solace/solace-pubsub-standard:latest"
	solaceAdmin    = "admin"
	solacePassword = "admin"
	// SolaceVPN is the message VPN every fresh broker carries.
	SolaceVPN = "default"
)

// BrokerContainer holds a running test broker container.
type BrokerContainer struct {
	Container testcontainers.Container
	// URL is the plain AMQP endpoint.
	URL string
	// ManagementURL is the SEMP service root, without the config API path.
	ManagementURL string
	User          string
	Password      string
}

func (b *BrokerContainer) Terminate(ctx context.Context) {
	if b.Container != nil {
		b.Container.Terminate(ctx) //nolint:errcheck
	}
}

// StartSolace starts a Solace PubSub+ standard broker, the event broker
// behind Advanced Event Mesh, and returns its AMQP and SEMP endpoints.
func StartSolace(ctx context.Context) (*BrokerContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        solaceImage,
		ExposedPorts: []string{"5672/tcp", "8080/tcp"},
		Env: map[string]string{
			"username_admin_globalaccesslevel": "admin",
			"username_admin_password":          solacePassword,
		},
		HostConfigModifier: func(hc *container.HostConfig) {
			hc.ShmSize = 1 << 30
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("5672/tcp"),
			wait.ForHTTP("/SEMP/v2/config/msgVpns/"+SolaceVPN).
				WithPort("8080/tcp").
				WithBasicAuth(solaceAdmin, solacePassword),
		).WithDeadline(3 * time.Minute),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("starting Solace: %w", err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		c.Terminate(ctx) //nolint:errcheck
		return nil, err
	}
	amqpPort, err := c.MappedPort(ctx, "5672")
	if err != nil {
		c.Terminate(ctx) //nolint:errcheck
		return nil, err
	}
	sempPort, err := c.MappedPort(ctx, "8080")
	if err != nil {
		c.Terminate(ctx) //nolint:errcheck
		return nil, err
	}

	return &BrokerContainer{
		Container:     c,
		URL:           fmt.Sprintf("amqp://%s:%s", host, amqpPort.Port()),
		ManagementURL: fmt.Sprintf("http://%s:%s", host, sempPort.Port()),
		User:          solaceAdmin,
		Password:      solacePassword,
	}, nil
}
