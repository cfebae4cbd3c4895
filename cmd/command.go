package cmd

import (
	"context"

	"github.com/makibytes/aem/broker/backends"
	"github.com/spf13/cobra"
)

// QueueAdapterFactory creates a QueueBackend when a command runs, so flag
// parsing and help never connect to the broker.
type QueueAdapterFactory func(ctx context.Context) (backends.QueueBackend, error)

// TopicAdapterFactory creates a TopicBackend when a command runs.
type TopicAdapterFactory func(ctx context.Context) (backends.TopicBackend, error)

// MessagingFactory creates a MessagingBackend when a command runs.
type MessagingFactory func(ctx context.Context) (backends.MessagingBackend, error)

// WrapQueueCommand creates a command using a nil backend for flag definitions,
// then overrides RunE to lazily create the real adapter at execution time.
func WrapQueueCommand(newCmd func(backends.QueueBackend) *cobra.Command, factory QueueAdapterFactory) *cobra.Command {
	cmd := newCmd(nil)
	cmd.RunE = func(c *cobra.Command, args []string) error {
		adapter, err := factory(c.Context())
		if err != nil {
			return err
		}
		defer adapter.Close()
		return newCmd(adapter).RunE(c, args)
	}
	return cmd
}

// WrapTopicCommand is WrapQueueCommand for topic commands.
func WrapTopicCommand(newCmd func(backends.TopicBackend) *cobra.Command, factory TopicAdapterFactory) *cobra.Command {
	cmd := newCmd(nil)
	cmd.RunE = func(c *cobra.Command, args []string) error {
		adapter, err := factory(c.Context())
		if err != nil {
			return err
		}
		defer adapter.Close()
		return newCmd(adapter).RunE(c, args)
	}
	return cmd
}

// WrapMessagingCommand is WrapQueueCommand for commands driving a
// MessagingBackend. The backend is stopped when the command returns.
func WrapMessagingCommand(newCmd func(backends.MessagingBackend) *cobra.Command, factory MessagingFactory) *cobra.Command {
	cmd := newCmd(nil)
	cmd.RunE = func(c *cobra.Command, args []string) error {
		backend, err := factory(c.Context())
		if err != nil {
			return err
		}
		defer backend.Stop()
		return newCmd(backend).RunE(c, args)
	}
	return cmd
}
