package cmd

import (
	"github.com/makibytes/aem/broker/backends"
	"github.com/makibytes/aem/log"
	"github.com/spf13/cobra"
)

// NewPublishCommand creates a publish command for topics
func NewPublishCommand(backend backends.TopicBackend) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish <topic> [message]",
		Short: "Publish a message to a topic",
		Long:  "Publish a message to a topic. The broker endpoint is validated before the first message.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doPublish(cmd, args, backend)
		},
	}
	addMessageFlags(cmd, "Reply to address for request/response")
	return cmd
}

func doPublish(cmd *cobra.Command, args []string, backend backends.TopicBackend) error {
	opts, err := parseMessageFlags(cmd)
	if err != nil {
		return err
	}
	messages, err := payloads(cmd, args, opts)
	if err != nil {
		return err
	}

	for i, data := range messages {
		err := backend.Publish(cmd.Context(), backends.PublishOptions{
			Topic:         args[0],
			Message:       data,
			Properties:    opts.Properties,
			MessageID:     opts.MessageID,
			CorrelationID: opts.CorrelationID,
			ReplyTo:       opts.ReplyTo,
			ContentType:   opts.ContentType,
			Priority:      opts.Priority,
			Persistent:    opts.Persistent,
			TTL:           opts.TTL,
		})
		if err != nil {
			return err
		}
		log.Verbose("published message %d/%d", i+1, len(messages))
	}
	return nil
}
