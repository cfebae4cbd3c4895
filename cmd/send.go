package cmd

import (
	"github.com/makibytes/aem/broker/backends"
	"github.com/makibytes/aem/log"
	"github.com/spf13/cobra"
)

// NewSendCommand creates a send command that delivers straight to a queue
func NewSendCommand(backend backends.QueueBackend) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <queue> [message]",
		Short: "Send a message to a queue",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doSend(cmd, args, backend)
		},
	}
	addMessageFlags(cmd, "Reply to queue for request/response")
	return cmd
}

func doSend(cmd *cobra.Command, args []string, backend backends.QueueBackend) error {
	opts, err := parseMessageFlags(cmd)
	if err != nil {
		return err
	}
	messages, err := payloads(cmd, args, opts)
	if err != nil {
		return err
	}

	for i, data := range messages {
		err := backend.Send(cmd.Context(), backends.SendOptions{
			Queue:         args[0],
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
		log.Verbose("sent message %d/%d", i+1, len(messages))
	}
	return nil
}
