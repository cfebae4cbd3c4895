package cmd

import (
	"context"

	"github.com/makibytes/aem/broker/backends"
	"github.com/makibytes/aem/log"
	"github.com/spf13/cobra"
)

// NewSubscribeCommand creates a command that receives from a non-durable
// topic subscription
func NewSubscribeCommand(backend backends.TopicBackend) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscribe <topic>",
		Short: "Subscribe to a topic and receive messages published while connected",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doSubscribe(cmd, args, backend)
		},
	}

	cmd.Flags().Float32P("timeout", "t", 0.1, "Seconds to wait")
	cmd.Flags().BoolP("quiet", "q", false, "Quiet about properties, show data only")
	cmd.Flags().BoolP("wait", "w", true, "Wait (endless) for a message to arrive")
	cmd.Flags().IntP("count", "n", 1, "Number of messages to receive")
	cmd.Flags().BoolP("json", "J", false, "Output messages as JSON")
	cmd.Flags().StringP("selector", "S", "", "Filter messages by selector expression (e.g. \"color='red'\")")

	return cmd
}

func doSubscribe(cmd *cobra.Command, args []string, backend backends.TopicBackend) error {
	timeout, _ := cmd.Flags().GetFloat32("timeout")
	wait, _ := cmd.Flags().GetBool("wait")
	count, _ := cmd.Flags().GetInt("count")
	selector, _ := cmd.Flags().GetString("selector")
	out := readOutputFlags(cmd)

	opts := backends.SubscribeOptions{
		Topic:                     args[0],
		Timeout:                   timeout,
		Wait:                      wait,
		WithHeaderAndProperties:   log.IsVerbose,
		WithApplicationProperties: !out.quiet || log.IsVerbose,
		Selector:                  selector,
	}

	return receiveLoop(cmd, count, out, func(ctx context.Context) (*backends.Message, error) {
		return backend.Subscribe(ctx, opts)
	})
}
