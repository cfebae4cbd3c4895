package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/makibytes/aem/broker/backends"
	"github.com/makibytes/aem/log"
	"github.com/spf13/cobra"
)

// NewReceiveCommand creates a receive command for queues
func NewReceiveCommand(backend backends.QueueBackend) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "receive <queue>",
		Aliases: []string{"get"},
		Short:   "Receive a message from a queue (destructive read unless --peek)",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peek, _ := cmd.Flags().GetBool("peek")
			return doReceive(cmd, args, backend, !peek)
		},
	}

	cmd.Flags().Float32P("timeout", "t", 0.1, "Seconds to wait")
	cmd.Flags().BoolP("quiet", "q", false, "Quiet about properties, show data only")
	cmd.Flags().BoolP("wait", "w", false, "Wait (endless) for a message to arrive")
	cmd.Flags().IntP("count", "n", 1, "Number of messages to receive")
	cmd.Flags().BoolP("json", "J", false, "Output messages as JSON")
	cmd.Flags().StringP("selector", "S", "", "Filter messages by selector expression (e.g. \"color='red'\")")
	cmd.Flags().Bool("peek", false, "Release the message back to the queue instead of consuming it")

	return cmd
}

type outputOptions struct {
	quiet bool
	json  bool
}

func readOutputFlags(cmd *cobra.Command) outputOptions {
	quiet, _ := cmd.Flags().GetBool("quiet")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	return outputOptions{quiet: quiet, json: jsonOutput}
}

func doReceive(cmd *cobra.Command, args []string, backend backends.QueueBackend, acknowledge bool) error {
	timeout, _ := cmd.Flags().GetFloat32("timeout")
	wait, _ := cmd.Flags().GetBool("wait")
	count, _ := cmd.Flags().GetInt("count")
	selector, _ := cmd.Flags().GetString("selector")
	out := readOutputFlags(cmd)

	opts := backends.ReceiveOptions{
		Queue:                     args[0],
		Timeout:                   timeout,
		Wait:                      wait,
		Acknowledge:               acknowledge,
		WithHeaderAndProperties:   log.IsVerbose,
		WithApplicationProperties: !out.quiet || log.IsVerbose,
		Selector:                  selector,
	}

	return receiveLoop(cmd, count, out, func(ctx context.Context) (*backends.Message, error) {
		return backend.Receive(ctx, opts)
	})
}

// receiveLoop prints up to count messages. A timeout ends the loop quietly.
func receiveLoop(cmd *cobra.Command, count int, out outputOptions, next func(context.Context) (*backends.Message, error)) error {
	for received := 0; received < count; received++ {
		message, err := next(cmd.Context())
		if errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		if err != nil {
			return err
		}
		if message == nil {
			if received == 0 {
				return fmt.Errorf("no message available")
			}
			return nil
		}
		if err := printMessage(cmd, message, out); err != nil {
			return err
		}
	}
	return nil
}

func printMessage(cmd *cobra.Command, message *backends.Message, out outputOptions) error {
	if out.json {
		return displayMessageJSON(cmd.OutOrStdout(), message)
	}
	displayMessage(cmd.OutOrStdout(), cmd.ErrOrStderr(), message, log.IsVerbose, !out.quiet)
	return nil
}

// displayMessage writes the data to stdout and metadata to stderr, so the
// payload can be piped.
func displayMessage(stdout, stderr io.Writer, message *backends.Message, withHeader, withProps bool) {
	if withHeader {
		for _, k := range slices.Sorted(maps.Keys(message.InternalMetadata)) {
			fmt.Fprintf(stderr, "%s: %v\n", k, message.InternalMetadata[k])
		}
		if message.Destination != "" {
			fmt.Fprintf(stderr, "Destination: %s\n", message.Destination)
		}
	}

	if withProps && len(message.Properties) > 0 {
		pairs := make([]string, 0, len(message.Properties))
		for _, k := range slices.Sorted(maps.Keys(message.Properties)) {
			pairs = append(pairs, fmt.Sprintf("%s=%v", k, message.Properties[k]))
		}
		fmt.Fprintf(stderr, "Properties: %s\n", strings.Join(pairs, ","))
	}

	fmt.Fprint(stdout, string(message.Data))
	if log.IsStdout {
		fmt.Fprintln(stdout)
	}
}

func displayMessageJSON(w io.Writer, message *backends.Message) error {
	output := map[string]any{
		"data": string(message.Data),
	}
	if message.MessageID != "" {
		output["messageId"] = message.MessageID
	}
	if message.CorrelationID != "" {
		output["correlationId"] = message.CorrelationID
	}
	if message.ReplyTo != "" {
		output["replyTo"] = message.ReplyTo
	}
	if message.ContentType != "" {
		output["contentType"] = message.ContentType
	}
	if message.Destination != "" {
		output["destination"] = message.Destination
	}
	if message.Priority != 0 {
		output["priority"] = message.Priority
	}
	if message.Persistent {
		output["persistent"] = message.Persistent
	}
	if len(message.Properties) > 0 {
		output["properties"] = message.Properties
	}
	if len(message.InternalMetadata) > 0 {
		output["metadata"] = message.InternalMetadata
	}

	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("failed to marshal message to JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
