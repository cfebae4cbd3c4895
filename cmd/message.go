package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// messageOptions holds the flags shared by send and publish.
type messageOptions struct {
	ContentType   string
	CorrelationID string
	MessageID     string
	Priority      int
	Persistent    bool
	ReplyTo       string
	Properties    map[string]any
	Count         int
	TTL           int64
	Lines         bool
}

func addMessageFlags(cmd *cobra.Command, replyToUsage string) {
	cmd.Flags().StringP("contenttype", "T", "text/plain", "MIME type of message data")
	cmd.Flags().StringP("correlationid", "C", "", "Correlation ID for request/response")
	cmd.Flags().StringP("messageid", "I", "", "Message ID (generated when empty)")
	cmd.Flags().IntP("priority", "Y", 4, "Priority of the message (0-9)")
	cmd.Flags().BoolP("persistent", "d", false, "Make message persistent")
	cmd.Flags().StringP("replyto", "R", "", replyToUsage)
	cmd.Flags().StringSliceP("property", "P", []string{}, "Message properties in key=value format")
	cmd.Flags().IntP("count", "n", 1, "Number of times to send the message")
	cmd.Flags().Int64P("ttl", "E", 0, "Message time-to-live in milliseconds (0 = no expiry)")
	cmd.Flags().BoolP("lines", "l", false, "Read stdin line by line, send each line as a separate message")
}

func parseMessageFlags(cmd *cobra.Command) (messageOptions, error) {
	var opts messageOptions
	opts.ContentType, _ = cmd.Flags().GetString("contenttype")
	opts.CorrelationID, _ = cmd.Flags().GetString("correlationid")
	opts.MessageID, _ = cmd.Flags().GetString("messageid")
	opts.Priority, _ = cmd.Flags().GetInt("priority")
	opts.Persistent, _ = cmd.Flags().GetBool("persistent")
	opts.ReplyTo, _ = cmd.Flags().GetString("replyto")
	opts.Count, _ = cmd.Flags().GetInt("count")
	opts.TTL, _ = cmd.Flags().GetInt64("ttl")
	opts.Lines, _ = cmd.Flags().GetBool("lines")

	if opts.Priority < 0 || opts.Priority > 9 {
		return opts, fmt.Errorf("invalid priority %d: must be between 0 and 9", opts.Priority)
	}

	opts.Properties = make(map[string]any)
	propertySlice, _ := cmd.Flags().GetStringSlice("property")
	for _, property := range propertySlice {
		key, value, ok := strings.Cut(property, "=")
		if !ok || key == "" {
			return opts, fmt.Errorf("invalid property: %s", property)
		}
		opts.Properties[key] = value
	}
	return opts, nil
}

// payloads returns the messages to send: the message argument repeated
// count times, or the lines of stdin, or all of stdin repeated count times.
func payloads(cmd *cobra.Command, args []string, opts messageOptions) ([][]byte, error) {
	if opts.Lines {
		var out [][]byte
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			out = append(out, []byte(scanner.Text()))
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("error reading stdin: %w", err)
		}
		return out, nil
	}

	var data []byte
	if len(args) > 1 {
		data = []byte(args[1])
	} else {
		var err error
		data, err = readFromStdin(cmd.InOrStdin())
		if err != nil {
			return nil, err
		}
	}

	out := make([][]byte, 0, opts.Count)
	for range opts.Count {
		out = append(out, data)
	}
	return out, nil
}

func readFromStdin(in io.Reader) ([]byte, error) {
	if f, ok := in.(*os.File); ok {
		stat, err := f.Stat()
		if err == nil && stat.Mode()&os.ModeCharDevice != 0 {
			return nil, errors.New("no message provided and no data in stdin")
		}
	}
	return io.ReadAll(in)
}
