package amqpcommon

import (
	"context"
	"time"

	"github.com/Azure/go-amqp"
	"github.com/makibytes/aem/log"
)

// ReceiveOptions configures an AMQP receive operation
type ReceiveOptions struct {
	Address     string
	Timeout     float32
	Wait        bool // true = wait indefinitely for a message
	Acknowledge bool // true = accept (destructive), false = release (peek)
	Selector    string
	LinkName    string
}

// ReceiverOptions returns the link options used for queue and topic
// receivers. Settlement is explicit.
func ReceiverOptions(linkName, selector string) *amqp.ReceiverOptions {
	receiverOptions := &amqp.ReceiverOptions{
		Name:               linkName,
		SourceExpiryPolicy: amqp.ExpiryPolicyLinkDetach,
		SettlementMode:     amqp.ReceiverSettleModeFirst.Ptr(),
	}

	// Solace evaluates JMS selectors passed as AMQP source filters
	if selector != "" {
		log.Verbose("applying selector filter: %s", selector)
		receiverOptions.Filters = []amqp.LinkFilter{
			amqp.NewSelectorFilter(selector),
		}
	}
	return receiverOptions
}

// ReceiveMessage receives a single message from an AMQP 1.0 session
func ReceiveMessage(ctx context.Context, session *amqp.Session, opts ReceiveOptions) (*amqp.Message, error) {
	var cancel context.CancelFunc
	if opts.Wait {
		ctx, cancel = context.WithCancel(ctx)
	} else {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(float64(opts.Timeout)*float64(time.Second)))
	}
	defer cancel()

	log.Verbose("generating receiver for %s...", opts.Address)
	receiver, err := session.NewReceiver(ctx, opts.Address, ReceiverOptions(opts.LinkName, opts.Selector))
	if err != nil {
		return nil, err
	}
	defer receiver.Close(context.WithoutCancel(ctx))

	message, err := receiver.Receive(ctx, nil)
	if err != nil {
		return nil, err
	}

	if opts.Acknowledge {
		err = receiver.AcceptMessage(ctx, message)
	} else {
		err = receiver.ReleaseMessage(ctx, message)
	}
	if err != nil {
		return nil, err
	}

	return message, nil
}
