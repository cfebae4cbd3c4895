package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/makibytes/aem/broker/backends"
	"github.com/makibytes/aem/log"
	"github.com/makibytes/aem/metrics"
	"github.com/spf13/cobra"
)

// NewListenCommand creates a command that provisions a queue and consumes it
// through a queue listener until interrupted
func NewListenCommand(backend backends.MessagingBackend) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen <queue> [topic...]",
		Short: "Create a queue with topic subscriptions and print every message it receives",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doListen(cmd, args, backend)
		},
	}

	cmd.Flags().String("dmq", "", "Dead message queue for the listened queue")
	cmd.Flags().IntP("count", "n", 0, "Stop after this many messages (0 = until interrupted)")
	cmd.Flags().BoolP("quiet", "q", false, "Quiet about properties, show data only")
	cmd.Flags().BoolP("json", "J", false, "Output messages as JSON")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	return cmd
}

func doListen(cmd *cobra.Command, args []string, backend backends.MessagingBackend) error {
	dmq, _ := cmd.Flags().GetString("dmq")
	count, _ := cmd.Flags().GetInt("count")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	out := readOutputFlags(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		shutdown := serveMetrics(metricsAddr)
		defer shutdown()
	}

	queue := args[0]
	properties := map[string]any{}
	if dmq != "" {
		properties["deadMsgQueue"] = dmq
	}
	if err := backend.CreateQueue(ctx, queue, properties); err != nil {
		return err
	}
	for _, topic := range args[1:] {
		if err := backend.CreateQueueSubscription(ctx, queue, topic); err != nil {
			return err
		}
	}

	var mu sync.Mutex
	received := 0
	done := make(chan struct{})
	listener := func(ctx context.Context, topic string, msg *backends.Message) error {
		mu.Lock()
		if count > 0 && received >= count {
			mu.Unlock()
			// leave the message unsettled so the broker redelivers it
			<-ctx.Done()
			return ctx.Err()
		}
		defer mu.Unlock()
		if !out.quiet && !out.json {
			fmt.Fprintf(cmd.ErrOrStderr(), "Topic: %s\n", topic)
		}
		if err := printMessage(cmd, msg, out); err != nil {
			return err
		}
		received++
		if count > 0 && received == count {
			close(done)
		}
		return nil
	}

	if err := backend.RegisterQueueListener(ctx, queue, listener); err != nil {
		return err
	}
	log.Info("listening on queue '%s'", queue)

	select {
	case <-ctx.Done():
	case <-done:
	}
	return nil
}

func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed: %v", err)
		}
	}()
	log.Info("serving metrics on %s/metrics", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
