package broker

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/makibytes/aem/broker/aem"
	"github.com/makibytes/aem/broker/aem/binding"
	"github.com/makibytes/aem/broker/aem/client"
	"github.com/makibytes/aem/broker/backends"
	"github.com/makibytes/aem/cmd"
	"github.com/makibytes/aem/log"
	"github.com/spf13/cobra"
)

const (
	envConfig         = "AEM_CONFIG"
	envService        = "AEM_SERVICE"
	defaultConfigFile = "aem.yaml"
)

// runtimeArgs are the persistent flags shared by all subcommands.
type runtimeArgs struct {
	ConfigPath   string
	Service      string
	BindingsRoot string
	Timeout      time.Duration

	// httpClient is the base client for token, management and validation
	// requests. nil uses http.DefaultClient.
	httpClient *http.Client
}

// GetRootCommand returns the Advanced Event Mesh root command
func GetRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aem",
		Short: "Advanced Event Mesh Messaging Client",
		Long:  "Command-line interface for SAP Advanced Event Mesh messaging services bound via VCAP_SERVICES or SERVICE_BINDING_ROOT",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				log.SetVerbose(true)
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultConfig := os.Getenv(envConfig)
	if defaultConfig == "" {
		defaultConfig = defaultConfigFile
	}

	var rt runtimeArgs
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Print verbose output")
	rootCmd.PersistentFlags().StringVarP(&rt.ConfigPath, "config", "c", defaultConfig, "Messaging configuration file")
	rootCmd.PersistentFlags().StringVar(&rt.Service, "service", os.Getenv(envService), "Messaging service to use (required with more than one service)")
	rootCmd.PersistentFlags().StringVar(&rt.BindingsRoot, "bindings-root", "", "Service binding root directory (default $SERVICE_BINDING_ROOT)")
	rootCmd.PersistentFlags().DurationVar(&rt.Timeout, "timeout", 30*time.Second, "Time to wait for the broker connection")

	addCommands(rootCmd, &rt)
	return rootCmd
}

func addCommands(rootCmd *cobra.Command, rt *runtimeArgs) {
	// Queue commands
	queueFactory := cmd.QueueAdapterFactory(func(ctx context.Context) (backends.QueueBackend, error) {
		service, err := rt.startService(ctx)
		if err != nil {
			return nil, err
		}
		return aem.NewQueueAdapter(service), nil
	})
	rootCmd.AddCommand(cmd.WrapQueueCommand(cmd.NewSendCommand, queueFactory))
	rootCmd.AddCommand(cmd.WrapQueueCommand(cmd.NewReceiveCommand, queueFactory))

	// Topic commands
	topicFactory := cmd.TopicAdapterFactory(func(ctx context.Context) (backends.TopicBackend, error) {
		service, err := rt.startService(ctx)
		if err != nil {
			return nil, err
		}
		return aem.NewTopicAdapter(service), nil
	})
	rootCmd.AddCommand(cmd.WrapTopicCommand(cmd.NewPublishCommand, topicFactory))
	rootCmd.AddCommand(cmd.WrapTopicCommand(cmd.NewSubscribeCommand, topicFactory))

	// Queue listener
	messagingFactory := cmd.MessagingFactory(func(ctx context.Context) (backends.MessagingBackend, error) {
		service, err := rt.startService(ctx)
		if err != nil {
			return nil, err
		}
		return service, nil
	})
	rootCmd.AddCommand(cmd.WrapMessagingCommand(cmd.NewListenCommand, messagingFactory))

	// Binding diagnostics and management
	rootCmd.AddCommand(newTokenCommand(rt))
	rootCmd.AddCommand(newValidateCommand(rt))
	rootCmd.AddCommand(newManageCommand(rt))

	rootCmd.AddCommand(cmd.NewVersionCommand())
}

func (rt *runtimeArgs) client() *http.Client {
	if rt.httpClient == nil {
		return http.DefaultClient
	}
	return rt.httpClient
}

func (rt *runtimeArgs) bindings() ([]binding.Binding, error) {
	bindings, err := binding.Load(rt.BindingsRoot)
	if err != nil {
		return nil, err
	}
	log.Verbose("found %d service bindings", len(bindings))
	return bindings, nil
}

// configure creates the messaging services of all bindings without
// initializing them.
func (rt *runtimeArgs) configure(ctx context.Context) ([]*aem.MessagingService, error) {
	cfg, err := aem.LoadConfig(rt.ConfigPath)
	if err != nil {
		return nil, err
	}
	bindings, err := rt.bindings()
	if err != nil {
		return nil, err
	}
	return aem.Configure(ctx, cfg, bindings, rt.client(), nil)
}

// startService initializes the selected service and waits until it runs.
func (rt *runtimeArgs) startService(ctx context.Context) (*aem.MessagingService, error) {
	services, err := rt.configure(ctx)
	if err != nil {
		return nil, err
	}
	service, err := selectService(services, rt.Service)
	if err != nil {
		return nil, err
	}

	if err := service.Init(ctx); err != nil {
		return nil, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, rt.Timeout)
	defer cancel()
	if err := service.WaitReady(waitCtx); err != nil {
		service.Stop()
		return nil, fmt.Errorf("messaging service '%s' did not start: %w", service.Name(), err)
	}
	log.Verbose("connected %s", service)
	return service, nil
}

// selectService picks the service called name, or the only service when
// name is empty.
func selectService(services []*aem.MessagingService, name string) (*aem.MessagingService, error) {
	if len(services) == 0 {
		return nil, client.NewServiceError("no messaging service configured: bind a service named or tagged '%s'", binding.Label)
	}
	if name == "" {
		if len(services) > 1 {
			return nil, client.NewServiceError("more than one messaging service configured (%s): select one with --service", serviceNames(services))
		}
		return services[0], nil
	}
	for _, s := range services {
		if s.Name() == name {
			return s, nil
		}
	}
	return nil, client.NewServiceError("messaging service '%s' not found, available: %s", name, serviceNames(services))
}

func serviceNames(services []*aem.MessagingService) string {
	names := make([]string, len(services))
	for i, s := range services {
		names[i] = s.Name()
	}
	return strings.Join(names, ", ")
}

// messagingBinding returns the messaging binding called name, or the only
// one when name is empty.
func messagingBinding(bindings []binding.Binding, name string) (binding.Binding, error) {
	messaging := binding.Filter(bindings, binding.Binding.IsMessaging)
	if len(messaging) == 0 {
		return binding.Binding{}, client.NewServiceError("No service bindings with name '%s' found", binding.Label)
	}
	if name == "" {
		if len(messaging) > 1 {
			return binding.Binding{}, client.NewServiceError("more than one messaging binding found: select one with --binding")
		}
		return messaging[0], nil
	}
	b, ok := binding.Find(messaging, func(b binding.Binding) bool { return b.Name == name })
	if !ok {
		return binding.Binding{}, client.NewServiceError("messaging binding '%s' not found", name)
	}
	return b, nil
}
