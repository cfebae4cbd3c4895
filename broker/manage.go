package broker

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/makibytes/aem/broker/aem"
	"github.com/makibytes/aem/broker/aem/binding"
	"github.com/makibytes/aem/broker/aem/client"
	"github.com/spf13/cobra"
)

func newTokenCommand(rt *runtimeArgs) *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Fetch an OAuth2 token with the credentials of a messaging binding",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			name, _ := c.Flags().GetString("binding")
			show, _ := c.Flags().GetBool("show")

			b, err := rt.selectBinding(name)
			if err != nil {
				return err
			}
			view := binding.NewAuthorizationView(b)
			endpoint, _ := view.TokenEndpoint()
			cache := aem.NewTokenCache(client.NewTokenFetchClient(view, rt.client()), aem.DefaultTokenWindow, nil)
			token, err := cache.Token(c.Context())
			if err != nil {
				return err
			}

			if show {
				fmt.Fprintln(c.OutOrStdout(), token)
				return nil
			}
			fmt.Fprintf(c.OutOrStdout(), "Fetched a token of %d characters for binding '%s' from %s\n", len(token), b.Name, endpoint)
			return nil
		},
	}
	tokenCmd.Flags().String("binding", "", "Messaging binding to use (required with more than one binding)")
	tokenCmd.Flags().Bool("show", false, "Print the token itself")
	return tokenCmd
}

func newValidateCommand(rt *runtimeArgs) *cobra.Command {
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the broker endpoint of a messaging binding with the validation service",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			name, _ := c.Flags().GetString("binding")
			subaccountID, _ := c.Flags().GetString("subaccount")

			bindings, err := rt.bindings()
			if err != nil {
				return err
			}
			b, err := messagingBinding(bindings, name)
			if err != nil {
				return err
			}
			vb, ok := binding.Find(bindings, func(b binding.Binding) bool { return b.Matches(binding.ValidationLabel) })
			if !ok {
				return client.NewServiceError("No binding for AEM Validation Service found.")
			}
			managementURI, ok := binding.NewEndpointView(b).URI()
			if !ok {
				return client.NewServiceError("Management endpoint not available in binding")
			}

			view := binding.NewValidationView(vb)
			validation, err := client.NewValidationClient(view, client.NewDestination(c.Context(), view.AuthorizationView, rt.client()))
			if err != nil {
				return err
			}
			if err := validation.Validate(c.Context(), managementURI, subaccountID); err != nil {
				return client.WrapServiceError(err, "Failed to validate the AEM endpoint.")
			}
			fmt.Fprintf(c.OutOrStdout(), "Endpoint %s of binding '%s' is valid\n", managementURI, b.Name)
			return nil
		},
	}
	validateCmd.Flags().String("binding", "", "Messaging binding to use (required with more than one binding)")
	validateCmd.Flags().String("subaccount", "", "Subaccount ID sent with the validation request")
	return validateCmd
}

func newManageCommand(rt *runtimeArgs) *cobra.Command {
	mgmtCmd := &cobra.Command{
		Use:   "manage",
		Short: "Broker management operations via SEMP (queues, subscriptions)",
	}
	mgmtCmd.PersistentFlags().String("binding", "", "Messaging binding to use (required with more than one binding)")

	connect := func(c *cobra.Command) (*client.ManagementClient, error) {
		name, _ := c.Flags().GetString("binding")
		b, err := rt.selectBinding(name)
		if err != nil {
			return nil, err
		}
		return managementClient(c.Context(), b, rt)
	}

	queueCmd := &cobra.Command{Use: "queue", Short: "Manage queues"}
	queueCmd.AddCommand(&cobra.Command{
		Use:   "get <queue>",
		Short: "Show the SEMP attributes of a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			mgmt, err := connect(c)
			if err != nil {
				return err
			}
			queue, ok := mgmt.GetQueue(c.Context(), args[0])
			if !ok {
				return client.NewServiceError("queue '%s' not found in VPN '%s'", args[0], mgmt.VPN())
			}
			out, err := yaml.Marshal(queue.Attributes)
			if err != nil {
				return err
			}
			_, err = c.OutOrStdout().Write(out)
			return err
		},
	})

	createCmd := &cobra.Command{
		Use:   "create <queue>",
		Short: "Create a queue unless it exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			properties, err := queueProperties(c)
			if err != nil {
				return err
			}
			mgmt, err := connect(c)
			if err != nil {
				return err
			}
			if dmq, ok := properties[client.DeadMessageQueueAttribute].(string); ok {
				if err := mgmt.CreateQueue(c.Context(), dmq, nil); err != nil {
					return err
				}
			}
			if err := mgmt.CreateQueue(c.Context(), args[0], properties); err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "Queue %s is available in VPN %s\n", args[0], mgmt.VPN())
			return nil
		},
	}
	createCmd.Flags().String("dmq", "", "Dead message queue, created first")
	createCmd.Flags().StringSliceP("attribute", "a", []string{}, "Queue attributes in key=value format")
	queueCmd.AddCommand(createCmd)

	queueCmd.AddCommand(&cobra.Command{
		Use:   "remove <queue>",
		Short: "Delete a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			mgmt, err := connect(c)
			if err != nil {
				return err
			}
			if err := mgmt.RemoveQueue(c.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "Removed queue %s\n", args[0])
			return nil
		},
	})

	subscriptionCmd := &cobra.Command{Use: "subscription", Short: "Manage queue topic subscriptions"}
	subscriptionCmd.AddCommand(&cobra.Command{
		Use:   "list <queue>",
		Short: "List the topic subscriptions of a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			mgmt, err := connect(c)
			if err != nil {
				return err
			}
			list, err := mgmt.GetQueueSubscription(c.Context(), args[0])
			if err != nil {
				return err
			}
			for _, s := range list.Data {
				fmt.Fprintln(c.OutOrStdout(), s.SubscriptionTopic)
			}
			return nil
		},
	})
	subscriptionCmd.AddCommand(&cobra.Command{
		Use:   "create <queue> <topic>",
		Short: "Subscribe a queue to a topic unless already subscribed",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			mgmt, err := connect(c)
			if err != nil {
				return err
			}
			if err := mgmt.CreateQueueSubscription(c.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "Queue %s is subscribed to %s\n", args[0], strings.TrimPrefix(args[1], client.TopicPrefix))
			return nil
		},
	})

	mgmtCmd.AddCommand(queueCmd, subscriptionCmd)
	return mgmtCmd
}

func (rt *runtimeArgs) selectBinding(name string) (binding.Binding, error) {
	bindings, err := rt.bindings()
	if err != nil {
		return binding.Binding{}, err
	}
	return messagingBinding(bindings, name)
}

// managementClient authenticates SEMP requests with the OAuth2 credentials
// of the binding.
func managementClient(ctx context.Context, b binding.Binding, rt *runtimeArgs) (*client.ManagementClient, error) {
	destination := client.NewDestination(ctx, binding.NewAuthorizationView(b), rt.client())
	return client.NewManagementClient(binding.NewEndpointView(b), destination)
}

func queueProperties(c *cobra.Command) (map[string]any, error) {
	properties := map[string]any{}
	attributes, _ := c.Flags().GetStringSlice("attribute")
	for _, attribute := range attributes {
		key, value, ok := strings.Cut(attribute, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid attribute: %s", attribute)
		}
		properties[key] = value
	}
	if dmq, _ := c.Flags().GetString("dmq"); dmq != "" {
		properties[client.DeadMessageQueueAttribute] = dmq
	}
	return properties, nil
}
