package aem

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/makibytes/aem/broker/aem/binding"
	"github.com/makibytes/aem/broker/aem/client"
	"github.com/makibytes/aem/broker/backends"
	"github.com/makibytes/aem/log"
)

// KindAdvancedEventMesh is the long form of binding.Kind accepted in
// service configurations.
const KindAdvancedEventMesh = binding.Label

// Config is the messaging section of the configuration file.
type Config struct {
	Messaging MessagingConfig `yaml:"messaging"`
}

type MessagingConfig struct {
	Services []ServiceEntry `yaml:"services"`
}

// ServiceEntry configures one messaging service.
type ServiceEntry struct {
	Name       string           `yaml:"name"`
	Kind       string           `yaml:"kind"`
	Binding    string           `yaml:"binding"`
	Enabled    *bool            `yaml:"enabled"`
	Connection ConnectionConfig `yaml:"connection"`
	Queue      *QueueConfig     `yaml:"queue"`
}

type ConnectionConfig struct {
	Properties map[string]string `yaml:"properties"`
}

// IsEnabled defaults to true.
func (e ServiceEntry) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// LoadConfig reads a YAML configuration file. A missing file yields an
// empty configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Debug("configuration file '%s' not found, using defaults", path)
		return cfg, nil
	}
	if err != nil {
		return nil, client.WrapServiceError(err, "could not read configuration file '%s'", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, client.WrapServiceError(err, "could not parse configuration file '%s'", path)
	}
	return cfg, nil
}

func (c *Config) servicesByBinding(name string) []ServiceEntry {
	var out []ServiceEntry
	for _, s := range c.Messaging.Services {
		if s.Binding == name {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) servicesByKind(kinds ...string) []ServiceEntry {
	var out []ServiceEntry
	for _, s := range c.Messaging.Services {
		if slices.Contains(kinds, s.Kind) {
			out = append(out, s)
		}
	}
	return out
}

// service returns the entry called name, or a default entry with that name.
func (c *Config) service(name string) ServiceEntry {
	for _, s := range c.Messaging.Services {
		if s.Name == name {
			return s
		}
	}
	return ServiceEntry{Name: name}
}

// Configure creates the messaging services for the discovered bindings.
// Services of one binding share a connection provider and therefore a
// token. The services are not initialized.
func Configure(ctx context.Context, cfg *Config, bindings []binding.Binding, httpClient *http.Client, listener func(ServiceEntry) backends.QueueListener) ([]*MessagingService, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	messaging := binding.Filter(bindings, binding.Binding.IsMessaging)
	if len(messaging) == 0 {
		log.Info("No service bindings with name '%s' found", binding.Label)
		return nil, nil
	}
	validation, hasValidation := binding.Find(bindings, func(b binding.Binding) bool {
		return b.Matches(binding.ValidationLabel)
	})

	var services []*MessagingService
	create := func(b binding.Binding, provider *ConnectionProvider, entry ServiceEntry) error {
		if !hasValidation {
			return client.NewServiceError("No binding for AEM Validation Service found.")
		}
		sc := ServiceConfig{
			Name:              entry.Name,
			Binding:           b,
			ValidationBinding: validation,
			Properties:        entry.Connection.Properties,
			Queue:             entry.Queue,
		}
		if listener != nil {
			sc.Listener = listener(entry)
		}
		s, err := NewMessagingService(ctx, sc, provider, httpClient)
		if err != nil {
			return err
		}
		log.Debug("created messaging service '%s' for binding '%s'", entry.Name, b.Name)
		services = append(services, s)
		return nil
	}

	single := len(messaging) == 1
	for _, b := range messaging {
		log.Debug("initializing the advanced-event-mesh service binding '%s'", b.Name)
		provider := NewConnectionProvider(b, httpClient)
		createDefault := true

		byBinding := cfg.servicesByBinding(b.Name)
		if len(byBinding) > 0 {
			createDefault = false
			for _, entry := range byBinding {
				if !entry.IsEnabled() {
					continue
				}
				if err := create(b, provider, entry); err != nil {
					return nil, err
				}
			}
		}

		byKind := cfg.servicesByKind(KindAdvancedEventMesh, binding.Kind)
		if single && len(byKind) > 0 {
			createDefault = false
			for _, entry := range byKind {
				if !entry.IsEnabled() || slices.ContainsFunc(byBinding, func(e ServiceEntry) bool { return e.Name == entry.Name }) {
					continue
				}
				if err := create(b, provider, entry); err != nil {
					return nil, err
				}
			}
		}

		if createDefault {
			entry := cfg.service(b.Name)
			if entry.Binding != "" || entry.Kind != "" {
				log.Warn("Could not create service for binding '%s': A configuration with the same name is already defined for another kind or binding.", b.Name)
				continue
			}
			if err := create(b, provider, entry); err != nil {
				return nil, err
			}
		}
	}
	return services, nil
}
