package binding

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// EnvVCAPServices holds Cloud Foundry style bindings.
	EnvVCAPServices = "VCAP_SERVICES"
	// EnvServiceBindingRoot points at a servicebinding.io directory tree.
	EnvServiceBindingRoot = "SERVICE_BINDING_ROOT"

	metadataFile = ".metadata"
)

type vcapServiceInstance struct {
	Name         string         `json:"name"`
	BindingName  string         `json:"binding_name,omitempty"`
	InstanceName string         `json:"instance_name,omitempty"`
	Label        string         `json:"label"`
	Plan         string         `json:"plan,omitempty"`
	Credentials  map[string]any `json:"credentials"`
	Tags         []string       `json:"tags,omitempty"`
}

// ParseVCAP parses a VCAP_SERVICES document into bindings. Services are
// returned sorted by label, instances in document order.
func ParseVCAP(data []byte) ([]Binding, error) {
	var services map[string][]vcapServiceInstance
	if err := json.Unmarshal(data, &services); err != nil {
		return nil, fmt.Errorf("could not parse %s: %w", EnvVCAPServices, err)
	}

	labels := make([]string, 0, len(services))
	for label := range services {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var bindings []Binding
	for _, label := range labels {
		for _, instance := range services[label] {
			name := instance.Name
			if instance.BindingName != "" {
				name = instance.BindingName
			}
			if instance.Label == "" {
				instance.Label = label
			}
			bindings = append(bindings, Binding{
				Name:        name,
				Label:       instance.Label,
				Plan:        instance.Plan,
				Tags:        instance.Tags,
				Credentials: instance.Credentials,
			})
		}
	}
	return bindings, nil
}

// Load collects bindings from VCAP_SERVICES and the servicebinding.io root.
// root overrides SERVICE_BINDING_ROOT when not empty.
func Load(root string) ([]Binding, error) {
	var bindings []Binding

	if vcap := os.Getenv(EnvVCAPServices); vcap != "" {
		parsed, err := ParseVCAP([]byte(vcap))
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, parsed...)
	}

	if root == "" {
		root = os.Getenv(EnvServiceBindingRoot)
	}
	if root != "" {
		parsed, err := LoadDir(root)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, parsed...)
	}

	return bindings, nil
}

type secretMetadata struct {
	MetadataProperties   []propertyDescriptor `json:"metaDataProperties"`
	CredentialProperties []propertyDescriptor `json:"credentialProperties"`
}

type propertyFormat string

const (
	propertyFormatText propertyFormat = "text"
	propertyFormatJSON propertyFormat = "json"
)

type propertyDescriptor struct {
	Name       string         `json:"name"`
	SourceName string         `json:"sourceName"`
	Format     propertyFormat `json:"format"`
	Container  bool           `json:"container"`
}

func (d propertyDescriptor) key() string {
	if d.SourceName != "" {
		return d.SourceName
	}
	return d.Name
}

// move copies the described property from source into target. A JSON
// container replaces target entirely.
func (d propertyDescriptor) move(source map[string][]byte, target map[string]any) (map[string]any, error) {
	raw, ok := source[d.key()]
	if !ok {
		return target, nil
	}
	switch d.Format {
	case propertyFormatJSON:
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		if d.Container {
			if m, ok := v.(map[string]any); ok {
				return m, nil
			}
			return nil, fmt.Errorf("property %s is not a JSON object", d.key())
		}
		target[d.Name] = v
	default:
		target[d.Name] = string(raw)
	}
	return target, nil
}

// LoadDir reads every binding directory below root.
func LoadDir(root string) ([]Binding, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("could not read binding root %s: %w", root, err)
	}

	var bindings []Binding
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		b, err := readBindingDir(filepath.Join(root, entry.Name()))
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}
	return bindings, nil
}

func readBindingDir(dir string) (Binding, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return Binding{}, err
	}
	data := make(map[string][]byte, len(files))
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			return Binding{}, err
		}
		data[f.Name()] = content
	}

	b := Binding{Name: filepath.Base(dir), Credentials: map[string]any{}}

	metaBytes, ok := data[metadataFile]
	if !ok {
		// without metadata every file is a plain text credential
		for key, value := range data {
			b.Credentials[key] = strings.TrimSpace(string(value))
		}
		b.Label, _ = b.Credentials["type"].(string)
		return b, nil
	}

	var meta secretMetadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return Binding{}, fmt.Errorf("could not parse metadata of binding %s: %w", b.Name, err)
	}

	properties := map[string]any{}
	for _, d := range meta.MetadataProperties {
		if properties, err = d.move(data, properties); err != nil {
			return Binding{}, fmt.Errorf("could not parse metadata of binding %s: %w", b.Name, err)
		}
	}
	for _, d := range meta.CredentialProperties {
		if b.Credentials, err = d.move(data, b.Credentials); err != nil {
			return Binding{}, fmt.Errorf("could not parse credentials of binding %s: %w", b.Name, err)
		}
		if d.Container {
			break
		}
	}

	if label, ok := properties["label"].(string); ok {
		b.Label = label
	} else if label, ok := properties["type"].(string); ok {
		b.Label = label
	}
	if plan, ok := properties["plan"].(string); ok {
		b.Plan = plan
	}
	if tags, ok := properties["tags"].([]any); ok {
		for _, tag := range tags {
			if s, ok := tag.(string); ok {
				b.Tags = append(b.Tags, s)
			}
		}
	}
	return b, nil
}
