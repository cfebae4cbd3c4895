// Package binding reads Advanced Event Mesh service bindings.
//
// A binding is an opaque nested credential document. The views in this
// package project the few fields the broker integration needs out of it and
// report absence instead of failing on missing keys.
package binding

import "slices"

const (
	// Label identifies messaging bindings by name or tag.
	Label = "advanced-event-mesh"
	// ValidationLabel identifies the validation service binding.
	ValidationLabel = "aem-validation-service"
	// Kind is the short service kind accepted next to Label.
	Kind = "aem"
)

// Binding is a service binding as delivered by the platform.
type Binding struct {
	Name        string
	Label       string
	Plan        string
	Tags        []string
	Credentials map[string]any
}

// IsMessaging reports whether b is an Advanced Event Mesh messaging binding.
func (b Binding) IsMessaging() bool {
	return b.Name == Label || slices.Contains(b.Tags, Label)
}

// Matches reports whether b belongs to the named service, checking the
// service label and the tags.
func (b Binding) Matches(service string) bool {
	return b.Label == service || slices.Contains(b.Tags, service)
}

// Find returns the first binding accepted by match.
func Find(bindings []Binding, match func(Binding) bool) (Binding, bool) {
	for _, b := range bindings {
		if match(b) {
			return b, true
		}
	}
	return Binding{}, false
}

// Filter returns all bindings accepted by match, in order.
func Filter(bindings []Binding, match func(Binding) bool) []Binding {
	var out []Binding
	for _, b := range bindings {
		if match(b) {
			out = append(out, b)
		}
	}
	return out
}

func document(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	if nested, ok := m[key].(map[string]any); ok {
		return nested
	}
	return nil
}

func stringValue(m map[string]any, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	s, ok := m[key].(string)
	return s, ok
}
