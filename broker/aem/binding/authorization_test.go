package binding

import "testing"

func completeOAuth2() map[string]any {
	return map[string]any{
		"tokenendpoint": "https://auth.example.com/oauth/token",
		"clientid":      "client",
		"clientsecret":  "secret",
	}
}

func TestAuthorizationView_Fields(t *testing.T) {
	view := NewAuthorizationView(Binding{Credentials: map[string]any{
		"authentication-service": completeOAuth2(),
	}})

	if got, _ := view.TokenEndpoint(); got != "https://auth.example.com/oauth/token" {
		t.Errorf("TokenEndpoint() = %q", got)
	}
	if got, _ := view.ClientID(); got != "client" {
		t.Errorf("ClientID() = %q, want %q", got, "client")
	}
	if got, _ := view.ClientSecret(); got != "secret" {
		t.Errorf("ClientSecret() = %q, want %q", got, "secret")
	}
	if !view.TokenEndpointPresent() {
		t.Error("TokenEndpointPresent() = false, want true")
	}
}

func TestAuthorizationView_TokenEndpointPresent_MissingField(t *testing.T) {
	for _, missing := range []string{"tokenendpoint", "clientid", "clientsecret"} {
		t.Run(missing, func(t *testing.T) {
			doc := completeOAuth2()
			delete(doc, missing)
			view := NewAuthorizationView(Binding{Credentials: map[string]any{
				"authentication-service": doc,
			}})

			if view.TokenEndpointPresent() {
				t.Errorf("TokenEndpointPresent() = true with %s missing", missing)
			}
		})
	}
}

func TestAuthorizationView_NoAuthenticationService(t *testing.T) {
	view := NewAuthorizationView(Binding{Credentials: map[string]any{"vpn": "v"}})

	if view.TokenEndpointPresent() {
		t.Error("TokenEndpointPresent() = true without authentication-service")
	}
	if _, ok := view.ClientID(); ok {
		t.Error("ClientID() present without authentication-service")
	}
}

func TestValidationView_HandshakeShape(t *testing.T) {
	b := Binding{Credentials: map[string]any{
		"handshake": map[string]any{
			"uri": "https://validation.example.com/validate",
			"oa2": completeOAuth2(),
		},
	}}

	view := NewValidationView(b)
	if uri, _ := view.ServiceURI(); uri != "https://validation.example.com/validate" {
		t.Errorf("ServiceURI() = %q", uri)
	}
	if !view.IsOAuth2Binding() {
		t.Error("IsOAuth2Binding() = false, want true")
	}

	// the messaging shape must not pick up handshake credentials
	if NewAuthorizationView(b).TokenEndpointPresent() {
		t.Error("authentication-service view read handshake.oa2")
	}
}

func TestValidationView_MissingServiceURI(t *testing.T) {
	view := NewValidationView(Binding{Credentials: map[string]any{
		"handshake": map[string]any{"oa2": completeOAuth2()},
	}})

	if !view.TokenEndpointPresent() {
		t.Error("TokenEndpointPresent() = false, want true")
	}
	if view.IsOAuth2Binding() {
		t.Error("IsOAuth2Binding() = true without handshake.uri")
	}
}

func TestBinding_IsMessaging(t *testing.T) {
	tests := []struct {
		name    string
		binding Binding
		want    bool
	}{
		{"by name", Binding{Name: Label}, true},
		{"by tag", Binding{Name: "my-aem", Tags: []string{"messaging", Label}}, true},
		{"unrelated", Binding{Name: "xsuaa", Label: "xsuaa"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.binding.IsMessaging(); got != tt.want {
				t.Errorf("IsMessaging() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBinding_Matches(t *testing.T) {
	if !(Binding{Label: ValidationLabel}).Matches(ValidationLabel) {
		t.Error("Matches() by label = false")
	}
	if !(Binding{Tags: []string{ValidationLabel}}).Matches(ValidationLabel) {
		t.Error("Matches() by tag = false")
	}
	if (Binding{Name: ValidationLabel}).Matches(ValidationLabel) {
		t.Error("Matches() by name only = true, want false")
	}
}
