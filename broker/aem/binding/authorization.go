package binding

const (
	authenticationServiceKey = "authentication-service"
	handshakeKey             = "handshake"
	oauth2Key                = "oa2"

	tokenEndpointKey = "tokenendpoint"
	clientIDKey      = "clientid"
	clientSecretKey  = "clientsecret"
)

// AuthorizationView exposes OAuth2 client credentials found in a binding.
type AuthorizationView struct {
	document map[string]any
}

// NewAuthorizationView reads the credentials nested under
// "authentication-service" of a messaging binding.
func NewAuthorizationView(b Binding) AuthorizationView {
	return AuthorizationView{document: document(b.Credentials, authenticationServiceKey)}
}

// NewValidationAuthorizationView reads the credentials nested under
// "handshake.oa2" of a validation service binding.
func NewValidationAuthorizationView(b Binding) AuthorizationView {
	return AuthorizationView{document: document(document(b.Credentials, handshakeKey), oauth2Key)}
}

func (v AuthorizationView) TokenEndpoint() (string, bool) {
	return stringValue(v.document, tokenEndpointKey)
}

func (v AuthorizationView) ClientID() (string, bool) {
	return stringValue(v.document, clientIDKey)
}

func (v AuthorizationView) ClientSecret() (string, bool) {
	return stringValue(v.document, clientSecretKey)
}

// TokenEndpointPresent reports whether endpoint, client id and secret are all
// present. A partial configuration is not an OAuth2 binding.
func (v AuthorizationView) TokenEndpointPresent() bool {
	_, hasEndpoint := v.TokenEndpoint()
	_, hasID := v.ClientID()
	_, hasSecret := v.ClientSecret()
	return hasEndpoint && hasID && hasSecret
}

// ValidationView exposes the validation service binding.
type ValidationView struct {
	AuthorizationView
	handshake map[string]any
}

func NewValidationView(b Binding) ValidationView {
	return ValidationView{
		AuthorizationView: NewValidationAuthorizationView(b),
		handshake:         document(b.Credentials, handshakeKey),
	}
}

// ServiceURI returns the validation endpoint from "handshake.uri".
func (v ValidationView) ServiceURI() (string, bool) {
	return stringValue(v.handshake, "uri")
}

// IsOAuth2Binding reports whether the service URI and all OAuth2 fields are set.
func (v ValidationView) IsOAuth2Binding() bool {
	_, ok := v.ServiceURI()
	return ok && v.TokenEndpointPresent()
}
