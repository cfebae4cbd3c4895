package client

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/makibytes/aem/broker/aem/binding"
	"github.com/makibytes/aem/log"
)

// NewDestination returns an HTTP client that authenticates with the OAuth2
// client credentials of view. base carries transport settings and is also
// used for the token requests; nil means http.DefaultClient. When the view
// is incomplete the base client is returned unauthenticated.
func NewDestination(ctx context.Context, view binding.AuthorizationView, base *http.Client) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	if !view.TokenEndpointPresent() {
		log.Warn("binding has no complete OAuth2 client credentials, requests are sent unauthenticated")
		return base
	}

	tokenURL, _ := view.TokenEndpoint()
	clientID, _ := view.ClientID()
	clientSecret, _ := view.ClientSecret()

	config := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	return config.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
}
