package client

import (
	"context"
	"net/url"

	"github.com/makibytes/aem/broker/aem/binding"
	"github.com/makibytes/aem/log"
	"github.com/makibytes/aem/metrics"
)

// TokenFetchClient performs the OAuth2 client_credentials exchange. It does
// not cache: every call requests a new token.
type TokenFetchClient struct {
	view binding.AuthorizationView
	http Doer
}

func NewTokenFetchClient(view binding.AuthorizationView, doer Doer) *TokenFetchClient {
	return &TokenFetchClient{view: view, http: doer}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	ExpiresIn   int    `json:"expires_in,omitempty"`
}

// FetchToken returns the access_token of a fresh token response. ok is false
// when the response carries no access_token.
func (c *TokenFetchClient) FetchToken(ctx context.Context) (token string, ok bool, err error) {
	endpoint, hasEndpoint := c.view.TokenEndpoint()
	clientID, hasID := c.view.ClientID()
	clientSecret, hasSecret := c.view.ClientSecret()
	if !hasEndpoint || !hasID || !hasSecret {
		metrics.TokenFetches.WithLabelValues("error").Inc()
		return "", false, NewServiceError("OAuth2 token endpoint, client id and client secret must be present in the service binding")
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)

	log.Debug("fetching token from %s", endpoint)
	var resp tokenResponse
	rest := NewRestClient("token", endpoint, c.http)
	if err := rest.PostForm(ctx, "", form, &resp); err != nil {
		metrics.TokenFetches.WithLabelValues("error").Inc()
		return "", false, WrapServiceError(err, "could not fetch token")
	}
	if resp.AccessToken == "" {
		metrics.TokenFetches.WithLabelValues("empty").Inc()
		return "", false, nil
	}
	metrics.TokenFetches.WithLabelValues("ok").Inc()
	return resp.AccessToken, true, nil
}
