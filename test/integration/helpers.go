//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"time"

	"github.com/makibytes/aem/broker/aem/binding"
)

// WaitForBroker retries check until it returns nil or timeout is reached.
// Useful when a broker's TCP port is open but the service isn't fully ready.
func WaitForBroker(check func() error, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if lastErr = check(); lastErr == nil {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("broker not ready after %s: %w", timeout, lastErr)
}

// BasicAuth authenticates SEMP requests against a local broker, which has
// no OAuth2 authorization server.
type BasicAuth struct {
	User, Password string
}

func (a BasicAuth) Do(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(a.User, a.Password)
	return http.DefaultClient.Do(req)
}

// Binding returns a messaging binding pointing at the container.
func (b *BrokerContainer) Binding() binding.Binding {
	return binding.Binding{
		Name:  binding.Label,
		Label: binding.Label,
		Credentials: map[string]any{
			"vpn": SolaceVPN,
			"endpoints": map[string]any{
				binding.Label: map[string]any{
					"uri":      b.ManagementURL,
					"amqp_uri": b.URL,
				},
			},
		},
	}
}
