package client

import (
	"context"
	"net/url"

	"github.com/makibytes/aem/broker/aem/binding"
	"github.com/makibytes/aem/log"
)

// ValidationClient asks the validation service whether a broker endpoint
// may be used.
type ValidationClient struct {
	rest *RestClient
}

func NewValidationClient(view binding.ValidationView, doer Doer) (*ValidationClient, error) {
	uri, ok := view.ServiceURI()
	if !ok {
		return nil, NewServiceError("Validation service URI is missing in the service binding")
	}
	return &ValidationClient{rest: NewRestClient("validation", uri, doer)}, nil
}

type validationRequest struct {
	HostName     string `json:"hostName"`
	SubaccountID string `json:"subaccountId,omitempty"`
}

// Validate posts the host of managementURI to the validation service. The
// response body is ignored.
func (c *ValidationClient) Validate(ctx context.Context, managementURI, subaccountID string) error {
	u, err := url.Parse(managementURI)
	if err != nil || u.Hostname() == "" {
		return NewServiceError("could not determine host name of management endpoint '%s'", managementURI)
	}

	log.Debug("validating broker host '%s'", u.Hostname())
	req := validationRequest{HostName: u.Hostname(), SubaccountID: subaccountID}
	if err := c.rest.Post(ctx, "", req, nil); err != nil {
		return WrapServiceError(err, "validation of broker host '%s' failed", u.Hostname())
	}
	return nil
}
