package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/makibytes/aem/log"
	"github.com/makibytes/aem/metrics"
)

const (
	contentTypeJSON = "application/json"
	contentTypeForm = "application/x-www-form-urlencoded"
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RestClient issues JSON requests against a destination base URL. Request
// paths are resolved against the base, so an absolute path replaces the
// base path and an empty path targets the base itself.
type RestClient struct {
	name    string
	baseURL string
	http    Doer
}

func NewRestClient(name, baseURL string, doer Doer) *RestClient {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &RestClient{name: name, baseURL: baseURL, http: doer}
}

func (c *RestClient) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, nil, out)
}

// Post sends data as a JSON body.
func (c *RestClient) Post(ctx context.Context, path string, data any, out any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return WrapServiceError(err, "could not serialize request body")
	}
	return c.do(ctx, http.MethodPost, path, body, map[string]string{"Content-Type": contentTypeJSON}, out)
}

// PostForm sends values form-encoded.
func (c *RestClient) PostForm(ctx context.Context, path string, values url.Values, out any) error {
	return c.do(ctx, http.MethodPost, path, []byte(values.Encode()), map[string]string{"Content-Type": contentTypeForm}, out)
}

func (c *RestClient) Delete(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil, out)
}

func (c *RestClient) resolve(path string) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", WrapServiceError(err, "invalid %s URL %q", c.name, c.baseURL)
	}
	if path == "" {
		return base.String(), nil
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", WrapServiceError(err, "invalid request path %q", path)
	}
	return base.ResolveReference(ref).String(), nil
}

func (c *RestClient) do(ctx context.Context, method, path string, body []byte, headers map[string]string, out any) error {
	target, err := c.resolve(path)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return WrapServiceError(err, "could not create %s request", method)
	}
	req.Header.Set("Accept", contentTypeJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	log.Verbose("requesting %s %s", method, target)
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.HTTPRequests.WithLabelValues(c.name, method, "error").Inc()
		return WrapServiceError(err, "%s request to %s failed", method, c.name)
	}
	defer resp.Body.Close()

	metrics.HTTPRequests.WithLabelValues(c.name, method, strconv.Itoa(resp.StatusCode)).Inc()
	log.Debug("%s responded with status code '%d'", c.name, resp.StatusCode)

	return handleJSONResponse(resp, out)
}

func handleJSONResponse(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 207 {
		return &ServiceError{
			Message: fmt.Sprintf("Unexpected request HTTP response (%d) %s", resp.StatusCode, reasonPhrase(resp)),
			Status:  resp.StatusCode,
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return WrapServiceError(err, "could not read response body")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	if contentType := resp.Header.Get("Content-Type"); contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil || mediaType != contentTypeJSON {
			return NewServiceError("Unexpected response format: Expected JSON but found '%s'", contentType)
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return WrapServiceError(err, "could not parse JSON response")
	}
	return nil
}

// reasonPhrase extracts the reason from a status line such as "400 Bad Request".
func reasonPhrase(resp *http.Response) string {
	reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	return reason
}
