package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/makibytes/aem/broker/aem"
	"github.com/makibytes/aem/broker/aem/binding"
)

// fakeBroker serves the token, SEMP and validation endpoints of one binding.
type fakeBroker struct {
	mu       sync.Mutex
	queues   map[string]map[string]any
	topics   []string
	requests []string
	bodies   []map[string]any
	unauth   int
}

func (f *fakeBroker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path == "/oauth/token" {
		_, _ = w.Write([]byte(`{"access_token":"abc","token_type":"bearer","expires_in":3600}`))
		return
	}
	if r.Header.Get("Authorization") != "Bearer abc" {
		f.unauth++
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var body map[string]any
	if r.Method == http.MethodPost {
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.bodies = append(f.bodies, body)
	}
	path := r.URL.EscapedPath()
	f.requests = append(f.requests, r.Method+" "+path)

	const queues = "/SEMP/v2/config/msgVpns/vpn/queues"
	switch {
	case path == "/validate":
		_, _ = w.Write([]byte(`{}`))
	case r.Method == http.MethodPost && path == queues:
		f.queues[body["queueName"].(string)] = body
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/subscriptions"):
		list := map[string]any{"data": []map[string]any{}}
		for _, topic := range f.topics {
			list["data"] = append(list["data"].([]map[string]any), map[string]any{
				"msgVpnName": "vpn", "queueName": "orders", "subscriptionTopic": topic,
			})
		}
		_ = json.NewEncoder(w).Encode(list)
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/subscriptions"):
		f.topics = append(f.topics, body["subscriptionTopic"].(string))
	case r.Method == http.MethodGet && strings.HasPrefix(path, queues+"/"):
		q, ok := f.queues[strings.TrimPrefix(path, queues+"/")]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": q})
	case r.Method == http.MethodDelete && strings.HasPrefix(path, queues+"/"):
		delete(f.queues, strings.TrimPrefix(path, queues+"/"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeBroker) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func vcap(serverURL string, messagingNames ...string) string {
	oauth := map[string]any{
		"tokenendpoint": serverURL + "/oauth/token",
		"clientid":      "id",
		"clientsecret":  "secret",
	}
	var instances []map[string]any
	for _, name := range messagingNames {
		instances = append(instances, map[string]any{
			"name": name,
			"tags": []string{binding.Label},
			"credentials": map[string]any{
				"vpn":                    "vpn",
				"authentication-service": oauth,
				"endpoints": map[string]any{
					binding.Label: map[string]any{"uri": serverURL, "amqp_uri": "amqps://broker.example.com:5671"},
				},
			},
		})
	}
	doc := map[string]any{
		binding.Label: instances,
		binding.ValidationLabel: []map[string]any{{
			"name": "validation",
			"credentials": map[string]any{
				"handshake": map[string]any{"uri": serverURL + "/validate", "oa2": oauth},
			},
		}},
	}
	data, _ := json.Marshal(doc)
	return string(data)
}

func setupBroker(t *testing.T, names ...string) *fakeBroker {
	t.Helper()
	fake := &fakeBroker{queues: map[string]map[string]any{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	if len(names) == 0 {
		names = []string{binding.Label}
	}
	t.Setenv(binding.EnvVCAPServices, vcap(srv.URL, names...))
	t.Setenv(binding.EnvServiceBindingRoot, "")
	return fake
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := GetRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append(args, "--config", ""))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := GetRootCommand()
	var got []string
	for _, c := range root.Commands() {
		got = append(got, c.Name())
	}
	want := []string{"listen", "manage", "publish", "receive", "send", "subscribe", "token", "validate", "version"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("subcommands mismatch (-want +got):\n%s", diff)
	}
}

func TestTokenCommand(t *testing.T) {
	setupBroker(t)

	out, err := run(t, "token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, "Fetched a token of 3 characters for binding 'advanced-event-mesh'") {
		t.Errorf("output = %q", out)
	}
	if strings.Contains(out, "abc") {
		t.Error("token must not be printed without --show")
	}

	out, err = run(t, "token", "--show")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "abc\n" {
		t.Errorf("output = %q, want %q", out, "abc\n")
	}
}

func TestTokenCommand_SelectsBinding(t *testing.T) {
	setupBroker(t, "first", "second")

	if _, err := run(t, "token"); err == nil {
		t.Fatal("expected error with two bindings and no --binding")
	}
	out, err := run(t, "token", "--binding", "second")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "binding 'second'") {
		t.Errorf("output = %q", out)
	}
}

func TestValidateCommand(t *testing.T) {
	fake := setupBroker(t)

	if _, err := run(t, "validate", "--subaccount", "sub-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if diff := cmp.Diff([]string{"POST /validate"}, fake.requests); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
	want := map[string]any{"hostName": "127.0.0.1", "subaccountId": "sub-1"}
	if diff := cmp.Diff(want, fake.bodies[0]); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestManageQueueLifecycle(t *testing.T) {
	fake := setupBroker(t)

	if _, err := run(t, "manage", "queue", "create", "orders", "--dmq", "orders-dmq", "-a", "maxMsgSpoolUsage=100"); err != nil {
		t.Fatalf("create: %v", err)
	}
	fake.mu.Lock()
	attrs := fake.queues["orders"]
	_, dmqCreated := fake.queues["orders-dmq"]
	fake.mu.Unlock()
	if !dmqCreated {
		t.Error("dead message queue was not created")
	}
	if attrs["deadMsgQueue"] != "orders-dmq" || attrs["maxMsgSpoolUsage"] != "100" || attrs["permission"] != "consume" {
		t.Errorf("queue attributes = %v", attrs)
	}

	out, err := run(t, "manage", "queue", "get", "orders")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.Contains(out, "queueName: orders\n") {
		t.Errorf("get output = %q", out)
	}

	if _, err := run(t, "manage", "subscription", "create", "orders", "topic://orders/created"); err != nil {
		t.Fatalf("subscription create: %v", err)
	}
	if _, err := run(t, "manage", "subscription", "create", "orders", "orders/created"); err != nil {
		t.Fatalf("subscription create: %v", err)
	}
	out, err = run(t, "manage", "subscription", "list", "orders")
	if err != nil {
		t.Fatalf("subscription list: %v", err)
	}
	if out != "orders/created\n" {
		t.Errorf("subscriptions = %q, want one entry", out)
	}

	if _, err := run(t, "manage", "queue", "remove", "orders"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := run(t, "manage", "queue", "get", "orders"); err == nil {
		t.Error("expected error for removed queue")
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.unauth != 0 {
		t.Errorf("unauthenticated requests = %d, want 0", fake.unauth)
	}
}

func TestMessagingBinding(t *testing.T) {
	bindings := []binding.Binding{
		{Name: "a", Tags: []string{binding.Label}},
		{Name: "validation", Label: binding.ValidationLabel},
		{Name: "b", Tags: []string{binding.Label}},
	}

	tests := []struct {
		name     string
		input    []binding.Binding
		selected string
		want     string
		wantErr  bool
	}{
		{name: "named", input: bindings, selected: "b", want: "b"},
		{name: "ambiguous", input: bindings, wantErr: true},
		{name: "unknown", input: bindings, selected: "c", wantErr: true},
		{name: "only one", input: bindings[:2], want: "a"},
		{name: "none", input: bindings[1:2], wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := messagingBinding(tt.input, tt.selected)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if got.Name != tt.want {
				t.Errorf("binding = %q, want %q", got.Name, tt.want)
			}
		})
	}
}

func TestSelectService(t *testing.T) {
	setupBroker(t, "first", "second")
	rt := &runtimeArgs{}
	services, err := rt.configure(context.Background())
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	if len(services) != 2 {
		t.Fatalf("services = %d, want 2", len(services))
	}

	if _, err := selectService(services, ""); err == nil {
		t.Error("expected error for ambiguous selection")
	}
	s, err := selectService(services, "second")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Name() != "second" {
		t.Errorf("service = %q, want %q", s.Name(), "second")
	}
	if _, err := selectService(nil, ""); err == nil {
		t.Error("expected error without services")
	}
	if _, err := selectService([]*aem.MessagingService{s}, "third"); err == nil {
		t.Error("expected error for unknown service")
	}
}
