package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHandlerExposesCounters(t *testing.T) {
	before := testutil.ToFloat64(TokenFetches.WithLabelValues("ok"))
	TokenFetches.WithLabelValues("ok").Inc()
	if got := testutil.ToFloat64(TokenFetches.WithLabelValues("ok")); got != before+1 {
		t.Errorf("token fetches = %v, want %v", got, before+1)
	}
	MessagesReceived.WithLabelValues("svc", "accepted").Inc()

	srv := httptest.NewServer(Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`aem_token_fetch_total{result="ok"}`,
		`aem_messages_received_total{outcome="accepted",service="svc"}`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}
