package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aem_http_requests_total",
			Help: "REST calls against token, management and validation endpoints by client, method and status code.",
		},
		[]string{"client", "method", "code"},
	)

	TokenFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aem_token_fetch_total",
			Help: "OAuth2 token fetches for the broker connection by result.",
		},
		[]string{"result"},
	)

	MessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aem_messages_published_total",
			Help: "Messages emitted to topics by messaging service.",
		},
		[]string{"service"},
	)

	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aem_messages_received_total",
			Help: "Messages dispatched to queue listeners by messaging service and outcome.",
		},
		[]string{"service", "outcome"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
