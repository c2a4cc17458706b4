// Package metrics wraps the Prometheus collectors this service
// exposes, grouped by subsystem as named fields on a registry struct
// rather than package-level globals, with naming following the
// *_total / *_active convention.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps every Prometheus collector the service reports.
type Registry struct {
	Hub       hubMetrics
	Publisher publisherMetrics
	Session   sessionMetrics
}

type hubMetrics struct {
	ActiveSubscribers   prometheus.Gauge
	SubscribersDropped  prometheus.Counter
}

type publisherMetrics struct {
	FramesPublished   *prometheus.CounterVec
	BitsetVersion     prometheus.Gauge
	FramesDroppedGap  prometheus.Counter
}

type sessionMetrics struct {
	CatchupRequests *prometheus.CounterVec
}

// NewRegistry constructs and registers every collector with the
// default Prometheus registry.
func NewRegistry() *Registry {
	return &Registry{
		Hub: hubMetrics{
			ActiveSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "bitfeed_hub_subscribers_active",
				Help: "Number of currently registered broadcast subscribers",
			}),
			SubscribersDropped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "bitfeed_hub_subscribers_dropped_total",
				Help: "Total number of subscribers removed for exceeding their queue capacity",
			}),
		},
		Publisher: publisherMetrics{
			FramesPublished: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "bitfeed_frames_published_total",
				Help: "Total number of frames published, labeled by kind",
			}, []string{"kind"}),
			BitsetVersion: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "bitfeed_bitset_version",
				Help: "Current version of the replicated bitset",
			}),
			FramesDroppedGap: promauto.NewCounter(prometheus.CounterOpts{
				Name: "bitfeed_frames_dropped_gap_total",
				Help: "Total number of catch-up requests that could not be served by replay and required a fresh keyframe",
			}),
		},
		Session: sessionMetrics{
			CatchupRequests: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "bitfeed_catchup_requests_total",
				Help: "Total number of catch-up requests, labeled by outcome",
			}, []string{"outcome"}),
		},
	}
}

// Handler returns an HTTP handler exposing the Prometheus registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
