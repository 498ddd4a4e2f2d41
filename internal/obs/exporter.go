package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry builds a private prometheus registry scoped to one Metrics
// instance. A private registry (rather than the global default) keeps
// multiple engine instances in the same test binary, or a backtest run
// alongside a live daemon, from colliding on the same metric names.
func NewRegistry(m *Metrics) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(m)
	return reg
}

// Handler returns the HTTP handler cmd/mqkd serves at /metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
