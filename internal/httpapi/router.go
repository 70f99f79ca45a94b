package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// NewHandler returns the serve-mode handler with its own metrics registry.
func NewHandler(opt Options) http.Handler {
	return NewHandlerWithRegistry(opt, prometheus.NewRegistry())
}

// NewHandlerWithRegistry registers the server metrics on reg and exposes
// everything reg gathers under /metrics.
func NewHandlerWithRegistry(opt Options, reg *prometheus.Registry) http.Handler {
	opt = opt.withDefaults()
	s := &server{opt: opt, metrics: newMetrics(reg)}

	r := chi.NewRouter()
	r.Use(withObservability(opt.Logger, s.metrics))
	r.Use(middleware.Recoverer)
	r.Get("/healthz", handleHealthz)
	r.Method(http.MethodGet, "/metrics", metricsHandler(reg))
	r.Get("/config", s.handleConfig)
	return r
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteText(w, http.StatusOK, "ok\n")
}
