package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsSet struct {
	requests  *prometheus.CounterVec
	appErrors *prometheus.CounterVec

	mergeRuns     *prometheus.CounterVec
	mergeDuration prometheus.Histogram
	mergeWarnings *prometheus.CounterVec
	mergedProxies prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metricsSet {
	f := promauto.With(reg)
	return &metricsSet{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mihomocli_http_requests_total",
			Help: "HTTP requests by route pattern and status.",
		}, []string{"pattern", "status"}),
		appErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mihomocli_app_errors_total",
			Help: "Application errors returned to clients.",
		}, []string{"stage", "code"}),
		mergeRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mihomocli_merge_runs_total",
			Help: "Merge runs by result.",
		}, []string{"result"}),
		mergeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mihomocli_merge_duration_seconds",
			Help:    "Wall time of one merge, fetches included.",
			Buckets: prometheus.DefBuckets,
		}),
		mergeWarnings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mihomocli_merge_warnings_total",
			Help: "Warnings collected during merges, by code.",
		}, []string{"code"}),
		mergedProxies: f.NewGauge(prometheus.GaugeOpts{
			Name: "mihomocli_merged_proxies",
			Help: "Proxies in the most recent merged config.",
		}),
	}
}

func (m *metricsSet) incRequest(pattern string, status int) {
	if pattern == "" {
		pattern = "(unknown)"
	}
	m.requests.WithLabelValues(pattern, strconv.Itoa(status)).Inc()
}

func labelOrUnknown(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(unknown)"
	}
	return s
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		h.ServeHTTP(w, r)
	})
}
