package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authguard_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "authguard_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	permissionChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authguard_permission_checks_total",
		Help: "Permission gate decisions.",
	}, []string{"decision"})

	emergencyLockActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "authguard_emergency_lock_active",
		Help: "Emergency lock status: 0=inactive, 1=active.",
	})

	activePermissionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "authguard_active_permissions_total",
		Help: "Number of live entries in the active-permissions aggregate.",
	})

	authOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authguard_auth_outcomes_total",
		Help: "Challenge validation outcomes.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, permissionChecksTotal,
		emergencyLockActive, activePermissionsTotal, authOutcomesTotal)
}

// MetricsHandler returns the Prometheus metrics HTTP handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// metricsMiddleware records request metrics.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rr, r)

		dur := time.Since(start).Seconds()
		status := strconv.Itoa(rr.statusCode)
		requestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		requestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(dur)
	})
}
