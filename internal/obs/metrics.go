package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Common HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)
)

// Identity domain metrics.
var (
	authAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Authentication attempts by outcome.",
		},
		[]string{"result"}, // success | failure | locked
	)

	accountLockoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "account_lockouts_total",
		Help: "Accounts transitioned into the locked state.",
	})

	tokensIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tokens_issued_total",
		Help: "Access tokens issued.",
	})

	tokenResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_resolutions_total",
			Help: "Token resolutions by outcome.",
		},
		[]string{"result"}, // ok | invalid | error
	)

	permissionChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permission_checks_total",
			Help: "Permission checks by outcome.",
		},
		[]string{"result"}, // granted | denied | error
	)
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		authAttemptsTotal, accountLockoutsTotal,
		tokensIssuedTotal, tokenResolutionsTotal, permissionChecksTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordAuthAttempt(result string)     { authAttemptsTotal.WithLabelValues(result).Inc() }
func RecordAccountLockout()               { accountLockoutsTotal.Inc() }
func RecordTokenIssued()                  { tokensIssuedTotal.Inc() }
func RecordTokenResolution(result string) { tokenResolutionsTotal.WithLabelValues(result).Inc() }
func RecordPermissionCheck(result string) { permissionChecksTotal.WithLabelValues(result).Inc() }

// CanonicalPath collapses entity ids in known route shapes so the path
// label stays low-cardinality.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	if len(parts) >= 3 && parts[0] == "v1" {
		switch parts[1] {
		case "users", "services", "roles":
			if len(parts) == 3 {
				parts[2] = ":id"
				return "/" + strings.Join(parts, "/")
			}
			if len(parts) == 4 {
				switch parts[3] {
				case "roles", "permissions", "unlock", "activate", "deactivate":
					parts[2] = ":id"
					return "/" + strings.Join(parts, "/")
				}
			}
		}
	}
	return p
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
