package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
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
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Identity core metrics
var (
	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Administrator login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	sessionResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_session_resolutions_total",
			Help: "Session lookups by outcome.",
		},
		[]string{"outcome"},
	)

	tokenResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_token_resolutions_total",
			Help: "Client access token resolutions by resolved kind.",
		},
		[]string{"kind"},
	)

	auditFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Audit entries that could not be persisted.",
		},
		[]string{"reason"},
	)

	passwordHashDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "auth_password_hash_duration_seconds",
		Help:    "Time spent computing or verifying password digests.",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
	})
)

var initOnce sync.Once

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			loginAttempts, sessionResolutions, tokenResolutions,
			auditFailures, passwordHashDuration,
		)
	})
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLogin counts a login attempt ("success", "invalid_credentials", "error").
func ObserveLogin(outcome string) { loginAttempts.WithLabelValues(outcome).Inc() }

// ObserveSessionResolve counts a session lookup ("active", "missing", "expired", "revoked", "inactive", "error").
func ObserveSessionResolve(outcome string) { sessionResolutions.WithLabelValues(outcome).Inc() }

// ObserveTokenResolve counts a client token resolution by kind ("document_upload", "case", "not_found").
func ObserveTokenResolve(kind string) { tokenResolutions.WithLabelValues(kind).Inc() }

// ObserveAuditFailure counts an audit entry that was dropped.
func ObserveAuditFailure(reason string) { auditFailures.WithLabelValues(reason).Inc() }

// ObservePasswordHash records how long one argon2 computation took.
func ObservePasswordHash(d time.Duration) { passwordHashDuration.Observe(d.Seconds()) }

var knownPaths = map[string]struct{}{
	"/":                         {},
	"/healthz":                  {},
	"/readyz":                   {},
	"/metrics":                  {},
	"/v1/info":                  {},
	"/v1/admin/login":           {},
	"/v1/admin/logout":          {},
	"/v1/admin/session":         {},
	"/v1/admin/change-password": {},
	"/v1/portal/resolve-token":  {},
}

// CanonicalPath maps a request path onto a bounded label set.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if _, ok := knownPaths[path]; ok {
		return path
	}
	return "unmatched"
}

// Instrument measures in-flight requests, totals and latency.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
