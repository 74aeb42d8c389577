package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
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

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ready",
		Help: "Whether the service is ready to serve traffic.",
	})
)

// Domain counters.
var (
	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logins_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	registrationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "registrations_total",
		Help: "New user registrations.",
	})

	authCodesIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_codes_issued_total",
		Help: "Authorization codes issued.",
	})

	tokensIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokens_issued_total",
			Help: "Access tokens issued by grant type.",
		},
		[]string{"grant_type"},
	)

	userMergesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "user_merges_total",
		Help: "Completed account merges.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
		loginsTotal, registrationsTotal, authCodesIssuedTotal, tokensIssuedTotal, userMergesTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func SetReady(ok bool) {
	if ok {
		ready.Set(1)
	} else {
		ready.Set(0)
	}
}

func RecordLogin(outcome string)     { loginsTotal.WithLabelValues(outcome).Inc() }
func RecordRegistration()            { registrationsTotal.Inc() }
func RecordAuthCodeIssued()          { authCodesIssuedTotal.Inc() }
func RecordTokenIssued(grant string) { tokensIssuedTotal.WithLabelValues(grant).Inc() }
func RecordUserMerge()               { userMergesTotal.Inc() }

var idCollections = map[string]bool{
	"users":       true,
	"orgs":        true,
	"teams":       true,
	"clients":     true,
	"resources":   true,
	"permissions": true,
}

var idSubPaths = map[string]bool{
	"teams":       true,
	"resources":   true,
	"permissions": true,
	"grants":      true,
	"team-access": true,
	"emails":      true,
}

// CanonicalPath collapses identifier segments so metric labels stay bounded.
// /v1/users/<id> becomes /v1/users/:id; unknown shapes pass through unchanged.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) >= 3 && parts[0] == "v1" && idCollections[parts[1]] {
		if len(parts) == 3 {
			return "/v1/" + parts[1] + "/:id"
		}
		if len(parts) == 4 && idSubPaths[parts[3]] {
			return "/v1/" + parts[1] + "/:id/" + parts[3]
		}
	}
	return p
}

// Instrument wraps a handler with in-flight, RPS and latency metrics.
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

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
