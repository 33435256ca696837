package obs

import (
	"net/http"
	"runtime"
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

// Governance metrics
var (
	governanceOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildhall_governance_operations_total",
			Help: "Governance entry point invocations by operation and result.",
		},
		[]string{"op", "result"},
	)

	reentrancyBlocked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "guildhall_treasury_reentrancy_blocked_total",
		Help: "Treasury withdrawals rejected because a withdrawal was already in progress.",
	})

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "guildhall_ready",
		Help: "1 when the service reports ready.",
	})

	organizations = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "guildhall_organizations",
		Help: "Organizations hosted by this process.",
	})

	stateSaveFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "guildhall_state_save_failures_total",
		Help: "Organization snapshots that could not be written to durable storage.",
	})

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "guildhall_build_info",
			Help: "Guildhall build information; always 1.",
		},
		[]string{"version", "commit", "go_version"},
	)
)

var initOnce sync.Once

// Init registers all metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			governanceOps, reentrancyBlocked, ready,
			organizations, stateSaveFailures, buildInfo,
		)
	})
}

// SetBuildInfo publishes the running version next to the governance metrics.
func SetBuildInfo(version, commit string) {
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveOperation counts one governance entry point call. result is "ok" or
// the error category.
func ObserveOperation(op, result string) {
	governanceOps.WithLabelValues(op, result).Inc()
}

func ObserveReentrancyBlocked() {
	reentrancyBlocked.Inc()
}

func SetOrganizations(n int) {
	organizations.Set(float64(n))
}

func ObserveStateSaveFailure() {
	stateSaveFailures.Inc()
}

func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// routeWords are the fixed path segments of the API; anything else under
// /v1 is an identifier.
var routeWords = map[string]bool{
	"orgs": true, "roles": true, "admins": true, "stake": true, "unstake": true,
	"stakes": true, "sync": true, "proposals": true, "votes": true,
	"activate": true, "finalize": true, "execute": true, "cancel": true,
	"treasury": true, "deposit": true, "withdraw": true, "limit": true,
	"public-deposits": true, "vaults": true, "ledger": true, "accounts": true,
	"faucet": true, "transactions": true, "activity": true, "stream": true,
	"auth": true, "token": true, "info": true,
}

// CanonicalPath collapses identifiers in request paths to keep label
// cardinality bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" {
		return p
	}
	for i := 1; i < len(parts); i++ {
		if (i == 2 && parts[1] == "orgs") || !routeWords[parts[i]] {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}

// Instrument measures in-flight, count and latency of HTTP requests.
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

// Flush lets SSE handlers stream through the instrumentation wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
