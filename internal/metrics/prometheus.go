package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/davidleathers/crm-dnc-relay/internal/domain/dnc"
)

const namespace = "dnc_relay"

var breakerStates = []string{"closed", "open", "half_open"}

// PrometheusSink counts checks by cache status and degraded lists.
type PrometheusSink struct {
	checks       *prometheus.CounterVec
	degraded     *prometheus.CounterVec
	matches      *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	breakerState *prometheus.GaugeVec
}

// NewPrometheusSink registers the DNC check collectors with reg.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	factory := promauto.With(reg)
	return &PrometheusSink{
		checks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dnc_checks_total",
			Help:      "DNC checks by cache status.",
		}, []string{"cache_status"}),
		degraded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dnc_degraded_checks_total",
			Help:      "List checks that failed open.",
		}, []string{"list"}),
		matches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dnc_matches_total",
			Help:      "Checks whose verdict matched a list.",
		}, []string{"list"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dnc_check_duration_seconds",
			Help:      "Duration of orchestrated DNC checks.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"cache_status"}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "list_circuit_state",
			Help:      "1 for the current circuit state of each list checker.",
		}, []string{"list", "state"}),
	}
}

// Record implements dnc.EventSink.
func (s *PrometheusSink) Record(_ context.Context, event dnc.CheckEvent) {
	status := string(event.CacheStatus)
	s.checks.WithLabelValues(status).Inc()
	s.duration.WithLabelValues(status).Observe(event.Duration.Seconds())

	if event.BlacklistError != "" {
		s.degraded.WithLabelValues(dnc.ListCompanyBlacklist.String()).Inc()
	}
	if event.NationalError != "" {
		s.degraded.WithLabelValues(dnc.ListNationalRegistry.String()).Inc()
	}
	if event.IsBlacklisted {
		s.matches.WithLabelValues(dnc.ListCompanyBlacklist.String()).Inc()
	}
	if event.IsNationalDNC {
		s.matches.WithLabelValues(dnc.ListNationalRegistry.String()).Inc()
	}
}

// SetBreakerState marks state as the current circuit state of list.
func (s *PrometheusSink) SetBreakerState(list, state string) {
	for _, st := range breakerStates {
		v := 0.0
		if st == state {
			v = 1
		}
		s.breakerState.WithLabelValues(list, st).Set(v)
	}
}

// HTTPMetrics instruments inbound requests by route pattern.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewHTTPMetrics registers the HTTP collectors with reg.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	factory := promauto.With(reg)
	return &HTTPMetrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// Observe records one finished request.
func (m *HTTPMetrics) Observe(method, route string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	m.requests.WithLabelValues(method, route, code).Inc()
	m.duration.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
}

// Middleware records every request passing through next. Routes are
// labelled by the matched ServeMux pattern to keep cardinality bounded.
func (m *HTTPMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.Observe(r.Method, route, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
