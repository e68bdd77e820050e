package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/topspeed/backend/internal/health"
)

var (
	// Auth flow metrics

	OTPIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "topspeed",
		Name:      "otp_issued_total",
		Help:      "Verification codes issued, by purpose.",
	}, []string{"purpose"})

	OTPVerificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "topspeed",
		Name:      "otp_verifications_total",
		Help:      "Verification attempts, by outcome.",
	}, []string{"outcome"})

	MailDispatchFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "topspeed",
		Name:      "mail_dispatch_failures_total",
		Help:      "Verification emails that could not be dispatched.",
	})

	SessionsIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "topspeed",
		Name:      "sessions_issued_total",
		Help:      "Session tokens minted.",
	})

	// Sweeper metrics

	SweeperPurgedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "topspeed",
		Name:      "sweeper_purged_total",
		Help:      "Rows removed by the maintenance sweeper, by kind.",
	}, []string{"kind"})

	SweeperCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "topspeed",
		Name:      "sweeper_cycle_duration_seconds",
		Help:      "Time taken for one sweeper cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "topspeed",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "topspeed",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		OTPIssuedTotal,
		OTPVerificationsTotal,
		MailDispatchFailuresTotal,
		SessionsIssuedTotal,
		SweeperPurgedTotal,
		SweeperCycleDuration,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// NewServer exposes /metrics plus the health endpoints on a port
// separate from the public API.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, http.StatusOK, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		result := checker.Readiness(r.Context())
		status := http.StatusOK
		if result.Status != "up" {
			status = http.StatusServiceUnavailable
		}
		writeResult(w, status, result)
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeResult(w http.ResponseWriter, status int, result health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(result)
}
