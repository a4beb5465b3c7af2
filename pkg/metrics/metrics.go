package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spanners_jobs_total",
			Help: "Total number of jobs by status",
		},
		[]string{"status"},
	)

	UsersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "spanners_users_total",
			Help: "Total number of user accounts",
		},
	)

	// Scheduler metrics
	WorkersLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "spanners_workers_live",
			Help: "Number of currently live worker processes",
		},
	)

	WorkersSpawned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spanners_workers_spawned_total",
			Help: "Total number of worker processes spawned",
		},
	)

	WorkersReaped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spanners_workers_reaped_total",
			Help: "Total number of reaped workers by outcome",
		},
		[]string{"outcome"},
	)

	// Client I/O metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spanners_requests_total",
			Help: "Total number of client requests by type and status",
		},
		[]string{"type", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spanners_request_duration_seconds",
			Help:    "Client request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(UsersTotal)
	prometheus.MustRegister(WorkersLive)
	prometheus.MustRegister(WorkersSpawned)
	prometheus.MustRegister(WorkersReaped)
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on the given address. Blocks; run in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
