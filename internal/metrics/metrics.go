// Package metrics defines the Prometheus collectors shared by the bot worker
// and the control server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "terifai"

var (
	// cloneJobsTotal counts clone jobs by provider and outcome.
	cloneJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clone_jobs_total",
			Help:      "Total number of voice clone jobs by outcome",
		},
		[]string{"provider", "status"}, // status: submitted, completed, failed, timeout
	)

	cloneJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "clone_job_duration_seconds",
			Help:      "Duration of voice clone jobs in seconds",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"provider"},
	)

	voiceDeletesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_deletes_total",
			Help:      "Total number of cloned voice deletions",
		},
		[]string{"provider", "status"}, // status: success, error
	)

	capturedSecondsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captured_voiced_seconds_total",
			Help:      "Seconds of voiced audio flushed to clone jobs",
		},
	)

	providerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of external provider calls in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "operation", "status"},
	)

	botsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bots_active",
			Help:      "Number of bot workers currently tracked as running",
		},
	)

	botStartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bot_starts_total",
			Help:      "Total number of bot start requests by outcome",
		},
		[]string{"spawner", "status"}, // status: started, rejected, error
	)

	allMetrics = []prometheus.Collector{
		cloneJobsTotal,
		cloneJobDuration,
		voiceDeletesTotal,
		capturedSecondsTotal,
		providerRequestDuration,
		botsActive,
		botStartsTotal,
	}
)

// NewRegistry returns a registry with every terifai collector plus the Go
// runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, c := range allMetrics {
		reg.MustRegister(c)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func RecordCloneJob(provider, status string) {
	cloneJobsTotal.WithLabelValues(provider, status).Inc()
}

func RecordCloneDuration(provider string, seconds float64) {
	cloneJobDuration.WithLabelValues(provider).Observe(seconds)
}

func RecordVoiceDelete(provider, status string) {
	voiceDeletesTotal.WithLabelValues(provider, status).Inc()
}

func RecordCapturedSeconds(seconds float64) {
	if seconds > 0 {
		capturedSecondsTotal.Add(seconds)
	}
}

func RecordProviderRequest(provider, operation, status string, seconds float64) {
	providerRequestDuration.WithLabelValues(provider, operation, status).Observe(seconds)
}

func RecordBotStart(spawner, status string) {
	botStartsTotal.WithLabelValues(spawner, status).Inc()
}

func SetBotsActive(n int) { botsActive.Set(float64(n)) }
