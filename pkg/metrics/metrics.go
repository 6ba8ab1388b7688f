package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Volume metrics
	VolumesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "repvol_volumes_total",
			Help: "Total number of volumes by state",
		},
		[]string{"state"},
	)

	ReplicasDiscovered = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "repvol_replicas_discovered",
			Help: "Number of base replicas currently discovered (open) per volume",
		},
		[]string{"volume"},
	)

	ReplicasTarget = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "repvol_replicas_target",
			Help: "Target number of base replicas configured per volume",
		},
		[]string{"volume"},
	)

	// I/O metrics
	IOOpsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "repvol_io_ops_in_flight",
			Help: "In-flight I/O operations per volume channel set",
		},
		[]string{"volume"},
	)

	IOSubmitTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repvol_io_submit_total",
			Help: "Total number of I/O operations submitted by type and outcome",
		},
		[]string{"volume", "op", "outcome"},
	)

	IOSubmitRetryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repvol_io_submit_retry_total",
			Help: "Total number of I/O submissions requeued onto the wait queue after an out-of-memory condition",
		},
		[]string{"volume"},
	)

	IOCompletionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repvol_io_completion_duration_seconds",
			Help:    "Time from submit to aggregate completion for a VolumeIO, in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"volume", "op"},
	)

	// Quiescence metrics
	PauseDrainDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repvol_pause_drain_duration_seconds",
			Help:    "Time for all channel sets on a volume to drain to zero in-flight io_ops after a pause request",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"volume"},
	)

	PauseRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repvol_pause_requests_total",
			Help: "Total number of pause requests issued per volume",
		},
		[]string{"volume"},
	)

	// Control-plane metrics
	ReplicaAddTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repvol_replica_add_total",
			Help: "Total number of add-replica operations by outcome",
		},
		[]string{"volume", "outcome"},
	)

	ReplicaRemoveTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repvol_replica_remove_total",
			Help: "Total number of remove-replica operations by outcome",
		},
		[]string{"volume", "outcome"},
	)

	ConfigureDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "repvol_configure_duration_seconds",
			Help:    "Time taken to bring a volume from Configuring to Online, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(VolumesTotal)
	prometheus.MustRegister(ReplicasDiscovered)
	prometheus.MustRegister(ReplicasTarget)

	prometheus.MustRegister(IOOpsInFlight)
	prometheus.MustRegister(IOSubmitTotal)
	prometheus.MustRegister(IOSubmitRetryTotal)
	prometheus.MustRegister(IOCompletionDuration)

	prometheus.MustRegister(PauseDrainDuration)
	prometheus.MustRegister(PauseRequestsTotal)

	prometheus.MustRegister(ReplicaAddTotal)
	prometheus.MustRegister(ReplicaRemoveTotal)
	prometheus.MustRegister(ConfigureDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
