/*
Package metrics provides Prometheus metrics collection and exposition for repvol.

The metrics package defines and registers all repvol metrics using the Prometheus
client library, providing observability into volume lifecycle, replica
membership, I/O fan-out, and quiescence behavior. Metrics are exposed via an
HTTP endpoint for scraping by Prometheus servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Metric Types                   │          │
	│  │                                              │          │
	│  │  Gauge: Instant values (replicas discovered)│          │
	│  │  Counter: Monotonic increases (io submits)  │          │
	│  │  Histogram: Distributions (completion time) │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Volume: count by state, replica counts     │          │
	│  │  I/O: in-flight ops, submit/retry, latency  │          │
	│  │  Quiescence: pause requests, drain latency  │          │
	│  │  Control plane: add/remove replica, configure│         │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Handler(): promhttp.Handler()            │          │
	│  │  - Format: Prometheus text exposition        │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Metrics Catalog

Volume Metrics:

repvol_volumes_total{state}:
  - Type: Gauge
  - Description: Total number of volumes by state (configuring/online/offline)
  - Labels: state
  - Example: repvol_volumes_total{state="online"} 3

repvol_replicas_discovered{volume}:
  - Type: Gauge
  - Description: Number of base replicas currently discovered (open) per volume
  - Labels: volume

repvol_replicas_target{volume}:
  - Type: Gauge
  - Description: Target number of base replicas configured per volume
  - Labels: volume

I/O Metrics:

repvol_io_ops_in_flight{volume}:
  - Type: Gauge
  - Description: In-flight I/O operations per volume channel set
  - Labels: volume

repvol_io_submit_total{volume, op, outcome}:
  - Type: Counter
  - Description: Total number of I/O operations submitted by type and outcome
  - Labels: volume, op (read/write/flush/unmap/reset), outcome (success/failure)

repvol_io_submit_retry_total{volume}:
  - Type: Counter
  - Description: Total number of I/O submissions queued onto the wait queue
    because the channel set already had MaxInFlightPerChannel operations
    in flight
  - Labels: volume

repvol_io_completion_duration_seconds{volume, op}:
  - Type: Histogram
  - Description: Time from submit to aggregate completion for a VolumeIO
  - Labels: volume, op
  - Buckets: Default Prometheus buckets

Quiescence Metrics:

repvol_pause_drain_duration_seconds{volume}:
  - Type: Histogram
  - Description: Time for all channel sets on a volume to drain to zero
    in-flight io_ops after a pause request
  - Labels: volume

repvol_pause_requests_total{volume}:
  - Type: Counter
  - Description: Total number of pause requests issued per volume
  - Labels: volume

Control-Plane Metrics:

repvol_replica_add_total{volume, outcome}:
  - Type: Counter
  - Description: Total number of add-replica operations by outcome
  - Labels: volume, outcome (success/busy/already_destroying/duplicate/
    invalid_argument/invalid_geometry/base_device_unavailable)

repvol_replica_remove_total{volume, outcome}:
  - Type: Counter
  - Description: Total number of remove-replica operations by outcome
  - Labels: volume, outcome

repvol_configure_duration_seconds:
  - Type: Histogram
  - Description: Time taken to bring a volume from Configuring to Online
  - Buckets: Default Prometheus buckets

# Usage

Updating Gauge Metrics:

	import "github.com/cuemby/repvol/pkg/metrics"

	metrics.VolumesTotal.WithLabelValues("online").Inc()
	metrics.ReplicasDiscovered.WithLabelValues("vol0").Set(3)

Updating Counter Metrics:

	metrics.IOSubmitTotal.WithLabelValues("vol0", "write", "success").Inc()
	metrics.ReplicaAddTotal.WithLabelValues("vol0", "success").Inc()

Recording Histogram Observations:

	timer := metrics.NewTimer()
	// ... submit fan-out and wait for reduction ...
	timer.ObserveDurationVec(metrics.IOCompletionDuration, "vol0", "write")

Complete Example:

	func main() {
		http.Handle("/metrics", metrics.Handler())
		http.ListenAndServe(":9090", nil)
	}

# Integration Points

This package integrates with:

  - pkg/volume: registry, I/O engine, and quiescence controller report counters
  - pkg/bdev: base-device open/claim failures surface as replica_add outcomes
  - Prometheus: scrapes /metrics endpoint

# Design Patterns

Package Init Registration:
  - All metrics registered in init() via MustRegister
  - Panics on duplicate registration, so package is imported exactly once

Label Discipline:
  - Labels are volume name, op kind, and bounded outcome strings
  - Never label by replica handle or VolumeIO identity (unbounded cardinality)

Timer Pattern:
  - Create a Timer at submit time, ObserveDuration/ObserveDurationVec at
    aggregate completion

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
*/
package metrics
