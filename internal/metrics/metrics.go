// Package metrics exposes the Prometheus counters and histograms the
// coordinator records around every operation.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the handles the coordinator calls Observe/Inc on. A nil
// *Metrics is never passed around; construct one with New and share it.
type Metrics struct {
	PutLatency prometheus.Histogram
	GetLatency prometheus.Histogram

	WriteSuccess         prometheus.Counter
	WriteFailure         prometheus.Counter
	ReadSuccess          prometheus.Counter
	ReadFailure          prometheus.Counter
	InsufficientReplicas prometheus.Counter

	Errors *prometheus.CounterVec
}

// New registers and returns a fresh Metrics bundle on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PutLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kvstore_put_latency_seconds",
			Help:    "Latency of coordinator PUT operations.",
			Buckets: prometheus.DefBuckets,
		}),
		GetLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kvstore_get_latency_seconds",
			Help:    "Latency of coordinator GET operations.",
			Buckets: prometheus.DefBuckets,
		}),
		WriteSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvstore_write_success_total",
			Help: "Writes (PUT/DELETE) that reached quorum.",
		}),
		WriteFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvstore_write_failure_total",
			Help: "Writes (PUT/DELETE) that did not reach quorum.",
		}),
		ReadSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvstore_read_success_total",
			Help: "GETs that reached quorum.",
		}),
		ReadFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvstore_read_failure_total",
			Help: "GETs that did not reach quorum.",
		}),
		InsufficientReplicas: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kvstore_insufficient_replicas_total",
			Help: "Operations that failed because ack could not be reached.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kvstore_errors_total",
			Help: "Errors observed by the coordinator, labeled by class.",
		}, []string{"class"}),
	}

	reg.MustRegister(
		m.PutLatency, m.GetLatency,
		m.WriteSuccess, m.WriteFailure,
		m.ReadSuccess, m.ReadFailure,
		m.InsufficientReplicas, m.Errors,
	)
	return m
}

func (m *Metrics) RecordWriteSuccess() { m.WriteSuccess.Inc() }
func (m *Metrics) RecordWriteFailure() { m.WriteFailure.Inc() }
func (m *Metrics) RecordReadSuccess()  { m.ReadSuccess.Inc() }
func (m *Metrics) RecordReadFailure()  { m.ReadFailure.Inc() }

// RecordError increments the Errors counter for the given class, e.g. the
// apierr.Kind string the coordinator classified a failed operation under.
func (m *Metrics) RecordError(class string) { m.Errors.WithLabelValues(class).Inc() }
