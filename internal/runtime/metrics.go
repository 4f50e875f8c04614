package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes used as the "outcome" label.
const (
	OutcomeSucceeded       = "succeeded"
	OutcomeFailed          = "failed"
	OutcomeDeserialization = "deserialization_error"
	OutcomeCancelled       = "cancelled"
)

// DLQ reasons used as the "reason" label and the failure-reason header.
const (
	ReasonDeserialization = "deserialization"
	ReasonProcessing      = "processing"
)

// Metrics tracks pipeline statistics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	mu sync.Mutex

	requestsConsumed   *prometheus.CounterVec
	processingDuration *prometheus.HistogramVec
	dlqMessages        *prometheus.CounterVec
	dlqSendFailures    prometheus.Counter
	resultsPublished   *prometheus.CounterVec
	ackGaps            prometheus.Counter
	cacheLookups       *prometheus.CounterVec

	registerer prometheus.Registerer
	registered bool
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bifrost",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bifrost",
		Name:      name,
		Help:      help,
	})
}

// NewMetrics creates the collectors. A nil registerer means the default one.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		registerer:       registerer,
		requestsConsumed: newCounterVec("requests_consumed_total", "Analysis requests consumed, by outcome", []string{"outcome"}),
		processingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "bifrost",
				Name:      "processing_duration_seconds",
				Help:      "Time spent handling one analysis request, AI call included",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		dlqMessages:      newCounterVec("dlq_messages_total", "Records routed to the dead letter topic, by reason", []string{"reason"}),
		dlqSendFailures:  newCounter("dlq_send_failures_total", "Dead letter sends that failed; the record was dropped"),
		resultsPublished: newCounterVec("results_published_total", "Analysis results published, by status", []string{"status"}),
		ackGaps:          newCounter("ack_gap_total", "Records committed although their result was not published"),
		cacheLookups:     newCounterVec("analysis_cache_lookups_total", "Analysis cache lookups, by result", []string{"result"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.requestsConsumed,
		m.processingDuration,
		m.dlqMessages,
		m.dlqSendFailures,
		m.resultsPublished,
		m.ackGaps,
		m.cacheLookups,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// ObserveRequest records one handled request.
func (m *Metrics) ObserveRequest(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsConsumed.WithLabelValues(outcome).Inc()
	m.processingDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordDLQ records a record handed to the dead letter producer.
func (m *Metrics) RecordDLQ(reason string) {
	if m == nil {
		return
	}
	m.dlqMessages.WithLabelValues(reason).Inc()
}

// RecordDLQSendFailure records a dropped dead letter.
func (m *Metrics) RecordDLQSendFailure() {
	if m == nil {
		return
	}
	m.dlqSendFailures.Inc()
}

// RecordResultPublished records a result publish attempt.
func (m *Metrics) RecordResultPublished(ok bool) {
	if m == nil {
		return
	}
	status := "published"
	if !ok {
		status = "failed"
	}
	m.resultsPublished.WithLabelValues(status).Inc()
}

// RecordAckGap records a record acked without a published result.
func (m *Metrics) RecordAckGap() {
	if m == nil {
		return
	}
	m.ackGaps.Inc()
}

// RecordCacheLookup records an analysis cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
