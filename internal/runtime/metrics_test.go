package runtime

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NoError(t, m.Register())
	require.NoError(t, m.Register())

	other := NewMetrics(reg)
	require.NoError(t, other.Register(), "already registered collectors are tolerated")
}

func TestMetricsRecordings(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	require.NoError(t, m.Register())

	m.ObserveRequest(OutcomeSucceeded, 2*time.Second)
	m.RecordDLQ(ReasonProcessing)
	m.RecordDLQ(ReasonProcessing)
	m.RecordDLQSendFailure()
	m.RecordResultPublished(true)
	m.RecordResultPublished(false)
	m.RecordAckGap()
	m.RecordCacheLookup(true)
	m.RecordCacheLookup(false)
	m.RecordCacheLookup(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsConsumed.WithLabelValues(OutcomeSucceeded)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.dlqMessages.WithLabelValues(ReasonProcessing)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dlqSendFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resultsPublished.WithLabelValues("published")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resultsPublished.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ackGaps))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))

	count, err := testutil.GatherAndCount(reg, "bifrost_processing_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		require.NoError(t, m.Register())
		m.ObserveRequest(OutcomeFailed, time.Second)
		m.RecordDLQ(ReasonDeserialization)
		m.RecordDLQSendFailure()
		m.RecordResultPublished(true)
		m.RecordAckGap()
		m.RecordCacheLookup(true)
	})
}
