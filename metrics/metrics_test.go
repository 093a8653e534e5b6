package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestRecordStatusAndHTTPResponse(t *testing.T) {
	r := New("spprobe_test_" + t.Name())

	r.RecordPending("deal", "7", "approved")
	r.RecordStatus("deal", "7", "approved", StatusSuccess)
	r.RecordHTTPResponseCode("deal", "7", "approved", 200)

	metric := &dto.Metric{}
	m, err := r.Status.GetMetricWithLabelValues("deal", "7", "approved", StatusSuccess)
	require.NoError(t, err)
	require.NoError(t, m.Write(metric))
	require.Equal(t, float64(1), metric.GetCounter().GetValue())
}

func TestFailureStatusLabel(t *testing.T) {
	require.Equal(t, "failure.timedout", FailureStatus("timedout"))
}

func TestObserveHistograms(t *testing.T) {
	r := New("spprobe_test_" + t.Name())
	r.ObserveFirstByteMs("retrieval", "3", "active", 120)
	r.ObserveLastByteMs("retrieval", "3", "active", 800)
	r.ObserveThroughput("retrieval", "3", "active", 4096)
	r.ObserveCheckDuration("retrieval", "3", "active", 0.8)
}

func TestRemoveProvider(t *testing.T) {
	r := New("spprobe_test_" + t.Name())
	r.RetentionFaulted.WithLabelValues("9", "true").Inc()
	require.True(t, r.RemoveProvider("9", "true"))
	require.False(t, r.RemoveProvider("9", "true"))
}
