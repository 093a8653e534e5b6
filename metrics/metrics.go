// Package metrics holds the Prometheus instrumentation for observation
// recording: histograms for latency/throughput and counters for
// status/response-code labels, all scoped under the "spprobe" namespace.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds every Prometheus metric the observation recorder (C9)
// and retention poller (C5) emit.
type Recorder struct {
	FirstByteMs   *prometheus.HistogramVec
	LastByteMs    *prometheus.HistogramVec
	Throughput    *prometheus.HistogramVec
	CheckDuration *prometheus.HistogramVec
	Status        *prometheus.CounterVec
	HTTPResponse  *prometheus.CounterVec

	RetentionFaulted *prometheus.CounterVec
	RetentionSuccess *prometheus.CounterVec
}

// New creates and registers all metrics under namespace, defaulting to
// "spprobe" when empty.
func New(namespace string) *Recorder {
	if namespace == "" {
		namespace = "spprobe"
	}

	labels := []string{"check_type", "provider_id", "provider_status"}

	return &Recorder{
		FirstByteMs: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "first_byte_ms",
				Help:      "Time to first byte of a probe response, in milliseconds",
				Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
			labels,
		),
		LastByteMs: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "last_byte_ms",
				Help:      "Time to last byte of a probe response, in milliseconds",
				Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 10000, 30000, 60000},
			},
			labels,
		),
		Throughput: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "throughput_bytes_per_second",
				Help:      "Observed throughput of a probe in bytes per second",
				Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
			},
			labels,
		),
		CheckDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "check_duration_seconds",
				Help:      "End-to-end duration of one probe check",
				Buckets:   prometheus.DefBuckets,
			},
			labels,
		),
		Status: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "check_status_total",
				Help:      "Total probe checks by terminal status",
			},
			append(append([]string{}, labels...), "status"),
		),
		HTTPResponse: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_response_code_total",
				Help:      "Total HTTP responses observed during probes, by status code",
			},
			append(append([]string{}, labels...), "response_code"),
		),
		RetentionFaulted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_faulted_periods_total",
				Help:      "Cumulative faulted proving periods observed, by provider",
			},
			[]string{"provider_id", "approved"},
		),
		RetentionSuccess: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_success_periods_total",
				Help:      "Cumulative successful proving periods observed, by provider",
			},
			[]string{"provider_id", "approved"},
		),
	}
}

// Status label values, per spec.md §4.7.
const (
	StatusPending             = "pending"
	StatusSuccess             = "success"
	StatusFailureTimedOut     = "failure.timedout"
	StatusFailureValidation   = "failure.validation"
	StatusFailurePrefix       = "failure."
)

// FailureStatus builds a "failure.<errorCode>" label value.
func FailureStatus(errorCode string) string {
	return StatusFailurePrefix + errorCode
}

// RecordPending emits the pending observation that is always written
// before a check begins; the final status overrides via label semantics
// at the next RecordStatus call, not by mutating this one.
func (r *Recorder) RecordPending(checkType, providerID, providerStatus string) {
	r.Status.WithLabelValues(checkType, providerID, providerStatus, StatusPending).Inc()
}

// RecordStatus records the terminal status of a check.
func (r *Recorder) RecordStatus(checkType, providerID, providerStatus, status string) {
	r.Status.WithLabelValues(checkType, providerID, providerStatus, status).Inc()
}

// RecordHTTPResponseCode records the HTTP status code observed for a check.
func (r *Recorder) RecordHTTPResponseCode(checkType, providerID, providerStatus string, code int) {
	r.HTTPResponse.WithLabelValues(checkType, providerID, providerStatus, httpCodeLabel(code)).Inc()
}

func httpCodeLabel(code int) string {
	if code <= 0 {
		return "none"
	}
	return strconv.Itoa(code)
}

// ObserveFirstByteMs records TTFB for a check.
func (r *Recorder) ObserveFirstByteMs(checkType, providerID, providerStatus string, ms float64) {
	r.FirstByteMs.WithLabelValues(checkType, providerID, providerStatus).Observe(ms)
}

// ObserveLastByteMs records total latency for a check.
func (r *Recorder) ObserveLastByteMs(checkType, providerID, providerStatus string, ms float64) {
	r.LastByteMs.WithLabelValues(checkType, providerID, providerStatus).Observe(ms)
}

// ObserveThroughput records bytes/sec for a check.
func (r *Recorder) ObserveThroughput(checkType, providerID, providerStatus string, bps float64) {
	r.Throughput.WithLabelValues(checkType, providerID, providerStatus).Observe(bps)
}

// ObserveCheckDuration records the end-to-end duration of a check, in
// seconds.
func (r *Recorder) ObserveCheckDuration(checkType, providerID, providerStatus string, seconds float64) {
	r.CheckDuration.WithLabelValues(checkType, providerID, providerStatus).Observe(seconds)
}

// RemoveProvider deletes the (providerID, approved) series from both
// retention counters and reports whether either series existed; the
// retention poller calls it for providers absent from the latest active
// set and drops their baseline only when it returns true (§4.5).
func (r *Recorder) RemoveProvider(providerID, approved string) bool {
	faultedRemoved := r.RetentionFaulted.DeleteLabelValues(providerID, approved)
	successRemoved := r.RetentionSuccess.DeleteLabelValues(providerID, approved)
	return faultedRemoved || successRemoved
}
