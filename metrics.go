package authcore

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one counter or histogram slot.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricAccountLocked
	MetricCaptchaIssued
	MetricCaptchaRequired
	MetricCaptchaSolved
	MetricCaptchaFailed
	MetricTwoFactorRequired
	MetricTwoFactorSuccess
	MetricTwoFactorFailure
	MetricBackupCodeUsed
	MetricBackupCodeFailed
	MetricBackupCodeRegenerated
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuseDetected
	MetricValidateSuccess
	MetricValidateFailure
	MetricTokenRevoked
	MetricSessionCreated
	MetricSessionInvalidated
	MetricSessionCapExceeded
	MetricLogout
	MetricLogoutAll
	MetricRegisterSuccess
	MetricRegisterDuplicate
	MetricRegisterRateLimited
	MetricDeviceTrusted
	MetricDeviceTrustRevoked
	MetricDeviceTrustBypass
	MetricCSRFIssued
	MetricCSRFRejected
	MetricSecurityEvent
	MetricValidateLatency
	metricIDCount
)

// latencyBounds are the upper edges of the validate-latency buckets.
// A final implicit +Inf bucket catches everything slower.
var latencyBounds = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const histBucketCount = len(latencyBounds) + 1

// slot is one counter padded out to a cache line so hot metrics on
// different cores do not false-share.
type slot struct {
	n   uint64
	pad [56]byte
}

// Metrics holds lock-free counters and the validate-latency histogram.
// The write path is allocation-free; exporters read via Snapshot.
type Metrics struct {
	enabled bool
	latency bool

	counts          [metricIDCount]slot
	validateLatency [histBucketCount]uint64
}

// MetricsSnapshot is a point-in-time copy of all metric values.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
		latency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counts[id].n, 1)
}

// Observe records a latency sample. Only MetricValidateLatency carries
// a histogram; other IDs are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.latency || id != MetricValidateLatency {
		return
	}
	atomic.AddUint64(&m.validateLatency[bucketFor(d)], 1)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if m == nil || !m.enabled {
		return snap
	}

	for id := range m.counts {
		snap.Counters[MetricID(id)] = atomic.LoadUint64(&m.counts[id].n)
	}
	if m.latency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&m.validateLatency[i])
		}
		snap.Histograms[MetricValidateLatency] = buckets
	}
	return snap
}

func bucketFor(d time.Duration) int {
	for i, bound := range latencyBounds {
		if d <= bound {
			return i
		}
	}
	return len(latencyBounds)
}
