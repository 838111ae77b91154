package rtauth

import (
	"sync/atomic"
	"time"
)

// MetricID indexes one engine counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	// MetricLoginSuperseded counts logins that replaced a live pair.
	MetricLoginSuperseded
	MetricPasswordLoginFailure
	MetricRefreshSuccess
	MetricRefreshFailure
	// MetricRefreshConflict counts refreshes that lost a concurrent rotation.
	MetricRefreshConflict
	MetricLogout
	// MetricRevocationMarkerWritten counts access tokens marked revoked by
	// logout or refresh.
	MetricRevocationMarkerWritten
	MetricAuthenticateSuccess
	MetricAuthenticateFailure
	MetricAuthenticateRevoked
	MetricSecondFactorSuccess
	MetricSecondFactorFailure
	MetricStoreUnavailable
	// MetricThrottled counts attempts refused by the failure throttle.
	MetricThrottled
	// MetricAuthenticateLatency is the only histogram-backed ID.
	MetricAuthenticateLatency
	metricIDCount
)

// MetricIDCount is the number of defined metric IDs.
const MetricIDCount = int(metricIDCount)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

// HistogramBucketCount is the number of buckets in every latency histogram.
const HistogramBucketCount = histBucketCount

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed array of padded atomic counters. Recording never
// allocates or locks.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to id. A nil or disabled Metrics ignores the call.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the histogram for id.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricAuthenticateLatency {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, MetricIDCount),
		Histograms: make(map[MetricID][]uint64, 1),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricAuthenticateLatency].buckets[i])
		}
		s.Histograms[MetricAuthenticateLatency] = buckets
	}
	return s
}

var histogramBounds = [histBucketCount - 1]time.Duration{
	500 * time.Microsecond,
	time.Millisecond,
	2500 * time.Microsecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
}

// HistogramUpperBounds returns the inclusive upper bound of every bucket
// except the last, which is unbounded.
func HistogramUpperBounds() []time.Duration {
	out := make([]time.Duration, len(histogramBounds))
	copy(out, histogramBounds[:])
	return out
}

func bucketIndex(d time.Duration) int {
	for i, upper := range histogramBounds {
		if d <= upper {
			return i
		}
	}
	return histBucketCount - 1
}
