package metrics

import (
	"sync/atomic"
	"time"
)

// ID names one counter or histogram slot.
type ID uint16

const (
	LoginSuccess ID = iota
	LoginFailure
	LoginRateLimited
	LoginStepUpRequired
	RefreshSuccess
	RefreshFailure
	RefreshReuseDetected
	Logout
	LogoutAll
	AuthorizeAllowed
	AuthorizeDenied
	AuthorizeRejected
	OTPIssued
	OTPVerified
	OTPFailed
	OTPReplayDetected
	OTPAttemptsExceeded
	RegisterSuccess
	RegisterDuplicate
	EmailVerified
	PasswordChangeSuccess
	PasswordChangeInvalidOld
	PasswordHashUpgraded
	ActivityWriteFailure
	LoginLatency
	AuthorizeLatency
	idCount
)

// Count is the number of defined IDs.
const Count = int(idCount)

const (
	// BucketCount is the number of histogram buckets, the last one being +Inf.
	BucketCount   = 8
	cacheLineSize = 64
)

// BucketBoundsMs are the inclusive upper bounds of the finite buckets.
var BucketBoundsMs = [BucketCount - 1]int64{5, 10, 25, 50, 100, 250, 500}

// IsHistogram reports whether id records latencies rather than counts.
func IsHistogram(id ID) bool {
	return id == LoginLatency || id == AuthorizeLatency
}

type histogram struct {
	buckets [BucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Config toggles collection.
type Config struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// Metrics holds lock-free counters. A nil *Metrics records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [idCount]paddedCounter
	histograms    [idCount]histogram
}

// Snapshot is a point-in-time copy. Histogram slices are per-bucket counts,
// not cumulative.
type Snapshot struct {
	Counters   map[ID]uint64
	Histograms map[ID][]uint64
}

func New(cfg Config) *Metrics {
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

func (m *Metrics) Inc(id ID) {
	if m == nil || !m.enabled || id >= idCount || IsHistogram(id) {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in id's histogram; counters ignore it.
func (m *Metrics) Observe(id ID, d time.Duration) {
	if !m.LatencyEnabled() || id >= idCount || !IsHistogram(id) {
		return
	}
	atomic.AddUint64(&m.histograms[id].buckets[bucketIndex(d)], 1)
}

func (m *Metrics) Value(id ID) uint64 {
	if m == nil || id >= idCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		Counters:   map[ID]uint64{},
		Histograms: map[ID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}
	for id := ID(0); id < idCount; id++ {
		if IsHistogram(id) {
			if !m.enableLatency {
				continue
			}
			buckets := make([]uint64, BucketCount)
			for i := range buckets {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()
	for i, bound := range BucketBoundsMs {
		if ms <= bound {
			return i
		}
	}
	return BucketCount - 1
}
