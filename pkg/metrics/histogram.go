package metrics

import (
	"math"
	"slices"
	"sync/atomic"
	"time"
)

// Default bucket bounds, in milliseconds.
var (
	// SessionLatencyBuckets covers a full authentication session. Sessions
	// over a remote backend pay one round trip per qubit operation, so the
	// upper buckets reach into seconds.
	SessionLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

	// HandshakeLatencyBuckets covers the hybrid link handshake.
	HandshakeLatencyBuckets = []float64{1, 2, 5, 10, 25, 50, 100, 250, 1000}
)

// Histogram counts latencies into fixed millisecond buckets. Observe is
// lock-free so it can sit on the request path of the backend.
type Histogram struct {
	bounds []float64
	counts []atomic.Uint64 // one per bound, plus the +Inf bucket
	total  atomic.Uint64
	sum    atomic.Uint64 // float64 bits
}

// NewHistogram returns a histogram with the given upper bounds. The bounds
// are copied, sorted and deduplicated.
func NewHistogram(bounds []float64) *Histogram {
	b := slices.Clone(bounds)
	slices.Sort(b)
	b = slices.Compact(b)
	return &Histogram{
		bounds: b,
		counts: make([]atomic.Uint64, len(b)+1),
	}
}

// Observe records a value in milliseconds. A value equal to a bound lands in
// that bound's bucket.
func (h *Histogram) Observe(ms float64) {
	i, _ := slices.BinarySearch(h.bounds, ms)
	h.counts[i].Add(1)
	h.total.Add(1)
	for {
		old := h.sum.Load()
		next := math.Float64bits(math.Float64frombits(old) + ms)
		if h.sum.CompareAndSwap(old, next) {
			return
		}
	}
}

// ObserveDuration records d at microsecond resolution.
func (h *Histogram) ObserveDuration(d time.Duration) {
	h.Observe(float64(d.Microseconds()) / 1000)
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	return h.total.Load()
}

// Reset zeroes every bucket.
func (h *Histogram) Reset() {
	for i := range h.counts {
		h.counts[i].Store(0)
	}
	h.total.Store(0)
	h.sum.Store(0)
}

// BucketCount is one cumulative bucket of a summary.
type BucketCount struct {
	UpperBound float64 `json:"le"`
	Count      uint64  `json:"count"`
}

// HistogramSummary is a point-in-time copy of a histogram with cumulative
// bucket counts, the form Prometheus expects.
type HistogramSummary struct {
	Count   uint64        `json:"count"`
	Sum     float64       `json:"sum"`
	Buckets []BucketCount `json:"buckets"`
}

// Summary copies the histogram. Concurrent observations may be split across
// the copy; the last bucket's count is used as the total so the summary
// stays internally consistent.
func (h *Histogram) Summary() HistogramSummary {
	buckets := make([]BucketCount, len(h.counts))
	var cum uint64
	for i := range h.counts {
		cum += h.counts[i].Load()
		bound := math.Inf(1)
		if i < len(h.bounds) {
			bound = h.bounds[i]
		}
		buckets[i] = BucketCount{UpperBound: bound, Count: cum}
	}
	return HistogramSummary{
		Count:   cum,
		Sum:     math.Float64frombits(h.sum.Load()),
		Buckets: buckets,
	}
}

// Mean is the average observation, or zero when empty.
func (s HistogramSummary) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

// Quantile estimates the q-quantile (0 < q <= 1) by linear interpolation
// inside the bucket holding the rank. Ranks that fall in the +Inf bucket
// report the largest finite bound.
func (s HistogramSummary) Quantile(q float64) float64 {
	if s.Count == 0 || len(s.Buckets) == 0 {
		return 0
	}
	rank := q * float64(s.Count)
	var lower float64
	var below uint64
	for _, b := range s.Buckets {
		if float64(b.Count) >= rank {
			if math.IsInf(b.UpperBound, 1) {
				return lower
			}
			in := b.Count - below
			if in == 0 {
				return b.UpperBound
			}
			return lower + (rank-float64(below))/float64(in)*(b.UpperBound-lower)
		}
		lower, below = b.UpperBound, b.Count
	}
	return lower
}
