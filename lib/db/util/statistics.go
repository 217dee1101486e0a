// Package util
//
// This file implements a size histogram for tracking the distribution of record sizes.
// The histogram uses exponential bucket sizing to cover values from a few bytes to
// gigabytes with a fixed number of counters, so GetInfo can report size estimates
// without keeping every sample.
package util

import (
	"math"
	"sync"
)

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// sizeBoundaries are the upper bounds of the histogram buckets.
// The last bucket collects all larger values.
var sizeBoundaries = []int{
	16, 64, 256, 1024, 4096, // Bytes: 16B to 4KB
	16384, 65536, 262144, 1048576, // KB range: 16KB to 1MB
	4194304, 16777216, 67108864, // MB range: 4MB to 64MB
	268435456, 1073741824, 4294967296, // Above 256MB to 4GB
}

// SizeHistogram tracks the distribution of data sizes
//
// Thread-safety: All methods are safe for concurrent use
type SizeHistogram struct {
	mutex   sync.RWMutex
	buckets []int64 // Count of samples per bucket
	count   int64   // Total number of samples
	sum     int64   // Sum of all sampled sizes
	max     int     // Largest sample
}

// SizeSummary is a point-in-time view of a SizeHistogram
type SizeSummary struct {
	Count   int64 `json:"count"`
	Total   int64 `json:"total_bytes"`
	Average int   `json:"average_bytes"`
	P50     int   `json:"p50_bytes"`
	P99     int   `json:"p99_bytes"`
	Max     int   `json:"max_bytes"`
}

// NewSizeHistogram creates an empty size histogram
func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{
		buckets: make([]int64, len(sizeBoundaries)+1),
	}
}

// bucketOf returns the index of the bucket a size falls into
func bucketOf(size int) int {
	for i, boundary := range sizeBoundaries {
		if size <= boundary {
			return i
		}
	}
	return len(sizeBoundaries)
}

// AddSample adds a size sample to the histogram
func (h *SizeHistogram) AddSample(size int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.buckets[bucketOf(size)]++
	h.count++
	h.sum += int64(size)
	if size > h.max {
		h.max = size
	}
}

// GetCount returns the total number of samples
func (h *SizeHistogram) GetCount() int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.count
}

// GetTotal returns the sum of all samples
func (h *SizeHistogram) GetTotal() int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.sum
}

// AverageSize returns the average size across all samples
func (h *SizeHistogram) AverageSize() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.count == 0 {
		return 0
	}
	return int(h.sum / h.count)
}

// GetPercentileEstimate returns an estimate for the given percentile (0-100).
// The estimate is the midpoint of the bucket the percentile falls into.
func (h *SizeHistogram) GetPercentileEstimate(percentile int) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.percentileLocked(percentile)
}

func (h *SizeHistogram) percentileLocked(percentile int) int {
	if h.count == 0 || percentile < 0 || percentile > 100 {
		return 0
	}

	target := int64(math.Ceil(float64(h.count) * float64(percentile) / 100.0))
	cumulative := int64(0)

	for i, count := range h.buckets {
		cumulative += count
		if cumulative < target {
			continue
		}
		switch {
		case i == 0:
			return sizeBoundaries[0] / 2
		case i < len(sizeBoundaries):
			return (sizeBoundaries[i-1] + sizeBoundaries[i]) / 2
		default:
			// no upper bound, the largest sample is the best estimate
			return h.max
		}
	}

	return int(h.sum / h.count)
}

// Summary returns count, total, average, p50, p99 and max in one consistent view
func (h *SizeHistogram) Summary() SizeSummary {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	s := SizeSummary{
		Count: h.count,
		Total: h.sum,
		P50:   h.percentileLocked(50),
		P99:   h.percentileLocked(99),
		Max:   h.max,
	}
	if h.count > 0 {
		s.Average = int(h.sum / h.count)
	}
	return s
}
