package stats

import (
	"time"
)

// defaultBounds are the latency bucket upper bounds. The top bucket is
// open-ended.
var defaultBounds = []time.Duration{
	1 * time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	1 * time.Second,
	2500 * time.Millisecond,
	5 * time.Second,
	10 * time.Second,
}

// histogram is a fixed-bucket latency histogram. Not safe for concurrent
// use; the aggregator serializes access.
type histogram struct {
	bounds []time.Duration
	counts []uint64
	count  uint64
	sum    time.Duration
	min    time.Duration
	max    time.Duration
}

func newHistogram() *histogram {
	return &histogram{
		bounds: defaultBounds,
		counts: make([]uint64, len(defaultBounds)+1),
	}
}

func (h *histogram) observe(d time.Duration) {
	if d < 0 {
		d = 0
	}
	i := 0
	for i < len(h.bounds) && d > h.bounds[i] {
		i++
	}
	h.counts[i]++
	h.count++
	h.sum += d
	if h.count == 1 || d < h.min {
		h.min = d
	}
	if d > h.max {
		h.max = d
	}
}

// percentile returns an upper-bound estimate for the p-th percentile,
// p in (0, 1]. With no observations it returns zero.
func (h *histogram) percentile(p float64) time.Duration {
	if h.count == 0 {
		return 0
	}
	if p <= 0 {
		return h.min
	}
	if p > 1 {
		p = 1
	}
	rank := uint64(p * float64(h.count))
	if rank == 0 {
		rank = 1
	}
	var seen uint64
	for i, c := range h.counts {
		seen += c
		if seen >= rank {
			if i < len(h.bounds) {
				return h.bounds[i]
			}
			// open-ended top bucket: the recorded maximum is the
			// tightest bound available
			return h.max
		}
	}
	return h.max
}

func (h *histogram) mean() time.Duration {
	if h.count == 0 {
		return 0
	}
	return h.sum / time.Duration(h.count)
}
