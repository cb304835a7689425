package systole

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// IntervalHistory is the bounded FIFO of accepted inter-beat intervals.
// Every value in it lies strictly inside (IntervalMin, IntervalMax).
type IntervalHistory struct {
	tuning *Tuning
	ring   *Ring
}

// NewIntervalHistory makes an empty history sized by t.HistorySize
func NewIntervalHistory(t *Tuning) *IntervalHistory {
	return &IntervalHistory{
		tuning: t,
		ring:   NewRing(t.HistorySize),
	}
}

// Plausible reports whether an interval may enter the history
func (h *IntervalHistory) Plausible(interval float64) bool {
	return interval > h.tuning.IntervalMin && interval < h.tuning.IntervalMax
}

// Push records interval, returning false when it was discarded
func (h *IntervalHistory) Push(interval float64) bool {
	if !h.Plausible(interval) {
		return false
	}
	h.ring.Add(interval)
	return true
}

// Len is the number of intervals recorded
func (h *IntervalHistory) Len() int { return h.ring.Len() }

// Values returns the intervals in seconds, oldest first
func (h *IntervalHistory) Values() []float64 { return h.ring.Values() }

// RecentMean is the mean of the last n intervals
func (h *IntervalHistory) RecentMean(n int) float64 {
	recent := h.ring.Last(n)
	if len(recent) == 0 {
		return 0
	}
	return stat.Mean(recent, nil)
}

// Reset drops every interval
func (h *IntervalHistory) Reset() { h.ring.Reset() }

// CurrentBPM is 60 over the median interval.
// Unavailable below MinBPMIntervals or outside [MinBPM, MaxBPM].
func (h *IntervalHistory) CurrentBPM() (int, bool) {
	if h.ring.Len() < h.tuning.MinBPMIntervals {
		return 0, false
	}

	median := Median(h.ring.Values())
	if median <= 0 {
		return 0, false
	}

	bpm := 60 / median
	if bpm < h.tuning.MinBPM || bpm > h.tuning.MaxBPM {
		return 0, false
	}
	return int(math.Round(bpm)), true
}

// SignalQuality maps the interval coefficient of variation onto [0, 1].
// CV of zero is 1, CV at or above QualityCVCeiling is 0.
func (h *IntervalHistory) SignalQuality() float64 {
	if h.ring.Len() < h.tuning.MinBPMIntervals {
		return 0
	}

	values := h.ring.Values()
	mean, variance := stat.PopMeanVariance(values, nil)
	if mean <= 0 {
		return 0
	}
	cv := math.Sqrt(variance) / mean

	quality := 1 - cv/h.tuning.QualityCVCeiling
	return math.Max(0, math.Min(1, quality))
}

// Median of values, averaging the middle pair for even lengths.
// Values is not modified.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
