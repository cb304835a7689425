package systole

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	St "github.com/maroda/systole/types"
)

// ComputeHRV builds time-domain and Poincaré statistics from intervals
// given in seconds, oldest first. It is unavailable with fewer than
// MinHRVIntervals intervals before or after IQR outlier removal.
func ComputeHRV(intervals []float64, t *Tuning) (St.HRVMetrics, bool) {
	if len(intervals) < t.MinHRVIntervals {
		return St.HRVMetrics{}, false
	}

	rr := make([]float64, len(intervals))
	for i, v := range intervals {
		rr[i] = v * 1000
	}

	rr = RemoveOutliersIQR(rr, t.IQRMultiplier)
	if len(rr) < t.MinHRVIntervals {
		return St.HRVMetrics{}, false
	}

	mean, variance := stat.PopMeanVariance(rr, nil)
	sdnn := math.Sqrt(variance)

	var sumSq float64
	var nn50 int
	for i := 1; i < len(rr); i++ {
		diff := rr[i] - rr[i-1]
		sumSq += diff * diff
		if math.Abs(diff) > 50 {
			nn50++
		}
	}
	diffs := float64(len(rr) - 1)

	rmssd := math.Sqrt(sumSq / diffs)
	rmssd = math.Max(t.RMSSDMin, math.Min(t.RMSSDMax, rmssd))

	// Poincaré decomposition, radicand clamped against estimation noise
	sd1 := math.Sqrt(0.5) * rmssd
	sd2 := math.Sqrt(math.Max(0, 2*sdnn*sdnn-0.5*rmssd*rmssd))

	return St.HRVMetrics{
		SDNN:    sdnn,
		RMSSD:   rmssd,
		PNN50:   float64(nn50) / diffs * 100,
		MeanRR:  mean,
		MinRR:   floats.Min(rr),
		MaxRR:   floats.Max(rr),
		SD1:     sd1,
		SD2:     sd2,
		Quality: classifyHRV(len(rr), t),
		Count:   len(rr),
	}, true
}

// RemoveOutliersIQR keeps values inside [Q1 - k*IQR, Q3 + k*IQR].
// Quartiles are positional (index n/4 and 3n/4 of the sorted copy).
// Order of the surviving values is preserved.
func RemoveOutliersIQR(values []float64, k float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	n := len(sorted)
	q1 := sorted[n/4]
	q3 := sorted[(3*n)/4]
	iqr := q3 - q1
	lo, hi := q1-k*iqr, q3+k*iqr

	kept := make([]float64, 0, n)
	for _, v := range values {
		if v >= lo && v <= hi {
			kept = append(kept, v)
		}
	}
	return kept
}

func classifyHRV(count int, t *Tuning) St.HRVQuality {
	switch {
	case count >= t.ReliableCount:
		return St.HRVReliable
	case count >= t.EstimatedCount:
		return St.HRVEstimated
	default:
		return St.HRVInsufficient
	}
}
