package types

/*

	These are the "immutable" core types of Systole,
	provided for cross-package use (e.g. Plugins) and testing.

	There are no functions defined here.
	Constructors and methods live with the packages that produce them.

*/

import "time"

// Sample is one light-intensity reading from the acquisition side.
// Timestamp is monotonic seconds, Valid reports finger/occlusion detection.
type Sample struct {
	Value     float64
	Timestamp float64
	Valid     bool
}

// Beat is emitted once per accepted peak.
// Interval is zero for the first beat of a session.
// Plausible is true when Interval was recorded into the history.
type Beat struct {
	Timestamp float64 // seconds, same clock as Sample.Timestamp
	Interval  float64 // seconds since the previous accepted beat
	Plausible bool
}

// HRVQuality classifies how much data an HRV snapshot was built from
type HRVQuality string

const (
	HRVReliable     HRVQuality = "reliable"     // 30 or more intervals
	HRVEstimated    HRVQuality = "estimated"    // 15 or more intervals
	HRVInsufficient HRVQuality = "insufficient" // fewer than 15, still reported
)

// HRVMetrics is the HRV snapshot computed from the interval history.
// All RR values are milliseconds, PNN50 is a percentage.
type HRVMetrics struct {
	SDNN    float64    `json:"sdnn"`
	RMSSD   float64    `json:"rmssd"`
	PNN50   float64    `json:"pnn50"`
	MeanRR  float64    `json:"meanRR"`
	MinRR   float64    `json:"minRR"`
	MaxRR   float64    `json:"maxRR"`
	SD1     float64    `json:"sd1"`
	SD2     float64    `json:"sd2"`
	Quality HRVQuality `json:"quality"`
	Count   int        `json:"count"`
}

// Reading is what a finished measurement session leaves behind.
// The core never stores these, output plugins do.
type Reading struct {
	ID          string        `json:"id"`
	StartTime   time.Time     `json:"startTime"` // This is a Primary Key
	Duration    time.Duration `json:"duration"`
	SampleRate  float64       `json:"sampleRate"`
	Beats       int           `json:"beats"`
	BPM         int           `json:"bpm"` // zero when unavailable
	SpectralBPM float64       `json:"spectralBPM"`
	Quality     float64       `json:"quality"`
	HRV         *HRVMetrics   `json:"hrv,omitempty"`
}

// WavePoint is one filtered sample as shown by the UI
type WavePoint struct {
	Timestamp float64 `json:"t"`
	Value     float64 `json:"v"`
	Beat      bool    `json:"beat"`
	Valid     bool    `json:"valid"`
}
