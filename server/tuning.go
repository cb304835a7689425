package systole

import (
	"errors"
	"fmt"
)

// CoefficientMode selects how the bandpass biquads are designed
type CoefficientMode string

const (
	// CoefficientExact designs the Butterworth sections at the configured rate
	CoefficientExact CoefficientMode = "exact"
	// CoefficientSnapped designs at 60 Hz for rates >= 55 Hz, otherwise at 30 Hz
	CoefficientSnapped CoefficientMode = "snapped"
)

// Tuning holds every constant the pipeline uses.
// Times are seconds, frequencies are Hz.
type Tuning struct {
	SampleRate   float64         `json:"sampleRate"`
	Coefficients CoefficientMode `json:"coefficients"`

	// Filter Stage
	AverageFrames   int     `json:"averageFrames"`   // multi-frame averager length (2-3)
	BaselineSeconds float64 `json:"baselineSeconds"` // detrending window
	LowCutHz        float64 `json:"lowCutHz"`        // high-pass corner
	HighCutHz       float64 `json:"highCutHz"`       // low-pass corner

	// Peak Detector
	ThresholdSeconds    float64 `json:"thresholdSeconds"`    // adaptive threshold window
	ThresholdMultiplier float64 `json:"thresholdMultiplier"` // threshold = stddev * this
	RefractoryInitial   float64 `json:"refractoryInitial"`
	RefractoryMin       float64 `json:"refractoryMin"`
	RefractoryMax       float64 `json:"refractoryMax"`
	RefractoryScale     float64 `json:"refractoryScale"`   // refractory = scale * recent mean interval
	RefractoryWindow    int     `json:"refractoryWindow"`  // how many recent intervals feed the mean
	RefractoryMinCount  int     `json:"refractoryMinCount"` // intervals needed before adapting

	// Interval History & BPM
	IntervalMin      float64 `json:"intervalMin"` // exclusive
	IntervalMax      float64 `json:"intervalMax"` // exclusive
	HistorySize      int     `json:"historySize"`
	MinBPMIntervals  int     `json:"minBPMIntervals"`
	MinBPM           float64 `json:"minBPM"`
	MaxBPM           float64 `json:"maxBPM"`
	QualityCVCeiling float64 `json:"qualityCVCeiling"` // CV at which quality reaches 0

	// HRV Engine
	IQRMultiplier   float64 `json:"iqrMultiplier"`
	MinHRVIntervals int     `json:"minHRVIntervals"`
	RMSSDMin        float64 `json:"rmssdMin"` // ms
	RMSSDMax        float64 `json:"rmssdMax"` // ms
	ReliableCount   int     `json:"reliableCount"`
	EstimatedCount  int     `json:"estimatedCount"`
}

// DefaultTuning returns the values the pipeline was tuned with
func DefaultTuning() Tuning {
	return Tuning{
		SampleRate:   30,
		Coefficients: CoefficientExact,

		AverageFrames:   3,
		BaselineSeconds: 1.5,
		LowCutHz:        0.7,
		HighCutHz:       3.5,

		ThresholdSeconds:    3,
		ThresholdMultiplier: 0.35,
		RefractoryInitial:   0.35,
		RefractoryMin:       0.25,
		RefractoryMax:       0.5,
		RefractoryScale:     0.5,
		RefractoryWindow:    5,
		RefractoryMinCount:  3,

		IntervalMin:      0.27,
		IntervalMax:      1.7,
		HistorySize:      50,
		MinBPMIntervals:  3,
		MinBPM:           35,
		MaxBPM:           220,
		QualityCVCeiling: 0.3,

		IQRMultiplier:   1.5,
		MinHRVIntervals: 5,
		RMSSDMin:        10,
		RMSSDMax:        150,
		ReliableCount:   30,
		EstimatedCount:  15,
	}
}

// Validate reports the first setting that would break the pipeline
func (t Tuning) Validate() error {
	switch {
	case t.SampleRate <= 0:
		return fmt.Errorf("sample rate must be positive, got %v", t.SampleRate)
	case t.Coefficients != CoefficientExact && t.Coefficients != CoefficientSnapped:
		return fmt.Errorf("unknown coefficient mode %q", t.Coefficients)
	case t.AverageFrames < 1:
		return errors.New("averageFrames must be at least 1")
	case t.BaselineSeconds <= 0 || t.ThresholdSeconds <= 0:
		return errors.New("window lengths must be positive")
	case t.LowCutHz <= 0 || t.HighCutHz <= t.LowCutHz:
		return fmt.Errorf("passband %v-%v Hz is empty", t.LowCutHz, t.HighCutHz)
	case t.ThresholdMultiplier < 0:
		return errors.New("thresholdMultiplier must not be negative")
	case t.RefractoryMin <= 0 || t.RefractoryMax < t.RefractoryMin:
		return fmt.Errorf("refractory bounds [%v, %v] are invalid", t.RefractoryMin, t.RefractoryMax)
	case t.RefractoryWindow < 1 || t.RefractoryMinCount < 1:
		return errors.New("refractory window and count must be at least 1")
	case t.IntervalMin < 0 || t.IntervalMax <= t.IntervalMin:
		return fmt.Errorf("interval bounds (%v, %v) are invalid", t.IntervalMin, t.IntervalMax)
	case t.HistorySize < t.MinHRVIntervals || t.HistorySize < t.MinBPMIntervals:
		return errors.New("historySize is smaller than the minimum interval counts")
	case t.MinBPM <= 0 || t.MaxBPM <= t.MinBPM:
		return fmt.Errorf("bpm bounds [%v, %v] are invalid", t.MinBPM, t.MaxBPM)
	case t.QualityCVCeiling <= 0:
		return errors.New("qualityCVCeiling must be positive")
	case t.IQRMultiplier < 0:
		return errors.New("iqrMultiplier must not be negative")
	case t.MinHRVIntervals < 2:
		return errors.New("minHRVIntervals must be at least 2")
	case t.RMSSDMax < t.RMSSDMin:
		return errors.New("rmssd bounds are inverted")
	}
	return nil
}

// windowLen converts a duration in seconds to a buffer length at rate
func windowLen(seconds, rate float64) int {
	n := int(seconds*rate + 0.5)
	if n < 1 {
		n = 1
	}
	return n
}
