package systole

import (
	"math"

	St "github.com/maroda/systole/types"
)

// BeatEmitter receives every accepted beat, synchronously,
// from inside Processor.Process. Hand-off to other goroutines is up to it.
type BeatEmitter interface {
	Emit(beat St.Beat)
}

// BeatFunc adapts a plain function to a BeatEmitter
type BeatFunc func(beat St.Beat)

func (f BeatFunc) Emit(beat St.Beat) { f(beat) }

// BeatChan sends beats on a channel without blocking.
// A full channel drops the beat rather than stall the sample loop.
type BeatChan chan St.Beat

func (c BeatChan) Emit(beat St.Beat) {
	select {
	case c <- beat:
	default:
	}
}

// DetectorCounters tallies what the detector has decided so far
type DetectorCounters struct {
	Candidates int // local maxima evaluated
	Accepted   int // beats emitted
	Dropped    int // accepted beats whose interval was implausible
}

// PeakDetector finds beats in the filtered waveform.
// It is a RISING/FALLING state machine on the sign of the first
// difference, gated by an adaptive amplitude threshold and an
// adaptive refractory period.
type PeakDetector struct {
	tuning    *Tuning
	threshold *Ring
	history   *IntervalHistory
	emit      BeatEmitter

	lastBeat   float64
	haveBeat   bool
	refractory float64

	lastValue float64
	havePrev  bool
	rising    bool
	maxValue  float64
	maxTime   float64

	counters DetectorCounters
}

// NewPeakDetector wires a detector to the interval history it feeds
func NewPeakDetector(t *Tuning, window int, history *IntervalHistory, emit BeatEmitter) *PeakDetector {
	d := &PeakDetector{
		tuning:    t,
		threshold: NewRing(window),
		history:   history,
		emit:      emit,
	}
	d.Reset()
	return d
}

// Observe appends a filtered value to the threshold window.
// Called for every sample, valid or not.
func (d *PeakDetector) Observe(v float64) {
	d.threshold.Add(v)
}

// Primed reports whether the threshold window is at least half full
func (d *PeakDetector) Primed() bool {
	return d.threshold.Len()*2 >= d.threshold.Cap()
}

// Threshold is the current adaptive amplitude threshold
func (d *PeakDetector) Threshold() float64 {
	return d.threshold.PopStdDev() * d.tuning.ThresholdMultiplier
}

// Refractory is the current refractory period in seconds
func (d *PeakDetector) Refractory() float64 { return d.refractory }

// Counters returns a copy of the running tallies
func (d *PeakDetector) Counters() DetectorCounters { return d.counters }

// Detect advances the state machine with an observed value
func (d *PeakDetector) Detect(v, ts float64) {
	if !d.havePrev {
		d.lastValue = v
		d.havePrev = true
		return
	}

	switch {
	case v > d.lastValue:
		d.rising = true
		if v > d.maxValue {
			d.maxValue = v
			d.maxTime = ts
		}
	case v < d.lastValue && d.rising:
		// RISING -> FALLING, the tentative max is a candidate peak
		d.rising = false
		d.evaluate(d.maxValue, d.maxTime)
		d.maxValue = math.Inf(-1)
	}

	d.lastValue = v
}

// Interrupt forgets slope tracking, used when detection is gated off
// so a gap in valid samples cannot form a candidate.
func (d *PeakDetector) Interrupt() {
	d.havePrev = false
	d.rising = false
	d.maxValue = math.Inf(-1)
}

func (d *PeakDetector) evaluate(peak, at float64) {
	d.counters.Candidates++

	if peak <= d.Threshold() {
		return
	}
	if d.haveBeat && at-d.lastBeat <= d.refractory {
		return
	}

	beat := St.Beat{Timestamp: at}
	if d.haveBeat {
		beat.Interval = at - d.lastBeat
		if d.history.Push(beat.Interval) {
			beat.Plausible = true
			d.adaptRefractory()
		} else {
			d.counters.Dropped++
		}
	}
	d.lastBeat = at
	d.haveBeat = true
	d.counters.Accepted++

	if d.emit != nil {
		d.emit.Emit(beat)
	}
}

// adaptRefractory tracks heart rate so fast rhythms are not merged
// and slow ones do not double count the dicrotic notch
func (d *PeakDetector) adaptRefractory() {
	if d.history.Len() < d.tuning.RefractoryMinCount {
		return
	}
	r := d.tuning.RefractoryScale * d.history.RecentMean(d.tuning.RefractoryWindow)
	d.refractory = math.Max(d.tuning.RefractoryMin, math.Min(d.tuning.RefractoryMax, r))
}

// Reset returns the detector to an empty session
func (d *PeakDetector) Reset() {
	d.threshold.Reset()
	d.lastBeat = 0
	d.haveBeat = false
	d.refractory = d.tuning.RefractoryInitial
	d.lastValue = 0
	d.counters = DetectorCounters{}
	d.Interrupt()
}
