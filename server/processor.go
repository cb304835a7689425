package systole

import (
	"log/slog"
	"math"

	St "github.com/maroda/systole/types"
)

// Processor is one measurement pipeline: Filter Stage, Peak Detector,
// Interval History and the pull-based BPM and HRV readers.
//
// A Processor is not safe for concurrent use. Every call must come from
// the same goroutine or be serialized by the caller; see Session.
type Processor struct {
	tuning   Tuning
	rate     float64
	filter   *FilterStage
	detector *PeakDetector
	history  *IntervalHistory
	emitters fanout
	last     float64
}

// Option configures a Processor at construction
type Option func(*Processor)

// WithBeatEmitter adds a beat receiver
func WithBeatEmitter(e BeatEmitter) Option {
	return func(p *Processor) {
		p.emitters = append(p.emitters, e)
	}
}

// NewProcessor builds a Processor configured at t.SampleRate
func NewProcessor(t Tuning, opts ...Option) *Processor {
	p := &Processor{tuning: t}
	for _, opt := range opts {
		opt(p)
	}
	p.history = NewIntervalHistory(&p.tuning)
	p.Configure(t.SampleRate)
	return p
}

// Configure sets the sample rate, resizes every window and
// recomputes the filter coefficients. All state is cleared.
func (p *Processor) Configure(rate float64) {
	if rate <= 0 {
		slog.Warn("Ignoring non-positive sample rate, using default",
			slog.Float64("rate", rate),
			slog.Float64("default", DefaultTuning().SampleRate))
		rate = DefaultTuning().SampleRate
	}

	p.rate = rate
	p.last = 0
	p.filter = NewFilterStage(p.tuning, rate)
	p.detector = NewPeakDetector(&p.tuning, windowLen(p.tuning.ThresholdSeconds, rate), p.history, &p.emitters)
	p.history.Reset()

	slog.Info("Processor configured",
		slog.Float64("rate", rate),
		slog.Float64("designRate", designRate(rate, p.tuning.Coefficients)),
		slog.Int("baselineLen", p.filter.baseline.Cap()),
		slog.Int("thresholdLen", p.detector.threshold.Cap()))
}

// Process ingests one sample and returns the filtered value.
// The value is returned even for invalid samples, but only valid samples
// are examined for beats, and only once the threshold window is half full.
//
// A NaN or infinite raw value never reaches the filters: it counts as an
// invalid sample and the previous filtered value is returned.
func (p *Processor) Process(raw, ts float64, valid bool) float64 {
	if !Finite(raw) {
		p.detector.Interrupt()
		return p.last
	}

	filtered := p.filter.Process(raw)
	p.last = filtered
	p.detector.Observe(filtered)

	if valid && p.detector.Primed() {
		p.detector.Detect(filtered, ts)
	} else {
		p.detector.Interrupt()
	}

	return filtered
}

// ProcessSample is Process for a St.Sample
func (p *Processor) ProcessSample(s St.Sample) float64 {
	return p.Process(s.Value, s.Timestamp, s.Valid)
}

// Reset clears every buffer and the detector state for a new session.
// The sample rate and coefficients are kept.
func (p *Processor) Reset() {
	p.filter.Reset()
	p.detector.Reset()
	p.history.Reset()
	p.last = 0
}

// OnBeat adds a beat receiver after construction
func (p *Processor) OnBeat(e BeatEmitter) {
	p.emitters = append(p.emitters, e)
}

// CurrentBPM is the median-based heart rate, false while unavailable
func (p *Processor) CurrentBPM() (int, bool) { return p.history.CurrentBPM() }

// SignalQuality is in [0, 1], zero while there is too little data
func (p *Processor) SignalQuality() float64 { return p.history.SignalQuality() }

// ComputeHRV takes a snapshot of HRV statistics, false while unavailable
func (p *Processor) ComputeHRV() (St.HRVMetrics, bool) {
	return ComputeHRV(p.history.Values(), &p.tuning)
}

// Intervals returns the recorded inter-beat intervals in seconds
func (p *Processor) Intervals() []float64 { return p.history.Values() }

// SampleRate is the configured rate
func (p *Processor) SampleRate() float64 { return p.rate }

// Tuning returns the constants this Processor runs with
func (p *Processor) Tuning() Tuning { return p.tuning }

// Refractory is the detector's current refractory period
func (p *Processor) Refractory() float64 { return p.detector.Refractory() }

// Threshold is the detector's current amplitude threshold
func (p *Processor) Threshold() float64 { return p.detector.Threshold() }

// Counters are the detector tallies since the last reset
func (p *Processor) Counters() DetectorCounters { return p.detector.Counters() }

// BufferLen describes one internal window
type BufferLen struct {
	Name string
	Len  int
	Cap  int
}

// Buffers reports the length and capacity of every internal window
func (p *Processor) Buffers() []BufferLen {
	return []BufferLen{
		{"average", p.filter.average.Len(), p.filter.average.Cap()},
		{"baseline", p.filter.baseline.Len(), p.filter.baseline.Cap()},
		{"threshold", p.detector.threshold.Len(), p.detector.threshold.Cap()},
		{"intervals", p.history.Len(), p.tuning.HistorySize},
	}
}

// fanout delivers a beat to each emitter in order
type fanout []BeatEmitter

func (f *fanout) Emit(beat St.Beat) {
	for _, e := range *f {
		e.Emit(beat)
	}
}

// Finite is false for NaN and both infinities
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
