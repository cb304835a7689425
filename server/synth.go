package systole

import (
	"math"
	"math/rand/v2"

	St "github.com/maroda/systole/types"
)

// PulseShape is the brightness dip of one cardiac cycle over phase [0, 1)
type PulseShape func(phase float64) float64

// ShapeSine is a plain sinusoidal pulse
func ShapeSine(phase float64) float64 {
	return math.Sin(2 * math.Pi * phase)
}

// ShapePPG is a systolic peak followed by a smaller dicrotic wave
func ShapePPG(phase float64) float64 {
	return gauss(phase, 0.25, 0.08) + 0.4*gauss(phase, 0.55, 0.09)
}

// PPGSim generates camera-style brightness samples at a fixed rate.
// Brightness drops as blood volume rises, so the pulse is subtracted
// from the base level.
type PPGSim struct {
	Rate      float64
	BPM       float64
	Base      float64 // ambient brightness
	Amplitude float64 // pulse depth
	Jitter    float64 // relative std-dev of each beat period
	Noise     float64 // uniform sensor noise amplitude
	Drift     float64 // slow baseline wander amplitude
	Shape     PulseShape

	rng    *rand.Rand
	t      float64
	phase  float64
	period float64
}

// NewPPGSim makes a clean simulator; tweak the exported fields for noise.
// The seed makes runs repeatable.
func NewPPGSim(rate, bpm float64, seed uint64) *PPGSim {
	return &PPGSim{
		Rate:      rate,
		BPM:       bpm,
		Base:      180,
		Amplitude: 4,
		Shape:     ShapeSine,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		period:    60 / bpm,
	}
}

// Next returns the next sample and advances time
func (s *PPGSim) Next() St.Sample {
	sample := St.Sample{
		Timestamp: s.t,
		Valid:     true,
	}

	v := s.Base - s.Amplitude*s.Shape(s.phase)
	v += s.Drift * math.Sin(2*math.Pi*0.1*s.t)
	if s.Noise > 0 {
		v += s.Noise * (2*s.rng.Float64() - 1)
	}
	sample.Value = v

	s.t += 1 / s.Rate
	s.phase += 1 / (s.Rate * s.period)
	if s.phase >= 1 {
		s.phase -= 1
		s.period = 60 / s.BPM
		if s.Jitter > 0 {
			s.period *= 1 + s.Jitter*s.rng.NormFloat64()
		}
	}
	return sample
}

// Elapsed is the simulated time in seconds
func (s *PPGSim) Elapsed() float64 { return s.t }

func gauss(x, mu, sigma float64) float64 {
	z := (x - mu) / sigma
	return math.Exp(-0.5 * z * z)
}
