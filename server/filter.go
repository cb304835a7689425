package systole

import "math"

// Biquad is a second order IIR section in transposed Direct-Form II,
// equivalent to y[n] = b0*x[n] + b1*x[n-1] + b2*x[n-2] - a1*y[n-1] - a2*y[n-2]
// with a 2-element delay line. Coefficients are normalized (a0 = 1).
type Biquad struct {
	B0, B1, B2 float64
	A1, A2     float64
	z1, z2     float64
}

// Process runs one sample through the section
func (b *Biquad) Process(in float64) float64 {
	out := b.B0*in + b.z1
	b.z1 = b.B1*in - b.A1*out + b.z2
	b.z2 = b.B2*in - b.A2*out
	return out
}

// Reset clears the delay line
func (b *Biquad) Reset() {
	b.z1, b.z2 = 0, 0
}

// ButterworthLowpass designs a 2nd order Butterworth low-pass
// with the bilinear transform, pre-warping the cutoff.
func ButterworthLowpass(rate, cutoff float64) Biquad {
	k, norm := prewarp(rate, cutoff)
	b0 := k * k * norm
	return Biquad{
		B0: b0,
		B1: 2 * b0,
		B2: b0,
		A1: 2 * (k*k - 1) * norm,
		A2: (1 - math.Sqrt2*k + k*k) * norm,
	}
}

// ButterworthHighpass designs a 2nd order Butterworth high-pass
func ButterworthHighpass(rate, cutoff float64) Biquad {
	k, norm := prewarp(rate, cutoff)
	return Biquad{
		B0: norm,
		B1: -2 * norm,
		B2: norm,
		A1: 2 * (k*k - 1) * norm,
		A2: (1 - math.Sqrt2*k + k*k) * norm,
	}
}

func prewarp(rate, cutoff float64) (k, norm float64) {
	// tan() runs off to infinity at Nyquist
	if cutoff >= rate*0.499 {
		cutoff = rate * 0.499
	}
	k = math.Tan(math.Pi * cutoff / rate)
	norm = 1 / (1 + math.Sqrt2*k + k*k)
	return k, norm
}

// designRate is the rate the biquads are designed for.
// Snapped mode keeps the two legacy regimes.
func designRate(rate float64, mode CoefficientMode) float64 {
	if mode != CoefficientSnapped {
		return rate
	}
	if rate >= 55 {
		return 60
	}
	return 30
}

// FilterStage turns raw brightness into a zero-centred pulse waveform:
// average a few frames, invert, subtract a moving baseline, then
// low-pass and high-pass.
type FilterStage struct {
	average  *Ring
	baseline *Ring
	lowpass  Biquad
	highpass Biquad
}

// NewFilterStage sizes buffers and designs coefficients for rate
func NewFilterStage(t Tuning, rate float64) *FilterStage {
	dr := designRate(rate, t.Coefficients)
	return &FilterStage{
		average:  NewRing(t.AverageFrames),
		baseline: NewRing(windowLen(t.BaselineSeconds, rate)),
		lowpass:  ButterworthLowpass(dr, t.HighCutHz),
		highpass: ButterworthHighpass(dr, t.LowCutHz),
	}
}

// Process returns the filtered value for one raw sample
func (f *FilterStage) Process(raw float64) float64 {
	f.average.Add(raw)

	// More blood means less light, invert so a beat goes up
	inverted := -f.average.Mean()

	f.baseline.Add(inverted)
	detrended := inverted - f.baseline.Mean()

	return f.highpass.Process(f.lowpass.Process(detrended))
}

// Reset empties buffers and delay lines, keeping coefficients
func (f *FilterStage) Reset() {
	f.average.Reset()
	f.baseline.Reset()
	f.lowpass.Reset()
	f.highpass.Reset()
}
