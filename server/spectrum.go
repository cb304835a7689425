package systole

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// SpectralBPM finds the dominant frequency of a filtered waveform inside
// [minHz, maxHz] and returns it as beats per minute. The waveform is
// Hann-windowed and zero padded to a power of two, and the peak bin is
// refined with parabolic interpolation.
//
// It needs at least four seconds of signal; shorter windows cannot
// resolve the pulse band.
func SpectralBPM(wave []float64, rate, minHz, maxHz float64) (float64, bool) {
	if rate <= 0 || float64(len(wave)) < 4*rate {
		return 0, false
	}

	size := 1
	for size < len(wave) {
		size <<= 1
	}

	// Hann window: 0.5 * (1 - cos(2*PI*n / (N-1)))
	n := len(wave)
	input := make([]complex128, size)
	for i, v := range wave {
		w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		input[i] = complex(v*w, 0)
	}

	spectrum := fft.FFT(input)
	binWidth := rate / float64(size)

	start := int(math.Ceil(minHz / binWidth))
	end := int(math.Floor(maxHz / binWidth))
	if start < 1 {
		start = 1
	}
	if end > size/2-1 {
		end = size/2 - 1
	}
	if end <= start {
		return 0, false
	}

	mags := make([]float64, size/2+1)
	maxMag, maxIndex := 0.0, 0
	for i := start - 1; i <= end+1; i++ {
		mags[i] = cmplx.Abs(spectrum[i])
		if i >= start && i <= end && mags[i] > maxMag {
			maxMag = mags[i]
			maxIndex = i
		}
	}
	if maxMag == 0 {
		return 0, false
	}

	// p = 0.5 * (alpha - gamma) / (alpha - 2*beta + gamma)
	freq := float64(maxIndex) * binWidth
	alpha, beta, gamma := mags[maxIndex-1], mags[maxIndex], mags[maxIndex+1]
	if denom := alpha - 2*beta + gamma; denom != 0 {
		freq = (float64(maxIndex) + 0.5*(alpha-gamma)/denom) * binWidth
	}

	return freq * 60, true
}
