package systole_test

import (
	"math"
	"testing"

	Ss "github.com/maroda/systole/server"
)

func sine(rate, hz, seconds float64) []float64 {
	out := make([]float64, int(rate*seconds))
	for i := range out {
		out[i] = math.Sin(2 * math.Pi * hz * float64(i) / rate)
	}
	return out
}

func TestSpectralBPM(t *testing.T) {
	t.Run("Finds the dominant pulse frequency", func(t *testing.T) {
		got, ok := Ss.SpectralBPM(sine(30, 1.2, 10), 30, 0.7, 3.5)
		if !ok {
			t.Fatalf("expected a spectral estimate")
		}
		assertFloatNear(t, got, 72, 2)
	})

	t.Run("Ignores energy outside the band", func(t *testing.T) {
		wave := sine(30, 1.0, 10)
		slow := sine(30, 0.2, 10)
		for i := range wave {
			wave[i] += 3 * slow[i]
		}
		got, ok := Ss.SpectralBPM(wave, 30, 0.7, 3.5)
		if !ok {
			t.Fatalf("expected a spectral estimate")
		}
		assertFloatNear(t, got, 60, 2)
	})

	t.Run("Needs four seconds of signal", func(t *testing.T) {
		if _, ok := Ss.SpectralBPM(sine(30, 1.2, 3), 30, 0.7, 3.5); ok {
			t.Errorf("3 s should be too short")
		}
	})

	t.Run("Flat signal has no answer", func(t *testing.T) {
		if _, ok := Ss.SpectralBPM(make([]float64, 300), 30, 0.7, 3.5); ok {
			t.Errorf("flat signal should have no estimate")
		}
	})

	t.Run("Bad rate has no answer", func(t *testing.T) {
		if _, ok := Ss.SpectralBPM(sine(30, 1.2, 10), 0, 0.7, 3.5); ok {
			t.Errorf("zero rate should have no estimate")
		}
	})
}
