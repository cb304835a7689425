package systole_test

import (
	"testing"

	Ss "github.com/maroda/systole/server"
)

func TestRateMeter(t *testing.T) {
	t.Run("Measures a steady rate", func(t *testing.T) {
		m := Ss.NewRateMeter(5)
		var got float64
		var closed int
		for i := 0; i <= 250; i++ {
			if r, ok := m.Observe(float64(i) / 25); ok {
				got = r
				closed++
			}
		}
		assertInt(t, closed, 2)
		assertFloatNear(t, got, 25, 1e-9)
		assertFloatNear(t, m.Rate(), 25, 1e-9)
	})

	t.Run("Starts over when the clock goes back", func(t *testing.T) {
		m := Ss.NewRateMeter(1)
		for i := 0; i < 20; i++ {
			m.Observe(100 + float64(i)/30)
		}
		for i := 0; i <= 60; i++ {
			m.Observe(float64(i) / 60)
		}
		assertFloatNear(t, m.Rate(), 60, 1e-9)
	})

	t.Run("Nothing before the first window closes", func(t *testing.T) {
		m := Ss.NewRateMeter(5)
		if _, ok := m.Observe(0); ok {
			t.Errorf("one timestamp cannot make a rate")
		}
		assertFloat(t, m.Rate(), 0)
	})
}

func TestCalcRate(t *testing.T) {
	assertFloat(t, Ss.CalcRate(30, 1), 30)
	assertFloat(t, Ss.CalcRate(30, 0), 0)
}

func TestDrifted(t *testing.T) {
	tests := []struct {
		measured, configured float64
		want                 bool
	}{
		{30, 30, false},
		{34, 30, false},
		{35, 30, true},
		{25, 30, true},
		{60, 30, true},
		{0, 30, false},
		{30, 0, false},
	}
	for _, tt := range tests {
		if got := Ss.Drifted(tt.measured, tt.configured, 0.15); got != tt.want {
			t.Errorf("Drifted(%v, %v) = %v, want %v", tt.measured, tt.configured, got, tt.want)
		}
	}
}
