package systole

import "testing"

func TestDesignRate(t *testing.T) {
	tests := []struct {
		rate float64
		mode CoefficientMode
		want float64
	}{
		{30, CoefficientExact, 30},
		{25, CoefficientExact, 25},
		{25, CoefficientSnapped, 30},
		{54.9, CoefficientSnapped, 30},
		{55, CoefficientSnapped, 60},
		{120, CoefficientSnapped, 60},
	}
	for _, tt := range tests {
		if got := designRate(tt.rate, tt.mode); got != tt.want {
			t.Errorf("designRate(%v, %q) = %v, want %v", tt.rate, tt.mode, got, tt.want)
		}
	}
}

func TestWindowLen(t *testing.T) {
	tests := []struct {
		seconds, rate float64
		want          int
	}{
		{1.5, 30, 45},
		{3, 30, 90},
		{1.5, 60, 90},
		{1.5, 25, 38},
		{0.01, 30, 1},
	}
	for _, tt := range tests {
		if got := windowLen(tt.seconds, tt.rate); got != tt.want {
			t.Errorf("windowLen(%v, %v) = %d, want %d", tt.seconds, tt.rate, got, tt.want)
		}
	}
}
