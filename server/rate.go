package systole

import "math"

// RateMeter estimates the delivered sample rate from sample timestamps.
// A window closes once it spans Window seconds; the estimate is the
// number of sample periods in the window over its duration.
type RateMeter struct {
	Window float64

	first float64
	last  float64
	count int
	rate  float64
}

// NewRateMeter measures over windows of the given length in seconds
func NewRateMeter(window float64) *RateMeter {
	return &RateMeter{Window: window}
}

// Observe records a timestamp. It returns a fresh estimate
// and true each time a window closes.
func (m *RateMeter) Observe(ts float64) (float64, bool) {
	// Clock reset (new session or source restart)
	if m.count > 0 && ts < m.last {
		m.Reset()
	}

	if m.count == 0 {
		m.first = ts
	}
	m.last = ts
	m.count++

	span := ts - m.first
	if span < m.Window || m.count < 2 {
		return 0, false
	}

	m.rate = CalcRate(float64(m.count-1), span)
	m.first = ts
	m.count = 1
	return m.rate, true
}

// Rate is the most recent estimate, zero before the first window closes
func (m *RateMeter) Rate() float64 { return m.rate }

// Reset forgets the current window and estimate
func (m *RateMeter) Reset() {
	m.first, m.last, m.count, m.rate = 0, 0, 0, 0
}

// CalcRate is events per second over a span in seconds
func CalcRate(events, span float64) float64 {
	if span <= 0 {
		return 0
	}
	return events / span
}

// Drifted reports whether measured is more than tolerance (a fraction)
// away from configured
func Drifted(measured, configured, tolerance float64) bool {
	if configured <= 0 || measured <= 0 {
		return false
	}
	return math.Abs(measured-configured)/configured > tolerance
}
