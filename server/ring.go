package systole

import (
	"gonum.org/v1/gonum/stat"
)

// Ring is a moving slice with a max size. Every insert past capacity
// overwrites the oldest value. It is a fixed size slice with a pointer to
// where the next value goes so no allocations happen per sample.
//
// Ring has no lock, it belongs to a single Processor.
type Ring struct {
	values []float64
	total  float64
	index  int
}

// NewRing allocates a Ring holding at most size values
func NewRing(size int) *Ring {
	if size <= 0 {
		panic("illegal ring size")
	}
	return &Ring{
		values: make([]float64, 0, size),
	}
}

// Add appends a value, evicting the oldest once the ring is full
func (r *Ring) Add(v float64) {
	if len(r.values) < cap(r.values) {
		r.values = append(r.values, v)
		r.total += v
		return
	}

	// subtract old value and add new value
	r.total = r.total - r.values[r.index] + v
	r.values[r.index] = v

	r.index++
	if r.index >= cap(r.values) {
		r.index = 0
	}
}

// Len is the number of values present
func (r *Ring) Len() int { return len(r.values) }

// Cap is the configured capacity
func (r *Ring) Cap() int { return cap(r.values) }

// Full reports whether the next Add will evict
func (r *Ring) Full() bool { return len(r.values) == cap(r.values) }

// Mean is the moving average of the ring, zero when empty
func (r *Ring) Mean() float64 {
	if len(r.values) == 0 {
		return 0
	}
	return r.total / float64(len(r.values))
}

// PopStdDev is the population standard deviation of the ring, zero when empty
func (r *Ring) PopStdDev() float64 {
	if len(r.values) == 0 {
		return 0
	}
	return stat.PopStdDev(r.values, nil)
}

// Values returns a copy ordered oldest to newest
func (r *Ring) Values() []float64 {
	out := make([]float64, 0, len(r.values))
	if len(r.values) < cap(r.values) {
		return append(out, r.values...)
	}
	out = append(out, r.values[r.index:]...)
	return append(out, r.values[:r.index]...)
}

// Last returns the n most recent values, oldest first
func (r *Ring) Last(n int) []float64 {
	all := r.Values()
	if n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Reset empties the ring, keeping its capacity
func (r *Ring) Reset() {
	r.values = r.values[:0]
	r.total = 0
	r.index = 0
}
