package plugin

/*

	The Adapter sits aside /systole/
	Contains core interfaces for Plugin

*/

import (
	"errors"
	"time"

	St "github.com/maroda/systole/types"
)

// OutputAdapter is where beats and finished readings go.
// Beats arrive one by one off the sample loop and should return quickly,
// readings arrive once per session or in batches if the output supports it.
type OutputAdapter interface {
	WriteBeat(beat St.Beat) error                           // Feedback for a single beat
	WriteReading(reading *St.Reading) error                 // Write a finished session
	WriteBatch(readings []*St.Reading) error                // Write batches of readings
	QueryRange(start, end time.Time) ([]*St.Reading, error) // Time range query tool
	Flush() error                                           // Flush any buffered data
	Close() error                                           // Close the adapter and release resources
	Type() string                                           // ID for output
}

// MultiOutput fans every call out to several adapters.
// Errors are collected, one failing output does not starve the others.
type MultiOutput []OutputAdapter

func (m MultiOutput) WriteBeat(beat St.Beat) error {
	return m.each(func(o OutputAdapter) error { return o.WriteBeat(beat) })
}

func (m MultiOutput) WriteReading(reading *St.Reading) error {
	return m.each(func(o OutputAdapter) error { return o.WriteReading(reading) })
}

func (m MultiOutput) WriteBatch(readings []*St.Reading) error {
	return m.each(func(o OutputAdapter) error { return o.WriteBatch(readings) })
}

// QueryRange asks each output in order and returns the first answer
func (m MultiOutput) QueryRange(start, end time.Time) ([]*St.Reading, error) {
	var lastErr error
	for _, o := range m {
		readings, err := o.QueryRange(start, end)
		if err == nil {
			return readings, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrNoQuery
	}
	return nil, lastErr
}

func (m MultiOutput) Flush() error {
	return m.each(func(o OutputAdapter) error { return o.Flush() })
}

func (m MultiOutput) Close() error {
	return m.each(func(o OutputAdapter) error { return o.Close() })
}

func (m MultiOutput) Type() string {
	t := "multi"
	for _, o := range m {
		t += ":" + o.Type()
	}
	return t
}

func (m MultiOutput) each(fn func(OutputAdapter) error) error {
	var errs []error
	for _, o := range m {
		if err := fn(o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
