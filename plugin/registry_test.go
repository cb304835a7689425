package plugin_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	Sp "github.com/maroda/systole/plugin"
	St "github.com/maroda/systole/types"
)

var testEpoch = time.Unix(1700000000, 0)

func TestOutputLookup(t *testing.T) {
	t.Run("Returns known output", func(t *testing.T) {
		got, err := Sp.OutputLookup("badger", Sp.OutputOptions{DBPath: t.TempDir(), BatchSize: 2})
		assertError(t, err, nil)
		defer got.Close()
		assertStringContains(t, got.Type(), "BadgerDB")
	})

	t.Run("Returns error if output doesn't exist", func(t *testing.T) {
		_, err := Sp.OutputLookup("craquemattic", Sp.OutputOptions{})
		assertGotError(t, err)
		assertError(t, err, Sp.ErrUnknownOutput)
	})

	t.Run("Unknown name in a list fails the whole list", func(t *testing.T) {
		outs, err := Sp.OutputsLookup([]string{"badger", "craquemattic"}, Sp.OutputOptions{DBPath: t.TempDir()})
		assertError(t, err, Sp.ErrUnknownOutput)
		if outs != nil {
			t.Errorf("expected nil outputs, got %v", outs)
		}
	})

	t.Run("Builds a list into one MultiOutput", func(t *testing.T) {
		outs, err := Sp.OutputsLookup([]string{"badger"}, Sp.OutputOptions{DBPath: t.TempDir()})
		assertError(t, err, nil)
		defer outs.Close()
		assertInt(t, len(outs), 1)
		assertStringContains(t, outs.Type(), "multi:BadgerDB")
	})
}

func TestMultiOutput(t *testing.T) {
	errBoom := errors.New("boom")

	t.Run("Every output sees every beat", func(t *testing.T) {
		a, b := &recordOutput{}, &recordOutput{}
		multi := Sp.MultiOutput{a, b}

		assertError(t, multi.WriteBeat(St.Beat{Timestamp: 2}), nil)
		assertInt(t, a.beats, 1)
		assertInt(t, b.beats, 1)
	})

	t.Run("One failure does not starve the rest", func(t *testing.T) {
		a, b := &recordOutput{err: errBoom}, &recordOutput{}
		multi := Sp.MultiOutput{a, b}

		err := multi.WriteReading(&St.Reading{ID: "x"})
		assertError(t, err, errBoom)
		assertInt(t, b.readings, 1)
	})

	t.Run("Query falls through to the first that answers", func(t *testing.T) {
		a := &recordOutput{err: Sp.ErrNoQuery}
		b := &recordOutput{stored: []*St.Reading{{ID: "kept"}}}
		multi := Sp.MultiOutput{a, b}

		got, err := multi.QueryRange(testEpoch, testEpoch.Add(time.Hour))
		assertError(t, err, nil)
		assertInt(t, len(got), 1)
	})

	t.Run("Empty multi cannot query", func(t *testing.T) {
		_, err := Sp.MultiOutput{}.QueryRange(testEpoch, testEpoch)
		assertError(t, err, Sp.ErrNoQuery)
	})
}

// recordOutput counts calls
type recordOutput struct {
	beats    int
	readings int
	stored   []*St.Reading
	err      error
}

func (r *recordOutput) WriteBeat(beat St.Beat) error { r.beats++; return r.err }
func (r *recordOutput) WriteReading(reading *St.Reading) error {
	r.readings++
	return r.err
}
func (r *recordOutput) WriteBatch(readings []*St.Reading) error {
	r.readings += len(readings)
	return r.err
}
func (r *recordOutput) QueryRange(start, end time.Time) ([]*St.Reading, error) {
	return r.stored, r.err
}
func (r *recordOutput) Flush() error { return r.err }
func (r *recordOutput) Close() error { return r.err }
func (r *recordOutput) Type() string { return "record" }

/// Helpers

func assertError(t testing.TB, got, want error) {
	t.Helper()
	if !errors.Is(got, want) {
		t.Errorf("got error %q want %q", got, want)
	}
}

func assertGotError(t testing.TB, got error) {
	t.Helper()
	if got == nil {
		t.Errorf("Expected an error but got %q", got)
	}
}

func assertInt(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("did not get correct value, got %d, want %d", got, want)
	}
}

func assertInt64(t *testing.T, got, want int64) {
	t.Helper()
	if got != want {
		t.Errorf("did not get correct value, got %d, want %d", got, want)
	}
}

func assertStringContains(t *testing.T, full, want string) {
	t.Helper()
	if !strings.Contains(full, want) {
		t.Errorf("Did not find %q, expected string contains %q", want, full)
	}
}
