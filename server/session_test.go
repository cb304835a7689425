package systole_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	Ss "github.com/maroda/systole/server"
	St "github.com/maroda/systole/types"
)

func TestSession_Run(t *testing.T) {
	out := &memOutput{}
	rec := &countRecorder{}
	cfg := Ss.DefaultSessionConfig(Ss.DefaultTuning())
	cfg.Output = out
	cfg.Recorder = rec
	session := Ss.NewSession(cfg)

	src := Ss.NewSynthSource(Ss.NewPPGSim(30, 60, 9), false, 600)
	err := session.Run(context.Background(), src)
	assertError(t, err, nil)

	snap := session.Snapshot()

	t.Run("Snapshot carries the heart rate", func(t *testing.T) {
		if !snap.BPMOK || snap.BPM < 57 || snap.BPM > 63 {
			t.Errorf("got %d BPM (ok=%v), want 60 +/- 3", snap.BPM, snap.BPMOK)
		}
		assertFloatNear(t, snap.SpectralBPM, 60, 3)
		assertString(t, snap.Source, "synth")
		assertInt(t, snap.Samples, 600)
		assertFloatNear(t, snap.Elapsed, 599.0/30, 1e-6)
		if !snap.Signal {
			t.Errorf("signal should be present")
		}
	})

	t.Run("Every beat reached the output", func(t *testing.T) {
		assertInt(t, out.beatCount(), snap.Beats)
		assertInt(t, rec.beats, snap.Beats)
		assertInt(t, rec.samples, 600)
	})

	t.Run("Wave marks the beats", func(t *testing.T) {
		wave := session.Wave(0)
		assertInt(t, len(wave), cfg.WaveSize)
		var marked int
		for _, p := range wave {
			if p.Beat {
				marked++
			}
		}
		// 300 points is 10 s at 60 BPM
		if marked < 9 || marked > 11 {
			t.Errorf("got %d marked beats in the last 10 s", marked)
		}
		assertInt(t, len(session.Wave(30)), 30)
	})

	t.Run("Finish writes a reading and starts over", func(t *testing.T) {
		oldID := session.ID
		reading, err := session.Finish(context.Background())
		assertError(t, err, nil)
		assertString(t, reading.ID, oldID)
		assertInt(t, reading.BPM, snap.BPM)
		if reading.HRV == nil {
			t.Errorf("expected HRV on the reading")
		}
		assertInt(t, len(out.readingsCopy()), 1)
		assertInt(t, rec.readings, 1)

		if session.ID == oldID {
			t.Errorf("expected a new session ID")
		}
		after := session.Snapshot()
		assertInt(t, after.Beats, 0)
		assertInt(t, after.Samples, 0)
	})
}

func TestSession_Ingest(t *testing.T) {
	t.Run("Reports beats as they happen", func(t *testing.T) {
		session := Ss.NewSession(Ss.DefaultSessionConfig(Ss.DefaultTuning()))
		sim := Ss.NewPPGSim(30, 60, 2)
		var beats int
		for i := 0; i < 300; i++ {
			if _, beat := session.Ingest(sim.Next()); beat {
				beats++
			}
		}
		assertInt(t, beats, session.Snapshot().Beats)
	})

	t.Run("Extra emitters see every beat", func(t *testing.T) {
		var seen int
		cfg := Ss.DefaultSessionConfig(Ss.DefaultTuning())
		cfg.Emitters = []Ss.BeatEmitter{Ss.BeatFunc(func(St.Beat) { seen++ })}
		session := Ss.NewSession(cfg)
		sim := Ss.NewPPGSim(30, 60, 2)
		for i := 0; i < 300; i++ {
			session.Ingest(sim.Next())
		}
		assertInt(t, seen, session.Snapshot().Beats)
	})
}

func TestSession_IngestNonFinite(t *testing.T) {
	session := Ss.NewSession(Ss.DefaultSessionConfig(Ss.DefaultTuning()))
	sim := Ss.NewPPGSim(30, 60, 2)
	for i := 0; i < 300; i++ {
		session.Ingest(sim.Next())
	}
	beats := session.Snapshot().Beats

	bad := sim.Next()
	bad.Value = math.NaN()
	filtered, beat := session.Ingest(bad)

	t.Run("The sample is kept as an invalid point", func(t *testing.T) {
		if math.IsNaN(filtered) || beat {
			t.Errorf("got filtered %v beat %v for a NaN sample", filtered, beat)
		}
		last := session.Wave(1)
		assertInt(t, len(last), 1)
		if last[0].Valid || math.IsNaN(last[0].Value) {
			t.Errorf("got wave point %+v, want an invalid finite point", last[0])
		}
	})

	t.Run("Beats continue after it", func(t *testing.T) {
		for i := 0; i < 300; i++ {
			session.Ingest(sim.Next())
		}
		if got := session.Snapshot().Beats; got < beats+7 {
			t.Errorf("got %d beats, had %d before the NaN, want at least 7 more", got, beats)
		}
	})
}

func TestSession_NoSignal(t *testing.T) {
	cfg := Ss.DefaultSessionConfig(Ss.DefaultTuning())
	cfg.NoSignalTimeout = 2 * time.Second
	session := Ss.NewSession(cfg)

	clock := time.Unix(1700000000, 0)
	session.SetClock(func() time.Time { return clock })

	sim := Ss.NewPPGSim(30, 60, 4)
	for i := 0; i < 300; i++ {
		session.Ingest(sim.Next())
		clock = clock.Add(time.Second / 30)
	}
	if len(session.Processor().Intervals()) == 0 {
		t.Fatalf("expected intervals before the signal drops")
	}

	t.Run("Signal present while samples are valid", func(t *testing.T) {
		assertError(t, session.Signal(), nil)
	})

	t.Run("Lost after the timeout of invalid samples", func(t *testing.T) {
		for i := 0; i < 90; i++ {
			s := sim.Next()
			s.Valid = false
			session.Ingest(s)
			clock = clock.Add(time.Second / 30)
		}
		assertError(t, session.Signal(), Ss.ErrNoSignal)
		assertInt(t, len(session.Processor().Intervals()), 0)
		if session.Snapshot().Signal {
			t.Errorf("snapshot should show no signal")
		}
	})

	t.Run("Lost when samples stop altogether", func(t *testing.T) {
		fresh := Ss.NewSession(cfg)
		fresh.SetClock(func() time.Time { return clock })
		clock = clock.Add(3 * time.Second)
		assertError(t, fresh.Signal(), Ss.ErrNoSignal)
	})

	t.Run("Restored by a valid sample", func(t *testing.T) {
		session.Ingest(sim.Next())
		assertError(t, session.Signal(), nil)
	})
}

func TestSession_AutoRate(t *testing.T) {
	cfg := Ss.DefaultSessionConfig(Ss.DefaultTuning())
	cfg.AutoRate = true
	session := Ss.NewSession(cfg)

	sim := Ss.NewPPGSim(60, 60, 6)
	for i := 0; i < 6*60; i++ {
		session.Ingest(sim.Next())
	}

	t.Run("Follows the delivered rate", func(t *testing.T) {
		snap := session.Snapshot()
		assertFloat(t, snap.SampleRate, 60)
		assertFloatNear(t, snap.MeasuredRate, 60, 1e-6)
	})

	t.Run("Configure starts a new measurement", func(t *testing.T) {
		id := session.ID
		session.Configure(30)
		assertFloat(t, session.Snapshot().SampleRate, 30)
		if session.ID == id {
			t.Errorf("expected a new session ID")
		}
	})
}

func TestSession_RunErrors(t *testing.T) {
	t.Run("Source failure is returned", func(t *testing.T) {
		session := Ss.NewSession(Ss.DefaultSessionConfig(Ss.DefaultTuning()))
		err := session.Run(context.Background(), failSource{})
		assertError(t, err, errUnplugged)
	})

	t.Run("Cancelled context is a normal stop", func(t *testing.T) {
		session := Ss.NewSession(Ss.DefaultSessionConfig(Ss.DefaultTuning()))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := session.Run(ctx, Ss.NewSynthSource(Ss.NewPPGSim(30, 60, 1), true, 0))
		assertError(t, err, nil)
	})

	t.Run("Output failure on finish is returned", func(t *testing.T) {
		cfg := Ss.DefaultSessionConfig(Ss.DefaultTuning())
		cfg.Output = &memOutput{err: errUnplugged}
		session := Ss.NewSession(cfg)
		reading, err := session.Finish(context.Background())
		assertError(t, err, errUnplugged)
		if reading == nil {
			t.Errorf("reading should still be returned")
		}
	})
}

var errUnplugged = errors.New("sensor unplugged")

type failSource struct{}

func (failSource) Next(ctx context.Context) (St.Sample, error) { return St.Sample{}, errUnplugged }
func (failSource) Close() error                                  { return nil }
func (failSource) Type() string                                  { return "fail" }

// memOutput keeps everything in memory
type memOutput struct {
	mu       sync.Mutex
	beats    []St.Beat
	readings []*St.Reading
	err      error
}

func (m *memOutput) WriteBeat(beat St.Beat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beats = append(m.beats, beat)
	return nil
}

func (m *memOutput) WriteReading(reading *St.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.readings = append(m.readings, reading)
	return nil
}

func (m *memOutput) WriteBatch(readings []*St.Reading) error {
	for _, r := range readings {
		if err := m.WriteReading(r); err != nil {
			return err
		}
	}
	return nil
}

func (m *memOutput) QueryRange(start, end time.Time) ([]*St.Reading, error) {
	var out []*St.Reading
	for _, r := range m.readingsCopy() {
		if !r.StartTime.Before(start) && r.StartTime.Before(end) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memOutput) Flush() error { return nil }
func (m *memOutput) Close() error { return nil }
func (m *memOutput) Type() string { return "memory" }

func (m *memOutput) beatCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.beats)
}

func (m *memOutput) readingsCopy() []*St.Reading {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*St.Reading(nil), m.readings...)
}

// countRecorder is not locked, these tests drive it from one goroutine at a time
type countRecorder struct {
	samples, beats, readings int
}

func (c *countRecorder) RecSample(latency time.Duration, valid bool) { c.samples++ }
func (c *countRecorder) RecBeat(plausible bool)                      { c.beats++ }
func (c *countRecorder) RecReading(bpm int, quality float64)         { c.readings++ }
