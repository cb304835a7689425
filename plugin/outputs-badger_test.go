package plugin_test

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	Sp "github.com/maroda/systole/plugin"
	St "github.com/maroda/systole/types"
)

func TestNewBadgerOutput(t *testing.T) {
	adapter, closedb := makeTestBadgerOutput(t)
	defer closedb()

	t.Run("Creates new struct for output", func(t *testing.T) {
		got, err := Sp.NewBadgerOutput(t.TempDir(), 10)
		assertError(t, err, nil)
		defer got.Close()
		assertInt(t, got.BatchSize, 10)
	})

	t.Run("Batch size below one becomes one", func(t *testing.T) {
		got, err := Sp.NewBadgerOutput(t.TempDir(), 0)
		assertError(t, err, nil)
		defer got.Close()
		assertInt(t, got.BatchSize, 1)
	})

	t.Run("Returns Type", func(t *testing.T) {
		assertStringContains(t, adapter.Type(), "BadgerDB")
	})
}

func TestBadgerOutput_WriteReading(t *testing.T) {
	adapter, closedb := makeTestBadgerOutput(t)
	defer closedb()

	t.Run("Beats are ignored", func(t *testing.T) {
		err := adapter.WriteBeat(St.Beat{Timestamp: 1, Interval: 0.8, Plausible: true})
		assertError(t, err, nil)
		assertInt(t, len(adapter.Buffer), 0)
	})

	t.Run("Buffers until the batch is full", func(t *testing.T) {
		start := time.Now()
		for i := 0; i < 4; i++ {
			err := adapter.WriteReading(makeReading(start.Add(time.Duration(i)*time.Second), i))
			assertError(t, err, nil)
		}
		assertInt(t, len(adapter.Buffer), 4)

		got, err := adapter.QueryRange(start.Add(-time.Second), start.Add(10*time.Second))
		assertError(t, err, nil)
		assertInt(t, len(got), 0)

		// fifth reading triggers the write
		err = adapter.WriteReading(makeReading(start.Add(4*time.Second), 4))
		assertError(t, err, nil)
		assertInt(t, len(adapter.Buffer), 0)

		got, err = adapter.QueryRange(start.Add(-time.Second), start.Add(10*time.Second))
		assertError(t, err, nil)
		assertInt(t, len(got), 5)

		if got[0].BPM != 60 || got[4].BPM != 64 {
			t.Errorf("readings out of order: first BPM %d, last BPM %d", got[0].BPM, got[4].BPM)
		}
		if got[2].HRV == nil || got[2].HRV.Count != 22 {
			t.Errorf("HRV did not survive the round trip: %+v", got[2].HRV)
		}
	})
}

func TestBadgerOutput_ReadingKey(t *testing.T) {
	start := time.Unix(1700000000, 250)
	r := &St.Reading{ID: "abcdefghijkl", StartTime: start}

	t.Run("Leads with the big endian start time", func(t *testing.T) {
		key := Sp.ReadingKey(r)
		assertInt(t, len(key), 16)
		got := int64(binary.BigEndian.Uint64(key[0:8]))
		assertInt64(t, got, start.UnixNano())
	})

	t.Run("Ends with the ID prefix", func(t *testing.T) {
		key := Sp.ReadingKey(r)
		if !bytes.Equal(key[8:], []byte("abcdefgh")) {
			t.Errorf("ReadingKey suffix = %q, want %q", key[8:], "abcdefgh")
		}
	})

	t.Run("Sorts by time", func(t *testing.T) {
		early := Sp.ReadingKey(&St.Reading{ID: "zzzz", StartTime: start})
		late := Sp.ReadingKey(&St.Reading{ID: "aaaa", StartTime: start.Add(time.Millisecond)})
		if bytes.Compare(early, late) >= 0 {
			t.Errorf("expected earlier key to sort first")
		}
	})
}

func TestBadgerOutput_WriteBatch(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		readings []*St.Reading
		wantErr  bool
	}{
		{
			name:     "empty batch",
			readings: []*St.Reading{},
			wantErr:  false,
		},
		{
			name:     "single reading",
			readings: []*St.Reading{makeReading(now, 0)},
			wantErr:  false,
		},
		{
			name: "multiple readings",
			readings: []*St.Reading{
				makeReading(now, 0),
				makeReading(now.Add(1*time.Second), 1),
				makeReading(now.Add(2*time.Second), 2),
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, closedb := makeTestBadgerOutput(t)
			defer closedb()

			err := adapter.WriteBatch(tt.readings)
			if (err != nil) != tt.wantErr {
				t.Errorf("WriteBatch() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBadgerOutput_QueryRange(t *testing.T) {
	adapter, closedb := makeTestBadgerOutput(t)
	defer closedb()

	start := time.Now()
	var readings []*St.Reading
	for i := 0; i < 6; i++ {
		readings = append(readings, makeReading(start.Add(time.Duration(i)*time.Minute), i))
	}
	assertError(t, adapter.WriteBatch(readings), nil)

	t.Run("Returns readings inside the window", func(t *testing.T) {
		got, err := adapter.QueryRange(start.Add(90*time.Second), start.Add(4*time.Minute))
		assertError(t, err, nil)
		assertInt(t, len(got), 2)
		for _, r := range got {
			t.Logf("QueryResult StartTime: %v", r.StartTime)
		}
	})

	t.Run("End is exclusive", func(t *testing.T) {
		got, err := adapter.QueryRange(start, start.Add(time.Minute))
		assertError(t, err, nil)
		assertInt(t, len(got), 1)
	})

	t.Run("Empty window returns nothing", func(t *testing.T) {
		got, err := adapter.QueryRange(start.Add(-time.Hour), start.Add(-time.Minute))
		assertError(t, err, nil)
		assertInt(t, len(got), 0)
	})
}

func TestBadgerOutput_Close(t *testing.T) {
	path := t.TempDir()
	adapter, err := Sp.NewBadgerOutput(path, 10)
	assertError(t, err, nil)

	start := time.Now()
	assertError(t, adapter.WriteReading(makeReading(start, 0)), nil)

	t.Run("Flushes pending readings on close", func(t *testing.T) {
		assertError(t, adapter.Close(), nil)

		reopened, err := Sp.NewBadgerOutput(path, 10)
		assertError(t, err, nil)
		defer reopened.Close()

		got, err := reopened.QueryRange(start.Add(-time.Second), start.Add(time.Second))
		assertError(t, err, nil)
		assertInt(t, len(got), 1)
	})
}

// Helpers //

func makeTestBadgerOutput(t *testing.T) (*Sp.BadgerOutput, func()) {
	t.Helper()

	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	assertError(t, err, nil)

	adapter := &Sp.BadgerOutput{
		DB:        db,
		BatchSize: 5,
		Buffer:    make([]*St.Reading, 0, 5),
	}

	cleanup := func() {
		adapter.Close()
	}

	return adapter, cleanup
}

func makeReading(start time.Time, n int) *St.Reading {
	return &St.Reading{
		ID:         "reading-" + string(rune('a'+n)) + "-0000",
		StartTime:  start,
		Duration:   30 * time.Second,
		SampleRate: 30,
		Beats:      30 + n,
		BPM:        60 + n,
		Quality:    0.9,
		HRV: &St.HRVMetrics{
			SDNN:    42,
			RMSSD:   38,
			MeanRR:  1000,
			Quality: St.HRVEstimated,
			Count:   20 + n,
		},
	}
}
