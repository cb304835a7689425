package systole

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	St "github.com/maroda/systole/types"
)

var (
	// ErrSourceClosed ends a session normally: the source has no more samples
	ErrSourceClosed = errors.New("sample source closed")
	// ErrNoSignal is reported when no valid sample arrived for too long
	ErrNoSignal = errors.New("no valid signal")
	// ErrUnknownSource is returned by OpenSource for a name it cannot build
	ErrUnknownSource = errors.New("unknown sample source")
)

// SampleSource delivers samples one at a time.
// Next blocks until a sample is ready, ctx is done or the source ends.
type SampleSource interface {
	Next(ctx context.Context) (St.Sample, error)
	Close() error
	Type() string
}

// ParseSampleFields reads "value", "timestamp,value" or
// "timestamp,value,valid". A missing timestamp uses now,
// a missing validity flag is true.
func ParseSampleFields(fields []string, now float64) (St.Sample, error) {
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	s := St.Sample{Timestamp: now, Valid: true}
	var err error

	switch len(fields) {
	case 1:
		s.Value, err = strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return s, fmt.Errorf("invalid value %q: %w", fields[0], err)
		}
	case 2, 3:
		s.Timestamp, err = strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return s, fmt.Errorf("invalid timestamp %q: %w", fields[0], err)
		}
		s.Value, err = strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return s, fmt.Errorf("invalid value %q: %w", fields[1], err)
		}
		if len(fields) == 3 {
			s.Valid, err = strconv.ParseBool(fields[2])
			if err != nil {
				return s, fmt.Errorf("invalid validity flag %q: %w", fields[2], err)
			}
		}
	default:
		return s, fmt.Errorf("expected 1 to 3 fields, got %d", len(fields))
	}

	// ParseFloat takes "NaN" and "Inf", neither is a reading
	if !Finite(s.Timestamp) {
		return s, fmt.Errorf("non-finite timestamp %v", s.Timestamp)
	}
	if !Finite(s.Value) {
		return s, fmt.Errorf("non-finite value %v", s.Value)
	}
	return s, nil
}

// CSVSource reads recorded samples, one per row.
// A leading header row (any non-numeric first field) is skipped.
// Rows that fail to parse are logged and skipped.
// Rows without a timestamp are stamped at Rate, or on arrival when
// Rate is zero.
type CSVSource struct {
	Rate float64

	reader *csv.Reader
	closer io.Closer
	line   int
	served int
	start  time.Time
}

// NewCSVSource reads from r; r is closed by Close when it is an io.Closer
func NewCSVSource(r io.Reader, rate float64) *CSVSource {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	src := &CSVSource{Rate: rate, reader: reader, start: time.Now()}
	if c, ok := r.(io.Closer); ok {
		src.closer = c
	}
	return src
}

func (c *CSVSource) Next(ctx context.Context) (St.Sample, error) {
	for {
		if err := ctx.Err(); err != nil {
			return St.Sample{}, err
		}

		record, err := c.reader.Read()
		if errors.Is(err, io.EOF) {
			return St.Sample{}, ErrSourceClosed
		}
		c.line++
		if err != nil {
			slog.Error("Skipping unreadable csv line", slog.Int("line", c.line), slog.Any("error", err))
			continue
		}

		s, err := ParseSampleFields(record, c.stamp())
		if err != nil {
			if c.line == 1 {
				continue // header
			}
			slog.Error("Skipping invalid sample", slog.Int("line", c.line), slog.Any("error", err))
			continue
		}
		c.served++
		return s, nil
	}
}

func (c *CSVSource) stamp() float64 {
	if c.Rate > 0 {
		return float64(c.served) / c.Rate
	}
	return time.Since(c.start).Seconds()
}

func (c *CSVSource) Close() error {
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

func (c *CSVSource) Type() string { return "csv" }

// SynthSource serves a PPGSim. With Paced set, samples are released
// in real time at the simulator's rate, otherwise as fast as asked.
// Limit caps the number of samples, zero means endless.
type SynthSource struct {
	Sim   *PPGSim
	Paced bool
	Limit int

	served int
	ticker *time.Ticker
}

// NewSynthSource wraps sim
func NewSynthSource(sim *PPGSim, paced bool, limit int) *SynthSource {
	return &SynthSource{Sim: sim, Paced: paced, Limit: limit}
}

func (s *SynthSource) Next(ctx context.Context) (St.Sample, error) {
	if s.Limit > 0 && s.served >= s.Limit {
		return St.Sample{}, ErrSourceClosed
	}

	if s.Paced {
		if s.ticker == nil {
			s.ticker = time.NewTicker(time.Duration(float64(time.Second) / s.Sim.Rate))
		}
		select {
		case <-ctx.Done():
			return St.Sample{}, ctx.Err()
		case <-s.ticker.C:
		}
	} else if err := ctx.Err(); err != nil {
		return St.Sample{}, err
	}

	s.served++
	return s.Sim.Next(), nil
}

func (s *SynthSource) Close() error {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	return nil
}

func (s *SynthSource) Type() string { return "synth" }

// OpenSource builds the source named by Settings.Source.
// The synthetic source is paced in real time, its noise, jitter and seed
// come from SYSTOLE_SYNTH_NOISE, SYSTOLE_SYNTH_JITTER and SYSTOLE_SYNTH_SEED.
func OpenSource(s Settings) (SampleSource, error) {
	switch s.Source {
	case "synth":
		seed := uint64(FillEnvVarInt("SYSTOLE_SYNTH_SEED", 0))
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		sim := NewPPGSim(s.SampleRate, s.SynthBPM, seed)
		sim.Noise = FillEnvVarFloat("SYSTOLE_SYNTH_NOISE", 0.3)
		sim.Jitter = FillEnvVarFloat("SYSTOLE_SYNTH_JITTER", 0.03)
		return NewSynthSource(sim, true, 0), nil
	case "csv":
		if s.CSVPath == "" {
			return nil, errors.New("csv source needs SYSTOLE_CSV_PATH")
		}
		f, err := os.Open(s.CSVPath)
		if err != nil {
			return nil, fmt.Errorf("open csv: %w", err)
		}
		return NewCSVSource(f, s.SampleRate), nil
	case "serial":
		return NewSerialSource(s.SerialPort, s.SerialBaud, s.SerialMinValue)
	case "nats":
		return NewNATSSource(s.NATSURL, s.NATSSubject)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSource, s.Source)
}
