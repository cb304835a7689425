package systole

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/tarm/serial"

	St "github.com/maroda/systole/types"
)

// SerialSource reads a line-oriented PPG sensor (e.g. a microcontroller
// streaming "value" or "timestamp,value,valid" per line).
// Single-value lines are timestamped on arrival and are valid when the
// value is at least MinValue, the usual finger-on-sensor test.
type SerialSource struct {
	Port     string
	Baud     int
	MinValue float64

	conn  io.ReadWriteCloser
	lines *bufio.Scanner
	start time.Time

	// a read timeout on a real port surfaces as EOF, keep reading
	timeouts bool
}

// NewSerialSource opens port at baud
func NewSerialSource(port string, baud int, minValue float64) (*SerialSource, error) {
	config := &serial.Config{
		Name:        port,
		Baud:        baud,
		ReadTimeout: 500 * time.Millisecond,
	}
	conn, err := serial.OpenPort(config)
	if err != nil {
		slog.Error("Could not open serial port", slog.String("port", port), slog.Any("error", err))
		return nil, fmt.Errorf("serial open %s: %w", port, err)
	}
	slog.Info("Serial source opened", slog.String("port", port), slog.Int("baud", baud))
	src := newSerialSource(conn, port, baud, minValue)
	src.timeouts = true
	return src, nil
}

func newSerialSource(conn io.ReadWriteCloser, port string, baud int, minValue float64) *SerialSource {
	return &SerialSource{
		Port:     port,
		Baud:     baud,
		MinValue: minValue,
		conn:     conn,
		lines:    bufio.NewScanner(conn),
		start:    time.Now(),
	}
}

// NewSerialSourceFrom reads from an already open stream, used for testing
// and for sensors exposed as plain character devices
func NewSerialSourceFrom(conn io.ReadWriteCloser, minValue float64) *SerialSource {
	return newSerialSource(conn, "stream", 0, minValue)
}

func (s *SerialSource) Next(ctx context.Context) (St.Sample, error) {
	for {
		if err := ctx.Err(); err != nil {
			return St.Sample{}, err
		}
		if !s.lines.Scan() {
			if err := s.lines.Err(); err != nil {
				return St.Sample{}, fmt.Errorf("serial read: %w", err)
			}
			if s.timeouts {
				s.lines = bufio.NewScanner(s.conn)
				continue
			}
			return St.Sample{}, ErrSourceClosed
		}

		line := strings.TrimSpace(s.lines.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, ",")
		sample, err := ParseSampleFields(fields, time.Since(s.start).Seconds())
		if err != nil {
			slog.Debug("Skipping serial line", slog.String("line", line), slog.Any("error", err))
			continue
		}
		if len(fields) == 1 {
			sample.Valid = sample.Value >= s.MinValue
		}
		return sample, nil
	}
}

func (s *SerialSource) Close() error { return s.conn.Close() }

func (s *SerialSource) Type() string { return "serial" }
