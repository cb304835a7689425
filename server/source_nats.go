package systole

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"

	"github.com/nats-io/nats.go"

	Sp "github.com/maroda/systole/plugin"
	St "github.com/maroda/systole/types"
)

// FrameSize is the wire size of one sample:
// float64 timestamp, float32 value, uint8 valid, little endian.
const FrameSize = 13

// EncodeFrames packs samples for publishing
func EncodeFrames(samples []St.Sample) []byte {
	out := make([]byte, FrameSize*len(samples))
	for i, s := range samples {
		b := out[i*FrameSize:]
		binary.LittleEndian.PutUint64(b[0:8], math.Float64bits(s.Timestamp))
		binary.LittleEndian.PutUint32(b[8:12], math.Float32bits(float32(s.Value)))
		if s.Valid {
			b[12] = 1
		}
	}
	return out
}

// DecodeFrames unpacks a message; a trailing partial frame or a
// non-finite timestamp is an error. A non-finite value arrives as an
// invalid sample with value zero.
func DecodeFrames(data []byte) ([]St.Sample, error) {
	if len(data)%FrameSize != 0 {
		return nil, fmt.Errorf("message of %d bytes is not a whole number of %d byte frames", len(data), FrameSize)
	}
	samples := make([]St.Sample, 0, len(data)/FrameSize)
	for i := 0; i < len(data); i += FrameSize {
		b := data[i : i+FrameSize]
		s := St.Sample{
			Timestamp: math.Float64frombits(binary.LittleEndian.Uint64(b[0:8])),
			Value:     float64(math.Float32frombits(binary.LittleEndian.Uint32(b[8:12]))),
			Valid:     b[12] != 0,
		}
		if !Finite(s.Timestamp) {
			return nil, fmt.Errorf("frame %d has non-finite timestamp %v", i/FrameSize, s.Timestamp)
		}
		if !Finite(s.Value) {
			s.Value, s.Valid = 0, false
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// NATSSource subscribes to a subject carrying batches of sample frames.
// Messages are queued on a channel and unpacked one sample per Next.
type NATSSource struct {
	Subject string

	conn    *nats.Conn
	sub     *nats.Subscription
	msgs    chan *nats.Msg
	pending []St.Sample
}

// NewNATSSource connects to url and subscribes to subject
func NewNATSSource(url, subject string) (*NATSSource, error) {
	nc, err := Sp.ConnectNATS(url, "systole-source")
	if err != nil {
		slog.Error("Could not connect to NATS", slog.String("url", url), slog.Any("error", err))
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	src := &NATSSource{
		Subject: subject,
		conn:    nc,
		msgs:    make(chan *nats.Msg, 256),
	}
	src.sub, err = nc.ChanSubscribe(subject, src.msgs)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	slog.Info("NATS source subscribed", slog.String("url", url), slog.String("subject", subject))
	return src, nil
}

func (n *NATSSource) Next(ctx context.Context) (St.Sample, error) {
	for len(n.pending) == 0 {
		select {
		case <-ctx.Done():
			return St.Sample{}, ctx.Err()
		case msg, ok := <-n.msgs:
			if !ok {
				return St.Sample{}, ErrSourceClosed
			}
			samples, err := DecodeFrames(msg.Data)
			if err != nil {
				slog.Error("Dropping malformed sample message", slog.Any("error", err))
				continue
			}
			n.pending = samples
		}
	}

	s := n.pending[0]
	n.pending = n.pending[1:]
	return s, nil
}

func (n *NATSSource) Close() error {
	if n.sub != nil {
		if err := n.sub.Unsubscribe(); err != nil {
			slog.Error("NATS unsubscribe failed", slog.Any("error", err))
		}
	}
	return n.conn.Drain()
}

func (n *NATSSource) Type() string { return "nats" }
