package plugin

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	St "github.com/maroda/systole/types"
	"github.com/nats-io/nats.go"
)

// BeatMsg is published on <subject>.beat for every accepted beat
type BeatMsg struct {
	Ts        float64 `json:"ts"`
	Interval  float64 `json:"interval"`
	Plausible bool    `json:"plausible"`
}

func NewBeatMsg(beat St.Beat) BeatMsg {
	return BeatMsg{Ts: beat.Timestamp, Interval: beat.Interval, Plausible: beat.Plausible}
}

// ConnectNATS dials with reconnects that never give up.
// The first connection still has to succeed.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	return nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
	)
}

// NATSOutput publishes beats and readings as JSON.
// Beats go to Subject+".beat", readings to Subject+".reading".
type NATSOutput struct {
	Conn    *nats.Conn
	Subject string
}

func NewNATSOutput(url, subject string) (*NATSOutput, error) {
	nc, err := ConnectNATS(url, "systole-output")
	if err != nil {
		slog.Error("NATSOutput failed to connect", slog.String("url", url), slog.Any("error", err))
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	slog.Info("NATSOutput connected", slog.String("url", url), slog.String("subject", subject))
	return &NATSOutput{Conn: nc, Subject: subject}, nil
}

func (no *NATSOutput) WriteBeat(beat St.Beat) error {
	b, err := json.Marshal(NewBeatMsg(beat))
	if err != nil {
		return err
	}
	return no.Conn.Publish(no.Subject+".beat", b)
}

func (no *NATSOutput) WriteReading(reading *St.Reading) error {
	b, err := json.Marshal(reading)
	if err != nil {
		return err
	}
	if err := no.Conn.Publish(no.Subject+".reading", b); err != nil {
		slog.Error("NATSOutput failed to publish reading", slog.String("id", reading.ID), slog.Any("error", err))
		return fmt.Errorf("publish reading: %w", err)
	}
	return nil
}

func (no *NATSOutput) WriteBatch(readings []*St.Reading) error {
	for _, r := range readings {
		if err := no.WriteReading(r); err != nil {
			return err
		}
	}
	return nil
}

func (no *NATSOutput) QueryRange(start, end time.Time) ([]*St.Reading, error) {
	return nil, ErrNoQuery
}

func (no *NATSOutput) Flush() error { return no.Conn.Flush() }

func (no *NATSOutput) Close() error { return no.Conn.Drain() }

func (no *NATSOutput) Type() string { return "NATS" }
