//go:build !nomidi

package plugin

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	St "github.com/maroda/systole/types"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

const (
	// BeatNote sounds for plausible beats, OddNote for the rest
	BeatNote    uint8 = 60
	OddNote     uint8 = 48
	BeatLength        = 80 * time.Millisecond
	BeatChannel uint8 = 9
)

// MIDIOutput sounds one short note per beat
type MIDIOutput struct {
	Port drivers.Out
	Send func(msg midi.Message) error
	WG   sync.WaitGroup
}

func NewMIDIOutput(port int) (*MIDIOutput, error) {
	out, err := midi.OutPort(port)
	if err != nil {
		slog.Error("Error opening MIDI port", slog.Int("port", port))
		return nil, fmt.Errorf("error opening MIDI port: %w", err)
	}

	send, err := midi.SendTo(out)
	if err != nil {
		slog.Error("Error sending to MIDI port", slog.Int("port", port))
		return nil, fmt.Errorf("error sending to MIDI port: %w", err)
	}

	return &MIDIOutput{
		Port: out,
		Send: send,
	}, nil
}

func (mo *MIDIOutput) SendNoteOnMIDI(midic, midin, midiv uint8) error {
	return mo.Send(midi.NoteOn(midic, midin, midiv))
}

func (mo *MIDIOutput) SendNoteOffMIDI(midic, midin uint8) error {
	return mo.Send(midi.NoteOff(midic, midin))
}

// BeatVelocity drops for implausible beats
func BeatVelocity(beat St.Beat) uint8 {
	if !beat.Plausible {
		return 64
	}
	return 100
}

// WriteBeat returns immediately, the note is held in its own goroutine
func (mo *MIDIOutput) WriteBeat(beat St.Beat) error {
	note := BeatNote
	if !beat.Plausible {
		note = OddNote
	}
	velocity := BeatVelocity(beat)

	mo.WG.Add(1)
	go func() {
		defer mo.WG.Done()
		if err := mo.SendNoteOnMIDI(BeatChannel, note, velocity); err != nil {
			slog.Error("NoteOn event failed", slog.Any("error", err))
			return
		}
		time.Sleep(BeatLength)
		if err := mo.SendNoteOffMIDI(BeatChannel, note); err != nil {
			slog.Error("NoteOff event failed, attempting Flush")
			_ = mo.Flush()
		}
	}()

	return nil
}

func (mo *MIDIOutput) WriteReading(reading *St.Reading) error { return nil }

func (mo *MIDIOutput) WriteBatch(readings []*St.Reading) error { return nil }

func (mo *MIDIOutput) QueryRange(start, end time.Time) ([]*St.Reading, error) {
	return nil, ErrNoQuery
}

func (mo *MIDIOutput) Flush() error {
	return mo.Send(midi.ControlChange(BeatChannel, midi.AllNotesOff, midi.Off))
}

func (mo *MIDIOutput) Close() error {
	mo.WG.Wait()

	if mo.Port != nil {
		mo.Port.Close()
		midi.CloseDriver()
	}
	return nil
}

func (mo *MIDIOutput) Type() string { return "MIDI" }
