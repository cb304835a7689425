//go:build nomidi

package plugin

import (
	"errors"
	"time"

	St "github.com/maroda/systole/types"
)

var errNoMIDI = errors.New("MIDI support not compiled in this build")

type MIDIOutput struct{}

func NewMIDIOutput(port int) (*MIDIOutput, error) { return nil, errNoMIDI }

func (m *MIDIOutput) WriteBeat(beat St.Beat) error            { return errNoMIDI }
func (m *MIDIOutput) WriteReading(reading *St.Reading) error  { return errNoMIDI }
func (m *MIDIOutput) WriteBatch(readings []*St.Reading) error { return errNoMIDI }

func (m *MIDIOutput) QueryRange(start, end time.Time) ([]*St.Reading, error) {
	return nil, ErrNoQuery
}

func (m *MIDIOutput) Flush() error { return nil }
func (m *MIDIOutput) Close() error { return nil }
func (m *MIDIOutput) Type() string { return "midi-disabled" }
