//go:build !nomidi

package systole

import (
	Sp "github.com/maroda/systole/plugin"
)

// midiOutput finds the MIDI output, directly or inside a MultiOutput
func (v *View) midiOutput() *Sp.MIDIOutput {
	switch o := v.Output.(type) {
	case *Sp.MIDIOutput:
		return o
	case Sp.MultiOutput:
		for _, inner := range o {
			if m, ok := inner.(*Sp.MIDIOutput); ok {
				return m
			}
		}
	}
	return nil
}

func (v *View) getMIDISystemInfo(systemInfo *SystemInfo) {
	midiOut := v.midiOutput()
	if midiOut == nil {
		return
	}
	if midiOut.Port != nil {
		systemInfo.MIDIPort = midiOut.Port.String()
	}
	systemInfo.MIDIChannel = int(Sp.BeatChannel)
	systemInfo.MIDINote = int(Sp.BeatNote)
}
