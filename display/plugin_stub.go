//go:build nomidi

package systole

// getMIDISystemInfo has nothing to report without MIDI support
func (v *View) getMIDISystemInfo(systemInfo *SystemInfo) {}
