package midi

import (
	"fmt"

	gomidi "gitlab.com/gomidi/midi/v2"
)

// MIDI message types (status high nibble)
const (
	NoteOn  uint8 = 0x90
	NoteOff uint8 = 0x80
	CC      uint8 = 0xB0
)

// Event is one outgoing message, resolved to channel and data bytes but not
// yet to an absolute time. The scheduler stamps the deadline separately.
type Event struct {
	Type       uint8 // NoteOn, NoteOff, CC
	Channel    uint8 // 0-15
	Note       uint8
	Velocity   uint8
	Controller uint8 // CC only
	Value      uint8 // CC only
}

// Message converts the event to a gomidi wire message.
func (e Event) Message() gomidi.Message {
	switch e.Type {
	case NoteOn:
		return gomidi.NoteOn(e.Channel, e.Note, e.Velocity)
	case NoteOff:
		return gomidi.NoteOff(e.Channel, e.Note)
	case CC:
		return gomidi.ControlChange(e.Channel, e.Controller, e.Value)
	}
	return nil
}

func (e Event) String() string {
	switch e.Type {
	case NoteOn:
		return fmt.Sprintf("on  ch%-2d %-4s v%d", e.Channel+1, NoteName(e.Note), e.Velocity)
	case NoteOff:
		return fmt.Sprintf("off ch%-2d %s", e.Channel+1, NoteName(e.Note))
	case CC:
		return fmt.Sprintf("cc  ch%-2d %d=%d", e.Channel+1, e.Controller, e.Value)
	}
	return "unknown"
}

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// NoteName formats a MIDI key number as pitch and octave, middle C (60) as C4.
func NoteName(key uint8) string {
	return fmt.Sprintf("%s%d", noteNames[key%12], int(key/12)-1)
}
