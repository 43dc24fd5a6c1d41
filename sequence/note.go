package sequence

import (
	"fmt"

	"github.com/google/uuid"
)

// NoteID identifies a note across every track of a sequence. The editor and
// the playback engine both key their bookkeeping on it.
type NoteID string

// NewNoteID returns a fresh unique note id.
func NewNoteID() NoteID { return NoteID(uuid.NewString()) }

// Note is a single scheduled pitch. Start and Duration are in ticks at the
// owning sequence's resolution, never wall-clock.
type Note struct {
	ID       NoteID
	Pitch    uint8 // semitone, 0-127
	Velocity uint8 // 0-127
	Start    int64 // tick, >= 0
	Duration int64 // ticks, > 0
	Channel  uint8 // 0-15
}

// NewNote builds a note with a fresh id.
func NewNote(pitch, velocity uint8, start, duration int64, channel uint8) Note {
	return Note{
		ID:       NewNoteID(),
		Pitch:    pitch,
		Velocity: velocity,
		Start:    start,
		Duration: duration,
		Channel:  channel,
	}
}

// End returns the tick at which the note stops sounding.
func (n Note) End() int64 { return n.Start + n.Duration }

// Validate checks the MIDI 7-bit ranges and tick sanity.
func (n Note) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("%w: note without id", ErrInvalidRange)
	}
	if n.Pitch > 127 {
		return fmt.Errorf("%w: pitch %d", ErrInvalidRange, n.Pitch)
	}
	if n.Velocity > 127 {
		return fmt.Errorf("%w: velocity %d", ErrInvalidRange, n.Velocity)
	}
	if n.Start < 0 {
		return fmt.Errorf("%w: start tick %d", ErrInvalidRange, n.Start)
	}
	if n.Duration <= 0 {
		return fmt.Errorf("%w: duration %d", ErrInvalidRange, n.Duration)
	}
	if n.Channel > 15 {
		return fmt.Errorf("%w: channel %d", ErrInvalidRange, n.Channel)
	}
	return nil
}
