// Package sequence holds the note, track, and tempo data shared by the
// editor, generators, and the playback engine. Sequences are immutable:
// every edit returns a new value, so playback can keep reading an old
// snapshot while the editor works (see Store).
package sequence

import (
	"fmt"
	"sort"
)

// Track is a named lane of notes, kept sorted by start tick. Equal starts
// keep insertion order.
type Track struct {
	Name    string
	Channel uint8 // 0-15
	Muted   bool
	Notes   []Note
}

// NotesIn returns the notes whose start tick lies in [from, to). The slice
// aliases the track; callers must not modify it.
func (t *Track) NotesIn(from, to int64) []Note {
	lo := sort.Search(len(t.Notes), func(i int) bool { return t.Notes[i].Start >= from })
	hi := sort.Search(len(t.Notes), func(i int) bool { return t.Notes[i].Start >= to })
	return t.Notes[lo:hi]
}

// Sequence is the aggregate the whole application shares: resolution, tempo
// map, and tracks. Values are read-only; the edit methods return modified
// copies and never touch the receiver.
type Sequence struct {
	PPQ    int64
	Tempo  *TempoMap
	Tracks []Track
}

// New returns an empty sequence at the given resolution.
func New(ppq int64) (*Sequence, error) {
	tm, err := NewTempoMap(ppq)
	if err != nil {
		return nil, err
	}
	return &Sequence{PPQ: ppq, Tempo: tm}, nil
}

// clone copies the sequence header and track headers. Note slices are shared
// until an edit replaces them.
func (s *Sequence) clone() *Sequence {
	out := &Sequence{PPQ: s.PPQ, Tempo: s.Tempo, Tracks: make([]Track, len(s.Tracks))}
	copy(out.Tracks, s.Tracks)
	return out
}

// AddTrack returns a copy with a new empty track appended.
func (s *Sequence) AddTrack(name string, channel uint8) (*Sequence, error) {
	if channel > 15 {
		return nil, fmt.Errorf("%w: channel %d", ErrInvalidRange, channel)
	}
	out := s.clone()
	out.Tracks = append(out.Tracks, Track{Name: name, Channel: channel})
	return out, nil
}

// AddNote returns a copy with the note inserted into the given track. The
// note keeps its id; ids must be unique across the whole sequence.
func (s *Sequence) AddNote(track int, n Note) (*Sequence, error) {
	if track < 0 || track >= len(s.Tracks) {
		return nil, fmt.Errorf("%w: track %d", ErrInvalidRange, track)
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	if _, _, ok := s.NoteByID(n.ID); ok {
		return nil, fmt.Errorf("%w: duplicate note id %s", ErrInvalidRange, n.ID)
	}
	out := s.clone()
	out.Tracks[track].Notes = insertNote(copyNotes(s.Tracks[track].Notes), n)
	return out, nil
}

// RemoveNote returns a copy without the identified note. An unknown id
// returns the receiver unchanged.
func (s *Sequence) RemoveNote(id NoteID) *Sequence {
	ti, ni, ok := s.NoteByID(id)
	if !ok {
		return s
	}
	out := s.clone()
	notes := copyNotes(s.Tracks[ti].Notes)
	out.Tracks[ti].Notes = append(notes[:ni], notes[ni+1:]...)
	return out
}

// ReplaceNote returns a copy with the note carrying n.ID swapped for n,
// re-sorting its track if the start moved.
func (s *Sequence) ReplaceNote(n Note) (*Sequence, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	ti, ni, ok := s.NoteByID(n.ID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown note id %s", ErrInvalidRange, n.ID)
	}
	out := s.clone()
	notes := copyNotes(s.Tracks[ti].Notes)
	notes = append(notes[:ni], notes[ni+1:]...)
	out.Tracks[ti].Notes = insertNote(notes, n)
	return out, nil
}

// MergeNotes returns a copy with all notes added to the given track. This is
// how generator output is committed in one step; nothing is merged if any
// note fails validation.
func (s *Sequence) MergeNotes(track int, notes []Note) (*Sequence, error) {
	if track < 0 || track >= len(s.Tracks) {
		return nil, fmt.Errorf("%w: track %d", ErrInvalidRange, track)
	}
	seen := make(map[NoteID]bool, len(notes))
	for _, n := range notes {
		if err := n.Validate(); err != nil {
			return nil, err
		}
		if seen[n.ID] {
			return nil, fmt.Errorf("%w: duplicate note id %s", ErrInvalidRange, n.ID)
		}
		seen[n.ID] = true
		if _, _, ok := s.NoteByID(n.ID); ok {
			return nil, fmt.Errorf("%w: duplicate note id %s", ErrInvalidRange, n.ID)
		}
	}
	out := s.clone()
	merged := copyNotes(s.Tracks[track].Notes)
	for _, n := range notes {
		merged = insertNote(merged, n)
	}
	out.Tracks[track].Notes = merged
	return out, nil
}

// SetTrackMuted returns a copy with the track's mute flag set.
func (s *Sequence) SetTrackMuted(track int, muted bool) (*Sequence, error) {
	if track < 0 || track >= len(s.Tracks) {
		return nil, fmt.Errorf("%w: track %d", ErrInvalidRange, track)
	}
	out := s.clone()
	out.Tracks[track].Muted = muted
	return out, nil
}

// SetTempo returns a copy whose tempo map has bpm in effect from tick onward.
func (s *Sequence) SetTempo(tick int64, bpm float64) (*Sequence, error) {
	tm, err := s.Tempo.SetTempo(tick, bpm)
	if err != nil {
		return nil, err
	}
	out := s.clone()
	out.Tempo = tm
	return out, nil
}

// SetTimeSig returns a copy whose tempo map has the meter in effect from
// tick onward.
func (s *Sequence) SetTimeSig(tick int64, num, den uint8) (*Sequence, error) {
	tm, err := s.Tempo.SetTimeSig(tick, num, den)
	if err != nil {
		return nil, err
	}
	out := s.clone()
	out.Tempo = tm
	return out, nil
}

// NoteByID finds a note anywhere in the sequence and returns its track and
// position there.
func (s *Sequence) NoteByID(id NoteID) (track, index int, ok bool) {
	for ti := range s.Tracks {
		for ni := range s.Tracks[ti].Notes {
			if s.Tracks[ti].Notes[ni].ID == id {
				return ti, ni, true
			}
		}
	}
	return 0, 0, false
}

// EndTick returns the end of the last note across all tracks.
func (s *Sequence) EndTick() int64 {
	var end int64
	for _, t := range s.Tracks {
		for _, n := range t.Notes {
			if n.End() > end {
				end = n.End()
			}
		}
	}
	return end
}

// NoteCount returns the number of notes across all tracks.
func (s *Sequence) NoteCount() int {
	var n int
	for _, t := range s.Tracks {
		n += len(t.Notes)
	}
	return n
}

func insertNote(notes []Note, n Note) []Note {
	i := sort.Search(len(notes), func(i int) bool { return notes[i].Start > n.Start })
	notes = append(notes, Note{})
	copy(notes[i+1:], notes[i:])
	notes[i] = n
	return notes
}

func copyNotes(notes []Note) []Note {
	out := make([]Note, len(notes))
	copy(out, notes)
	return out
}
