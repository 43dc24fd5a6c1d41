// Package codec converts sequences to and from standard MIDI files. The rest
// of the application never touches SMF bytes; it hands a Sequence to Encode
// or gets one back from Decode, and everything in between stays in ticks.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"pianoroll/sequence"
)

// ErrDecode reports a malformed or unsupported MIDI file. No sequence is
// produced when it is returned.
var ErrDecode = errors.New("decode midi file")

// maxSMFPPQ is the largest metric division an SMF header can carry (15 bits).
const maxSMFPPQ = 0x7fff

type fileEvent struct {
	tick int64
	off  bool
	msg  []byte
}

// Encode renders the sequence as a type-1 SMF: one conductor track carrying
// the tempo map, then one track per sequence track. Mute flags are a session
// setting and are not written.
func Encode(s *sequence.Sequence) ([]byte, error) {
	if s.PPQ <= 0 || s.PPQ > maxSMFPPQ {
		return nil, fmt.Errorf("%w: ppq %d not encodable", sequence.ErrInvalidRange, s.PPQ)
	}
	sm := smf.New()
	sm.TimeFormat = smf.MetricTicks(uint16(s.PPQ))

	if err := sm.Add(conductorTrack(s.Tempo)); err != nil {
		return nil, err
	}
	for _, t := range s.Tracks {
		if err := sm.Add(noteTrack(t)); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if _, err := sm.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func conductorTrack(tm *sequence.TempoMap) smf.Track {
	evs := make([]fileEvent, 0, 8)
	for _, sig := range tm.TimeSigs() {
		evs = append(evs, fileEvent{tick: sig.Tick, msg: smf.MetaMeter(sig.Num, sig.Den)})
	}
	for _, t := range tm.Tempos() {
		evs = append(evs, fileEvent{tick: t.Tick, msg: smf.MetaTempo(t.BPM)})
	}
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].tick < evs[j].tick })

	var tr smf.Track
	var prev int64
	for _, ev := range evs {
		tr.Add(uint32(ev.tick-prev), ev.msg)
		prev = ev.tick
	}
	tr.Close(0)
	return tr
}

// noteTrack lays a track's notes out as delta-timed on/off pairs. At equal
// ticks the off goes first so back-to-back repeats of a pitch survive the
// round trip as two notes.
func noteTrack(t sequence.Track) smf.Track {
	evs := make([]fileEvent, 0, 2*len(t.Notes))
	for _, n := range t.Notes {
		evs = append(evs, fileEvent{tick: n.Start, msg: midi.NoteOn(n.Channel, n.Pitch, n.Velocity)})
		evs = append(evs, fileEvent{tick: n.End(), off: true, msg: midi.NoteOff(n.Channel, n.Pitch)})
	}
	sort.SliceStable(evs, func(i, j int) bool {
		if evs[i].tick != evs[j].tick {
			return evs[i].tick < evs[j].tick
		}
		return evs[i].off && !evs[j].off
	})

	var tr smf.Track
	if t.Name != "" {
		tr.Add(0, smf.MetaTrackSequenceName(t.Name))
	}
	var prev int64
	for _, ev := range evs {
		tr.Add(uint32(ev.tick-prev), ev.msg)
		prev = ev.tick
	}
	tr.Close(0)
	return tr
}

// Decode parses an SMF into a fresh sequence. Tempo and meter events from
// every track feed the tempo map; note on/off pairs become Notes with new
// ids. A note-on with velocity zero ends a note, matching common practice.
func Decode(data []byte) (*sequence.Sequence, error) {
	sm, err := smf.ReadFrom(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	mt, ok := sm.TimeFormat.(smf.MetricTicks)
	if !ok {
		return nil, fmt.Errorf("%w: smpte time format", ErrDecode)
	}
	seq, err := sequence.New(int64(mt))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	seq, err = decodeTempoMap(seq, sm.Tracks)
	if err != nil {
		return nil, err
	}

	for i, tr := range sm.Tracks {
		name, notes := decodeTrack(tr)
		if len(notes) == 0 && (i == 0 || name == "") {
			// Conductor or filler track, nothing to keep.
			continue
		}
		var ch uint8
		if len(notes) > 0 {
			ch = notes[0].Channel
		}
		next, err := seq.AddTrack(name, ch)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		seq = next
		if len(notes) > 0 {
			next, err = seq.MergeNotes(len(seq.Tracks)-1, notes)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrDecode, err)
			}
			seq = next
		}
	}
	return seq, nil
}

func decodeTempoMap(seq *sequence.Sequence, tracks []smf.Track) (*sequence.Sequence, error) {
	type tempoChange struct {
		tick int64
		bpm  float64
	}
	type sigChange struct {
		tick     int64
		num, den uint8
	}
	var tempos []tempoChange
	var sigs []sigChange
	for _, tr := range tracks {
		var abs int64
		for _, ev := range tr {
			abs += int64(ev.Delta)
			var bpm float64
			if ev.Message.GetMetaTempo(&bpm) {
				tempos = append(tempos, tempoChange{tick: abs, bpm: bpm})
				continue
			}
			var num, den uint8
			if ev.Message.GetMetaMeter(&num, &den) {
				sigs = append(sigs, sigChange{tick: abs, num: num, den: den})
			}
		}
	}
	sort.SliceStable(tempos, func(i, j int) bool { return tempos[i].tick < tempos[j].tick })
	sort.SliceStable(sigs, func(i, j int) bool { return sigs[i].tick < sigs[j].tick })

	var err error
	for _, tc := range tempos {
		seq, err = seq.SetTempo(tc.tick, tc.bpm)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
	}
	for _, sc := range sigs {
		seq, err = seq.SetTimeSig(sc.tick, sc.num, sc.den)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
	}
	return seq, nil
}

// decodeTrack accumulates deltas into absolute ticks and pairs note starts
// with their ends. A restart of a sounding (channel, key) cuts the first
// note there; anything still open when the track ends is closed at the
// end-of-track tick.
func decodeTrack(tr smf.Track) (name string, notes []sequence.Note) {
	type soundingKey struct{ ch, key uint8 }
	open := make(map[soundingKey]sequence.Note)
	var abs int64
	for _, ev := range tr {
		abs += int64(ev.Delta)
		var ch, key, vel uint8
		switch {
		case ev.Message.GetNoteStart(&ch, &key, &vel):
			k := soundingKey{ch, key}
			if n, ok := open[k]; ok {
				notes = append(notes, closeNote(n, abs))
			}
			open[k] = sequence.NewNote(key, vel, abs, 0, ch)
		case ev.Message.GetNoteEnd(&ch, &key):
			k := soundingKey{ch, key}
			if n, ok := open[k]; ok {
				notes = append(notes, closeNote(n, abs))
				delete(open, k)
			}
		default:
			var text string
			if name == "" && ev.Message.GetMetaTrackName(&text) {
				name = text
			}
		}
	}
	for _, n := range open {
		notes = append(notes, closeNote(n, abs))
	}
	sort.SliceStable(notes, func(i, j int) bool {
		if notes[i].Start != notes[j].Start {
			return notes[i].Start < notes[j].Start
		}
		if notes[i].Channel != notes[j].Channel {
			return notes[i].Channel < notes[j].Channel
		}
		return notes[i].Pitch < notes[j].Pitch
	})
	return name, notes
}

func closeNote(n sequence.Note, end int64) sequence.Note {
	n.Duration = end - n.Start
	if n.Duration < 1 {
		n.Duration = 1
	}
	return n
}
