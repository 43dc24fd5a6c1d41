package sequence

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Resolution and tempo defaults, matching common MIDI practice.
const (
	DefaultPPQ int64   = 480
	DefaultBPM float64 = 120
)

// TempoEvent sets the beats-per-minute from Tick onward.
type TempoEvent struct {
	Tick int64
	BPM  float64
}

// TimeSigEvent sets the meter from Tick onward.
type TimeSigEvent struct {
	Tick int64
	Num  uint8
	Den  uint8
}

// TempoMap converts between ticks and wall-clock offsets from tick zero.
// Each tempo or signature stays in effect over the half-open tick range up
// to the next event, so a change at tick t already applies at t. Maps are
// immutable; SetTempo and SetTimeSig return modified copies.
type TempoMap struct {
	ppq    int64
	tempos []TempoEvent   // sorted by tick, first always at 0
	sigs   []TimeSigEvent // same
}

// NewTempoMap returns a map at the given resolution with 120 BPM and 4/4 in
// effect from tick zero.
func NewTempoMap(ppq int64) (*TempoMap, error) {
	if ppq <= 0 {
		return nil, fmt.Errorf("%w: ppq %d", ErrInvalidRange, ppq)
	}
	return &TempoMap{
		ppq:    ppq,
		tempos: []TempoEvent{{Tick: 0, BPM: DefaultBPM}},
		sigs:   []TimeSigEvent{{Tick: 0, Num: 4, Den: 4}},
	}, nil
}

// PPQ returns ticks per quarter note.
func (tm *TempoMap) PPQ() int64 { return tm.ppq }

// SetTempo returns a copy with bpm in effect from tick onward. A change at
// an existing event's tick replaces that event.
func (tm *TempoMap) SetTempo(tick int64, bpm float64) (*TempoMap, error) {
	if bpm <= 0 || math.IsNaN(bpm) || math.IsInf(bpm, 0) {
		return nil, fmt.Errorf("%w: %v bpm", ErrInvalidTempo, bpm)
	}
	if tick < 0 {
		return nil, fmt.Errorf("%w: tempo at tick %d", ErrInvalidRange, tick)
	}
	out := tm.Clone()
	out.tempos = insertTempo(out.tempos, TempoEvent{Tick: tick, BPM: bpm})
	return out, nil
}

// SetTimeSig returns a copy with the meter in effect from tick onward.
// The denominator must be a power of two and the beat length must land on a
// whole tick at this resolution.
func (tm *TempoMap) SetTimeSig(tick int64, num, den uint8) (*TempoMap, error) {
	if num == 0 || den == 0 || den&(den-1) != 0 {
		return nil, fmt.Errorf("%w: time signature %d/%d", ErrInvalidRange, num, den)
	}
	if tm.ppq*4%int64(den) != 0 {
		return nil, fmt.Errorf("%w: %d/%d finer than %d ppq", ErrInvalidRange, num, den, tm.ppq)
	}
	if tick < 0 {
		return nil, fmt.Errorf("%w: signature at tick %d", ErrInvalidRange, tick)
	}
	out := tm.Clone()
	out.sigs = insertSig(out.sigs, TimeSigEvent{Tick: tick, Num: num, Den: den})
	return out, nil
}

func insertTempo(evs []TempoEvent, ev TempoEvent) []TempoEvent {
	i := sort.Search(len(evs), func(i int) bool { return evs[i].Tick >= ev.Tick })
	if i < len(evs) && evs[i].Tick == ev.Tick {
		evs[i] = ev
		return evs
	}
	evs = append(evs, TempoEvent{})
	copy(evs[i+1:], evs[i:])
	evs[i] = ev
	return evs
}

func insertSig(evs []TimeSigEvent, ev TimeSigEvent) []TimeSigEvent {
	i := sort.Search(len(evs), func(i int) bool { return evs[i].Tick >= ev.Tick })
	if i < len(evs) && evs[i].Tick == ev.Tick {
		evs[i] = ev
		return evs
	}
	evs = append(evs, TimeSigEvent{})
	copy(evs[i+1:], evs[i:])
	evs[i] = ev
	return evs
}

// TempoAt returns the BPM in effect at tick.
func (tm *TempoMap) TempoAt(tick int64) float64 {
	bpm := DefaultBPM
	for _, ev := range tm.tempos {
		if ev.Tick > tick {
			break
		}
		bpm = ev.BPM
	}
	return bpm
}

// TimeSigAt returns the meter in effect at tick.
func (tm *TempoMap) TimeSigAt(tick int64) (num, den uint8) {
	num, den = 4, 4
	for _, ev := range tm.sigs {
		if ev.Tick > tick {
			break
		}
		num, den = ev.Num, ev.Den
	}
	return num, den
}

// TickToTime returns the wall-clock offset of tick from tick zero,
// integrating each constant-tempo segment on the way.
func (tm *TempoMap) TickToTime(tick int64) time.Duration {
	if tick <= 0 {
		return 0
	}
	var secs float64
	for i, ev := range tm.tempos {
		segEnd := tick
		if i+1 < len(tm.tempos) && tm.tempos[i+1].Tick < tick {
			segEnd = tm.tempos[i+1].Tick
		}
		if segEnd > ev.Tick {
			secs += float64(segEnd-ev.Tick) / float64(tm.ppq) * 60 / ev.BPM
		}
		if segEnd == tick {
			break
		}
	}
	return time.Duration(secs * float64(time.Second))
}

// TimeToTick returns the tick at the given wall-clock offset from tick zero,
// rounded to the nearest tick. Inverse of TickToTime up to that rounding.
func (tm *TempoMap) TimeToTick(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	remain := d.Seconds()
	for i, ev := range tm.tempos {
		secPerTick := 60 / ev.BPM / float64(tm.ppq)
		if i+1 < len(tm.tempos) {
			span := float64(tm.tempos[i+1].Tick-ev.Tick) * secPerTick
			if span <= remain {
				remain -= span
				continue
			}
		}
		return ev.Tick + int64(math.Round(remain/secPerTick))
	}
	return 0
}

// BarBeat converts a tick to a 1-based bar and beat plus the leftover ticks
// within the beat, honoring every signature change before it. A signature
// change inside a bar starts a new bar.
func (tm *TempoMap) BarBeat(tick int64) (bar, beat, rem int64) {
	if tick < 0 {
		tick = 0
	}
	bar = 1
	for i, sig := range tm.sigs {
		beatLen := tm.ppq * 4 / int64(sig.Den)
		barLen := beatLen * int64(sig.Num)
		if i+1 < len(tm.sigs) && tm.sigs[i+1].Tick <= tick {
			span := tm.sigs[i+1].Tick - sig.Tick
			bar += (span + barLen - 1) / barLen
			continue
		}
		off := tick - sig.Tick
		bar += off / barLen
		beat = off%barLen/beatLen + 1
		rem = off % beatLen
		return bar, beat, rem
	}
	return bar, 1, 0
}

// Tempos returns the tempo events in tick order.
func (tm *TempoMap) Tempos() []TempoEvent {
	out := make([]TempoEvent, len(tm.tempos))
	copy(out, tm.tempos)
	return out
}

// TimeSigs returns the signature events in tick order.
func (tm *TempoMap) TimeSigs() []TimeSigEvent {
	out := make([]TimeSigEvent, len(tm.sigs))
	copy(out, tm.sigs)
	return out
}

// Clone returns a deep copy.
func (tm *TempoMap) Clone() *TempoMap {
	return &TempoMap{
		ppq:    tm.ppq,
		tempos: append([]TempoEvent(nil), tm.tempos...),
		sigs:   append([]TimeSigEvent(nil), tm.sigs...),
	}
}
