// Package generator produces note material algorithmically. Generators are
// pure functions of their configuration and seed: identical input yields
// identical notes (ids aside), so previews can be regenerated or discarded
// freely. The caller decides whether to merge the result into a sequence.
package generator

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"pianoroll/sequence"
)

// ErrInvalidConfig reports an out-of-range or unknown generator parameter.
var ErrInvalidConfig = errors.New("invalid generator config")

// Region is the slice of the sequence a generator works over. Notes is what
// is already there (the markov chain trains on it); generated notes are
// placed from Start onward on Channel.
type Region struct {
	Start   int64
	PPQ     int64
	Channel uint8
	Notes   []sequence.Note
}

func (r Region) validate() error {
	if r.Start < 0 {
		return fmt.Errorf("%w: region start %d", ErrInvalidConfig, r.Start)
	}
	if r.PPQ <= 0 {
		return fmt.Errorf("%w: resolution %d", ErrInvalidConfig, r.PPQ)
	}
	if r.Channel > 15 {
		return fmt.Errorf("%w: channel %d", ErrInvalidConfig, r.Channel)
	}
	return nil
}

// Config is one of the generator configurations: Melody, Markov, Motif, or
// Rhythm.
type Config interface {
	// Validate reports the first out-of-range parameter.
	Validate() error

	seed() int64
	generate(r Region, rng *rand.Rand) []sequence.Note
}

// Generate runs the configured generator over the region. The config is
// validated up front and nothing is produced on error.
func Generate(r Region, cfg Config) ([]sequence.Note, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.seed()))
	notes := cfg.generate(r, rng)
	sort.SliceStable(notes, func(i, j int) bool { return notes[i].Start < notes[j].Start })
	return notes, nil
}

var noteNames = []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

func noteIndex(name string) (int, bool) {
	for i, n := range noteNames {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

// scalePitches expands scale intervals from the root across octave copies,
// keeping only pitches inside [lo, hi].
func scalePitches(root int, intervals []int, octaves, lo, hi int) []uint8 {
	var out []uint8
	for o := 0; o < octaves; o++ {
		for _, iv := range intervals {
			p := root + iv + o*12
			if p >= lo && p <= hi {
				out = append(out, uint8(p))
			}
		}
	}
	return out
}

// pymod wraps negative values around instead of mirroring them, so scale
// degree arithmetic below the root lands on a real degree.
func pymod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

// stepNotes lays pitches end to end from the region start.
func stepNotes(r Region, pitches []uint8, step int64, velocity uint8) []sequence.Note {
	notes := make([]sequence.Note, 0, len(pitches))
	at := r.Start
	for _, p := range pitches {
		notes = append(notes, sequence.NewNote(p, velocity, at, step, r.Channel))
		at += step
	}
	return notes
}
