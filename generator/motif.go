package generator

import (
	"fmt"
	"math/rand"

	"pianoroll/sequence"
)

var motifScales = map[string][]int{
	"major":      {0, 2, 4, 5, 7, 9, 11},
	"minor":      {0, 2, 3, 5, 7, 8, 10},
	"pentatonic": {0, 2, 4, 7, 9},
	"blues":      {0, 3, 5, 6, 7, 10},
	"chromatic":  {0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
}

// Intervals a whole variation may shift by.
var motifTransposes = []int{-12, -7, -5, 5, 7, 12}

// Motif develops a short random idea through repeated variation.
type Motif struct {
	Length     int     // 2..8 notes in the seed motif
	Variations int     // 1..8
	Strength   float64 // 0 = near-exact repeats, 1 = every note varies
	Scale      string
	Root       int // 48..72 (C3..C5)
	StepTicks  int64
	Seed       int64
}

// DefaultMotif is a four-note major motif with four moderate variations.
func DefaultMotif(ppq int64) Motif {
	return Motif{Length: 4, Variations: 4, Strength: 0.5, Scale: "major", Root: 60, StepTicks: ppq / 4, Seed: 1}
}

func (m Motif) Validate() error {
	if m.Length < 2 || m.Length > 8 {
		return fmt.Errorf("%w: motif length %d outside 2..8", ErrInvalidConfig, m.Length)
	}
	if m.Variations < 1 || m.Variations > 8 {
		return fmt.Errorf("%w: variations %d outside 1..8", ErrInvalidConfig, m.Variations)
	}
	if m.Strength < 0 || m.Strength > 1 {
		return fmt.Errorf("%w: strength %v outside [0, 1]", ErrInvalidConfig, m.Strength)
	}
	if _, ok := motifScales[m.Scale]; !ok {
		return fmt.Errorf("%w: unknown scale %q", ErrInvalidConfig, m.Scale)
	}
	if m.Root < 48 || m.Root > 72 {
		return fmt.Errorf("%w: root %d outside 48..72", ErrInvalidConfig, m.Root)
	}
	if m.StepTicks <= 0 {
		return fmt.Errorf("%w: step %d ticks", ErrInvalidConfig, m.StepTicks)
	}
	return nil
}

func (m Motif) seed() int64 { return m.Seed }

func (m Motif) generate(r Region, rng *rand.Rand) []sequence.Note {
	pool := scalePitches(m.Root, motifScales[m.Scale], 2, 0, 127)

	motif := make([]uint8, m.Length)
	for i := range motif {
		motif[i] = pool[rng.Intn(len(pool))]
	}

	var notes []sequence.Note
	at := r.Start
	place := func(line []uint8, step int64) {
		for _, p := range line {
			notes = append(notes, sequence.NewNote(p, 100, at, step, r.Channel))
			at += step
		}
	}

	place(motif, m.StepTicks)
	for v := 0; v < m.Variations; v++ {
		line, mult := m.vary(motif, pool, rng)
		place(line, max(int64(float64(m.StepTicks)*mult), 1))
	}
	return notes
}

// vary rewrites single notes with probability Strength, preferring scale
// neighbors, then sometimes applies one whole-phrase transform: retrograde,
// invert, transpose, augment, or diminish. Augment and diminish come back
// as a duration multiplier for the phrase.
func (m Motif) vary(motif, pool []uint8, rng *rand.Rand) ([]uint8, float64) {
	out := make([]uint8, 0, len(motif))
	for _, p := range motif {
		if rng.Float64() >= m.Strength {
			out = append(out, p)
			continue
		}
		if rng.Float64() < 0.7 {
			idx := 0
			for i, q := range pool {
				if q == p {
					idx = i
					break
				}
			}
			if rng.Intn(2) == 0 {
				idx = pymod(idx-1, len(pool))
			} else {
				idx = pymod(idx+1, len(pool))
			}
			out = append(out, pool[idx])
		} else {
			out = append(out, pool[rng.Intn(len(pool))])
		}
	}

	mult := 1.0
	if rng.Float64() < 0.3 {
		switch rng.Intn(5) {
		case 0: // retrograde
			for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
				out[i], out[j] = out[j], out[i]
			}
		case 1:
			// Invert around the phrase's first pitch, dropping notes
			// reflected out of MIDI range.
			if len(out) > 0 {
				axis := int(out[0])
				kept := out[:0]
				for _, p := range out {
					if v := 2*axis - int(p); v >= 0 && v <= 127 {
						kept = append(kept, uint8(v))
					}
				}
				out = kept
			}
		case 2:
			// Transpose, dropping notes pushed out of MIDI range.
			t := motifTransposes[rng.Intn(len(motifTransposes))]
			kept := out[:0]
			for _, p := range out {
				if v := int(p) + t; v >= 0 && v <= 127 {
					kept = append(kept, uint8(v))
				}
			}
			out = kept
		case 3: // augment
			mult = 2
		case 4: // diminish
			mult = 0.5
		}
	}
	return out, mult
}
