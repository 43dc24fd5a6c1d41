package generator

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"pianoroll/sequence"
)

var rhythmScales = map[string][]int{
	"Major":            {0, 2, 4, 5, 7, 9, 11},
	"Minor":            {0, 2, 3, 5, 7, 8, 10},
	"Harmonic Minor":   {0, 2, 3, 5, 7, 8, 11},
	"Melodic Minor":    {0, 2, 3, 5, 7, 9, 11},
	"Dorian":           {0, 2, 3, 5, 7, 9, 10},
	"Phrygian":         {0, 1, 3, 5, 7, 8, 10},
	"Lydian":           {0, 2, 4, 6, 7, 9, 11},
	"Mixolydian":       {0, 2, 4, 5, 7, 9, 10},
	"Locrian":          {0, 1, 3, 5, 6, 8, 10},
	"Chromatic":        {0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
	"Pentatonic Major": {0, 2, 4, 7, 9},
	"Pentatonic Minor": {0, 3, 5, 7, 10},
	"Blues":            {0, 3, 5, 6, 7, 10},
}

// subdivisions maps the smallest rhythmic unit to divisions per beat.
var subdivisions = map[string]int{
	"8th":          2,
	"16th":         4,
	"Triplet 8th":  3,
	"Triplet 16th": 6,
}

// Onset modes.
const (
	RhythmEuclidean = "Euclidean"
	RhythmDensity   = "Density"
	RhythmPattern   = "Pattern"
)

// Contour shapes.
const (
	ContourRising  = "Rising"
	ContourFalling = "Falling"
	ContourWalk    = "Walk"
)

// Rhythm generates a rhythmic line. Onsets come from a Euclidean
// distribution, a density draw, or a fixed on-the-beat pattern; pitches
// follow a contour through the scale pool.
type Rhythm struct {
	Bars        int    // 1..16
	Mode        string // RhythmEuclidean, RhythmDensity, RhythmPattern
	Pulses      int    // Euclidean pulses, 1..Steps
	Steps       int    // Euclidean steps, 2..32
	Density     float64
	Syncopation float64 // chance an onset pulls one step early
	Subdivision string
	Root        string
	Octave      int // 1..7
	Scale       string
	OctaveSpan  int // 1..5 octaves around the root
	Contour     string
	Humanize    float64 // 0..1 timing, velocity, and duration jitter
	Seed        int64
}

// DefaultRhythm is a density-driven sixteenth line around middle C.
func DefaultRhythm() Rhythm {
	return Rhythm{
		Bars:        4,
		Mode:        RhythmDensity,
		Pulses:      5,
		Steps:       8,
		Density:     0.6,
		Syncopation: 0.3,
		Subdivision: "16th",
		Root:        "C",
		Octave:      5,
		Scale:       "Major",
		OctaveSpan:  2,
		Contour:     ContourWalk,
		Humanize:    0.1,
		Seed:        1,
	}
}

func (g Rhythm) Validate() error {
	if g.Bars < 1 || g.Bars > 16 {
		return fmt.Errorf("%w: bars %d outside 1..16", ErrInvalidConfig, g.Bars)
	}
	switch g.Mode {
	case RhythmEuclidean:
		if g.Steps < 2 || g.Steps > 32 {
			return fmt.Errorf("%w: euclidean steps %d outside 2..32", ErrInvalidConfig, g.Steps)
		}
		if g.Pulses < 1 || g.Pulses > g.Steps {
			return fmt.Errorf("%w: euclidean pulses %d outside 1..%d", ErrInvalidConfig, g.Pulses, g.Steps)
		}
	case RhythmDensity, RhythmPattern:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, g.Mode)
	}
	if g.Density < 0 || g.Density > 1 {
		return fmt.Errorf("%w: density %v outside [0, 1]", ErrInvalidConfig, g.Density)
	}
	if g.Syncopation < 0 || g.Syncopation > 1 {
		return fmt.Errorf("%w: syncopation %v outside [0, 1]", ErrInvalidConfig, g.Syncopation)
	}
	if _, ok := subdivisions[g.Subdivision]; !ok {
		return fmt.Errorf("%w: unknown subdivision %q", ErrInvalidConfig, g.Subdivision)
	}
	if _, ok := noteIndex(g.Root); !ok {
		return fmt.Errorf("%w: unknown root %q", ErrInvalidConfig, g.Root)
	}
	if g.Octave < 1 || g.Octave > 7 {
		return fmt.Errorf("%w: octave %d outside 1..7", ErrInvalidConfig, g.Octave)
	}
	if _, ok := rhythmScales[g.Scale]; !ok {
		return fmt.Errorf("%w: unknown scale %q", ErrInvalidConfig, g.Scale)
	}
	if g.OctaveSpan < 1 || g.OctaveSpan > 5 {
		return fmt.Errorf("%w: octave span %d outside 1..5", ErrInvalidConfig, g.OctaveSpan)
	}
	switch g.Contour {
	case ContourRising, ContourFalling, ContourWalk:
	default:
		return fmt.Errorf("%w: unknown contour %q", ErrInvalidConfig, g.Contour)
	}
	if g.Humanize < 0 || g.Humanize > 1 {
		return fmt.Errorf("%w: humanize %v outside [0, 1]", ErrInvalidConfig, g.Humanize)
	}
	return nil
}

func (g Rhythm) seed() int64 { return g.Seed }

func (g Rhythm) generate(r Region, rng *rand.Rand) []sequence.Note {
	div := subdivisions[g.Subdivision]
	total := g.Bars * 4 * div
	stepTicks := r.PPQ / int64(div)

	slots := g.slots(total, div, rng)

	rootIdx, _ := noteIndex(g.Root)
	pool := g.pool(g.Octave*12 + rootIdx)

	contour := g.contourValues(total, len(pool), rng)
	lo, hi := contour[0], contour[0]
	for _, v := range contour[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}

	durMults := []float64{0.5, 0.75, 1, 1.25, 1.5, 2}
	nudges := []int{-2, -1, -1, 0, 1, 1, 2}

	var notes []sequence.Note
	for i, on := range slots {
		if on != 1 {
			continue
		}
		start := int64(i) * stepTicks

		target := len(pool) / 2
		if hi > lo {
			target = int(float64(contour[i]-lo) / float64(hi-lo) * float64(len(pool)-1))
		}
		idx := min(max(target+nudges[rng.Intn(len(nudges))], 0), len(pool)-1)
		pitch := pool[idx]

		vel := 80 + rng.Intn(21)
		dur := int64(float64(stepTicks) * durMults[rng.Intn(len(durMults))])

		if g.Humanize > 0 {
			shift := float64(stepTicks) * g.Humanize * 0.5
			start = max(start+int64(uniform(rng, -shift, shift)), 0)
			vel = min(max(int(float64(vel)*(1+uniform(rng, -g.Humanize*0.2, g.Humanize*0.2))), 1), 127)
			dur = int64(float64(dur) * (1 + uniform(rng, -g.Humanize*0.2, g.Humanize*0.2)))
		}

		notes = append(notes, sequence.NewNote(pitch, uint8(vel), r.Start+start, max(dur, 1), r.Channel))
	}
	return notes
}

// slots places note onsets across the whole line, then pulls some a step
// early for syncopation.
func (g Rhythm) slots(total, div int, rng *rand.Rand) []int {
	out := make([]int, total)
	switch g.Mode {
	case RhythmEuclidean:
		base := euclidean(g.Pulses, g.Steps)
		for i := range out {
			out[i] = base[i%len(base)]
		}
	case RhythmDensity:
		for i := range out {
			if rng.Float64() < g.Density {
				out[i] = 1
			}
		}
	case RhythmPattern:
		for i := range out {
			if i%div == 0 {
				out[i] = 1
			}
		}
	}

	if g.Syncopation > 0 {
		synced := append([]int(nil), out...)
		for i := 0; i < total-1; i++ {
			if out[i] == 1 && rng.Float64() < g.Syncopation {
				if i > 0 && out[i-1] == 0 {
					synced[i] = 0
					synced[i-1] = 1
				}
			}
		}
		out = synced
	}
	return out
}

// euclidean spreads pulses as evenly as possible across steps.
func euclidean(pulses, steps int) []int {
	pat := make([]int, steps)
	for i := 0; i < pulses; i++ {
		pat[int(math.Round(float64(i)*float64(steps)/float64(pulses)))] = 1
	}
	return pat
}

func (g Rhythm) contourValues(total, poolLen int, rng *rand.Rand) []int {
	vals := make([]int, total)
	switch g.Contour {
	case ContourRising:
		d := max(total/poolLen, 1)
		for k := range vals {
			vals[k] = k / d
		}
	case ContourFalling:
		d := max(total/poolLen, 1)
		for k := range vals {
			vals[k] = (total - k) / d
		}
	default:
		steps := []int{-1, -1, 0, 0, 0, 1, 1}
		cur := 0
		for k := range vals {
			cur += steps[rng.Intn(len(steps))]
			vals[k] = cur
		}
	}
	return vals
}

// pool builds the playable pitches across the octave span, limited to the
// piano range.
func (g Rhythm) pool(root int) []uint8 {
	intervals := rhythmScales[g.Scale]
	minOff := -((g.OctaveSpan - 1) / 2)
	maxOff := (g.OctaveSpan-1)/2 + g.OctaveSpan%2
	seen := make(map[int]bool)
	var pool []uint8
	for off := minOff; off <= maxOff; off++ {
		for _, iv := range intervals {
			p := root + off*12 + iv
			if p >= 21 && p <= 108 && !seen[p] {
				seen[p] = true
				pool = append(pool, uint8(p))
			}
		}
	}
	if len(pool) == 0 {
		return []uint8{uint8(root)}
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i] < pool[j] })
	return pool
}
