package generator

import (
	"fmt"
	"math/rand"
	"sort"

	"pianoroll/sequence"
)

// defaultTraining seeds the chain when the region holds too little
// material: a C major walk plus a few arpeggios, enough for low-order
// states to resolve.
var defaultTraining = []uint8{
	60, 62, 64, 65, 67, 69, 71, 72,
	60, 64, 67, 72, 67, 64, 60,
	67, 71, 74, 77, 74, 71, 67,
	69, 72, 76, 72, 69,
}

// Markov generates a pitch line from an order-N transition chain trained
// on the region's existing notes.
type Markov struct {
	Order      int     // 1..3 previous pitches considered
	Length     int     // 8..64 notes to generate
	StepTicks  int64   // spacing and duration of each note
	Randomness float64 // chance of ignoring the chain weights for a step
	Seed       int64
}

// DefaultMarkov is a first-order chain of sixteenth notes.
func DefaultMarkov(ppq int64) Markov {
	return Markov{Order: 1, Length: 16, StepTicks: ppq / 4, Randomness: 0.1, Seed: 1}
}

func (m Markov) Validate() error {
	if m.Order < 1 || m.Order > 3 {
		return fmt.Errorf("%w: order %d outside 1..3", ErrInvalidConfig, m.Order)
	}
	if m.Length < 8 || m.Length > 64 {
		return fmt.Errorf("%w: length %d outside 8..64", ErrInvalidConfig, m.Length)
	}
	if m.StepTicks <= 0 {
		return fmt.Errorf("%w: step %d ticks", ErrInvalidConfig, m.StepTicks)
	}
	if m.Randomness < 0 || m.Randomness > 1 {
		return fmt.Errorf("%w: randomness %v outside [0, 1]", ErrInvalidConfig, m.Randomness)
	}
	return nil
}

func (m Markov) seed() int64 { return m.Seed }

func (m Markov) generate(r Region, rng *rand.Rand) []sequence.Note {
	training := trainingPitches(r.Notes)
	if len(training) < m.Order+1 {
		training = append(append([]uint8(nil), defaultTraining...), training...)
	}
	c := buildChain(training, m.Order)

	line := make([]uint8, 0, m.Length)
	start := rng.Intn(len(training) - m.Order + 1)
	line = append(line, training[start:start+m.Order]...)
	for len(line) < m.Length {
		state := string(line[len(line)-m.Order:])
		line = append(line, c.next(state, rng, m.Randomness))
	}
	return stepNotes(r, line, m.StepTicks, 100)
}

// trainingPitches extracts the region's pitch line in start order.
func trainingPitches(notes []sequence.Note) []uint8 {
	sorted := append([]sequence.Note(nil), notes...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	out := make([]uint8, len(sorted))
	for i, n := range sorted {
		out[i] = n.Pitch
	}
	return out
}

// chain maps an order-N state (the previous pitches as raw bytes) to
// weighted next-pitch counts.
type chain map[string]map[uint8]int

func buildChain(line []uint8, order int) chain {
	if len(line) <= order {
		order = 1
	}
	c := make(chain)
	for i := 0; i+order < len(line); i++ {
		state := string(line[i : i+order])
		counts := c[state]
		if counts == nil {
			counts = make(map[uint8]int)
			c[state] = counts
		}
		counts[line[i+order]]++
	}
	return c
}

// next draws the successor pitch for state. Unknown states fall back to a
// random known state. Go randomizes map iteration, so candidates are
// walked in sorted order to keep the draw a pure function of the rng.
func (c chain) next(state string, rng *rand.Rand, randomness float64) uint8 {
	counts, ok := c[state]
	if !ok {
		if len(c) == 0 {
			return uint8(60 + rng.Intn(13))
		}
		states := make([]string, 0, len(c))
		for s := range c {
			states = append(states, s)
		}
		sort.Strings(states)
		counts = c[states[rng.Intn(len(states))]]
	}

	pitches := make([]uint8, 0, len(counts))
	total := 0
	for p, n := range counts {
		pitches = append(pitches, p)
		total += n
	}
	sort.Slice(pitches, func(i, j int) bool { return pitches[i] < pitches[j] })

	if randomness > 0 && rng.Float64() < randomness {
		return pitches[rng.Intn(len(pitches))]
	}
	x := rng.Intn(total)
	for _, p := range pitches {
		x -= counts[p]
		if x < 0 {
			return p
		}
	}
	return pitches[len(pitches)-1]
}
