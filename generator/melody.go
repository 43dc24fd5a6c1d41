package generator

import (
	"fmt"
	"math"
	"math/rand"

	"pianoroll/sequence"
)

// Scale interval tables. Blues and Japanese repeat a degree to keep seven
// entries, so pattern arithmetic lands on the same degree positions in
// every scale.
var melodyScales = map[string][]int{
	"Major":          {0, 2, 4, 5, 7, 9, 11},
	"Minor":          {0, 2, 3, 5, 7, 8, 10},
	"Harmonic Minor": {0, 2, 3, 5, 7, 8, 11},
	"Melodic Minor":  {0, 2, 3, 5, 7, 9, 11},
	"Dorian":         {0, 2, 3, 5, 7, 9, 10},
	"Phrygian":       {0, 1, 3, 5, 7, 8, 10},
	"Lydian":         {0, 2, 4, 6, 7, 9, 11},
	"Mixolydian":     {0, 2, 4, 5, 7, 9, 10},
	"Locrian":        {0, 1, 3, 5, 6, 8, 10},
	"Blues":          {0, 3, 5, 6, 7, 10, 10},
	"Japanese":       {0, 2, 5, 7, 9, 9, 9},
	"Arabic":         {0, 1, 4, 5, 7, 8, 11},
}

// 16-step onset patterns, 1 = play.
var melodyRhythms = map[string][]int{
	"Whole Notes":   {1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
	"Half Notes":    {1, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0},
	"Quarter Notes": {1, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0},
	"Eighth Notes":  {1, 0, 1, 0, 1, 0, 1, 0, 1, 0, 1, 0, 1, 0, 1, 0},
	"Emotional 1":   {1, 0, 0, 0, 1, 0, 1, 0, 0, 0, 1, 0, 0, 0, 0, 0},
	"Emotional 2":   {1, 0, 0, 1, 0, 0, 1, 0, 0, 0, 1, 0, 0, 1, 0, 0},
	"Emotional 3":   {1, 0, 0, 0, 0, 0, 1, 0, 0, 1, 0, 0, 1, 0, 0, 0},
	"Flowing 1":     {1, 0, 0, 1, 0, 1, 0, 0, 1, 0, 0, 0, 1, 0, 1, 0},
	"Flowing 2":     {1, 0, 1, 0, 0, 0, 1, 0, 0, 1, 0, 1, 0, 0, 0, 1},
	"Rhythmic 1":    {1, 0, 1, 0, 1, 0, 0, 0, 1, 1, 0, 0, 1, 0, 0, 1},
	"Rhythmic 2":    {1, 1, 0, 0, 1, 0, 1, 0, 0, 0, 1, 0, 1, 1, 0, 0},
	"Sparse":        {1, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 1, 0},
	"Dense":         {1, 0, 1, 1, 0, 1, 0, 1, 1, 0, 1, 0, 1, 0, 1, 1},
}

// Melodic contours in relative scale degrees. Random Walk is generated per
// seed at runtime.
var melodyPatterns = map[string][]int{
	"Rising":         {0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
	"Falling":        {15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1, 0},
	"Wave Up":        {0, 1, 2, 3, 4, 3, 2, 1, 2, 3, 4, 5, 6, 5, 4, 3},
	"Wave Down":      {7, 6, 5, 4, 3, 4, 5, 6, 5, 4, 3, 2, 1, 2, 3, 4},
	"Mountain":       {0, 1, 2, 3, 4, 5, 6, 7, 7, 6, 5, 4, 3, 2, 1, 0},
	"Valley":         {7, 6, 5, 4, 3, 2, 1, 0, 0, 1, 2, 3, 4, 5, 6, 7},
	"Emotional Rise": {0, 0, 2, 2, 4, 4, 5, 5, 7, 7, 9, 9, 11, 11, 12, 12},
	"Emotional Fall": {12, 12, 11, 11, 9, 9, 7, 7, 5, 5, 4, 4, 2, 2, 0, 0},
	"Arpeggios 1":    {0, 2, 4, 7, 4, 2, 0, 2, 4, 7, 9, 7, 4, 2, 0, 0},
	"Arpeggios 2":    {0, 4, 7, 12, 7, 4, 0, 2, 7, 11, 14, 11, 7, 2, 0, 0},
	"Steps":          {0, 1, 0, 2, 0, 3, 0, 4, 0, 5, 0, 6, 0, 7, 0, 0},
	"Skips":          {0, 2, 4, 0, 3, 5, 0, 4, 6, 0, 5, 7, 0, 6, 8, 0},
	"Random Walk":    nil,
}

// Emotion contours layered onto the melodic pattern at half strength.
var melodyEmotions = map[string][]int{
	"Happy":       {0, 2, 4, 3, 5, 7, 9, 7, 5, 4, 2, 4, 5, 7, 9, 7},
	"Sad":         {7, 5, 3, 2, 0, 2, 3, 1, 3, 2, 0, -1, 0, 2, 0, -3},
	"Calm":        {0, 2, 4, 2, 0, 2, 4, 5, 4, 2, 0, 2, 4, 2, 0, -1},
	"Nostalgic":   {7, 5, 4, 2, 0, -1, 0, 2, 0, -1, 0, 2, 4, 2, 0, -3},
	"Hopeful":     {0, 0, 2, 4, 5, 7, 7, 9, 7, 5, 4, 2, 4, 5, 4, 2},
	"Melancholic": {4, 2, 0, -1, 0, 2, 0, -1, -3, -1, 0, 2, 0, -1, 0, -3},
	"Dramatic":    {0, 4, 7, 12, 11, 7, 4, 0, -1, -3, 0, 4, 7, 4, 0, -1},
	"Reflective":  {0, 2, 4, 7, 4, 2, 0, -1, 0, 2, 4, 2, 0, -1, -3, -1},
	"Tense":       {0, 1, 0, 3, 2, 1, 3, 2, 5, 4, 7, 6, 5, 4, 3, 2},
	"Serene":      {7, 5, 7, 4, 5, 2, 4, 0, 2, 4, 5, 7, 5, 4, 2, 0},
}

// Melody generates a melody on a sixteenth-note grid from scale, rhythm,
// contour, and emotion tables, with humanized timing, velocity, and
// duration.
type Melody struct {
	Root     string // note name, "C" through "B"
	Octave   int    // 2..7
	Scale    string
	Bars     int // 1..16
	Rhythm   string
	Pattern  string
	Emotion  string
	Velocity float64 // base velocity as a fraction of 127
	Duration float64 // base duration as a fraction of a quarter note
	Density  float64 // chance an onset actually sounds
	Seed     int64
}

// DefaultMelody is a happy C major melody over four bars.
func DefaultMelody() Melody {
	return Melody{
		Root:     "C",
		Octave:   4,
		Scale:    "Major",
		Bars:     4,
		Rhythm:   "Emotional 1",
		Pattern:  "Emotional Rise",
		Emotion:  "Happy",
		Velocity: 0.8,
		Duration: 0.8,
		Density:  1,
		Seed:     1,
	}
}

func (m Melody) Validate() error {
	if _, ok := noteIndex(m.Root); !ok {
		return fmt.Errorf("%w: unknown root %q", ErrInvalidConfig, m.Root)
	}
	if m.Octave < 2 || m.Octave > 7 {
		return fmt.Errorf("%w: octave %d outside 2..7", ErrInvalidConfig, m.Octave)
	}
	if _, ok := melodyScales[m.Scale]; !ok {
		return fmt.Errorf("%w: unknown scale %q", ErrInvalidConfig, m.Scale)
	}
	if m.Bars < 1 || m.Bars > 16 {
		return fmt.Errorf("%w: bars %d outside 1..16", ErrInvalidConfig, m.Bars)
	}
	if _, ok := melodyRhythms[m.Rhythm]; !ok {
		return fmt.Errorf("%w: unknown rhythm %q", ErrInvalidConfig, m.Rhythm)
	}
	if _, ok := melodyPatterns[m.Pattern]; !ok {
		return fmt.Errorf("%w: unknown pattern %q", ErrInvalidConfig, m.Pattern)
	}
	if _, ok := melodyEmotions[m.Emotion]; !ok {
		return fmt.Errorf("%w: unknown emotion %q", ErrInvalidConfig, m.Emotion)
	}
	if m.Velocity <= 0 || m.Velocity > 1 {
		return fmt.Errorf("%w: velocity %v outside (0, 1]", ErrInvalidConfig, m.Velocity)
	}
	if m.Duration <= 0 || m.Duration > 1 {
		return fmt.Errorf("%w: duration %v outside (0, 1]", ErrInvalidConfig, m.Duration)
	}
	if m.Density < 0 || m.Density > 1 {
		return fmt.Errorf("%w: density %v outside [0, 1]", ErrInvalidConfig, m.Density)
	}
	return nil
}

func (m Melody) seed() int64 { return m.Seed }

func (m Melody) generate(r Region, rng *rand.Rand) []sequence.Note {
	rootIdx, _ := noteIndex(m.Root)
	root := m.Octave*12 + rootIdx
	pool := scalePitches(root, melodyScales[m.Scale], 3, 0, 127)

	pat := degreePattern(m.Pattern, rng)
	pat = normalizeDegrees(pat, 2)
	contour := melodyEmotions[m.Emotion]
	for i := range pat {
		pat[i] += float64(contour[i%len(contour)]) * 0.5
	}

	variation := make([]int, 16)
	for i := range variation {
		variation[i] = rng.Intn(5) - 2
	}

	onsets := melodyRhythms[m.Rhythm]
	sixteenth := r.PPQ / 4
	baseVel := 127 * m.Velocity
	baseDur := float64(r.PPQ) * m.Duration

	var notes []sequence.Note
	steps := m.Bars * 16
	for step := 0; step < steps; step++ {
		if onsets[step%len(onsets)] != 1 || rng.Float64() > m.Density {
			continue
		}

		deg := int(math.Trunc(pat[step%len(pat)] + float64(variation[step%len(variation)])))
		pitch := pool[pymod(deg, len(pool))]

		start := int64(step) * sixteenth
		start += int64(uniform(rng, -1, 1) * float64(r.PPQ) / 10)
		start = max(start, 0)

		vel := int(baseVel * uniform(rng, 0.9, 1.1))
		vel = min(max(vel, 30), 127)

		dur := baseDur * uniform(rng, 0.9, 1.1)
		if lo := float64(r.PPQ) / 5; dur < lo {
			dur = lo
		}

		notes = append(notes, sequence.NewNote(pitch, uint8(vel), r.Start+start, max(int64(dur), 1), r.Channel))
	}
	return notes
}

func degreePattern(name string, rng *rand.Rand) []float64 {
	if name == "Random Walk" {
		return randomWalk(rng, 16, 6)
	}
	src := melodyPatterns[name]
	out := make([]float64, len(src))
	for i, v := range src {
		out[i] = float64(v)
	}
	return out
}

// randomWalk drifts in small steps, pulling back toward zero once past the
// range limit.
func randomWalk(rng *rand.Rand, steps, limit int) []float64 {
	choices := []int{-2, -1, -1, 0, 0, 1, 1, 2}
	out := make([]float64, 1, steps)
	cur := 0
	for len(out) < steps {
		var st int
		switch {
		case cur > limit:
			st = -1
		case cur < -limit:
			st = 1
		default:
			st = choices[rng.Intn(len(choices))]
		}
		cur += st
		out = append(out, float64(cur))
	}
	return out
}

// normalizeDegrees rescales a contour to span octaves*7 scale steps.
func normalizeDegrees(pat []float64, octaves int) []float64 {
	lo, hi := pat[0], pat[0]
	for _, v := range pat[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	out := make([]float64, len(pat))
	if hi == lo {
		return out
	}
	target := float64(octaves) * 7
	for i, v := range pat {
		out[i] = math.Trunc((v - lo) / (hi - lo) * target)
	}
	return out
}
