package generator

import (
	"errors"
	"reflect"
	"testing"

	"pianoroll/sequence"
)

// shape is a note minus its id, for comparing generator output.
type shape struct {
	Pitch    uint8
	Velocity uint8
	Start    int64
	Duration int64
	Channel  uint8
}

func shapesOf(notes []sequence.Note) []shape {
	out := make([]shape, len(notes))
	for i, n := range notes {
		out[i] = shape{n.Pitch, n.Velocity, n.Start, n.Duration, n.Channel}
	}
	return out
}

func TestGenerateDeterministic(t *testing.T) {
	melody := DefaultMelody()
	melody.Seed = 42
	melody.Pattern = "Random Walk"

	markov := DefaultMarkov(480)
	markov.Seed = 42
	markov.Order = 2

	motif := DefaultMotif(480)
	motif.Seed = 42

	rhythm := DefaultRhythm()
	rhythm.Seed = 42
	rhythm.Mode = RhythmEuclidean

	cases := []struct {
		name string
		cfg  Config
	}{
		{"melody", melody},
		{"markov", markov},
		{"motif", motif},
		{"rhythm", rhythm},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := Region{PPQ: 480}
			first, err := Generate(r, tc.cfg)
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if len(first) == 0 {
				t.Fatalf("generated no notes")
			}
			second, err := Generate(r, tc.cfg)
			if err != nil {
				t.Fatalf("Generate again: %v", err)
			}
			if !reflect.DeepEqual(shapesOf(first), shapesOf(second)) {
				t.Errorf("same seed produced different notes")
			}
		})
	}
}

func TestMelodyFullDensityHitsEveryOnset(t *testing.T) {
	m := DefaultMelody()
	m.Seed = 42
	out, err := Generate(Region{PPQ: 480}, m)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	// "Emotional 1" has four onsets per bar; density 1 plays them all.
	if len(out) != 16 {
		t.Errorf("generated %d notes, want 16", len(out))
	}
}

func TestMelodyValidation(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Melody)
	}{
		{"density above one", func(m *Melody) { m.Density = 1.2 }},
		{"unknown scale", func(m *Melody) { m.Scale = "Klingon" }},
		{"octave out of range", func(m *Melody) { m.Octave = 9 }},
		{"zero velocity", func(m *Melody) { m.Velocity = 0 }},
		{"unknown rhythm", func(m *Melody) { m.Rhythm = "Polka" }},
		{"unknown emotion", func(m *Melody) { m.Emotion = "Bored" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := DefaultMelody()
			tc.mut(&m)
			if _, err := Generate(Region{PPQ: 480}, m); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestMarkovFollowsTrainingTransitions(t *testing.T) {
	// Strictly alternating training data admits only alternating output.
	notes := make([]sequence.Note, 0, 8)
	for i := 0; i < 8; i++ {
		p := uint8(60)
		if i%2 == 1 {
			p = 67
		}
		notes = append(notes, sequence.NewNote(p, 100, int64(i)*120, 120, 0))
	}

	cfg := DefaultMarkov(480)
	cfg.Randomness = 0
	cfg.Seed = 7
	out, err := Generate(Region{PPQ: 480, Notes: notes}, cfg)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(out) != cfg.Length {
		t.Fatalf("generated %d notes, want %d", len(out), cfg.Length)
	}
	for i, n := range out {
		if n.Pitch != 60 && n.Pitch != 67 {
			t.Fatalf("note %d pitch %d not in training set", i, n.Pitch)
		}
		if i > 0 && n.Pitch == out[i-1].Pitch {
			t.Errorf("note %d repeats pitch %d against the chain", i, n.Pitch)
		}
	}
}

func TestMarkovValidation(t *testing.T) {
	for _, mut := range []func(*Markov){
		func(m *Markov) { m.Order = 0 },
		func(m *Markov) { m.Order = 4 },
		func(m *Markov) { m.Length = 4 },
		func(m *Markov) { m.Randomness = -0.1 },
		func(m *Markov) { m.StepTicks = 0 },
	} {
		m := DefaultMarkov(480)
		mut(&m)
		if _, err := Generate(Region{PPQ: 480}, m); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%+v: err = %v, want ErrInvalidConfig", m, err)
		}
	}
}

func TestMotifPhraseLayout(t *testing.T) {
	cfg := DefaultMotif(480)
	cfg.Seed = 42
	out, err := Generate(Region{PPQ: 480}, cfg)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(out) < cfg.Length {
		t.Fatalf("generated %d notes, want at least the %d-note motif", len(out), cfg.Length)
	}
	// The seed motif plays unvaried at the base step.
	for i, n := range out[:cfg.Length] {
		if n.Start != int64(i)*cfg.StepTicks || n.Duration != cfg.StepTicks {
			t.Errorf("motif note %d spans [%d, %d), want [%d, %d)",
				i, n.Start, n.End(), int64(i)*cfg.StepTicks, int64(i+1)*cfg.StepTicks)
		}
	}
	// Variations may stretch or shrink the step but stay contiguous.
	var at int64
	for i, n := range out {
		if n.Start != at {
			t.Errorf("note %d starts at %d, want %d", i, n.Start, at)
		}
		if n.Velocity != 100 {
			t.Errorf("note %d velocity %d, want 100", i, n.Velocity)
		}
		at = n.End()
	}
}

func TestEuclideanPatterns(t *testing.T) {
	if got := euclidean(3, 8); !reflect.DeepEqual(got, []int{1, 0, 0, 1, 0, 1, 0, 0}) {
		t.Errorf("euclidean(3, 8) = %v", got)
	}
	if got := euclidean(5, 8); !reflect.DeepEqual(got, []int{1, 0, 1, 1, 0, 1, 1, 0}) {
		t.Errorf("euclidean(5, 8) = %v", got)
	}
	for _, c := range []struct{ pulses, steps int }{
		{1, 4}, {2, 5}, {3, 8}, {5, 8}, {7, 16}, {5, 13}, {16, 16},
	} {
		sum := 0
		for _, v := range euclidean(c.pulses, c.steps) {
			sum += v
		}
		if sum != c.pulses {
			t.Errorf("euclidean(%d, %d) placed %d pulses", c.pulses, c.steps, sum)
		}
	}
}

func TestRhythmValidation(t *testing.T) {
	for _, mut := range []func(*Rhythm){
		func(g *Rhythm) { g.Mode = RhythmEuclidean; g.Pulses = 9; g.Steps = 8 },
		func(g *Rhythm) { g.Mode = "Swing" },
		func(g *Rhythm) { g.Subdivision = "32nd" },
		func(g *Rhythm) { g.OctaveSpan = 6 },
		func(g *Rhythm) { g.Contour = "Spiral" },
		func(g *Rhythm) { g.Density = 1.5 },
	} {
		g := DefaultRhythm()
		mut(&g)
		if _, err := Generate(Region{PPQ: 480}, g); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%+v: err = %v, want ErrInvalidConfig", g, err)
		}
	}
}

func TestGenerateRejectsBadRegion(t *testing.T) {
	for _, r := range []Region{
		{Start: -1, PPQ: 480},
		{PPQ: 0},
		{PPQ: 480, Channel: 16},
	} {
		if _, err := Generate(r, DefaultMelody()); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("region %+v: err = %v, want ErrInvalidConfig", r, err)
		}
	}
}

func TestGeneratedNotesLandInRegion(t *testing.T) {
	r := Region{Start: 960, PPQ: 480, Channel: 3}

	melody := DefaultMelody()
	melody.Seed = 42
	markov := DefaultMarkov(480)
	markov.Seed = 42
	motif := DefaultMotif(480)
	motif.Seed = 42
	rhythm := DefaultRhythm()
	rhythm.Seed = 42

	for _, cfg := range []Config{melody, markov, motif, rhythm} {
		notes, err := Generate(r, cfg)
		if err != nil {
			t.Fatalf("Generate %T: %v", cfg, err)
		}
		for i, n := range notes {
			if err := n.Validate(); err != nil {
				t.Fatalf("%T note %d invalid: %v", cfg, i, err)
			}
			if n.Start < r.Start {
				t.Errorf("%T note %d starts at %d, before the region", cfg, i, n.Start)
			}
			if n.Channel != r.Channel {
				t.Errorf("%T note %d on channel %d, want %d", cfg, i, n.Channel, r.Channel)
			}
		}
	}
}
