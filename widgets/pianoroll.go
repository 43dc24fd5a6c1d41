package widgets

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"pianoroll/midi"
	"pianoroll/sequence"
	"pianoroll/theme"
)

// PianoRoll renders a window of a sequence as pitch rows by step columns.
// It is stateless between frames; the caller decides which window to show.
type PianoRoll struct {
	Theme *theme.Theme
	Steps int // columns per window
	Rows  int // max pitch rows
}

func NewPianoRoll(th *theme.Theme) *PianoRoll {
	return &PianoRoll{Theme: th, Steps: 32, Rows: 12}
}

// WindowTicks returns the tick span of one rendered window.
func (p *PianoRoll) WindowTicks(stepTicks int64) int64 {
	return int64(p.Steps) * stepTicks
}

type rollNote struct {
	note  sequence.Note
	muted bool
}

// View renders the ticks [from, from+Steps*stepTicks). The playhead column
// is marked when it falls inside the window; notes on muted tracks draw in
// the muted color.
func (p *PianoRoll) View(tracks []sequence.Track, from, stepTicks, playhead int64) string {
	to := from + p.WindowTicks(stepTicks)
	var visible []rollNote
	hi, lo := -1, 128
	for _, t := range tracks {
		for _, n := range t.Notes {
			if n.End() <= from || n.Start >= to {
				continue
			}
			visible = append(visible, rollNote{note: n, muted: t.Muted})
			if int(n.Pitch) > hi {
				hi = int(n.Pitch)
			}
			if int(n.Pitch) < lo {
				lo = int(n.Pitch)
			}
		}
	}
	if hi < 0 {
		// Nothing in the window; center the grid on middle C.
		hi, lo = 65, 55
	}
	if hi-lo+1 > p.Rows {
		lo = hi - p.Rows + 1
	}

	playheadCol := -1
	if playhead >= from && playhead < to {
		playheadCol = int((playhead - from) / stepTicks)
	}

	gutterStyle := lipgloss.NewStyle().Foreground(p.Theme.Muted())
	emptyStyle := lipgloss.NewStyle().Foreground(p.Theme.Surface())
	headStyle := lipgloss.NewStyle().Foreground(p.Theme.Cursor())
	mutedStyle := lipgloss.NewStyle().Foreground(p.Theme.Muted())

	var out strings.Builder
	for pitch := hi; pitch >= lo; pitch-- {
		out.WriteString(gutterStyle.Render(fmt.Sprintf("%4s ", midi.NoteName(uint8(pitch)))))
		for col := 0; col < p.Steps; col++ {
			cellFrom := from + int64(col)*stepTicks
			cellTo := cellFrom + stepTicks
			if n, muted, ok := noteAt(visible, pitch, cellFrom, cellTo); ok {
				style := lipgloss.NewStyle().Foreground(p.Theme.Velocity(n.Velocity))
				if muted {
					style = mutedStyle
				}
				out.WriteString(style.Render(string(p.Theme.Symbols.NoteCell)))
				continue
			}
			if col == playheadCol {
				out.WriteString(headStyle.Render(string(p.Theme.Symbols.Playhead)))
				continue
			}
			out.WriteString(emptyStyle.Render(string(p.Theme.Symbols.EmptyCell)))
		}
		if pitch > lo {
			out.WriteString("\n")
		}
	}
	return out.String()
}

func noteAt(notes []rollNote, pitch int, from, to int64) (sequence.Note, bool, bool) {
	for _, rn := range notes {
		n := rn.note
		if int(n.Pitch) == pitch && n.Start < to && n.End() > from {
			return n, rn.muted, true
		}
	}
	return sequence.Note{}, false, false
}
