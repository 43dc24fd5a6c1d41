// Package tui is the terminal monitor: transport readout, a piano-roll view
// of the shared sequence, and keys for the transport, generator, and export
// paths. It only ever reads published snapshots and transport positions;
// dispatch internals stay behind the scheduler API.
package tui

import (
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"pianoroll/codec"
	"pianoroll/generator"
	"pianoroll/midi"
	"pianoroll/scheduler"
	"pianoroll/sequence"
	"pianoroll/theme"
	"pianoroll/transport"
	"pianoroll/widgets"
)

const frameInterval = time.Second / 30

// App bundles the collaborators the monitor reads and drives.
type App struct {
	Store     *sequence.Store
	Transport *transport.Transport
	Scheduler *scheduler.Scheduler
	Sink      midi.Sink
	Port      string // resolved output port name, empty when discarding
	Log       *zap.Logger
}

type Model struct {
	app   App
	theme *theme.Theme
	roll  *widgets.PianoRoll

	genTrack int    // track the generate key rewrites
	status   string // transient one-line feedback
	showHelp bool
	quitting bool
}

type tickMsg time.Time

type updateMsg struct{}

func NewModel(app App, th *theme.Theme) Model {
	if app.Log == nil {
		app.Log = zap.NewNop()
	}
	return Model{
		app:   app,
		theme: th,
		roll:  widgets.NewPianoRoll(th),
	}
}

func frameTick() tea.Cmd {
	return tea.Tick(frameInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func listenForUpdates(s *scheduler.Scheduler) tea.Cmd {
	return func() tea.Msg {
		<-s.Updates()
		return updateMsg{}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(frameTick(), listenForUpdates(m.app.Scheduler))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			m.app.Transport.Stop()
			return m, tea.Quit

		case " ":
			if m.app.Transport.State() == transport.Playing {
				m.app.Transport.Pause()
			} else {
				m.app.Transport.Play()
			}

		case "s":
			m.app.Transport.Stop()

		case "l":
			m.toggleLoop()

		case "left":
			m.seekBeats(-1)

		case "right":
			m.seekBeats(1)

		case "+", "=":
			m.nudgeTempo(5)

		case "-", "_":
			m.nudgeTempo(-5)

		case "g":
			m.regenerate()

		case "m":
			m.toggleMute()

		case "e":
			m.export()

		case "x":
			if err := midi.Panic(m.app.Sink); err != nil {
				m.status = fmt.Sprintf("panic: %v", err)
			} else {
				m.status = "panic sent, all channels silenced"
			}

		case "?":
			m.showHelp = !m.showHelp
		}

	case tickMsg:
		return m, frameTick()

	case updateMsg:
		return m, listenForUpdates(m.app.Scheduler)
	}

	return m, nil
}

func (m *Model) toggleLoop() {
	if _, _, ok := m.app.Transport.Loop(); ok {
		m.app.Transport.ClearLoop()
		return
	}
	seq, _ := m.app.Store.Load()
	num, den := seq.Tempo.TimeSigAt(0)
	barLen := seq.PPQ * 4 / int64(den) * int64(num)
	end := seq.EndTick()
	if end < barLen {
		end = barLen
	} else {
		end = (end + barLen - 1) / barLen * barLen
	}
	if err := m.app.Transport.SetLoop(0, end); err != nil {
		m.status = fmt.Sprintf("loop: %v", err)
	}
}

func (m *Model) seekBeats(dir int64) {
	tm := m.app.Transport.TempoMap()
	pos := m.app.Transport.Position()
	_, den := tm.TimeSigAt(pos)
	beat := tm.PPQ() * 4 / int64(den)
	next := pos + dir*beat
	if next < 0 {
		next = 0
	}
	m.app.Transport.Seek(next)
}

func (m *Model) nudgeTempo(delta float64) {
	var tm *sequence.TempoMap
	err := m.app.Store.Edit(func(s *sequence.Sequence) (*sequence.Sequence, error) {
		bpm := s.Tempo.TempoAt(0) + delta
		if bpm < 20 {
			bpm = 20
		}
		if bpm > 300 {
			bpm = 300
		}
		next, err := s.SetTempo(0, bpm)
		if err != nil {
			return nil, err
		}
		tm = next.Tempo
		return next, nil
	})
	if err != nil {
		m.status = fmt.Sprintf("tempo: %v", err)
		return
	}
	m.app.Transport.SetTempoMap(tm)
}

// regenerate replaces the working track's notes with a fresh melody. The
// wall clock seeds it so every press is a new take.
func (m *Model) regenerate() {
	seed := time.Now().UnixNano()
	var name string
	err := m.app.Store.Edit(func(s *sequence.Sequence) (*sequence.Sequence, error) {
		if m.genTrack >= len(s.Tracks) {
			return nil, fmt.Errorf("%w: no track %d", sequence.ErrInvalidRange, m.genTrack)
		}
		t := s.Tracks[m.genTrack]
		name = t.Name
		for _, n := range t.Notes {
			s = s.RemoveNote(n.ID)
		}
		cfg := generator.DefaultMelody()
		cfg.Seed = seed
		notes, err := generator.Generate(generator.Region{PPQ: s.PPQ, Channel: t.Channel}, cfg)
		if err != nil {
			return nil, err
		}
		return s.MergeNotes(m.genTrack, notes)
	})
	if err != nil {
		m.status = fmt.Sprintf("generate: %v", err)
		return
	}
	m.status = fmt.Sprintf("regenerated %q", name)
	m.app.Log.Info("regenerated track", zap.String("track", name), zap.Int64("seed", seed))
}

func (m *Model) toggleMute() {
	err := m.app.Store.Edit(func(s *sequence.Sequence) (*sequence.Sequence, error) {
		if m.genTrack >= len(s.Tracks) {
			return nil, fmt.Errorf("%w: no track %d", sequence.ErrInvalidRange, m.genTrack)
		}
		return s.SetTrackMuted(m.genTrack, !s.Tracks[m.genTrack].Muted)
	})
	if err != nil {
		m.status = fmt.Sprintf("mute: %v", err)
	}
}

func (m *Model) export() {
	seq, _ := m.app.Store.Load()
	data, err := codec.Encode(seq)
	if err != nil {
		m.status = fmt.Sprintf("export: %v", err)
		return
	}
	name := fmt.Sprintf("pianoroll-%s.mid", time.Now().Format("20060102-150405"))
	if err := os.WriteFile(name, data, 0644); err != nil {
		m.status = fmt.Sprintf("export: %v", err)
		return
	}
	m.status = "exported " + name
	m.app.Log.Info("exported midi file", zap.String("path", name), zap.Int("bytes", len(data)))
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	seq, _ := m.app.Store.Load()
	tm := m.app.Transport.TempoMap()
	pos := m.app.Transport.Position()
	bar, beat, rem := tm.BarBeat(pos)

	headerStyle := lipgloss.NewStyle().Foreground(m.theme.Accent())
	dimStyle := lipgloss.NewStyle().Foreground(m.theme.Muted())
	warnStyle := lipgloss.NewStyle().Foreground(m.theme.Warning())
	statusStyle := lipgloss.NewStyle().Foreground(m.theme.Success())

	state := strings.ToUpper(m.app.Transport.State().String())
	loop := "loop off"
	if start, end, ok := m.app.Transport.Loop(); ok {
		sb, _, _ := tm.BarBeat(start)
		eb, _, _ := tm.BarBeat(end)
		loop = fmt.Sprintf("loop %d-%d", sb, eb)
	}
	port := m.app.Port
	if port == "" {
		port = "(discard)"
	}
	header := headerStyle.Render(fmt.Sprintf("pianoroll  %-7s  %03d:%d:%03d  %3.0fbpm  %s  out: %s",
		state, bar, beat, rem, tm.TempoAt(pos), loop, port))
	if m.app.Scheduler.Degraded() {
		header += warnStyle.Render("  TIMING DEGRADED")
	}

	// The window follows the playhead a page at a time.
	stepTicks := max(seq.PPQ/4, 1)
	window := m.roll.WindowTicks(stepTicks)
	from := pos / window * window
	rollView := m.roll.View(seq.Tracks, from, stepTicks, pos)

	recent := m.app.Scheduler.Recent()
	events := "no events yet"
	if len(recent) > 0 {
		parts := make([]string, len(recent))
		for i, ev := range recent {
			parts[i] = ev.String()
		}
		events = strings.Join(parts, "   ")
	}

	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(header)
	out.WriteString("\n\n")
	out.WriteString(rollView)
	out.WriteString("\n\n")
	out.WriteString(dimStyle.Render(events))
	out.WriteString("\n")
	if m.status != "" {
		out.WriteString(statusStyle.Render(m.status))
		out.WriteString("\n")
	}
	out.WriteString(dimStyle.Render("space:play/pause  s:stop  l:loop  ←/→:seek  +/-:tempo  g:generate  m:mute  e:export  x:panic  ?:help  q:quit"))
	if m.showHelp {
		out.WriteString("\n\n")
		out.WriteString(widgets.RenderKeyHelp(m.theme, helpSections()))
	}
	return out.String()
}

func helpSections() []widgets.KeySection {
	return []widgets.KeySection{
		{Title: "transport", Keys: []widgets.KeyBinding{
			{Key: "space", Desc: "play or pause at the current position"},
			{Key: "s", Desc: "stop and rewind to the top"},
			{Key: "l", Desc: "loop the whole sequence, rounded up to a bar"},
			{Key: "left/right", Desc: "seek one beat"},
			{Key: "+/-", Desc: "nudge the tempo by 5 bpm"},
		}},
		{Title: "sequence", Keys: []widgets.KeyBinding{
			{Key: "g", Desc: "regenerate the working track"},
			{Key: "m", Desc: "mute or unmute the working track"},
			{Key: "e", Desc: "export the sequence as a .mid file"},
		}},
		{Title: "output", Keys: []widgets.KeyBinding{
			{Key: "x", Desc: "panic: silence every channel now"},
			{Key: "q", Desc: "quit"},
		}},
	}
}
