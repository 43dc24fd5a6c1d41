package scheduler

import (
	"errors"
	"sync"
	"testing"
	"time"

	"pianoroll/midi"
	"pianoroll/sequence"
	"pianoroll/transport"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type sentEvent struct {
	ev       midi.Event
	deadline time.Time
}

// recordSink captures sends with their deadlines.
type recordSink struct {
	mu      sync.Mutex
	sent    []sentEvent
	flushes [][]uint8
	fail    bool
}

func (r *recordSink) Send(ev midi.Event, deadline time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return midi.ErrSink
	}
	r.sent = append(r.sent, sentEvent{ev: ev, deadline: deadline})
	return nil
}

func (r *recordSink) FlushAllNotesOff(channels ...uint8) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes = append(r.flushes, append([]uint8(nil), channels...))
	return nil
}

func (r *recordSink) Close() error { return nil }

func (r *recordSink) events() []sentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentEvent(nil), r.sent...)
}

func (r *recordSink) count(typ uint8) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sent {
		if s.ev.Type == typ {
			n++
		}
	}
	return n
}

// newTestRig builds a one-track store, transport, and unstarted scheduler
// on a shared fake clock. Tests drive fillOnce and popDue by hand.
func newTestRig(t *testing.T, notes ...sequence.Note) (*Scheduler, *sequence.Store, *transport.Transport, *recordSink, *fakeClock) {
	t.Helper()
	seq, err := sequence.New(480)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	seq, err = seq.AddTrack("lead", 0)
	if err != nil {
		t.Fatalf("AddTrack: %v", err)
	}
	for _, n := range notes {
		seq, err = seq.AddNote(0, n)
		if err != nil {
			t.Fatalf("AddNote: %v", err)
		}
	}
	store := sequence.NewStore(seq)
	clk := &fakeClock{t: time.Unix(1000, 0)}
	tr := transport.New(seq.Tempo, transport.WithClock(clk.now))
	sink := &recordSink{}
	sched, err := New(store, tr, sink, WithClock(clk.now))
	if err != nil {
		t.Fatalf("New scheduler: %v", err)
	}
	return sched, store, tr, sink, clk
}

// run steps the clock in fill periods, filling and dispatching like the
// live loops would.
func run(sched *Scheduler, clk *fakeClock, total time.Duration) {
	steps := int(total / sched.period)
	for i := 0; i <= steps; i++ {
		sched.fillOnce()
		sched.popDue(clk.t)
		clk.advance(sched.period)
	}
}

func TestSingleNoteTiming(t *testing.T) {
	n := sequence.NewNote(60, 100, 0, 480, 0)
	sched, _, tr, sink, clk := newTestRig(t, n)
	start := clk.t

	tr.Play()
	run(sched, clk, 600*time.Millisecond)

	sent := sink.events()
	if len(sent) != 2 {
		t.Fatalf("sent %d events, want on and off", len(sent))
	}
	on, off := sent[0], sent[1]
	if on.ev.Type != midi.NoteOn || on.ev.Note != 60 || on.ev.Velocity != 100 || on.ev.Channel != 0 {
		t.Errorf("first event = %v, want note-on 60 v100 ch0", on.ev)
	}
	if !on.deadline.Equal(start) {
		t.Errorf("note-on deadline = %v, want playback start %v", on.deadline, start)
	}
	if off.ev.Type != midi.NoteOff || off.ev.Note != 60 {
		t.Errorf("second event = %v, want note-off 60", off.ev)
	}
	if got := off.deadline.Sub(start); got != 500*time.Millisecond {
		t.Errorf("note-off deadline = start+%v, want start+500ms", got)
	}
	if sched.ActiveCount() != 0 {
		t.Errorf("%d notes still active after the pass", sched.ActiveCount())
	}
}

func TestRepeatedFillsEmitOnce(t *testing.T) {
	n := sequence.NewNote(64, 80, 0, 480, 0)
	sched, _, tr, sink, clk := newTestRig(t, n)

	tr.Play()
	for i := 0; i < 6; i++ {
		sched.fillOnce()
	}
	run(sched, clk, 600*time.Millisecond)

	if got := sink.count(midi.NoteOn); got != 1 {
		t.Errorf("note-on sent %d times, want 1", got)
	}
	if got := sink.count(midi.NoteOff); got != 1 {
		t.Errorf("note-off sent %d times, want 1", got)
	}
}

func TestLoopBoundaryCutsAndRestarts(t *testing.T) {
	first := sequence.NewNote(60, 100, 0, 240, 0)
	long := sequence.NewNote(72, 90, 955, 480, 0) // would end past the loop
	sched, _, tr, sink, clk := newTestRig(t, first, long)
	start := clk.t
	tm := tr.TempoMap()

	if err := tr.SetLoop(0, 960); err != nil {
		t.Fatalf("SetLoop: %v", err)
	}
	tr.Seek(900)
	tr.Play()
	run(sched, clk, 400*time.Millisecond)

	sent := sink.events()
	if len(sent) < 4 {
		t.Fatalf("sent %d events, want at least 4", len(sent))
	}

	boundary := start.Add(tm.TickToTime(960) - tm.TickToTime(900))

	// The long note fires, is cut exactly at the boundary, and the next
	// pass starts at the same instant with the note at tick 0.
	if sent[0].ev.Type != midi.NoteOn || sent[0].ev.Note != 72 {
		t.Errorf("event 0 = %v, want note-on 72", sent[0].ev)
	}
	if want := start.Add(tm.TickToTime(955) - tm.TickToTime(900)); !sent[0].deadline.Equal(want) {
		t.Errorf("note-on 72 deadline = %v, want %v", sent[0].deadline, want)
	}
	if sent[1].ev.Type != midi.NoteOff || sent[1].ev.Note != 72 {
		t.Errorf("event 1 = %v, want boundary note-off 72", sent[1].ev)
	}
	if !sent[1].deadline.Equal(boundary) {
		t.Errorf("cut note-off deadline = %v, want boundary %v", sent[1].deadline, boundary)
	}
	if sent[2].ev.Type != midi.NoteOn || sent[2].ev.Note != 60 {
		t.Errorf("event 2 = %v, want note-on 60 at loop start", sent[2].ev)
	}
	if !sent[2].deadline.Equal(boundary) {
		t.Errorf("wrapped note-on deadline = %v, want boundary %v", sent[2].deadline, boundary)
	}
	if sent[3].ev.Type != midi.NoteOff || sent[3].ev.Note != 60 {
		t.Errorf("event 3 = %v, want note-off 60", sent[3].ev)
	}
	if want := boundary.Add(250 * time.Millisecond); !sent[3].deadline.Equal(want) {
		t.Errorf("note-off 60 deadline = %v, want %v", sent[3].deadline, want)
	}
}

func TestLoopPassesRefireEachPass(t *testing.T) {
	n := sequence.NewNote(60, 100, 0, 240, 0)
	sched, _, tr, sink, clk := newTestRig(t, n)
	start := clk.t

	if err := tr.SetLoop(0, 480); err != nil {
		t.Fatalf("SetLoop: %v", err)
	}
	tr.Play()
	run(sched, clk, 1400*time.Millisecond)

	sent := sink.events()
	ons := 0
	for i, s := range sent {
		want := midi.NoteOn
		if i%2 == 1 {
			want = midi.NoteOff
		}
		if s.ev.Type != want {
			t.Fatalf("event %d type = %#x, want %#x (strict on/off alternation)", i, s.ev.Type, want)
		}
		if s.ev.Type == midi.NoteOn {
			if delta := s.deadline.Sub(start); delta != time.Duration(ons)*500*time.Millisecond {
				t.Errorf("pass %d note-on at start+%v, want start+%v", ons, delta, time.Duration(ons)*500*time.Millisecond)
			}
			ons++
		}
	}
	if ons < 3 {
		t.Errorf("saw %d loop passes, want at least 3", ons)
	}
}

func TestStopFlushesOutstandingNotes(t *testing.T) {
	n := sequence.NewNote(67, 110, 0, 9600, 3)
	sched, _, tr, sink, clk := newTestRig(t, n)

	tr.Play()
	sched.fillOnce()
	sched.popDue(clk.t)
	if sched.ActiveCount() != 1 {
		t.Fatalf("ActiveCount = %d, want 1 sounding note", sched.ActiveCount())
	}

	clk.advance(100 * time.Millisecond)
	tr.Stop()

	sent := sink.events()
	last := sent[len(sent)-1]
	if last.ev.Type != midi.NoteOff || last.ev.Note != 67 || last.ev.Channel != 3 {
		t.Errorf("last event = %v, want synthetic note-off 67 ch3", last.ev)
	}
	sink.mu.Lock()
	flushes := sink.flushes
	sink.mu.Unlock()
	if len(flushes) != 1 || len(flushes[0]) != 1 || flushes[0][0] != 3 {
		t.Errorf("all-notes-off flushes = %v, want [[3]]", flushes)
	}
	if sched.ActiveCount() != 0 {
		t.Errorf("ActiveCount after stop = %d, want 0", sched.ActiveCount())
	}

	// Stopped: further passes emit nothing.
	before := len(sink.events())
	run(sched, clk, 200*time.Millisecond)
	if got := len(sink.events()); got != before {
		t.Errorf("stopped scheduler sent %d more events", got-before)
	}
}

func TestPauseSilencesAndResumeDoesNotRetrigger(t *testing.T) {
	n := sequence.NewNote(48, 100, 0, 9600, 0)
	sched, _, tr, sink, clk := newTestRig(t, n)

	tr.Play()
	sched.fillOnce()
	sched.popDue(clk.t)
	clk.advance(200 * time.Millisecond)
	tr.Pause()

	if got := sink.count(midi.NoteOff); got != 1 {
		t.Fatalf("pause sent %d note-offs, want 1", got)
	}

	clk.advance(time.Second)
	tr.Play()
	run(sched, clk, 300*time.Millisecond)

	// The note started before the resume point, so it must not re-fire.
	if got := sink.count(midi.NoteOn); got != 1 {
		t.Errorf("note-on count after resume = %d, want 1", got)
	}
}

func TestSeekDropsQueuedAndAllowsRefire(t *testing.T) {
	n := sequence.NewNote(60, 100, 0, 480, 0)
	sched, _, tr, sink, clk := newTestRig(t, n)

	tr.Play()
	sched.fillOnce() // queued, not yet dispatched
	tr.Seek(4800)
	sched.fillOnce()
	sched.popDue(clk.t)
	if got := len(sink.events()); got != 0 {
		t.Fatalf("seek away still dispatched %d events", got)
	}

	tr.Seek(0)
	sched.fillOnce()
	sched.popDue(clk.t)
	if got := sink.count(midi.NoteOn); got != 1 {
		t.Errorf("note-on count after seek back = %d, want 1", got)
	}
}

func TestEditCutsDeletedNoteMidSound(t *testing.T) {
	n := sequence.NewNote(55, 100, 0, 9600, 0)
	sched, store, tr, sink, clk := newTestRig(t, n)

	tr.Play()
	sched.fillOnce()
	sched.popDue(clk.t)
	clk.advance(100 * time.Millisecond)

	if err := store.Edit(func(s *sequence.Sequence) (*sequence.Sequence, error) {
		return s.RemoveNote(n.ID), nil
	}); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	sched.fillOnce()
	sched.popDue(clk.t)

	sent := sink.events()
	last := sent[len(sent)-1]
	if last.ev.Type != midi.NoteOff || last.ev.Note != 55 {
		t.Errorf("last event = %v, want immediate note-off 55", last.ev)
	}
	if !last.deadline.Equal(clk.t) {
		t.Errorf("cut deadline = %v, want now %v", last.deadline, clk.t)
	}
	if sched.ActiveCount() != 0 {
		t.Errorf("deleted note still active")
	}
}

func TestMutedTrackIsSilent(t *testing.T) {
	seq, _ := sequence.New(480)
	seq, _ = seq.AddTrack("keep", 0)
	seq, _ = seq.AddTrack("mute", 1)
	var err error
	seq, err = seq.AddNote(0, sequence.NewNote(60, 100, 0, 240, 0))
	if err != nil {
		t.Fatalf("AddNote: %v", err)
	}
	seq, err = seq.AddNote(1, sequence.NewNote(40, 100, 0, 240, 1))
	if err != nil {
		t.Fatalf("AddNote: %v", err)
	}
	seq, err = seq.SetTrackMuted(1, true)
	if err != nil {
		t.Fatalf("SetTrackMuted: %v", err)
	}

	store := sequence.NewStore(seq)
	clk := &fakeClock{t: time.Unix(1000, 0)}
	tr := transport.New(seq.Tempo, transport.WithClock(clk.now))
	sink := &recordSink{}
	sched, err := New(store, tr, sink, WithClock(clk.now))
	if err != nil {
		t.Fatalf("New scheduler: %v", err)
	}

	tr.Play()
	run(sched, clk, 400*time.Millisecond)

	for _, s := range sink.events() {
		if s.ev.Note == 40 {
			t.Fatalf("muted track dispatched %v", s.ev)
		}
	}
	if got := sink.count(midi.NoteOn); got != 1 {
		t.Errorf("note-on count = %d, want 1 from the unmuted track", got)
	}
}

func TestTempoChangeMovesPendingDeadlines(t *testing.T) {
	n1 := sequence.NewNote(60, 100, 0, 480, 0)
	n2 := sequence.NewNote(72, 100, 960, 480, 0)
	sched, store, tr, sink, clk := newTestRig(t, n1, n2)
	start := clk.t

	tr.Play()
	sched.fillOnce()
	sched.popDue(clk.t)
	clk.advance(250 * time.Millisecond) // tick 240 at 120 BPM

	// Double the tempo mid-note, the way the app does it: publish the
	// edit, then hand the new map to the transport.
	if err := store.Edit(func(s *sequence.Sequence) (*sequence.Sequence, error) {
		return s.SetTempo(0, 240)
	}); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	cur, _ := store.Load()
	tr.SetTempoMap(cur.Tempo)

	run(sched, clk, 700*time.Millisecond)

	sent := sink.events()
	if len(sent) != 4 {
		t.Fatalf("sent %d events, want 4", len(sent))
	}
	// 240 ticks remained of n1: 125ms at 240 BPM.
	if want := start.Add(375 * time.Millisecond); !sent[1].deadline.Equal(want) {
		t.Errorf("n1 off deadline = %v, want %v", sent[1].deadline, want)
	}
	// n2 starts 720 ticks after the change point: 375ms at 240 BPM.
	if want := start.Add(625 * time.Millisecond); !sent[2].deadline.Equal(want) {
		t.Errorf("n2 on deadline = %v, want %v", sent[2].deadline, want)
	}
	if want := start.Add(875 * time.Millisecond); !sent[3].deadline.Equal(want) {
		t.Errorf("n2 off deadline = %v, want %v", sent[3].deadline, want)
	}
}

func TestTimingDegradation(t *testing.T) {
	var got []error
	seq, _ := sequence.New(480)
	store := sequence.NewStore(seq)
	clk := &fakeClock{t: time.Unix(1000, 0)}
	tr := transport.New(seq.Tempo, transport.WithClock(clk.now))
	sched, err := New(store, tr, &recordSink{}, WithClock(clk.now),
		WithOnDegraded(func(e error) { got = append(got, e) }))
	if err != nil {
		t.Fatalf("New scheduler: %v", err)
	}

	sched.checkTiming() // baseline
	for i := 0; i < 5; i++ {
		clk.advance(100 * time.Millisecond) // 4x the period
		sched.checkTiming()
	}

	if len(got) != 1 {
		t.Fatalf("degradation callback fired %d times, want once per episode", len(got))
	}
	if !errors.Is(got[0], ErrTimingDegraded) {
		t.Errorf("callback error = %v, want ErrTimingDegraded", got[0])
	}
	if !sched.Degraded() {
		t.Errorf("Degraded() = false during overruns")
	}

	clk.advance(sched.period)
	sched.checkTiming()
	if sched.Degraded() {
		t.Errorf("Degraded() = true after recovery")
	}
}

func TestSinkFailureDoesNotHaltPlayback(t *testing.T) {
	n := sequence.NewNote(60, 100, 0, 480, 0)
	sched, _, tr, sink, clk := newTestRig(t, n)
	sink.fail = true

	tr.Play()
	run(sched, clk, 600*time.Millisecond)

	if got := len(sink.events()); got != 0 {
		t.Errorf("failing sink recorded %d events", got)
	}
	// The pass completed: nothing queued, nothing active, no panic.
	if sched.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d, want 0", sched.ActiveCount())
	}
}

func TestNewValidatesWindow(t *testing.T) {
	seq, _ := sequence.New(480)
	store := sequence.NewStore(seq)
	tr := transport.New(seq.Tempo)

	if _, err := New(store, tr, &recordSink{}, WithPeriod(30*time.Millisecond)); !errors.Is(err, sequence.ErrInvalidRange) {
		t.Errorf("period over half the lookahead: err = %v, want ErrInvalidRange", err)
	}
	if _, err := New(store, tr, &recordSink{}, WithLookahead(0)); !errors.Is(err, sequence.ErrInvalidRange) {
		t.Errorf("zero lookahead: err = %v, want ErrInvalidRange", err)
	}
}
