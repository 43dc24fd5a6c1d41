package scheduler

import (
	"container/heap"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"pianoroll/midi"
	"pianoroll/sequence"
	"pianoroll/transport"
)

// Defaults for the lookahead horizon and the dispatch period. The period
// must stay at or under half the horizon so one late wakeup cannot push
// events past their deadlines.
const (
	DefaultLookahead = 50 * time.Millisecond
	DefaultPeriod    = 25 * time.Millisecond
)

// missLimit is how many consecutive overrun periods count as degraded.
const missLimit = 3

// ErrTimingDegraded reports that the fill loop repeatedly overran its
// period. Playback continues best-effort; this is an observability signal.
var ErrTimingDegraded = errors.New("scheduler timing degraded")

// recentCap bounds the sent-event ring kept for the UI.
const recentCap = 8

// activeNote tracks a sounding note (note-on sent, note-off not yet) so
// stops, seeks, and edits can silence it.
type activeNote struct {
	pitch   uint8
	channel uint8
	endTick int64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLookahead sets the scheduling horizon.
func WithLookahead(d time.Duration) Option {
	return func(s *Scheduler) { s.lookahead = d }
}

// WithPeriod sets the fill loop period.
func WithPeriod(d time.Duration) Option {
	return func(s *Scheduler) { s.period = d }
}

// WithLogger sets the logger. Default is a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithClock substitutes the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithOnDegraded sets a callback fired once per degradation episode.
func WithOnDegraded(fn func(error)) Option {
	return func(s *Scheduler) { s.onDegraded = fn }
}

// Scheduler turns the sequence snapshot plus the transport position into
// deadline-stamped MIDI events. A fill loop keeps a lookahead window of
// note-ons and note-offs queued; a dispatch loop sleeps until the earliest
// deadline and sends. The scheduler owns no note data: every fill works
// from the store's current snapshot, so edits during playback take effect
// at the next fill without tearing.
type Scheduler struct {
	store *sequence.Store
	tr    *transport.Transport
	sink  midi.Sink
	log   *zap.Logger
	now   func() time.Time

	lookahead  time.Duration
	period     time.Duration
	onDegraded func(error)

	mu         sync.Mutex
	q          eventQueue
	pushSeq    uint64
	emitted    map[sequence.NoteID]bool // note-on queued this pass
	active     map[sequence.NoteID]activeNote
	snapshot   *sequence.Sequence
	running    bool
	synced     bool
	cursor     int64     // next tick to fill from
	cursorWall time.Time // wall instant of cursor
	misses     int
	degraded   bool
	lastFill   time.Time
	recent     []midi.Event

	stopChan      chan struct{}
	interruptChan chan struct{} // wake the fill loop early
	wakeChan      chan struct{} // wake the dispatch loop after queue changes
	updates       chan struct{} // notify the UI

	startOnce sync.Once
	stopOnce  sync.Once
}

// New wires a scheduler to the store, transport, and sink, and registers it
// as the transport's observer. Call Start to launch the loops.
func New(store *sequence.Store, tr *transport.Transport, sink midi.Sink, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		store:     store,
		tr:        tr,
		sink:      sink,
		log:       zap.NewNop(),
		now:       time.Now,
		lookahead: DefaultLookahead,
		period:    DefaultPeriod,
		emitted:   make(map[sequence.NoteID]bool),
		active:    make(map[sequence.NoteID]activeNote),

		stopChan:      make(chan struct{}),
		interruptChan: make(chan struct{}, 1),
		wakeChan:      make(chan struct{}, 1),
		updates:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.lookahead <= 0 || s.period <= 0 {
		return nil, fmt.Errorf("%w: lookahead %v, period %v", sequence.ErrInvalidRange, s.lookahead, s.period)
	}
	if s.period*2 > s.lookahead {
		return nil, fmt.Errorf("%w: period %v exceeds half the %v lookahead", sequence.ErrInvalidRange, s.period, s.lookahead)
	}
	s.snapshot, _ = store.Load()
	tr.SetObserver(s)
	return s, nil
}

// Start launches the fill and dispatch goroutines. Safe to call once.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		go s.fillLoop()
		go s.dispatchLoop()
	})
}

// Close stops the loops and silences anything still sounding. The sink is
// left open; the caller owns it.
func (s *Scheduler) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	now := s.now()
	s.mu.Lock()
	s.running = false
	s.flushLocked(now)
	s.mu.Unlock()
	return nil
}

// Updates yields a signal whenever events were dispatched, for the UI.
func (s *Scheduler) Updates() <-chan struct{} { return s.updates }

// Degraded reports whether the fill loop is currently overrunning.
func (s *Scheduler) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// ActiveCount returns the number of currently sounding notes.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Recent returns the last few dispatched events, oldest first.
func (s *Scheduler) Recent() []midi.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]midi.Event, len(s.recent))
	copy(out, s.recent)
	return out
}

// TransportChanged implements transport.Observer. It runs on the goroutine
// that drove the transition, with no transport lock held.
func (s *Scheduler) TransportChanged(ch transport.Change) {
	now := s.now()
	s.mu.Lock()
	switch ch.Kind {
	case transport.ChangePlay:
		s.resyncLocked(ch.Tick, now)
		s.running = true
	case transport.ChangePause, transport.ChangeStop:
		s.running = false
		s.flushLocked(now)
	case transport.ChangeSeek, transport.ChangeLoop:
		if s.running {
			s.flushLocked(now)
			s.resyncLocked(ch.Tick, now)
		}
	case transport.ChangeTempoMap:
		if s.running {
			s.requeueLocked(ch.Tick, now)
		}
	}
	s.mu.Unlock()
	s.interrupt()
	s.wake()
	s.notifyUpdate()
}

// fillLoop keeps the queue topped up to the horizon. Interrupts trigger an
// immediate refill after transport or sequence changes.
func (s *Scheduler) fillLoop() {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-s.interruptChan:
			s.fillOnce()
		case <-ticker.C:
			s.checkTiming()
			s.fillOnce()
		}
	}
}

// dispatchLoop sleeps until the earliest deadline and sends what is due.
func (s *Scheduler) dispatchLoop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		now := s.now()
		if s.popDue(now) > 0 {
			continue
		}

		s.mu.Lock()
		empty := len(s.q) == 0
		var wait time.Duration
		if !empty {
			wait = s.q[0].deadline.Sub(now)
		}
		s.mu.Unlock()

		if empty {
			select {
			case <-s.stopChan:
				return
			case <-s.wakeChan:
			}
			continue
		}
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-s.stopChan:
			timer.Stop()
			return
		case <-s.wakeChan:
			// Queue changed, re-peek.
			timer.Stop()
		case <-timer.C:
		}
	}
}

// popDue sends every queued event due at or before now, in deadline order.
// Bookkeeping happens under the lock, sending outside it. A sink failure is
// logged and the message dropped; playback never halts on it.
func (s *Scheduler) popDue(now time.Time) int {
	s.mu.Lock()
	var due []*event
	for len(s.q) > 0 && !s.q[0].deadline.After(now) {
		it := heap.Pop(&s.q).(*event)
		if it.off {
			delete(s.active, it.id)
		} else {
			s.active[it.id] = activeNote{pitch: it.ev.Note, channel: it.ev.Channel, endTick: it.endTick}
		}
		s.recent = append(s.recent, it.ev)
		due = append(due, it)
	}
	if over := len(s.recent) - recentCap; over > 0 {
		s.recent = append(s.recent[:0], s.recent[over:]...)
	}
	s.mu.Unlock()

	for _, it := range due {
		if err := s.sink.Send(it.ev, it.deadline); err != nil {
			s.log.Warn("midi send failed", zap.String("event", it.ev.String()), zap.Error(err))
		}
	}
	if len(due) > 0 {
		s.notifyUpdate()
	}
	return len(due)
}

// fillOnce advances the fill cursor to now+lookahead, queueing note-ons and
// note-offs with projected deadlines and folding at the loop boundary.
func (s *Scheduler) fillOnce() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap, _ := s.store.Load(); snap != s.snapshot {
		s.snapshot = snap
		if s.running && s.synced {
			s.revalidateLocked(now)
		}
	}
	if !s.running || !s.synced {
		return
	}

	tm := s.tr.TempoMap()
	loopStart, loopEnd, looping := s.tr.Loop()
	if looping && tm.TickToTime(loopEnd) <= tm.TickToTime(loopStart) {
		looping = false
	}
	limit := now.Add(s.lookahead)

	for s.cursorWall.Before(limit) {
		from := s.cursor
		to := tm.TimeToTick(tm.TickToTime(from) + limit.Sub(s.cursorWall))
		if looping && to > loopEnd {
			to = loopEnd
		}
		if to > from {
			s.scheduleWindowLocked(tm, from, to)
			s.cursorWall = s.cursorWall.Add(tm.TickToTime(to) - tm.TickToTime(from))
			s.cursor = to
		}
		if looping && s.cursor >= loopEnd {
			s.wrapLocked(loopStart)
			continue
		}
		if to <= from {
			break
		}
	}
}

// scheduleWindowLocked queues both edges of every unemitted note starting
// in [from, to). Deadlines are projected from the cursor so they stay exact
// across loop passes.
func (s *Scheduler) scheduleWindowLocked(tm *sequence.TempoMap, from, to int64) {
	fromT := tm.TickToTime(from)
	for ti := range s.snapshot.Tracks {
		track := &s.snapshot.Tracks[ti]
		if track.Muted {
			continue
		}
		for _, n := range track.NotesIn(from, to) {
			if s.emitted[n.ID] {
				continue
			}
			s.emitted[n.ID] = true
			onAt := s.cursorWall.Add(tm.TickToTime(n.Start) - fromT)
			offAt := s.cursorWall.Add(tm.TickToTime(n.End()) - fromT)
			s.pushLocked(&event{
				deadline: onAt,
				id:       n.ID,
				endTick:  n.End(),
				ev:       midi.Event{Type: midi.NoteOn, Channel: n.Channel, Note: n.Pitch, Velocity: n.Velocity},
			})
			s.pushLocked(&event{
				deadline: offAt,
				id:       n.ID,
				off:      true,
				ev:       midi.Event{Type: midi.NoteOff, Channel: n.Channel, Note: n.Pitch},
			})
		}
	}
}

// wrapLocked folds the cursor back to the loop start. Note-offs queued past
// the boundary are cut to the boundary instant so nothing sounds across the
// wrap, and the per-pass emission set resets so the next pass fires the
// same notes again.
func (s *Scheduler) wrapLocked(loopStart int64) {
	boundary := s.cursorWall
	restamped := false
	for _, it := range s.q {
		if it.off && it.deadline.After(boundary) {
			it.deadline = boundary
			restamped = true
		}
	}
	if restamped {
		heap.Init(&s.q)
	}
	s.emitted = make(map[sequence.NoteID]bool)
	s.cursor = loopStart
}

// revalidateLocked rebuilds the queue against a fresh sequence snapshot.
// Unsent events are dropped and the cursor rewinds to the playhead so this
// same pass refills them from current note data; sounding notes are cut
// right away when the edit removed, muted, or moved them, otherwise their
// note-off follows the edited end. Notes that already finished sounding sit
// behind the playhead, so the rewind cannot fire them twice.
func (s *Scheduler) revalidateLocked(now time.Time) {
	s.q = s.q[:0]
	emitted := make(map[sequence.NoteID]bool, len(s.active))
	for id := range s.active {
		emitted[id] = true
	}
	s.emitted = emitted
	s.resyncLocked(s.tr.Position(), now)

	tm := s.tr.TempoMap()
	for id, a := range s.active {
		cut := true
		var end int64
		if ti, ni, ok := s.snapshot.NoteByID(id); ok {
			n := s.snapshot.Tracks[ti].Notes[ni]
			if !s.snapshot.Tracks[ti].Muted && n.Pitch == a.pitch && n.Channel == a.channel {
				cut = false
				end = n.End()
			}
		}
		deadline := now
		if !cut && end > s.cursor {
			deadline = s.cursorWall.Add(tm.TickToTime(end) - tm.TickToTime(s.cursor))
			a.endTick = end
			s.active[id] = a
		}
		s.pushLocked(&event{
			deadline: deadline,
			id:       id,
			off:      true,
			ev:       midi.Event{Type: midi.NoteOff, Channel: a.channel, Note: a.pitch},
		})
	}
}

// requeueLocked rebuilds deadlines after a tempo map swap without breaking
// notes that are already sounding.
func (s *Scheduler) requeueLocked(tick int64, now time.Time) {
	s.q = s.q[:0]
	emitted := make(map[sequence.NoteID]bool, len(s.active))
	for id := range s.active {
		emitted[id] = true
	}
	s.emitted = emitted
	s.resyncLocked(tick, now)

	tm := s.tr.TempoMap()
	for id, a := range s.active {
		deadline := now
		if a.endTick > s.cursor {
			deadline = s.cursorWall.Add(tm.TickToTime(a.endTick) - tm.TickToTime(s.cursor))
		}
		s.pushLocked(&event{
			deadline: deadline,
			id:       id,
			off:      true,
			ev:       midi.Event{Type: midi.NoteOff, Channel: a.channel, Note: a.pitch},
		})
	}
}

// resyncLocked re-bases the fill cursor on a transport transition. The wall
// instant comes from the anchor projection when that is ahead of now, so a
// play from tick zero schedules tick zero at the anchor instant itself.
func (s *Scheduler) resyncLocked(tick int64, now time.Time) {
	s.cursor = tick
	s.cursorWall = now
	if aTick, aAt, ok := s.tr.Anchor(); ok {
		tm := s.tr.TempoMap()
		if w := aAt.Add(tm.TickToTime(tick) - tm.TickToTime(aTick)); w.After(now) {
			s.cursorWall = w
		} else if tick == aTick {
			// Fresh anchor for this very tick; trust it even if marginally past.
			s.cursorWall = aAt
		}
	}
	s.synced = true
}

// flushLocked is the stop/seek safety path: drop the queue, send synchronous
// note-offs for everything sounding, then all-notes-off on those channels.
func (s *Scheduler) flushLocked(now time.Time) {
	s.q = s.q[:0]
	s.emitted = make(map[sequence.NoteID]bool)

	channels := make(map[uint8]bool)
	for id, a := range s.active {
		ev := midi.Event{Type: midi.NoteOff, Channel: a.channel, Note: a.pitch}
		if err := s.sink.Send(ev, now); err != nil {
			s.log.Warn("flush note-off failed", zap.String("event", ev.String()), zap.Error(err))
		}
		channels[a.channel] = true
		delete(s.active, id)
	}
	if len(channels) > 0 {
		list := make([]uint8, 0, len(channels))
		for ch := range channels {
			list = append(list, ch)
		}
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
		if err := s.sink.FlushAllNotesOff(list...); err != nil {
			s.log.Warn("all-notes-off failed", zap.Error(err))
		}
	}
	s.synced = false
}

// checkTiming watches the gap between fill passes and flags a degradation
// episode after missLimit consecutive overruns.
func (s *Scheduler) checkTiming() {
	now := s.now()
	var fire bool
	s.mu.Lock()
	if !s.lastFill.IsZero() && now.Sub(s.lastFill) > 2*s.period {
		s.misses++
		if s.misses == missLimit {
			s.degraded = true
			fire = true
		}
	} else if s.misses > 0 || s.degraded {
		s.misses = 0
		s.degraded = false
	}
	s.lastFill = now
	s.mu.Unlock()

	if fire {
		s.log.Warn("fill loop overrunning", zap.Duration("period", s.period), zap.Error(ErrTimingDegraded))
		if s.onDegraded != nil {
			s.onDegraded(ErrTimingDegraded)
		}
	}
}

func (s *Scheduler) pushLocked(it *event) {
	s.pushSeq++
	it.seq = s.pushSeq
	heap.Push(&s.q, it)
	s.wake()
}

// interrupt asks the fill loop for an immediate pass.
func (s *Scheduler) interrupt() {
	select {
	case s.interruptChan <- struct{}{}:
	default:
	}
}

func (s *Scheduler) wake() {
	select {
	case s.wakeChan <- struct{}{}:
	default:
	}
}

func (s *Scheduler) notifyUpdate() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}
