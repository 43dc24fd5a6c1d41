package transport

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pianoroll/sequence"
)

// State is the transport state machine position.
type State int32

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	}
	return "unknown"
}

// ChangeKind says which operation produced a Change.
type ChangeKind int

const (
	ChangePlay ChangeKind = iota
	ChangePause
	ChangeStop
	ChangeSeek
	ChangeLoop
	ChangeTempoMap
)

// Change describes one transport transition.
type Change struct {
	Kind  ChangeKind
	State State
	Tick  int64 // position after the transition
}

// Observer is told about transport transitions. Calls arrive synchronously
// on the goroutine that made the transition, after the transport released
// its own lock, so observers may call back into the transport.
type Observer interface {
	TransportChanged(Change)
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger. Default is a nop logger.
func WithLogger(log *zap.Logger) Option {
	return func(t *Transport) { t.log = log }
}

// WithClock substitutes the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Transport) { t.now = now }
}

// Transport owns the playback position. While playing it never stores a
// current tick; it keeps a (tick, wall time) anchor and derives the position
// from elapsed time through the tempo map, re-anchoring on every transition
// so conversion error cannot accumulate. Reads are pure: the loop fold is
// computed, not stored.
type Transport struct {
	mu  sync.Mutex
	now func() time.Time
	log *zap.Logger
	obs Observer

	state      State
	tm         *sequence.TempoMap
	pos        int64 // frozen position while stopped or paused
	anchorTick int64 // anchor while playing
	anchorTime time.Time
	loopStart  int64
	loopEnd    int64
	looping    bool
}

// New returns a stopped transport at tick zero using the given tempo map.
func New(tm *sequence.TempoMap, opts ...Option) *Transport {
	t := &Transport{
		tm:  tm,
		now: time.Now,
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetObserver registers the single transition observer. Call before the
// first transition.
func (t *Transport) SetObserver(obs Observer) {
	t.mu.Lock()
	t.obs = obs
	t.mu.Unlock()
}

// Play starts advancing from the current position. No-op while playing.
func (t *Transport) Play() {
	t.mu.Lock()
	if t.state == Playing {
		t.mu.Unlock()
		return
	}
	t.anchorTick = t.pos
	t.anchorTime = t.now()
	t.state = Playing
	t.log.Debug("transport play", zap.Int64("tick", t.pos))
	ch := Change{Kind: ChangePlay, State: Playing, Tick: t.pos}
	obs := t.obs
	t.mu.Unlock()
	notify(obs, ch)
}

// Pause freezes the position. No-op unless playing.
func (t *Transport) Pause() {
	t.mu.Lock()
	if t.state != Playing {
		t.mu.Unlock()
		return
	}
	t.pos = t.positionLocked()
	t.state = Paused
	t.log.Debug("transport pause", zap.Int64("tick", t.pos))
	ch := Change{Kind: ChangePause, State: Paused, Tick: t.pos}
	obs := t.obs
	t.mu.Unlock()
	notify(obs, ch)
}

// Stop halts playback and rewinds to the loop start, or to zero without a
// loop. No-op when already stopped.
func (t *Transport) Stop() {
	t.mu.Lock()
	if t.state == Stopped {
		t.mu.Unlock()
		return
	}
	t.pos = 0
	if t.looping {
		t.pos = t.loopStart
	}
	t.state = Stopped
	t.log.Debug("transport stop", zap.Int64("tick", t.pos))
	ch := Change{Kind: ChangeStop, State: Stopped, Tick: t.pos}
	obs := t.obs
	t.mu.Unlock()
	notify(obs, ch)
}

// Seek moves to tick in any state, keeping the state. Negative ticks clamp
// to zero. While playing the anchor moves with it.
func (t *Transport) Seek(tick int64) {
	if tick < 0 {
		tick = 0
	}
	t.mu.Lock()
	t.pos = tick
	if t.state == Playing {
		t.anchorTick = tick
		t.anchorTime = t.now()
	}
	t.log.Debug("transport seek", zap.Int64("tick", tick))
	ch := Change{Kind: ChangeSeek, State: t.state, Tick: tick}
	obs := t.obs
	t.mu.Unlock()
	notify(obs, ch)
}

// SetLoop sets the loop region over [start, end) ticks.
func (t *Transport) SetLoop(start, end int64) error {
	if start < 0 || start >= end {
		return fmt.Errorf("%w: loop [%d, %d)", sequence.ErrInvalidRange, start, end)
	}
	t.mu.Lock()
	t.loopStart, t.loopEnd, t.looping = start, end, true
	t.log.Debug("transport loop", zap.Int64("start", start), zap.Int64("end", end))
	ch := Change{Kind: ChangeLoop, State: t.state, Tick: t.positionLocked()}
	obs := t.obs
	t.mu.Unlock()
	notify(obs, ch)
	return nil
}

// ClearLoop removes the loop region.
func (t *Transport) ClearLoop() {
	t.mu.Lock()
	if !t.looping {
		t.mu.Unlock()
		return
	}
	// The folded position becomes the real one before the loop goes away.
	if t.state == Playing {
		t.anchorTick = t.positionLocked()
		t.anchorTime = t.now()
	}
	t.looping = false
	ch := Change{Kind: ChangeLoop, State: t.state, Tick: t.positionLocked()}
	obs := t.obs
	t.mu.Unlock()
	notify(obs, ch)
}

// SetTempoMap swaps the tempo map, preserving the current musical position.
func (t *Transport) SetTempoMap(tm *sequence.TempoMap) {
	t.mu.Lock()
	pos := t.positionLocked()
	t.tm = tm
	t.pos = pos
	if t.state == Playing {
		t.anchorTick = pos
		t.anchorTime = t.now()
	}
	t.log.Debug("transport tempo map swap", zap.Int64("tick", pos))
	ch := Change{Kind: ChangeTempoMap, State: t.state, Tick: pos}
	obs := t.obs
	t.mu.Unlock()
	notify(obs, ch)
}

// Position returns the current tick.
func (t *Transport) Position() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.positionLocked()
}

// State returns the current transport state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Loop returns the loop region and whether it is active.
func (t *Transport) Loop() (start, end int64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loopStart, t.loopEnd, t.looping
}

// TempoMap returns the map currently driving the clock.
func (t *Transport) TempoMap() *sequence.TempoMap {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tm
}

// Anchor reports the playback anchor the position is derived from. The pair
// only changes on transitions, so schedulers can project deadlines from it:
// wall(tick) = at + (TickToTime(tick) - TickToTime(anchor)). ok is false
// unless playing.
func (t *Transport) Anchor() (tick int64, at time.Time, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Playing {
		return 0, time.Time{}, false
	}
	return t.anchorTick, t.anchorTime, true
}

// positionLocked derives the current tick from the anchor and elapsed time,
// folding into the loop region in time space so the result is exact over
// any number of passes. Caller holds mu.
func (t *Transport) positionLocked() int64 {
	if t.state != Playing {
		return t.pos
	}
	absT := t.tm.TickToTime(t.anchorTick) + t.now().Sub(t.anchorTime)
	if t.looping && t.loopEnd > t.loopStart {
		endT := t.tm.TickToTime(t.loopEnd)
		if absT >= endT {
			startT := t.tm.TickToTime(t.loopStart)
			if span := endT - startT; span > 0 {
				tick := t.tm.TimeToTick(startT + (absT-startT)%span)
				if tick >= t.loopEnd {
					tick = t.loopStart
				}
				return tick
			}
		}
	}
	return t.tm.TimeToTick(absT)
}

func notify(obs Observer, ch Change) {
	if obs != nil {
		obs.TransportChanged(ch)
	}
}
