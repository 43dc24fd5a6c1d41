package midi

import (
	"errors"
	"time"
)

// ErrSink reports a device or port failure. Senders treat it as transient:
// log, drop the message, keep playing.
var ErrSink = errors.New("midi sink")

// Channel-mode controller numbers for the safety flushes.
const (
	ccAllSoundOff uint8 = 120
	ccAllNotesOff uint8 = 123
)

// Sink is where scheduled events land. Implementations must deliver
// messages with equal or increasing deadlines in order per channel, and
// Send must not block anywhere near the scheduler's lookahead horizon.
type Sink interface {
	// Send delivers one event. The deadline is when the event should
	// sound; an implementation without its own buffering sends right away.
	Send(ev Event, deadline time.Time) error

	// FlushAllNotesOff silences the given channels, all 16 when none are
	// given. Runs synchronously so stop/seek can rely on it.
	FlushAllNotesOff(channels ...uint8) error

	Close() error
}

// Panic hard-silences a sink: all sound off plus all notes off on every
// channel. For stuck notes that a plain flush does not clear.
func Panic(s Sink) error {
	now := time.Now()
	var firstErr error
	for ch := uint8(0); ch < 16; ch++ {
		for _, cc := range []uint8{ccAllSoundOff, ccAllNotesOff} {
			ev := Event{Type: CC, Channel: ch, Controller: cc}
			if err := s.Send(ev, now); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Discard is a Sink that drops everything. Stands in when no output port is
// available so the transport and scheduler still run.
type Discard struct{}

func (Discard) Send(Event, time.Time) error     { return nil }
func (Discard) FlushAllNotesOff(...uint8) error { return nil }
func (Discard) Close() error                    { return nil }
