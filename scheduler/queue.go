package scheduler

import (
	"time"

	"pianoroll/midi"
	"pianoroll/sequence"
)

// event is one queued wire message with its emission deadline.
type event struct {
	deadline time.Time
	ev       midi.Event
	id       sequence.NoteID
	off      bool
	endTick  int64 // note end, carried on note-ons
	seq      uint64
}

// eventQueue is a min-heap on (deadline, push order). The tiebreak keeps
// boundary-cut note-offs ahead of the next loop pass's note-ons.
type eventQueue []*event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].deadline.Equal(q[j].deadline) {
		return q[i].seq < q[j].seq
	}
	return q[i].deadline.Before(q[j].deadline)
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x any) { *q = append(*q, x.(*event)) }

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return it
}
