package sequence

import "errors"

var (
	// ErrInvalidTempo reports a tempo change with a non-positive BPM.
	ErrInvalidTempo = errors.New("invalid tempo")

	// ErrInvalidRange reports an out-of-range tick, note field, track index,
	// or loop region. Operations that return it leave the sequence untouched.
	ErrInvalidRange = errors.New("invalid range")
)
