package sequence

import (
	"sync"
	"sync/atomic"
)

// snapshot pairs a sequence with its publish count so readers get both in
// one atomic load.
type snapshot struct {
	seq     *Sequence
	version uint64
}

// Store publishes sequence snapshots to concurrent readers. The playback
// path calls Load once per cycle and works on that value for the whole
// cycle; edits go through Edit, which serializes writers and swaps the
// snapshot pointer atomically. Readers are never blocked.
type Store struct {
	mu  sync.Mutex // serializes writers
	cur atomic.Pointer[snapshot]
}

// NewStore returns a store holding the given sequence at version zero.
func NewStore(s *Sequence) *Store {
	st := &Store{}
	st.cur.Store(&snapshot{seq: s})
	return st
}

// Load returns the current sequence and its version.
func (st *Store) Load() (*Sequence, uint64) {
	snap := st.cur.Load()
	return snap.seq, snap.version
}

// Edit applies fn to the current sequence and publishes the result. fn gets
// the live snapshot and must not mutate it; it returns the replacement. On
// error nothing is published. Returning the input unchanged (or nil) skips
// the publish.
func (st *Store) Edit(fn func(*Sequence) (*Sequence, error)) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	cur := st.cur.Load()
	next, err := fn(cur.seq)
	if err != nil {
		return err
	}
	if next == nil || next == cur.seq {
		return nil
	}
	st.cur.Store(&snapshot{seq: next, version: cur.version + 1})
	return nil
}

// Replace swaps in a whole new sequence, for loading an imported file.
func (st *Store) Replace(s *Sequence) {
	st.mu.Lock()
	defer st.mu.Unlock()
	cur := st.cur.Load()
	st.cur.Store(&snapshot{seq: s, version: cur.version + 1})
}
