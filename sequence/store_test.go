package sequence

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
)

func TestStorePublishesEdits(t *testing.T) {
	st := NewStore(newTestSeq(t))

	if err := st.Edit(func(s *Sequence) (*Sequence, error) {
		return s.AddNote(0, NewNote(60, 100, 0, 480, 0))
	}); err != nil {
		t.Fatalf("Edit: %v", err)
	}

	s, v := st.Load()
	if v != 1 {
		t.Errorf("version = %d, want 1", v)
	}
	if s.NoteCount() != 1 {
		t.Errorf("NoteCount = %d, want 1", s.NoteCount())
	}
}

func TestStoreEditErrorPublishesNothing(t *testing.T) {
	st := NewStore(newTestSeq(t))
	boom := errors.New("boom")

	if err := st.Edit(func(s *Sequence) (*Sequence, error) {
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("Edit err = %v, want boom", err)
	}

	if _, v := st.Load(); v != 0 {
		t.Errorf("version after failed edit = %d, want 0", v)
	}
}

func TestStoreUnchangedEditSkipsPublish(t *testing.T) {
	st := NewStore(newTestSeq(t))

	if err := st.Edit(func(s *Sequence) (*Sequence, error) {
		return s, nil
	}); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if _, v := st.Load(); v != 0 {
		t.Errorf("version after no-op edit = %d, want 0", v)
	}
}

// Writers add one note per edit while readers load snapshots. Because each
// published version adds exactly one note, any reader that sees a note count
// different from its snapshot version has observed a torn sequence.
func TestStoreSnapshotIsolation(t *testing.T) {
	st := NewStore(newTestSeq(t))

	const writers = 4
	const editsPerWriter = 64

	var done atomic.Bool
	var wg sync.WaitGroup

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !done.Load() {
				s, v := st.Load()
				if got := uint64(s.NoteCount()); got != v {
					t.Errorf("snapshot v%d has %d notes", v, got)
					return
				}
				notes := s.Tracks[0].Notes
				if !sort.SliceIsSorted(notes, func(i, j int) bool { return notes[i].Start < notes[j].Start }) {
					t.Errorf("snapshot v%d has unsorted notes", v)
					return
				}
			}
		}()
	}

	var ww sync.WaitGroup
	for w := 0; w < writers; w++ {
		ww.Add(1)
		go func(w int) {
			defer ww.Done()
			for i := 0; i < editsPerWriter; i++ {
				start := int64(w*editsPerWriter+i) * 10
				err := st.Edit(func(s *Sequence) (*Sequence, error) {
					return s.AddNote(0, NewNote(60, 100, start, 5, 0))
				})
				if err != nil {
					t.Errorf("Edit: %v", err)
					return
				}
			}
		}(w)
	}

	ww.Wait()
	done.Store(true)
	wg.Wait()

	s, v := st.Load()
	if want := uint64(writers * editsPerWriter); v != want {
		t.Errorf("final version = %d, want %d", v, want)
	}
	if got := s.NoteCount(); got != writers*editsPerWriter {
		t.Errorf("final NoteCount = %d, want %d", got, writers*editsPerWriter)
	}
}
