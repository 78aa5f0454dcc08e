package yield

// ActiveSet tracks which distributions are live, with O(1) add, remove, and
// membership over an iterable sequence. Removal swaps the victim with the
// last element before popping, so the sequence keeps registration order only
// until the first removal. Callers that mutate while iterating must walk a
// Snapshot.
type ActiveSet struct {
	ids []uint64
	pos map[uint64]int // 1-based position in ids; 0 or absent means not a member
}

func NewActiveSet() *ActiveSet {
	return &ActiveSet{pos: make(map[uint64]int)}
}

// Add appends id to the sequence. Adding a member again is a no-op.
func (s *ActiveSet) Add(id uint64) {
	if s.pos[id] != 0 {
		return
	}
	s.ids = append(s.ids, id)
	s.pos[id] = len(s.ids)
}

// Remove drops id by swapping it with the last element and popping. Removing
// a non-member is a no-op.
func (s *ActiveSet) Remove(id uint64) {
	position := s.pos[id]
	if position == 0 {
		return
	}
	last := len(s.ids)
	if position != last {
		moved := s.ids[last-1]
		s.ids[position-1] = moved
		s.pos[moved] = position
	}
	s.ids = s.ids[:last-1]
	delete(s.pos, id)
}

func (s *ActiveSet) Contains(id uint64) bool {
	return s.pos[id] != 0
}

func (s *ActiveSet) Len() int {
	return len(s.ids)
}

// Snapshot returns a copy of the current sequence; callers own the slice.
func (s *ActiveSet) Snapshot() []uint64 {
	if len(s.ids) == 0 {
		return nil
	}
	out := make([]uint64, len(s.ids))
	copy(out, s.ids)
	return out
}

// Restore replaces the contents with ids in the given order, dropping
// duplicates.
func (s *ActiveSet) Restore(ids []uint64) {
	s.ids = s.ids[:0]
	s.pos = make(map[uint64]int, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
}
