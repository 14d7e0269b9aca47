package orderbook

// Sequence hands out order ids. It is owned by a Ledger rather than being
// process-global, so independent ledgers never collide with each other.
type Sequence struct {
	next uint64
}

// NewSequence starts at start, or at 1 when start is zero.
func NewSequence(start uint64) *Sequence {
	if start == 0 {
		start = 1
	}
	return &Sequence{next: start}
}

// Peek returns the id the next order will receive.
func (s *Sequence) Peek() uint64 { return s.next }

// Next consumes and returns an id.
func (s *Sequence) Next() uint64 {
	id := s.next
	s.next++
	return id
}

// Restore moves the counter forward to next. It never moves it backwards.
func (s *Sequence) Restore(next uint64) {
	if next > s.next {
		s.next = next
	}
}
