package admission

// slots counts occupied concurrency slots against a limit.
//
// slots is not synchronized; the Limiter guards every instance with its
// mutex, which also lets a multi-endpoint admission reserve all of its slots
// atomically.
type slots struct {
	limit   int
	current int
}

func newSlots(limit int) slots {
	return slots{limit: limit}
}

// available reports whether one more slot can be acquired.
func (s *slots) available() bool {
	return s.current < s.limit
}

// acquire takes a slot. Callers check available first.
func (s *slots) acquire() {
	s.current++
}

// release returns a slot. The count never drops below zero, so unmatched
// releases are harmless.
func (s *slots) release() {
	if s.current > 0 {
		s.current--
	}
}

// remaining returns the number of free slots.
func (s *slots) remaining() int {
	if r := s.limit - s.current; r > 0 {
		return r
	}
	return 0
}

// reset frees every slot.
func (s *slots) reset() {
	s.current = 0
}
