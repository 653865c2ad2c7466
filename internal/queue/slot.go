package queue

import "sync"

// Slot holds only the most recent value written to it. A Store replaces any
// value that has not been taken yet.
type Slot[T any] struct {
	mu   sync.Mutex
	v    T
	have bool
}

// Store replaces the held value.
func (s *Slot[T]) Store(v T) {
	s.mu.Lock()
	s.v = v
	s.have = true
	s.mu.Unlock()
}

// Take returns the held value and empties the slot.
func (s *Slot[T]) Take() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	if !s.have {
		return zero, false
	}
	v := s.v
	s.v = zero
	s.have = false
	return v, true
}

// Peek returns the held value without emptying the slot.
func (s *Slot[T]) Peek() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v, s.have
}
