// Package ids provides a compact allocator for small integer identifiers.
package ids

import "errors"

// ErrExhausted is returned by TryAlloc when every id of T is outstanding.
var ErrExhausted = errors.New("id space exhausted")

// Unsigned is the set of id representations a Source can hand out.
type Unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint
}

// Source allocates ids, reusing freed ones before minting new ones.
// Freed ids are reused in LIFO order. The zero value is ready to use and
// mints 0 first. The largest value of T is never minted, so a Source of
// uint8 hands out at most 255 ids at once.
//
// Free does not check for double frees: freeing an id twice, or freeing an
// id that was never allocated, makes a later Alloc hand the same id out to
// two owners. Callers own that contract.
//
// A Source is not safe for concurrent use.
type Source[T Unsigned] struct {
	next  T
	freed []T
}

// Alloc returns the most recently freed id, or a fresh one. It panics when
// the id space is exhausted; use TryAlloc where that can happen.
func (s *Source[T]) Alloc() T {
	id, err := s.TryAlloc()
	if err != nil {
		panic(err)
	}
	return id
}

// TryAlloc is Alloc reporting exhaustion as ErrExhausted.
func (s *Source[T]) TryAlloc() (T, error) {
	if n := len(s.freed); n > 0 {
		id := s.freed[n-1]
		s.freed = s.freed[:n-1]
		return id, nil
	}
	if s.next == ^T(0) {
		return 0, ErrExhausted
	}
	id := s.next
	s.next++
	return id, nil
}

// Free returns id to the pool. Freeing an id twice, or one that was never
// allocated, is not detected and corrupts the pool.
func (s *Source[T]) Free(id T) {
	s.freed = append(s.freed, id)
}

// Minted is the number of distinct ids ever handed out.
func (s *Source[T]) Minted() T { return s.next }

// Live is the number of ids currently allocated.
func (s *Source[T]) Live() int { return int(s.next) - len(s.freed) }

// Allocated reports whether id is currently handed out.
func (s *Source[T]) Allocated(id T) bool {
	if id >= s.next {
		return false
	}
	for _, f := range s.freed {
		if f == id {
			return false
		}
	}
	return true
}

// State is the exported form of a Source, for snapshots.
type State[T Unsigned] struct {
	Next  T
	Freed []T
}

// State captures the allocator.
func (s *Source[T]) State() State[T] {
	return State[T]{Next: s.next, Freed: append([]T(nil), s.freed...)}
}

// Restore rebuilds a Source from a captured State.
func Restore[T Unsigned](st State[T]) *Source[T] {
	return &Source[T]{next: st.Next, freed: append([]T(nil), st.Freed...)}
}
