// Package history keeps a sliding window of sequenced events.
//
// Every appended event gets the next sequence number. Consumers hold a
// cursor (the sequence of the first event they have not seen) and ask for
// everything from that cursor on. Ack discards events every consumer has
// seen, advancing the base of the window.
package history

import (
	"fmt"

	"github.com/aretw0/tickvm/pkg/domain"
)

// ErrEvicted and ErrFutureSequence are the two ways a cursor can fall
// outside the window. Both are *domain.PreconditionError values.
var (
	ErrEvicted        = &domain.PreconditionError{Op: "history.Since", Reason: "sequence precedes the retained window"}
	ErrFutureSequence = &domain.PreconditionError{Op: "history.Since", Reason: "sequence is past the newest event"}
)

// History is an ordered window of events starting at sequence Base.
// It is not safe for concurrent use.
type History[E any] struct {
	base   uint64
	events []E
}

// New returns an empty history whose first event will have sequence base.
func New[E any](base uint64) *History[E] {
	return &History[E]{base: base}
}

// Append adds ev and returns its sequence number.
func (h *History[E]) Append(ev E) uint64 {
	h.events = append(h.events, ev)
	return h.End() - 1
}

// Since returns the events with sequence >= seq, oldest first.
//
// seq below Base fails with ErrEvicted. seq above End fails with
// ErrFutureSequence. seq == End yields an empty slice. The returned slice
// aliases the window and must not be appended to.
func (h *History[E]) Since(seq uint64) ([]E, error) {
	if seq < h.base {
		return nil, fmt.Errorf("since %d (base %d): %w", seq, h.base, ErrEvicted)
	}
	if seq > h.End() {
		return nil, fmt.Errorf("since %d (end %d): %w", seq, h.End(), ErrFutureSequence)
	}
	off := seq - h.base
	return h.events[off:len(h.events):len(h.events)], nil
}

// At returns the event with the given sequence.
func (h *History[E]) At(seq uint64) (E, bool) {
	var zero E
	if seq < h.base || seq >= h.End() {
		return zero, false
	}
	return h.events[seq-h.base], true
}

// Ack discards every event with sequence < seq. Acking below Base is a
// no-op; acking past End empties the window and moves Base to seq.
func (h *History[E]) Ack(seq uint64) {
	if seq <= h.base {
		return
	}
	n := seq - h.base
	if n >= uint64(len(h.events)) {
		clear(h.events)
		h.events = h.events[:0]
		h.base = seq
		return
	}
	rest := make([]E, uint64(len(h.events))-n)
	copy(rest, h.events[n:])
	h.events = rest
	h.base = seq
}

// Truncate discards every event with sequence >= seq, so the next Append
// gets sequence seq. It is used to rewrite a suffix of the window.
func (h *History[E]) Truncate(seq uint64) error {
	if seq < h.base {
		return fmt.Errorf("truncate %d (base %d): %w", seq, h.base, ErrEvicted)
	}
	if seq >= h.End() {
		return nil
	}
	keep := seq - h.base
	clear(h.events[keep:])
	h.events = h.events[:keep]
	return nil
}

// Base is the sequence of the oldest retained event.
func (h *History[E]) Base() uint64 { return h.base }

// End is the sequence the next appended event will get.
func (h *History[E]) End() uint64 { return h.base + uint64(len(h.events)) }

// Len is the number of retained events.
func (h *History[E]) Len() int { return len(h.events) }
