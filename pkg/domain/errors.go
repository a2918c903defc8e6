package domain

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a session ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExists is returned when creating a session under a taken ID.
var ErrSessionExists = errors.New("session already exists")

// ErrUnknownPlayer is returned when releasing a player id that is not joined.
var ErrUnknownPlayer = errors.New("unknown player")

// ErrNotAtBoundary is returned when an operation that requires a quiescent
// runtime (serialize, duplicate, save) is attempted mid-tick or after a fault.
var ErrNotAtBoundary = errors.New("runtime is not at a tick boundary")

// ErrUnknownSave is returned when a save slot id was never issued or has been dropped.
var ErrUnknownSave = errors.New("unknown save slot")

// Category sentinels, matched by errors.Is against the typed errors below.
var (
	ErrLoad         = errors.New("load failed")
	ErrTick         = errors.New("tick failed")
	ErrProtocol     = errors.New("protocol violation")
	ErrPrecondition = errors.New("precondition violated")
)

// LoadError reports a module that could not be decoded, validated or started.
type LoadError struct {
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("load: %s: %v", e.Reason, e.Err)
	}
	return "load: " + e.Reason
}

func (e *LoadError) Unwrap() error        { return e.Err }
func (e *LoadError) Is(target error) bool { return target == ErrLoad }

// TickKind classifies a failure raised while a tick was running.
type TickKind int

const (
	// TickTrap is a guest fault: bad memory access, division by zero, explicit trap.
	TickTrap TickKind = iota
	// TickExhausted means the guest ran out of fuel before presenting.
	TickExhausted
	// TickMisuse is a broken runtime contract (bad handshake, second Startup).
	TickMisuse
	// TickExited means the entry function returned or the guest halted.
	TickExited
)

func (k TickKind) String() string {
	switch k {
	case TickTrap:
		return "trap"
	case TickExhausted:
		return "exhausted"
	case TickMisuse:
		return "misuse"
	case TickExited:
		return "exited"
	default:
		return fmt.Sprintf("TickKind(%d)", int(k))
	}
}

// TickError is a fault surfaced from RunTick. The runtime that produced it
// must not be ticked again; restore from a snapshot instead.
type TickError struct {
	Kind   TickKind
	Tick   uint64
	PC     int
	Reason string
	Err    error
}

func (e *TickError) Error() string {
	msg := fmt.Sprintf("tick %d: %s at pc=%d: %s", e.Tick, e.Kind, e.PC, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TickError) Unwrap() error        { return e.Err }
func (e *TickError) Is(target error) bool { return target == ErrTick }

// NewTickError is a convenience for callers that do not know the tick or pc yet.
func NewTickError(kind TickKind, format string, args ...any) *TickError {
	return &TickError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// ProtocolError reports bytes on the dispatch channel that could not be decoded.
// There is no renegotiation; the side that sees it treats it as fatal.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Err)
	}
	return "protocol: " + e.Reason
}

func (e *ProtocolError) Unwrap() error        { return e.Err }
func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// PreconditionError is a caller contract violation, such as asking an event
// history for events it has already discarded.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: precondition violated: %s", e.Op, e.Reason)
}

func (e *PreconditionError) Is(target error) bool { return target == ErrPrecondition }
