// Package rollback builds rewindable simulations on top of sandbox runtimes:
// numbered save slots, and a timeline that re-simulates ticks when late
// inputs arrive.
package rollback

import (
	"fmt"

	"github.com/aretw0/tickvm/pkg/domain"
	"github.com/aretw0/tickvm/pkg/ids"
	"github.com/aretw0/tickvm/pkg/sandbox"
)

// SaveID names a save slot. Ids of dropped slots are reused.
type SaveID uint32

// SaveState wraps a live runtime with any number of saved copies of it.
// It is not safe for concurrent use.
type SaveState struct {
	live  *sandbox.Runtime
	slots ids.Source[SaveID]
	saves map[SaveID]*sandbox.Runtime
}

// NewSaveState takes ownership of rt.
func NewSaveState(rt *sandbox.Runtime) *SaveState {
	return &SaveState{live: rt, saves: make(map[SaveID]*sandbox.Runtime)}
}

// Runtime is the live runtime. It changes identity on Restore.
func (s *SaveState) Runtime() *sandbox.Runtime { return s.live }

// Save copies the live runtime into a new slot.
func (s *SaveState) Save() (SaveID, error) {
	dup, err := s.live.Duplicate()
	if err != nil {
		return 0, fmt.Errorf("save: %w", err)
	}
	id, err := s.slots.TryAlloc()
	if err != nil {
		return 0, fmt.Errorf("save: %w", err)
	}
	s.saves[id] = dup
	return id, nil
}

// Restore replaces the live runtime with a copy of slot id. The slot stays
// valid and can be restored again.
func (s *SaveState) Restore(id SaveID) error {
	saved, ok := s.saves[id]
	if !ok {
		return fmt.Errorf("restore %d: %w", id, domain.ErrUnknownSave)
	}
	dup, err := saved.Duplicate()
	if err != nil {
		return fmt.Errorf("restore %d: %w", id, err)
	}
	s.live = dup
	return nil
}

// Drop frees slot id.
func (s *SaveState) Drop(id SaveID) error {
	if _, ok := s.saves[id]; !ok {
		return fmt.Errorf("drop %d: %w", id, domain.ErrUnknownSave)
	}
	delete(s.saves, id)
	s.slots.Free(id)
	return nil
}

// MemorySize is the guest memory held by slot id.
func (s *SaveState) MemorySize(id SaveID) (int, error) {
	saved, ok := s.saves[id]
	if !ok {
		return 0, fmt.Errorf("memory size %d: %w", id, domain.ErrUnknownSave)
	}
	return saved.MemorySize(), nil
}

// TotalMemory is the guest memory held by the live runtime and every slot.
func (s *SaveState) TotalMemory() int {
	total := s.live.MemorySize()
	for _, saved := range s.saves {
		total += saved.MemorySize()
	}
	return total
}

// Len is the number of occupied slots.
func (s *SaveState) Len() int { return len(s.saves) }
