package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aretw0/tickvm/pkg/ports"
	"github.com/aretw0/tickvm/pkg/sandbox"
)

// SessionReport is what session inspect prints.
type SessionReport struct {
	ID            string `json:"id"`
	Format        string `json:"format"`
	Version       int    `json:"version"`
	Tick          uint64 `json:"tick"`
	MemoryBytes   int    `json:"memory_bytes"`
	SnapshotBytes int    `json:"snapshot_bytes"`
	// Elapsed is the simulated time if every tick had lasted TickRate.
	Elapsed string `json:"elapsed,omitempty"`
}

// ListSessions writes the stored session ids, one per line.
func ListSessions(ctx context.Context, store ports.SnapshotStore, w io.Writer) error {
	ids, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	if len(ids) == 0 {
		fmt.Fprintln(w, "No sessions found.")
		return nil
	}
	fmt.Fprintln(w, "Sessions:")
	for _, id := range ids {
		fmt.Fprintln(w, "- "+id)
	}
	return nil
}

// InspectSession reads the header of a stored snapshot.
func InspectSession(ctx context.Context, store ports.SnapshotStore, id string, tickRate time.Duration) (SessionReport, error) {
	snap, err := store.Load(ctx, id)
	if err != nil {
		return SessionReport{}, fmt.Errorf("loading session '%s': %w", id, err)
	}
	h, err := sandbox.ReadHeader(snap)
	if err != nil {
		return SessionReport{}, fmt.Errorf("session '%s': %w", id, err)
	}
	rep := SessionReport{
		ID:            id,
		Format:        h.Format,
		Version:       h.Version,
		Tick:          h.Tick,
		MemoryBytes:   h.MemoryBytes,
		SnapshotBytes: len(snap),
	}
	if tickRate > 0 {
		rep.Elapsed = (time.Duration(h.Tick) * tickRate).String()
	}
	return rep, nil
}

// JSON is the indented JSON form of the report.
func (r SessionReport) JSON() string {
	b, _ := json.MarshalIndent(r, "", "  ")
	return string(b)
}

// Markdown is the report as a markdown table, for glamour.
func (r SessionReport) Markdown() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Session `%s`\n\n", r.ID)
	sb.WriteString("| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&sb, "| Format | %s v%d |\n", r.Format, r.Version)
	fmt.Fprintf(&sb, "| Tick | %d |\n", r.Tick)
	if r.Elapsed != "" {
		fmt.Fprintf(&sb, "| Simulated time | %s |\n", r.Elapsed)
	}
	fmt.Fprintf(&sb, "| Guest memory | %d bytes |\n", r.MemoryBytes)
	fmt.Fprintf(&sb, "| Snapshot size | %d bytes |\n", r.SnapshotBytes)
	return sb.String()
}

// RemoveSessions deletes every id, reporting each result. It keeps going
// after a failure and reports whether all removals succeeded.
func RemoveSessions(ctx context.Context, store ports.SnapshotStore, ids []string, w io.Writer) bool {
	ok := true
	for _, id := range ids {
		if err := store.Delete(ctx, id); err != nil {
			fmt.Fprintf(w, "Error removing '%s': %v\n", id, err)
			ok = false
			continue
		}
		fmt.Fprintf(w, "Removed session '%s'\n", id)
	}
	return ok
}
