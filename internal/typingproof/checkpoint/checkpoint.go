// Package checkpoint implements CheckpointManager: periodic (eventIndex,
// hash) anchors along the chain that make sampled verification possible.
package checkpoint

import (
	"fmt"
	"sort"

	"typingproof/internal/typingproof/event"
)

// Interval is the design constant N from spec.md §3: a checkpoint is due
// every N committed events.
const Interval = 50

// Checkpoint is a (eventIndex, hash) anchor. Invariant: for every held
// checkpoint, events[EventIndex].Hash == Hash.
type Checkpoint struct {
	EventIndex int    `json:"eventIndex"`
	Hash       string `json:"hash"`
}

// Manager owns an ascending, tie-free list of checkpoints for one session.
type Manager struct {
	checkpoints []Checkpoint
}

// NewManager returns an empty checkpoint manager.
func NewManager() *Manager {
	return &Manager{}
}

// ShouldCreateCheckpoint reports whether the event at eventIndex falls on
// the checkpoint grid: (eventIndex+1) mod Interval == 0.
func ShouldCreateCheckpoint(eventIndex int) bool {
	return (eventIndex+1)%Interval == 0
}

// CreateCheckpoint records (eventIndex, events[eventIndex].Hash). It is
// idempotent at the same index: calling it twice for the same eventIndex
// with the same hash is a no-op, and calling it with a different hash for
// an already-recorded index is rejected as an invariant violation.
func (m *Manager) CreateCheckpoint(eventIndex int, events []*event.Event) error {
	if eventIndex < 0 || eventIndex >= len(events) {
		return fmt.Errorf("checkpoint: event index %d out of range (have %d events)", eventIndex, len(events))
	}
	hash := events[eventIndex].Hash

	for _, cp := range m.checkpoints {
		if cp.EventIndex == eventIndex {
			if cp.Hash != hash {
				return fmt.Errorf("checkpoint: index %d already checkpointed with a different hash", eventIndex)
			}
			return nil
		}
	}

	m.checkpoints = append(m.checkpoints, Checkpoint{EventIndex: eventIndex, Hash: hash})
	sort.Slice(m.checkpoints, func(i, j int) bool {
		return m.checkpoints[i].EventIndex < m.checkpoints[j].EventIndex
	})
	return nil
}

// CleanupForExport removes any checkpoint not on the canonical Interval
// grid, except one guarding the final event, and ensures the final event
// has a checkpoint, creating it if absent.
func (m *Manager) CleanupForExport(events []*event.Event) error {
	if len(events) == 0 {
		m.checkpoints = nil
		return nil
	}
	finalIndex := len(events) - 1

	kept := m.checkpoints[:0:0]
	for _, cp := range m.checkpoints {
		if ShouldCreateCheckpoint(cp.EventIndex) || cp.EventIndex == finalIndex {
			kept = append(kept, cp)
		}
	}
	m.checkpoints = kept

	for _, cp := range m.checkpoints {
		if cp.EventIndex == finalIndex {
			return nil
		}
	}
	return m.CreateCheckpoint(finalIndex, events)
}

// GetLastCheckpoint returns the highest-indexed checkpoint, if any.
func (m *Manager) GetLastCheckpoint() (Checkpoint, bool) {
	if len(m.checkpoints) == 0 {
		return Checkpoint{}, false
	}
	return m.checkpoints[len(m.checkpoints)-1], true
}

// List returns the checkpoints in ascending eventIndex order. The returned
// slice is a copy; callers MUST NOT mutate the manager's internal state
// through it.
func (m *Manager) List() []Checkpoint {
	out := make([]Checkpoint, len(m.checkpoints))
	copy(out, m.checkpoints)
	return out
}

// SetCheckpoints replaces the held checkpoints wholesale, e.g. when
// restoring serialized session state. The input is sorted and validated
// for duplicate event indices.
func (m *Manager) SetCheckpoints(checkpoints []Checkpoint) error {
	cp := make([]Checkpoint, len(checkpoints))
	copy(cp, checkpoints)
	sort.Slice(cp, func(i, j int) bool { return cp[i].EventIndex < cp[j].EventIndex })
	for i := 1; i < len(cp); i++ {
		if cp[i].EventIndex == cp[i-1].EventIndex {
			return fmt.Errorf("checkpoint: duplicate event index %d", cp[i].EventIndex)
		}
	}
	m.checkpoints = cp
	return nil
}

// ClearCheckpoints drops all held checkpoints, e.g. on reset.
func (m *Manager) ClearCheckpoints() {
	m.checkpoints = nil
}
