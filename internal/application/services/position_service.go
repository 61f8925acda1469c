package services

import (
	"github.com/doctorq/backend/internal/domain/entities"
)

// Direction is the reorder direction for an active entry
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Valid reports whether d is a known direction
func (d Direction) Valid() bool {
	return d == DirectionUp || d == DirectionDown
}

// PositionService holds the pure ordering rules for a clinic's active entries.
// None of its methods perform I/O or mutate their input.
type PositionService struct{}

// NewPositionService creates a new position service
func NewPositionService() *PositionService {
	return &PositionService{}
}

// Recompute returns copies of entries with positions rewritten to 1..N in input order.
// Recompute(Recompute(xs)) equals Recompute(xs).
func (s *PositionService) Recompute(entries []*entities.QueueEntry) []*entities.QueueEntry {
	out := make([]*entities.QueueEntry, len(entries))
	for i, e := range entries {
		c := e.Clone()
		c.Position = i + 1
		out[i] = c
	}
	return out
}

// Changed returns the entries of after whose position differs from before, matched by ID
func (s *PositionService) Changed(before, after []*entities.QueueEntry) []*entities.QueueEntry {
	prev := make(map[string]int, len(before))
	for _, e := range before {
		prev[e.ID] = e.Position
	}
	var changed []*entities.QueueEntry
	for _, e := range after {
		if pos, ok := prev[e.ID]; !ok || pos != e.Position {
			changed = append(changed, e)
		}
	}
	return changed
}

// Remove returns entries without the entry identified by id
func (s *PositionService) Remove(entries []*entities.QueueEntry, id string) []*entities.QueueEntry {
	out := make([]*entities.QueueEntry, 0, len(entries))
	for _, e := range entries {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return out
}

// Append returns entries with entry added at the tail
func (s *PositionService) Append(entries []*entities.QueueEntry, entry *entities.QueueEntry) []*entities.QueueEntry {
	out := make([]*entities.QueueEntry, 0, len(entries)+1)
	out = append(out, entries...)
	return append(out, entry)
}

// InsertPriority returns entries with entry placed at the front of the waiting
// line: behind the patient in consultation and behind earlier priority arrivals.
func (s *PositionService) InsertPriority(entries []*entities.QueueEntry, entry *entities.QueueEntry) []*entities.QueueEntry {
	idx := 0
	for idx < len(entries) {
		e := entries[idx]
		if e.Status == entities.EntryStatusInConsultation || e.Priority {
			idx++
			continue
		}
		break
	}
	out := make([]*entities.QueueEntry, 0, len(entries)+1)
	out = append(out, entries[:idx]...)
	out = append(out, entry)
	return append(out, entries[idx:]...)
}

// Move swaps the entry identified by id with its neighbour in direction d.
// It reports false, leaving the order untouched, at either boundary or when
// the neighbour is the patient in consultation, who stays pinned at the front.
func (s *PositionService) Move(entries []*entities.QueueEntry, id string, d Direction) ([]*entities.QueueEntry, bool) {
	idx := indexOf(entries, id)
	if idx < 0 {
		return entries, false
	}

	target := idx - 1
	if d == DirectionDown {
		target = idx + 1
	}
	if target < 0 || target >= len(entries) {
		return entries, false
	}
	if entries[target].Status == entities.EntryStatusInConsultation {
		return entries, false
	}

	out := make([]*entities.QueueEntry, len(entries))
	copy(out, entries)
	out[idx], out[target] = out[target], out[idx]
	return out, true
}

// NextToCall returns the waiting or notified entry with the lowest position
func (s *PositionService) NextToCall(entries []*entities.QueueEntry) *entities.QueueEntry {
	var next *entities.QueueEntry
	for _, e := range entries {
		if !e.Status.IsWaiting() {
			continue
		}
		if next == nil || e.Position < next.Position {
			next = e
		}
	}
	return next
}

// InConsultation returns the entry currently with the doctor, if any
func (s *PositionService) InConsultation(entries []*entities.QueueEntry) *entities.QueueEntry {
	for _, e := range entries {
		if e.Status == entities.EntryStatusInConsultation {
			return e
		}
	}
	return nil
}

func indexOf(entries []*entities.QueueEntry, id string) int {
	for i, e := range entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}
