package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/doctorq/backend/internal/domain/entities"
	"github.com/doctorq/backend/internal/domain/repositories"
	apperrors "github.com/doctorq/backend/pkg/errors"
	"github.com/doctorq/backend/pkg/utils"
)

// QueueStore is an in-process QueueRepository for development and tests.
// Clinic transactions are serialized by a per-clinic mutex and staged until fn succeeds.
type QueueStore struct {
	mu       sync.RWMutex
	entries  map[string]*entities.QueueEntry
	versions map[string]uint64

	locks utils.KeyedMutex
}

// NewQueueStore creates an empty queue store
func NewQueueStore() *QueueStore {
	return &QueueStore{
		entries:  make(map[string]*entities.QueueEntry),
		versions: make(map[string]uint64),
	}
}

var _ repositories.QueueRepository = (*QueueStore)(nil)

// WithinClinic runs fn under the clinic's lock and commits staged writes on
// success. Every commit bumps the clinic's queue version.
func (s *QueueStore) WithinClinic(ctx context.Context, clinicID string, fn func(ctx context.Context, tx repositories.QueueTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := s.locks.Lock(clinicID)
	defer unlock()

	tx := &queueTx{store: s, clinicID: clinicID, staged: make(map[string]*entities.QueueEntry)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkPositions(tx.view()); err != nil {
		return err
	}

	s.mu.Lock()
	for id, e := range tx.staged {
		s.entries[id] = e
	}
	s.versions[clinicID]++
	s.mu.Unlock()
	return nil
}

// GetByID retrieves an entry regardless of status
func (s *QueueStore) GetByID(ctx context.Context, id string) (*entities.QueueEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("queue entry %s not found", id))
	}
	return e.Clone(), nil
}

// ListActive returns the clinic's active entries ordered by position
func (s *QueueStore) ListActive(ctx context.Context, clinicID string) ([]*entities.QueueEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeLocked(clinicID), nil
}

// ListActiveWithVersion returns the active entries together with the queue
// version they belong to
func (s *QueueStore) ListActiveWithVersion(ctx context.Context, clinicID string) ([]*entities.QueueEntry, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeLocked(clinicID), s.versions[clinicID], nil
}

func (s *QueueStore) activeLocked(clinicID string) []*entities.QueueEntry {
	var out []*entities.QueueEntry
	for _, e := range s.entries {
		if e.ClinicID == clinicID && e.Status.IsActive() {
			out = append(out, e.Clone())
		}
	}
	sortByPosition(out)
	return out
}

// ListCompletedBetween returns entries completed in [from, to) ordered by completion time
func (s *QueueStore) ListCompletedBetween(ctx context.Context, clinicID string, from, to time.Time) ([]*entities.QueueEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*entities.QueueEntry
	for _, e := range s.entries {
		if e.ClinicID != clinicID || e.Status != entities.EntryStatusCompleted || e.CompletedAt == nil {
			continue
		}
		if !e.CompletedAt.Before(from) && e.CompletedAt.Before(to) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.Before(*out[j].CompletedAt) })
	return out, nil
}

type queueTx struct {
	store    *QueueStore
	clinicID string
	staged   map[string]*entities.QueueEntry
}

// view merges committed entries of the clinic with staged writes
func (tx *queueTx) view() []*entities.QueueEntry {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	var out []*entities.QueueEntry
	for id, e := range tx.store.entries {
		if e.ClinicID != tx.clinicID {
			continue
		}
		if _, ok := tx.staged[id]; ok {
			continue
		}
		out = append(out, e)
	}
	for _, e := range tx.staged {
		out = append(out, e)
	}
	return out
}

func (tx *queueTx) lookup(id string) (*entities.QueueEntry, bool) {
	if e, ok := tx.staged[id]; ok {
		return e, true
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	e, ok := tx.store.entries[id]
	if !ok || e.ClinicID != tx.clinicID {
		return nil, false
	}
	return e, true
}

func (tx *queueTx) ListActive(ctx context.Context, clinicID string) ([]*entities.QueueEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if clinicID != tx.clinicID {
		return nil, fmt.Errorf("transaction is scoped to clinic %s", tx.clinicID)
	}
	var out []*entities.QueueEntry
	for _, e := range tx.view() {
		if e.Status.IsActive() {
			out = append(out, e.Clone())
		}
	}
	sortByPosition(out)
	return out, nil
}

func (tx *queueTx) GetByID(ctx context.Context, id string) (*entities.QueueEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := tx.lookup(id)
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("queue entry %s not found", id))
	}
	return e.Clone(), nil
}

func (tx *queueTx) Insert(ctx context.Context, entry *entities.QueueEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, exists := tx.lookup(entry.ID); exists {
		return fmt.Errorf("queue entry %s already exists", entry.ID)
	}
	tx.staged[entry.ID] = entry.Clone()
	return nil
}

func (tx *queueTx) Update(ctx context.Context, entry *entities.QueueEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := tx.lookup(entry.ID); !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("queue entry %s not found", entry.ID))
	}
	tx.staged[entry.ID] = entry.Clone()
	return nil
}

func (tx *queueTx) UpdatePositions(ctx context.Context, entries []*entities.QueueEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, e := range entries {
		current, ok := tx.lookup(e.ID)
		if !ok {
			return apperrors.NewNotFoundError(fmt.Sprintf("queue entry %s not found", e.ID))
		}
		c := current.Clone()
		c.Position = e.Position
		c.UpdatedAt = e.UpdatedAt
		tx.staged[e.ID] = c
	}
	return nil
}

func (tx *queueTx) BulkTransition(ctx context.Context, clinicID string, to entities.EntryStatus, at time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if clinicID != tx.clinicID {
		return 0, fmt.Errorf("transaction is scoped to clinic %s", tx.clinicID)
	}
	count := 0
	for _, e := range tx.view() {
		if !e.Status.IsActive() {
			continue
		}
		c := e.Clone()
		c.Status = to
		c.Position = 0
		c.UpdatedAt = at
		if to == entities.EntryStatusCompleted {
			ts := at
			c.CompletedAt = &ts
		}
		tx.staged[c.ID] = c
		count++
	}
	return count, nil
}

// checkPositions rejects duplicate active positions, like the unique index in Postgres
func checkPositions(entries []*entities.QueueEntry) error {
	seen := make(map[int]string)
	for _, e := range entries {
		if !e.Status.IsActive() {
			continue
		}
		if other, dup := seen[e.Position]; dup {
			return fmt.Errorf("duplicate active position %d for entries %s and %s", e.Position, other, e.ID)
		}
		seen[e.Position] = e.ID
	}
	return nil
}

func sortByPosition(entries []*entities.QueueEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Position != entries[j].Position {
			return entries[i].Position < entries[j].Position
		}
		return entries[i].ArrivedAt.Before(entries[j].ArrivedAt)
	})
}
