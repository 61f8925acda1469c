package repositories

import (
	"context"
	"time"

	"github.com/doctorq/backend/internal/domain/entities"
)

// QueueRepository defines the interface for queue entry persistence
type QueueRepository interface {
	// WithinClinic runs fn with exclusive write access to one clinic's queue.
	// Writes made through tx are committed only when fn returns nil.
	WithinClinic(ctx context.Context, clinicID string, fn func(ctx context.Context, tx QueueTx) error) error

	// GetByID retrieves an entry regardless of status
	GetByID(ctx context.Context, id string) (*entities.QueueEntry, error)

	// ListActive returns the clinic's active entries ordered by position
	ListActive(ctx context.Context, clinicID string) ([]*entities.QueueEntry, error)

	// ListActiveWithVersion reads the active entries and the clinic's queue
	// version from one consistent view. The version grows by one with every
	// committed WithinClinic call and is shared by every process using the store.
	ListActiveWithVersion(ctx context.Context, clinicID string) ([]*entities.QueueEntry, uint64, error)

	// ListCompletedBetween returns entries completed in [from, to) ordered by completion time
	ListCompletedBetween(ctx context.Context, clinicID string, from, to time.Time) ([]*entities.QueueEntry, error)
}

// QueueTx is the write surface available inside a clinic transaction
type QueueTx interface {
	// ListActive returns the clinic's active entries ordered by position
	ListActive(ctx context.Context, clinicID string) ([]*entities.QueueEntry, error)

	// GetByID retrieves an entry of the locked clinic
	GetByID(ctx context.Context, id string) (*entities.QueueEntry, error)

	// Insert creates a new entry
	Insert(ctx context.Context, entry *entities.QueueEntry) error

	// Update persists status, timestamps and position of one entry
	Update(ctx context.Context, entry *entities.QueueEntry) error

	// UpdatePositions rewrites the positions of several active entries at once
	UpdatePositions(ctx context.Context, entries []*entities.QueueEntry) error

	// BulkTransition moves every active entry of the clinic to a terminal
	// status and returns how many were moved
	BulkTransition(ctx context.Context, clinicID string, to entities.EntryStatus, at time.Time) (int, error)
}
