package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/doctorq/backend/internal/domain/entities"
	"github.com/doctorq/backend/internal/domain/repositories"
	"github.com/doctorq/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/doctorq/backend/pkg/errors"
	"github.com/doctorq/backend/pkg/retry"
)

const queueEntriesTable = "queue_entries"

var queueEntryColumns = []interface{}{
	"id", "clinic_id", "patient_name", "patient_phone", "position", "status",
	"check_in_method", "priority", "arrived_at", "notified_at", "called_at",
	"completed_at", "updated_at",
}

// Postgres SQLSTATE codes
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqUniqueViolation      = "23505"
)

var dialect = goqu.Dialect("postgres")

// QueueAdapter implements the QueueRepository interface on PostgreSQL.
// Clinic transactions take a transaction-scoped advisory lock keyed by the
// clinic ID, so writers on different API instances serialize per clinic.
type QueueAdapter struct {
	client *postgres.Client
}

var _ repositories.QueueRepository = (*QueueAdapter)(nil)

// NewQueueAdapter creates a new queue adapter
func NewQueueAdapter(client *postgres.Client) *QueueAdapter {
	return &QueueAdapter{
		client: client,
	}
}

// WithinClinic runs fn in a transaction holding the clinic's advisory lock.
// A serialization failure or deadlock re-runs the whole transaction once.
func (a *QueueAdapter) WithinClinic(ctx context.Context, clinicID string, fn func(ctx context.Context, tx repositories.QueueTx) error) error {
	return retry.DoWithLog(ctx, retry.OnceOnConflict(isConflict), "queue transaction",
		func() error {
			return a.runTx(ctx, clinicID, fn)
		},
		func(attempt int, err error, nextDelay time.Duration) {
			log.Warn().Err(err).Str("clinic_id", clinicID).Int("attempt", attempt).Msg("queue transaction conflicted, retrying")
		},
	)
}

func (a *QueueAdapter) runTx(ctx context.Context, clinicID string, fn func(ctx context.Context, tx repositories.QueueTx) error) (err error) {
	sqlTx, err := a.client.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewStoreUnavailableError("failed to begin transaction", err)
	}
	defer func() {
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				log.Warn().Err(rbErr).Str("clinic_id", clinicID).Msg("failed to roll back queue transaction")
			}
		}
	}()

	if _, err = sqlTx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", clinicID); err != nil {
		return apperrors.NewStoreUnavailableError("failed to lock clinic queue", err)
	}

	if err = fn(ctx, &queueTx{tx: sqlTx, clinicID: clinicID}); err != nil {
		return err
	}

	if err = bumpVersion(ctx, sqlTx, clinicID); err != nil {
		return err
	}

	if err = sqlTx.Commit(); err != nil {
		return storeError("failed to commit queue transaction", err)
	}
	return nil
}

// GetByID retrieves an entry regardless of status
func (a *QueueAdapter) GetByID(ctx context.Context, id string) (*entities.QueueEntry, error) {
	return getEntry(ctx, a.client.DB(), goqu.Ex{"id": id}, id)
}

// ListActive returns the clinic's active entries ordered by position
func (a *QueueAdapter) ListActive(ctx context.Context, clinicID string) ([]*entities.QueueEntry, error) {
	return listActive(ctx, a.client.DB(), clinicID)
}

// ListActiveWithVersion reads the clinic's queue version and its active
// entries from one repeatable-read snapshot
func (a *QueueAdapter) ListActiveWithVersion(ctx context.Context, clinicID string) (_ []*entities.QueueEntry, _ uint64, err error) {
	sqlTx, err := a.client.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, 0, apperrors.NewStoreUnavailableError("failed to begin snapshot transaction", err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	query, args, err := dialect.From(clinicsTable).Prepared(true).
		Select("queue_version").
		Where(goqu.Ex{"id": clinicID}).
		ToSQL()
	if err != nil {
		return nil, 0, apperrors.NewInternalError("failed to build query", err)
	}
	var version int64
	err = sqlTx.GetContext(ctx, &version, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, apperrors.NewNotFoundError(fmt.Sprintf("clinic %s not found", clinicID))
	}
	if err != nil {
		return nil, 0, storeError("failed to read queue version", err)
	}

	active, err := listActive(ctx, sqlTx, clinicID)
	if err != nil {
		return nil, 0, err
	}
	if err = sqlTx.Commit(); err != nil {
		return nil, 0, storeError("failed to close snapshot transaction", err)
	}
	return active, uint64(version), nil
}

// ListCompletedBetween returns entries completed in [from, to) ordered by completion time
func (a *QueueAdapter) ListCompletedBetween(ctx context.Context, clinicID string, from, to time.Time) ([]*entities.QueueEntry, error) {
	query, args, err := dialect.From(queueEntriesTable).Prepared(true).
		Select(queueEntryColumns...).
		Where(
			goqu.Ex{"clinic_id": clinicID, "status": string(entities.EntryStatusCompleted)},
			goqu.C("completed_at").Gte(from),
			goqu.C("completed_at").Lt(to),
		).
		Order(goqu.C("completed_at").Asc()).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	var rows []*entities.QueueEntry
	if err := a.client.DB().SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, storeError("failed to list completed entries", err)
	}
	return rows, nil
}

type queueTx struct {
	tx       *sqlx.Tx
	clinicID string
}

func (t *queueTx) ListActive(ctx context.Context, clinicID string) ([]*entities.QueueEntry, error) {
	if clinicID != t.clinicID {
		return nil, apperrors.NewInternalError(fmt.Sprintf("transaction is scoped to clinic %s", t.clinicID), nil)
	}
	return listActive(ctx, t.tx, clinicID)
}

func (t *queueTx) GetByID(ctx context.Context, id string) (*entities.QueueEntry, error) {
	return getEntry(ctx, t.tx, goqu.Ex{"id": id, "clinic_id": t.clinicID}, id)
}

func (t *queueTx) Insert(ctx context.Context, entry *entities.QueueEntry) error {
	query, args, err := dialect.Insert(queueEntriesTable).Prepared(true).
		Rows(goqu.Record{
			"id":              entry.ID,
			"clinic_id":       entry.ClinicID,
			"patient_name":    entry.PatientName,
			"patient_phone":   entry.PatientPhone,
			"position":        entry.Position,
			"status":          string(entry.Status),
			"check_in_method": string(entry.CheckInMethod),
			"priority":        entry.Priority,
			"arrived_at":      entry.ArrivedAt,
			"notified_at":     nullTime(entry.NotifiedAt),
			"called_at":       nullTime(entry.CalledAt),
			"completed_at":    nullTime(entry.CompletedAt),
			"updated_at":      entry.UpdatedAt,
		}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return storeError("failed to insert queue entry", err)
	}
	return nil
}

func (t *queueTx) Update(ctx context.Context, entry *entities.QueueEntry) error {
	query, args, err := dialect.Update(queueEntriesTable).Prepared(true).
		Set(goqu.Record{
			"patient_name": entry.PatientName,
			"position":     entry.Position,
			"status":       string(entry.Status),
			"priority":     entry.Priority,
			"notified_at":  nullTime(entry.NotifiedAt),
			"called_at":    nullTime(entry.CalledAt),
			"completed_at": nullTime(entry.CompletedAt),
			"updated_at":   entry.UpdatedAt,
		}).
		Where(goqu.Ex{"id": entry.ID, "clinic_id": t.clinicID}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return storeError("failed to update queue entry", err)
	}
	return requireRow(result, fmt.Sprintf("queue entry %s not found", entry.ID))
}

// UpdatePositions parks the rows on negated positions first so a swap never
// trips the unique index on active positions
func (t *queueTx) UpdatePositions(ctx context.Context, entries []*entities.QueueEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}

	park, args, err := dialect.Update(queueEntriesTable).Prepared(true).
		Set(goqu.Record{"position": goqu.L("-1 - position")}).
		Where(goqu.Ex{"id": ids, "clinic_id": t.clinicID}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}
	result, err := t.tx.ExecContext(ctx, park, args...)
	if err != nil {
		return storeError("failed to park queue positions", err)
	}
	if n, err := result.RowsAffected(); err == nil && int(n) != len(entries) {
		return apperrors.NewNotFoundError("one or more queue entries not found")
	}

	for _, e := range entries {
		query, args, err := dialect.Update(queueEntriesTable).Prepared(true).
			Set(goqu.Record{"position": e.Position, "updated_at": e.UpdatedAt}).
			Where(goqu.Ex{"id": e.ID, "clinic_id": t.clinicID}).
			ToSQL()
		if err != nil {
			return apperrors.NewInternalError("failed to build update query", err)
		}
		if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
			return storeError("failed to update queue position", err)
		}
	}
	return nil
}

func (t *queueTx) BulkTransition(ctx context.Context, clinicID string, to entities.EntryStatus, at time.Time) (int, error) {
	if clinicID != t.clinicID {
		return 0, apperrors.NewInternalError(fmt.Sprintf("transaction is scoped to clinic %s", t.clinicID), nil)
	}
	record := goqu.Record{
		"status":     string(to),
		"position":   0,
		"updated_at": at,
	}
	if to == entities.EntryStatusCompleted {
		record["completed_at"] = at
	}

	query, args, err := dialect.Update(queueEntriesTable).Prepared(true).
		Set(record).
		Where(goqu.Ex{"clinic_id": clinicID, "status": activeStatusValues()}).
		ToSQL()
	if err != nil {
		return 0, apperrors.NewInternalError("failed to build update query", err)
	}

	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, storeError("failed to transition queue entries", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, storeError("failed to count transitioned entries", err)
	}
	return int(n), nil
}

// bumpVersion advances the clinic's queue version inside the clinic transaction
func bumpVersion(ctx context.Context, tx *sqlx.Tx, clinicID string) error {
	query, args, err := dialect.Update(clinicsTable).Prepared(true).
		Set(goqu.Record{"queue_version": goqu.L("queue_version + 1")}).
		Where(goqu.Ex{"id": clinicID}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return storeError("failed to bump queue version", err)
	}
	return nil
}

func listActive(ctx context.Context, q sqlx.QueryerContext, clinicID string) ([]*entities.QueueEntry, error) {
	query, args, err := dialect.From(queueEntriesTable).Prepared(true).
		Select(queueEntryColumns...).
		Where(goqu.Ex{"clinic_id": clinicID, "status": activeStatusValues()}).
		Order(goqu.C("position").Asc(), goqu.C("arrived_at").Asc()).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	var rows []*entities.QueueEntry
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, storeError("failed to list active entries", err)
	}
	return rows, nil
}

func getEntry(ctx context.Context, q sqlx.QueryerContext, where goqu.Ex, id string) (*entities.QueueEntry, error) {
	query, args, err := dialect.From(queueEntriesTable).Prepared(true).
		Select(queueEntryColumns...).
		Where(where).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	entry := &entities.QueueEntry{}
	err = sqlx.GetContext(ctx, q, entry, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("queue entry %s not found", id))
	}
	if err != nil {
		return nil, storeError("failed to get queue entry", err)
	}
	return entry, nil
}

func activeStatusValues() []string {
	out := make([]string, len(entities.ActiveStatuses))
	for i, s := range entities.ActiveStatuses {
		out[i] = string(s)
	}
	return out
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func requireRow(result sql.Result, notFound string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return storeError("failed to read affected rows", err)
	}
	if n == 0 {
		return apperrors.NewNotFoundError(notFound)
	}
	return nil
}

// isConflict reports a Postgres serialization failure or deadlock
func isConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pqSerializationFailure || pqErr.Code == pqDeadlockDetected
}

// storeError maps a driver error. The partial unique index on active phones
// surfaces as CONFLICT; everything else is STORE_UNAVAILABLE.
func storeError(message string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return apperrors.NewConflictError(fmt.Sprintf("%s: %s", message, pqErr.Message))
	}
	return apperrors.FromStore(message, err)
}
