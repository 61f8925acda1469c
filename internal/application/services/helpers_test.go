package services_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/doctorq/backend/internal/adapters/memory"
	"github.com/doctorq/backend/internal/application/services"
	"github.com/doctorq/backend/internal/domain/entities"
	"github.com/doctorq/backend/internal/domain/repositories"
)

type notifyCall struct {
	clinicID string
	departed []string
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (n *recordingNotifier) NotifyClinic(ctx context.Context, clinicID string, departed ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{clinicID: clinicID, departed: append([]string(nil), departed...)})
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func (n *recordingNotifier) last() notifyCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[len(n.calls)-1]
}

type recordingInvalidator struct {
	mu      sync.Mutex
	queues  []string
	clinics []string
}

func (r *recordingInvalidator) InvalidateQueue(ctx context.Context, clinicID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues = append(r.queues, clinicID)
	return nil
}

func (r *recordingInvalidator) InvalidateClinic(ctx context.Context, clinicID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clinics = append(r.clinics, clinicID)
	return nil
}

type recordingAlerter struct {
	mu      sync.Mutex
	alerted []string
}

func (a *recordingAlerter) AlertTurn(ctx context.Context, clinic *entities.Clinic, entries []*entities.QueueEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range entries {
		a.alerted = append(a.alerted, e.ID)
	}
}

// stallingQueueRepo blocks transactions until the context gives up
type stallingQueueRepo struct {
	repositories.QueueRepository
}

func (r stallingQueueRepo) WithinClinic(ctx context.Context, clinicID string, fn func(ctx context.Context, tx repositories.QueueTx) error) error {
	<-ctx.Done()
	return ctx.Err()
}

type clinicOption func(*entities.Clinic)

func withNotifyAt(n int) clinicOption {
	return func(c *entities.Clinic) { c.NotifyAtPosition = n }
}

func withDoctorPresent(present bool) clinicOption {
	return func(c *entities.Clinic) { c.IsDoctorPresent = present }
}

func inactive() clinicOption {
	return func(c *entities.Clinic) { c.IsActive = false }
}

func newClinic(id string, opts ...clinicOption) *entities.Clinic {
	now := time.Now().UTC()
	c := &entities.Clinic{
		ID:                     id,
		Name:                   "Clinic " + id,
		DoctorName:             "Dr. Rao",
		AvgConsultationMinutes: 10,
		IsDoctorPresent:        true,
		IsActive:               true,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type queueFixture struct {
	queue       *memory.QueueStore
	clinics     *memory.ClinicStore
	notifier    *recordingNotifier
	invalidator *recordingInvalidator
	alerter     *recordingAlerter
	service     *services.QueueService
}

func newQueueFixture(t *testing.T, autoNotify bool, clinics ...*entities.Clinic) *queueFixture {
	t.Helper()
	if len(clinics) == 0 {
		clinics = []*entities.Clinic{newClinic("c1")}
	}
	f := &queueFixture{
		queue:       memory.NewQueueStore(),
		clinics:     memory.NewClinicStore(clinics...),
		notifier:    &recordingNotifier{},
		invalidator: &recordingInvalidator{},
		alerter:     &recordingAlerter{},
	}
	f.service = services.NewQueueService(
		f.queue, f.clinics, services.NewPositionService(), f.invalidator, f.notifier,
		services.QueueServiceConfig{StoreTimeout: time.Second, AutoNotify: autoNotify, PhoneRegion: "IN"},
	).WithTurnAlerter(f.alerter)
	return f
}

func phone(i int) string {
	return fmt.Sprintf("98765432%02d", i)
}

func (f *queueFixture) add(t *testing.T, clinicID string, i int) *entities.QueueEntry {
	t.Helper()
	entry, err := f.service.AddPatient(context.Background(), services.AddPatientRequest{
		ClinicID: clinicID,
		Phone:    phone(i),
		Name:     fmt.Sprintf("Patient %d", i),
	})
	require.NoError(t, err)
	return entry
}

func (f *queueFixture) active(t *testing.T, clinicID string) []*entities.QueueEntry {
	t.Helper()
	entries, err := f.queue.ListActive(context.Background(), clinicID)
	require.NoError(t, err)
	return entries
}

func ids(entries []*entities.QueueEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func positions(entries []*entities.QueueEntry) []int {
	out := make([]int, len(entries))
	for i, e := range entries {
		out[i] = e.Position
	}
	return out
}
