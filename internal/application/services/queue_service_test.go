package services_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doctorq/backend/internal/adapters/memory"
	"github.com/doctorq/backend/internal/application/services"
	"github.com/doctorq/backend/internal/domain/entities"
	apperrors "github.com/doctorq/backend/pkg/errors"
)

func TestQueueService_AddPatient(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t, false)

	first, err := f.service.AddPatient(ctx, services.AddPatientRequest{
		ClinicID:      "c1",
		Phone:         "98765 43210",
		Name:          "  Ravi Kumar ",
		CheckInMethod: entities.CheckInMethodQRCode,
	})
	require.NoError(t, err)
	assert.Equal(t, "+919876543210", first.PatientPhone)
	assert.Equal(t, "Ravi Kumar", first.PatientName)
	assert.Equal(t, 1, first.Position)
	assert.Equal(t, entities.EntryStatusWaiting, first.Status)
	assert.Equal(t, entities.CheckInMethodQRCode, first.CheckInMethod)
	assert.NotEmpty(t, first.ID)

	second := f.add(t, "c1", 11)
	assert.Equal(t, 2, second.Position)
	assert.Equal(t, entities.CheckInMethodManual, second.CheckInMethod)

	assert.Equal(t, []int{1, 2}, positions(f.active(t, "c1")))
	assert.Equal(t, 2, f.notifier.count())
	assert.Equal(t, []string{"c1", "c1"}, f.invalidator.queues)
}

func TestQueueService_AddPatientValidation(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t, false)

	tests := []struct {
		name string
		req  services.AddPatientRequest
	}{
		{"missing clinic", services.AddPatientRequest{Phone: phone(1)}},
		{"invalid phone", services.AddPatientRequest{ClinicID: "c1", Phone: "12345"}},
		{"empty phone", services.AddPatientRequest{ClinicID: "c1"}},
		{"name too long", services.AddPatientRequest{ClinicID: "c1", Phone: phone(1), Name: strings.Repeat("a", 101)}},
		{"unknown check-in method", services.AddPatientRequest{ClinicID: "c1", Phone: phone(1), CheckInMethod: "CARRIER_PIGEON"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.AddPatient(ctx, tt.req)
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation), "got %v", err)
		})
	}
	assert.Empty(t, f.active(t, "c1"))
	assert.Equal(t, 0, f.notifier.count())
}

func TestQueueService_AddPatientNameLengthCountsCharacters(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t, false)

	// 61 Arabic letters take 122 bytes
	arabic := strings.Repeat("ع", 61)
	entry, err := f.service.AddPatient(ctx, services.AddPatientRequest{ClinicID: "c1", Phone: phone(1), Name: arabic})
	require.NoError(t, err)
	assert.Equal(t, arabic, entry.PatientName)

	exact := strings.Repeat("é", 100)
	_, err = f.service.AddPatient(ctx, services.AddPatientRequest{ClinicID: "c1", Phone: phone(2), Name: exact})
	require.NoError(t, err)

	_, err = f.service.AddPatient(ctx, services.AddPatientRequest{ClinicID: "c1", Phone: phone(3), Name: strings.Repeat("é", 101)})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation), "got %v", err)
	assert.Len(t, f.active(t, "c1"), 2)
}

func TestQueueService_AddPatientClinicChecks(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t, false, newClinic("c1"), newClinic("closed", inactive()))

	_, err := f.service.AddPatient(ctx, services.AddPatientRequest{ClinicID: "nope", Phone: phone(1)})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))

	_, err = f.service.AddPatient(ctx, services.AddPatientRequest{ClinicID: "closed", Phone: phone(1)})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
}

func TestQueueService_ReleasesClinicLocks(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t, false)
	f.add(t, "c1", 1)

	for i := 0; i < 50; i++ {
		_, err := f.service.CallNext(ctx, fmt.Sprintf("missing-%d", i))
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
	}
	_, err := f.service.CallNext(ctx, "c1")
	require.NoError(t, err)

	assert.Equal(t, 0, services.HeldClinicLocks(f.service))
}

func TestQueueService_AddPatientDuplicatePhone(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t, false, newClinic("c1"), newClinic("c2"))

	entry := f.add(t, "c1", 1)

	_, err := f.service.AddPatient(ctx, services.AddPatientRequest{ClinicID: "c1", Phone: "+91 98765 43201"})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))

	// the same patient may queue at another clinic
	f.add(t, "c2", 1)

	_, err = f.service.Cancel(ctx, "c1", entry.ID)
	require.NoError(t, err)
	again := f.add(t, "c1", 1)
	assert.Equal(t, 1, again.Position)
}

func TestQueueService_AddPriorityPatient(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t, false)

	p1 := f.add(t, "c1", 1)
	p2 := f.add(t, "c1", 2)
	p3 := f.add(t, "c1", 3)
	_, err := f.service.CallNext(ctx, "c1")
	require.NoError(t, err)

	p4, err := f.service.AddPatient(ctx, services.AddPatientRequest{ClinicID: "c1", Phone: phone(4), Priority: true})
	require.NoError(t, err)
	assert.Equal(t, 2, p4.Position)

	p5, err := f.service.AddPatient(ctx, services.AddPatientRequest{ClinicID: "c1", Phone: phone(5), Priority: true})
	require.NoError(t, err)
	assert.Equal(t, 3, p5.Position)

	active := f.active(t, "c1")
	assert.Equal(t, []string{p1.ID, p4.ID, p5.ID, p2.ID, p3.ID}, ids(active))
	assert.Equal(t, []int{1, 2, 3, 4, 5}, positions(active))
}

func TestQueueService_CallNextAndComplete(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t, false)

	_, err := f.service.CallNext(ctx, "c1")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeEmptyQueue))

	p1 := f.add(t, "c1", 1)
	p2 := f.add(t, "c1", 2)
	p3 := f.add(t, "c1", 3)

	called, err := f.service.CallNext(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, p1.ID, called.ID)
	assert.Equal(t, entities.EntryStatusInConsultation, called.Status)
	assert.NotNil(t, called.CalledAt)

	_, err = f.service.CallNext(ctx, "c1")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))

	_, err = f.service.CompleteCurrent(ctx, "c1", p2.ID)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidState))

	done, err := f.service.CompleteCurrent(ctx, "c1", p1.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.EntryStatusCompleted, done.Status)
	assert.Equal(t, 0, done.Position)
	assert.NotNil(t, done.CompletedAt)
	assert.Equal(t, []string{p1.ID}, f.notifier.last().departed)

	active := f.active(t, "c1")
	assert.Equal(t, []string{p2.ID, p3.ID}, ids(active))
	assert.Equal(t, []int{1, 2}, positions(active))

	_, err = f.service.CompleteCurrent(ctx, "c1", p1.ID)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidState))

	next, err := f.service.CallNext(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, p2.ID, next.ID)
}

func TestQueueService_CallNextOnlyInConsultationLeft(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t, false)

	f.add(t, "c1", 1)
	_, err := f.service.CallNext(ctx, "c1")
	require.NoError(t, err)

	_, err = f.service.CallNext(ctx, "c1")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConflict))
}

func TestQueueService_RemoveEntries(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		remove func(s *services.QueueService, ctx context.Context, clinicID, entryID string) (*entities.QueueEntry, error)
		status entities.EntryStatus
	}{
		{"no-show", (*services.QueueService).MarkNoShow, entities.EntryStatusNoShow},
		{"cancel", (*services.QueueService).Cancel, entities.EntryStatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newQueueFixture(t, false, newClinic("c1"), newClinic("c2"))
			p1 := f.add(t, "c1", 1)
			p2 := f.add(t, "c1", 2)
			p3 := f.add(t, "c1", 3)
			other := f.add(t, "c2", 4)

			removed, err := tt.remove(f.service, ctx, "c1", p2.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.status, removed.Status)
			assert.Equal(t, 0, removed.Position)
			assert.Nil(t, removed.CompletedAt)

			active := f.active(t, "c1")
			assert.Equal(t, []string{p1.ID, p3.ID}, ids(active))
			assert.Equal(t, []int{1, 2}, positions(active))

			_, err = tt.remove(f.service, ctx, "c1", p2.ID)
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidState))

			_, err = tt.remove(f.service, ctx, "c1", "missing")
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))

			_, err = tt.remove(f.service, ctx, "c1", other.ID)
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))

			_, err = tt.remove(f.service, ctx, "c1", "")
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
		})
	}
}

func TestQueueService_CancelInConsultation(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t, false)
	p1 := f.add(t, "c1", 1)
	p2 := f.add(t, "c1", 2)

	_, err := f.service.CallNext(ctx, "c1")
	require.NoError(t, err)
	_, err = f.service.Cancel(ctx, "c1", p1.ID)
	require.NoError(t, err)

	active := f.active(t, "c1")
	assert.Equal(t, []string{p2.ID}, ids(active))
	assert.Equal(t, 1, active[0].Position)

	called, err := f.service.CallNext(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, p2.ID, called.ID)
}

func TestQueueService_Reorder(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t, false)
	p1 := f.add(t, "c1", 1)
	p2 := f.add(t, "c1", 2)
	p3 := f.add(t, "c1", 3)

	moved, err := f.service.Reorder(ctx, "c1", p3.ID, services.DirectionUp)
	require.NoError(t, err)
	assert.Equal(t, 2, moved.Position)
	assert.Equal(t, []string{p1.ID, p3.ID, p2.ID}, ids(f.active(t, "c1")))

	moved, err = f.service.Reorder(ctx, "c1", p1.ID, services.DirectionDown)
	require.NoError(t, err)
	assert.Equal(t, 2, moved.Position)
	assert.Equal(t, []string{p3.ID, p1.ID, p2.ID}, ids(f.active(t, "c1")))
	assert.Equal(t, []int{1, 2, 3}, positions(f.active(t, "c1")))

	_, err = f.service.Reorder(ctx, "c1", p1.ID, "sideways")
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	_, err = f.service.Reorder(ctx, "c1", "missing", services.DirectionUp)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestQueueService_ReorderBoundariesAreNoOps(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t, false)
	p1 := f.add(t, "c1", 1)
	p2 := f.add(t, "c1", 2)
	notified := f.notifier.count()

	top, err := f.service.Reorder(ctx, "c1", p1.ID, services.DirectionUp)
	require.NoError(t, err)
	assert.Equal(t, 1, top.Position)

	bottom, err := f.service.Reorder(ctx, "c1", p2.ID, services.DirectionDown)
	require.NoError(t, err)
	assert.Equal(t, 2, bottom.Position)

	assert.Equal(t, notified, f.notifier.count())
	assert.Equal(t, []string{p1.ID, p2.ID}, ids(f.active(t, "c1")))
}

func TestQueueService_ReorderAroundConsultation(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t, false)
	p1 := f.add(t, "c1", 1)
	p2 := f.add(t, "c1", 2)
	_, err := f.service.CallNext(ctx, "c1")
	require.NoError(t, err)

	_, err = f.service.Reorder(ctx, "c1", p1.ID, services.DirectionDown)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidState))

	stay, err := f.service.Reorder(ctx, "c1", p2.ID, services.DirectionUp)
	require.NoError(t, err)
	assert.Equal(t, 2, stay.Position)
	assert.Equal(t, []string{p1.ID, p2.ID}, ids(f.active(t, "c1")))

	_, err = f.service.Cancel(ctx, "c1", p2.ID)
	require.NoError(t, err)
	_, err = f.service.Reorder(ctx, "c1", p2.ID, services.DirectionUp)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidState))
}

func TestQueueService_Notify(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t, false, newClinic("c1", withNotifyAt(1)))
	p1 := f.add(t, "c1", 1)
	f.add(t, "c1", 2)
	p3 := f.add(t, "c1", 3)

	notified, err := f.service.Notify(ctx, "c1", p1.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.EntryStatusNotified, notified.Status)
	assert.NotNil(t, notified.NotifiedAt)
	assert.Equal(t, []string{p1.ID}, f.alerter.alerted)

	count := f.notifier.count()
	again, err := f.service.Notify(ctx, "c1", p1.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.EntryStatusNotified, again.Status)
	assert.Equal(t, count, f.notifier.count())
	assert.Len(t, f.alerter.alerted, 1)

	_, err = f.service.Notify(ctx, "c1", p3.ID)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidState))

	_, err = f.service.CallNext(ctx, "c1")
	require.NoError(t, err)
	_, err = f.service.Notify(ctx, "c1", p1.ID)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInvalidState))
}

func TestQueueService_AutoNotify(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t, true, newClinic("c1", withNotifyAt(1)))

	p1 := f.add(t, "c1", 1)
	p2 := f.add(t, "c1", 2)
	p3 := f.add(t, "c1", 3)
	assert.Equal(t, entities.EntryStatusNotified, p1.Status)
	assert.Equal(t, entities.EntryStatusNotified, p2.Status)
	assert.Equal(t, entities.EntryStatusWaiting, p3.Status)
	assert.Equal(t, []string{p1.ID, p2.ID}, f.alerter.alerted)

	called, err := f.service.CallNext(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, p1.ID, called.ID)

	_, err = f.service.CompleteCurrent(ctx, "c1", p1.ID)
	require.NoError(t, err)

	stored, err := f.queue.GetByID(ctx, p3.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Position)
	assert.Equal(t, entities.EntryStatusNotified, stored.Status)
	assert.Equal(t, []string{p1.ID, p2.ID, p3.ID}, f.alerter.alerted)
}

func TestQueueService_ClearQueue(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t, false)

	cleared, err := f.service.ClearQueue(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 0, cleared)
	assert.Equal(t, 0, f.notifier.count())

	p1 := f.add(t, "c1", 1)
	p2 := f.add(t, "c1", 2)
	_, err = f.service.CallNext(ctx, "c1")
	require.NoError(t, err)

	cleared, err = f.service.ClearQueue(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, cleared)
	assert.Empty(t, f.active(t, "c1"))
	assert.ElementsMatch(t, []string{p1.ID, p2.ID}, f.notifier.last().departed)

	for _, id := range []string{p1.ID, p2.ID} {
		e, err := f.queue.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, entities.EntryStatusCancelled, e.Status)
		assert.Equal(t, 0, e.Position)
	}

	again := f.add(t, "c1", 1)
	assert.Equal(t, 1, again.Position)
}

func TestQueueService_ConcurrentAddsKeepPositionsDense(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t, false)

	const n = 40
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.service.AddPatient(ctx, services.AddPatientRequest{
				ClinicID: "c1",
				Phone:    phone(i),
				Priority: i%5 == 0,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	active := f.active(t, "c1")
	require.Len(t, active, n)
	for i, e := range active {
		assert.Equal(t, i+1, e.Position)
	}
}

func TestQueueService_ConcurrentMixedOperations(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t, true, newClinic("c1", withNotifyAt(2)))
	for i := 0; i < 10; i++ {
		f.add(t, "c1", i)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			_, _ = f.service.AddPatient(ctx, services.AddPatientRequest{ClinicID: "c1", Phone: phone(50 + i)})
		}(i)
		go func() {
			defer wg.Done()
			if current, err := f.service.CallNext(ctx, "c1"); err == nil {
				_, _ = f.service.CompleteCurrent(ctx, "c1", current.ID)
			}
		}()
		go func() {
			defer wg.Done()
			active, err := f.queue.ListActive(ctx, "c1")
			if err == nil && len(active) > 1 {
				_, _ = f.service.Reorder(ctx, "c1", active[len(active)-1].ID, services.DirectionUp)
			}
		}()
	}
	wg.Wait()

	active := f.active(t, "c1")
	inConsultation := 0
	for i, e := range active {
		assert.Equal(t, i+1, e.Position, "positions must stay dense")
		if e.Status == entities.EntryStatusInConsultation {
			inConsultation++
		}
	}
	assert.LessOrEqual(t, inConsultation, 1)
}

func TestQueueService_StoreTimeout(t *testing.T) {
	ctx := context.Background()
	clinics := memory.NewClinicStore(newClinic("c1"))
	notifier := &recordingNotifier{}
	svc := services.NewQueueService(
		stallingQueueRepo{memory.NewQueueStore()}, clinics, services.NewPositionService(), nil, notifier,
		services.QueueServiceConfig{StoreTimeout: 20 * time.Millisecond, PhoneRegion: "IN"},
	)

	start := time.Now()
	_, err := svc.AddPatient(ctx, services.AddPatientRequest{ClinicID: "c1", Phone: phone(1)})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeStoreUnavailable), "got %v", err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, notifier.count())
}

func TestQueueService_ClinicsAreIndependent(t *testing.T) {
	ctx := context.Background()
	f := newQueueFixture(t, false, newClinic("1"), newClinic("12"))

	for i := 0; i < 3; i++ {
		f.add(t, "1", i)
		f.add(t, "12", 10+i)
	}
	_, err := f.service.ClearQueue(ctx, "1")
	require.NoError(t, err)

	assert.Empty(t, f.active(t, "1"))
	assert.Equal(t, []int{1, 2, 3}, positions(f.active(t, "12")))
}

func Example_queueLifecycle() {
	ctx := context.Background()
	clinics := memory.NewClinicStore(newClinic("c1"))
	svc := services.NewQueueService(memory.NewQueueStore(), clinics, services.NewPositionService(), nil, nil,
		services.QueueServiceConfig{PhoneRegion: "IN"})

	a, _ := svc.AddPatient(ctx, services.AddPatientRequest{ClinicID: "c1", Phone: "9876543210"})
	b, _ := svc.AddPatient(ctx, services.AddPatientRequest{ClinicID: "c1", Phone: "9876543211"})
	_, _ = svc.CallNext(ctx, "c1")
	_, _ = svc.CompleteCurrent(ctx, "c1", a.ID)
	next, _ := svc.CallNext(ctx, "c1")

	fmt.Println(next.ID == b.ID, next.Position, next.Status)
	// Output: true 1 IN_CONSULTATION
}
