package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/doctorq/backend/internal/application/services"
	"github.com/doctorq/backend/internal/domain/entities"
	"github.com/doctorq/backend/internal/domain/providers"
)

type mockMessenger struct {
	mock.Mock
	mu sync.Mutex
}

func (m *mockMessenger) SendTurnAlert(ctx context.Context, alert providers.TurnAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(ctx, alert)
	return args.Error(0)
}

func TestTurnAlertService_AlertTurn(t *testing.T) {
	messenger := &mockMessenger{}
	svc := services.NewTurnAlertService(messenger)
	clinic := newClinic("c1")

	messenger.On("SendTurnAlert", mock.Anything, providers.TurnAlert{
		Phone:       "+919876543201",
		PatientName: "Asha",
		ClinicName:  clinic.Name,
		Position:    2,
		PeopleAhead: 1,
	}).Return(nil).Once()

	svc.AlertTurn(context.Background(), clinic, []*entities.QueueEntry{{
		ID:           "e1",
		ClinicID:     "c1",
		PatientName:  "Asha",
		PatientPhone: "+919876543201",
		Position:     2,
		Status:       entities.EntryStatusNotified,
	}})
	svc.Wait()

	messenger.AssertExpectations(t)
}

func TestTurnAlertService_BreakerOpensAfterFailures(t *testing.T) {
	ctx := context.Background()
	messenger := &mockMessenger{}
	svc := services.NewTurnAlertService(messenger)

	messenger.On("SendTurnAlert", mock.Anything, mock.Anything).Return(errors.New("provider down")).Times(5)

	for i := 0; i < 5; i++ {
		require.Error(t, svc.Send(ctx, providers.TurnAlert{Phone: phone(i)}))
	}
	assert.Equal(t, gobreaker.StateOpen, svc.State())

	err := svc.Send(ctx, providers.TurnAlert{Phone: phone(9)})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	messenger.AssertNumberOfCalls(t, "SendTurnAlert", 5)
}
