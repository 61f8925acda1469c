package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/doctorq/backend/internal/adapters/cache"
	"github.com/doctorq/backend/internal/adapters/events"
	"github.com/doctorq/backend/internal/adapters/memory"
	"github.com/doctorq/backend/internal/api/handlers"
	"github.com/doctorq/backend/internal/api/routes"
	"github.com/doctorq/backend/internal/application/services"
	"github.com/doctorq/backend/internal/domain/entities"
	queryservices "github.com/doctorq/backend/internal/query/services"
)

type testServer struct {
	handler http.Handler
	bus     *events.LocalEventBus
	sse     *handlers.SSEHandler
	queue   *services.QueueService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	queueStore := memory.NewQueueStore()
	clinicStore := memory.NewClinicStore(&entities.Clinic{
		ID:                     "c1",
		Name:                   "Sharma Clinic",
		DoctorName:             "Dr. Sharma",
		AvgConsultationMinutes: 10,
		IsDoctorPresent:        true,
		IsActive:               true,
	})
	memCache, err := cache.NewMemoryAdapter(100, time.Minute)
	require.NoError(t, err)

	bus := events.NewLocalEventBus()
	t.Cleanup(func() { _ = bus.Close() })

	invalidator := services.NewCacheInvalidationService(memCache, nil)
	stats := services.NewStatsService(queueStore, clinicStore, time.UTC, time.Second)
	broadcast := services.NewBroadcastService(queueStore, clinicStore, stats, bus, time.Second)
	queue := services.NewQueueService(queueStore, clinicStore, services.NewPositionService(), invalidator, broadcast,
		services.QueueServiceConfig{StoreTimeout: time.Second, PhoneRegion: "IN"})
	clinics := services.NewClinicService(clinicStore, invalidator, broadcast, broadcast, time.Second)
	query := queryservices.NewQueueQueryService(queueStore, clinicStore, stats, memCache, queryservices.DefaultCacheTTLs(), time.Second)

	sse := handlers.NewSSEHandler(bus).WithHeartbeat(50 * time.Millisecond)
	router := routes.NewRouter(
		handlers.NewQueueHandler(queue, query),
		handlers.NewClinicHandler(clinics),
		sse,
		nil,
		nil,
	)

	return &testServer{
		handler: router.SetupRoutes(),
		bus:     bus,
		sse:     sse,
		queue:   queue,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
