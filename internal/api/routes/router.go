package routes

import (
	"net/http"

	"github.com/doctorq/backend/internal/api/handlers"
	"github.com/doctorq/backend/internal/api/middleware"
	"github.com/doctorq/backend/internal/infrastructure/observability"
)

// HealthChecker reports whether a backing dependency is reachable
type HealthChecker func(r *http.Request) error

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	queueHandler  *handlers.QueueHandler
	clinicHandler *handlers.ClinicHandler
	sseHandler    *handlers.SSEHandler

	allowedOrigins []string
	ready          HealthChecker
	metrics        *observability.Metrics
}

// NewRouter creates a new router
func NewRouter(
	queueHandler *handlers.QueueHandler,
	clinicHandler *handlers.ClinicHandler,
	sseHandler *handlers.SSEHandler,
	allowedOrigins []string,
	metrics *observability.Metrics,
) *Router {
	return &Router{
		mux:            http.NewServeMux(),
		queueHandler:   queueHandler,
		clinicHandler:  clinicHandler,
		sseHandler:     sseHandler,
		allowedOrigins: allowedOrigins,
		metrics:        metrics,
	}
}

// WithReadiness sets the check behind GET /ready
func (r *Router) WithReadiness(check HealthChecker) *Router {
	r.ready = check
	return r
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	r.mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			return
		}
	})
	r.mux.HandleFunc("GET /ready", func(w http.ResponseWriter, req *http.Request) {
		if r.ready != nil {
			if err := r.ready(req); err != nil {
				http.Error(w, "NOT READY", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("READY")); err != nil {
			return
		}
	})

	// Clinic endpoints
	r.mux.HandleFunc("GET /api/clinics/{clinicId}", r.clinicHandler.GetClinic)
	r.mux.HandleFunc("PUT /api/clinics/{clinicId}/presence", r.clinicHandler.SetDoctorPresence)

	// Queue endpoints
	r.mux.HandleFunc("GET /api/clinics/{clinicId}/queue", r.queueHandler.GetQueue)
	r.mux.HandleFunc("POST /api/clinics/{clinicId}/queue", r.queueHandler.AddPatient)
	r.mux.HandleFunc("DELETE /api/clinics/{clinicId}/queue", r.queueHandler.ClearQueue)
	r.mux.HandleFunc("GET /api/clinics/{clinicId}/stats", r.queueHandler.GetStats)
	r.mux.HandleFunc("POST /api/clinics/{clinicId}/queue/call-next", r.queueHandler.CallNext)
	r.mux.HandleFunc("GET /api/clinics/{clinicId}/queue/{entryId}", r.queueHandler.GetPatientStatus)
	r.mux.HandleFunc("POST /api/clinics/{clinicId}/queue/{entryId}/complete", r.queueHandler.Complete)
	r.mux.HandleFunc("POST /api/clinics/{clinicId}/queue/{entryId}/no-show", r.queueHandler.NoShow)
	r.mux.HandleFunc("POST /api/clinics/{clinicId}/queue/{entryId}/cancel", r.queueHandler.Cancel)
	r.mux.HandleFunc("POST /api/clinics/{clinicId}/queue/{entryId}/notify", r.queueHandler.Notify)
	r.mux.HandleFunc("POST /api/clinics/{clinicId}/queue/{entryId}/reorder", r.queueHandler.Reorder)

	// Real-time streams
	r.mux.HandleFunc("GET /api/stream/clinics/{clinicId}", r.sseHandler.StreamClinic)
	r.mux.HandleFunc("GET /api/stream/clinics/{clinicId}/patients", r.sseHandler.StreamClinicPatients)
	r.mux.HandleFunc("GET /api/stream/patients/{entryId}", r.sseHandler.StreamPatient)

	// Apply middleware in reverse order (last middleware wraps first)
	var handler http.Handler = r.mux
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)
	handler = middleware.ResponseOptimization(handler)

	// CORS wraps everything so preflights never reach the handlers
	handler = middleware.CORSMiddleware(r.allowedOrigins)(handler)

	return handler
}
