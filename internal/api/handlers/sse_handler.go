package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/doctorq/backend/internal/domain/providers"
)

// DefaultHeartbeatInterval keeps idle streams open through proxies
const DefaultHeartbeatInterval = 30 * time.Second

// SSEHandler handles Server-Sent Events for real-time queue updates.
// Each connection subscribes to exactly one event bus channel.
type SSEHandler struct {
	eventBus  providers.EventBus
	heartbeat time.Duration

	mu      sync.RWMutex
	clients map[string]int // channel -> open streams
}

// NewSSEHandler creates a new SSE handler
func NewSSEHandler(eventBus providers.EventBus) *SSEHandler {
	return &SSEHandler{
		eventBus:  eventBus,
		heartbeat: DefaultHeartbeatInterval,
		clients:   make(map[string]int),
	}
}

// WithHeartbeat overrides the heartbeat interval
func (h *SSEHandler) WithHeartbeat(interval time.Duration) *SSEHandler {
	if interval > 0 {
		h.heartbeat = interval
	}
	return h
}

// StreamClinic handles GET /api/stream/clinics/{clinicId}
// for the clinic dashboard: full snapshots, called patients and presence.
func (h *SSEHandler) StreamClinic(w http.ResponseWriter, r *http.Request) {
	clinicID := r.PathValue("clinicId")
	if clinicID == "" {
		respondWithError(w, http.StatusBadRequest, "clinic ID is required")
		return
	}
	h.stream(w, r, providers.GetClinicChannel(clinicID), map[string]interface{}{
		"clinicId": clinicID,
	})
}

// StreamClinicPatients handles GET /api/stream/clinics/{clinicId}/patients
// for waiting-room displays: masked snapshots and presence only.
func (h *SSEHandler) StreamClinicPatients(w http.ResponseWriter, r *http.Request) {
	clinicID := r.PathValue("clinicId")
	if clinicID == "" {
		respondWithError(w, http.StatusBadRequest, "clinic ID is required")
		return
	}
	h.stream(w, r, providers.GetClinicPatientsChannel(clinicID), map[string]interface{}{
		"clinicId": clinicID,
	})
}

// StreamPatient handles GET /api/stream/patients/{entryId}
// for one patient's status page.
func (h *SSEHandler) StreamPatient(w http.ResponseWriter, r *http.Request) {
	entryID := r.PathValue("entryId")
	if entryID == "" {
		respondWithError(w, http.StatusBadRequest, "entry ID is required")
		return
	}
	h.stream(w, r, providers.GetPatientChannel(entryID), map[string]interface{}{
		"entryId": entryID,
	})
}

func (h *SSEHandler) stream(w http.ResponseWriter, r *http.Request, channel string, hello map[string]interface{}) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	events, err := h.eventBus.Subscribe(ctx, channel)
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("failed to subscribe to channel")
		respondWithError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	h.register(channel)
	defer h.unregister(channel)

	hello["timestamp"] = time.Now()
	h.sendEvent(w, "connected", "", hello)
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("channel", channel).Msg("client disconnected from stream")
			return
		case <-ticker.C:
			h.sendEvent(w, "heartbeat", "", map[string]interface{}{
				"timestamp": time.Now(),
			})
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			if event == nil {
				continue
			}
			id := ""
			if event.Seq > 0 {
				id = fmt.Sprintf("%d", event.Seq)
			}
			h.sendEvent(w, string(event.Name), id, event)
			flusher.Flush()
		}
	}
}

func (h *SSEHandler) register(channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[channel]++
	log.Debug().Str("channel", channel).Int("total", h.clients[channel]).Msg("stream client registered")
}

func (h *SSEHandler) unregister(channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[channel]--
	if h.clients[channel] <= 0 {
		delete(h.clients, channel)
	}
}

// sendEvent writes one SSE frame
func (h *SSEHandler) sendEvent(w http.ResponseWriter, eventType, id string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("failed to marshal event data")
		return
	}

	if id != "" {
		fmt.Fprintf(w, "id: %s\n", id)
	}
	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
}

// ClientCount returns the number of open streams
func (h *SSEHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, n := range h.clients {
		count += n
	}
	return count
}
