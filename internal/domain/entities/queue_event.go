package entities

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QueueEventName is the event name delivered to subscribers
type QueueEventName string

const (
	QueueEventUpdated        QueueEventName = "queue:updated"
	QueueEventPatientCalled  QueueEventName = "patient:called"
	QueueEventDoctorPresence QueueEventName = "doctor:presence"
)

// QueueEvent is a real-time message published on a channel
type QueueEvent struct {
	ID        string          `json:"id"`
	Channel   string          `json:"channel"`
	Name      QueueEventName  `json:"event"`
	ClinicID  string          `json:"clinicId"`
	Seq       uint64          `json:"seq,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewQueueEvent creates a new event with payload encoded as JSON
func NewQueueEvent(channel string, name QueueEventName, clinicID string, seq uint64, payload interface{}) (*QueueEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", name, err)
	}
	return &QueueEvent{
		ID:        uuid.NewString(),
		Channel:   channel,
		Name:      name,
		ClinicID:  clinicID,
		Seq:       seq,
		Timestamp: time.Now().UTC(),
		Payload:   data,
	}, nil
}
