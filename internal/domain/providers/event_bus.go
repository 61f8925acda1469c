package providers

import (
	"context"

	"github.com/doctorq/backend/internal/domain/entities"
)

// EventBus defines the interface for publishing and subscribing to events.
// Delivery is at most once; publishing to a channel without subscribers is not an error.
type EventBus interface {
	// Publish publishes an event to all subscribers
	Publish(ctx context.Context, channel string, event *entities.QueueEvent) error

	// Subscribe subscribes to events on a channel until ctx is done
	Subscribe(ctx context.Context, channel string) (<-chan *entities.QueueEvent, error)

	// Unsubscribe unsubscribes from a channel
	Unsubscribe(ctx context.Context, channel string) error

	// Close closes the event bus and all subscriptions
	Close() error
}

// EventMirror receives a copy of every published event for an external fan-out
type EventMirror interface {
	Mirror(ctx context.Context, event *entities.QueueEvent) error
}

// Channel prefixes
const (
	EventChannelClinicPrefix   = "clinic:"
	EventChannelPatientPrefix  = "patient:"
	eventChannelPatientsSuffix = ":patients"
)

// GetClinicChannel returns the dashboard channel for a clinic
func GetClinicChannel(clinicID string) string {
	return EventChannelClinicPrefix + clinicID
}

// GetClinicPatientsChannel returns the aggregate patient-facing channel for a clinic
func GetClinicPatientsChannel(clinicID string) string {
	return EventChannelClinicPrefix + clinicID + eventChannelPatientsSuffix
}

// GetPatientChannel returns the channel for a single queue entry
func GetPatientChannel(entryID string) string {
	return EventChannelPatientPrefix + entryID
}
