package entities

import (
	"time"
)

// EntryStatus represents where a patient is in the clinic's queue lifecycle
type EntryStatus string

const (
	EntryStatusWaiting        EntryStatus = "WAITING"
	EntryStatusNotified       EntryStatus = "NOTIFIED"
	EntryStatusInConsultation EntryStatus = "IN_CONSULTATION"
	EntryStatusCompleted      EntryStatus = "COMPLETED"
	EntryStatusNoShow         EntryStatus = "NO_SHOW"
	EntryStatusCancelled      EntryStatus = "CANCELLED"
)

// ActiveStatuses are the statuses that hold a position in the queue
var ActiveStatuses = []EntryStatus{
	EntryStatusWaiting,
	EntryStatusNotified,
	EntryStatusInConsultation,
}

// IsActive reports whether the status holds a queue position
func (s EntryStatus) IsActive() bool {
	switch s {
	case EntryStatusWaiting, EntryStatusNotified, EntryStatusInConsultation:
		return true
	}
	return false
}

// IsTerminal reports whether the status is final for the day
func (s EntryStatus) IsTerminal() bool {
	switch s {
	case EntryStatusCompleted, EntryStatusNoShow, EntryStatusCancelled:
		return true
	}
	return false
}

// IsWaiting reports whether the entry is still waiting to be called
func (s EntryStatus) IsWaiting() bool {
	return s == EntryStatusWaiting || s == EntryStatusNotified
}

// CheckInMethod represents how the patient joined the queue
type CheckInMethod string

const (
	CheckInMethodQRCode   CheckInMethod = "QR_CODE"
	CheckInMethodManual   CheckInMethod = "MANUAL"
	CheckInMethodWhatsApp CheckInMethod = "WHATSAPP"
	CheckInMethodSMS      CheckInMethod = "SMS"
)

// Valid reports whether m is a known check-in method
func (m CheckInMethod) Valid() bool {
	switch m {
	case CheckInMethodQRCode, CheckInMethodManual, CheckInMethodWhatsApp, CheckInMethodSMS:
		return true
	}
	return false
}

// QueueEntry is one patient's presence in a clinic's queue for a given day.
// Terminal entries keep their row for statistics and carry position 0.
type QueueEntry struct {
	ID            string        `json:"id" db:"id"`
	ClinicID      string        `json:"clinicId" db:"clinic_id"`
	PatientName   string        `json:"patientName,omitempty" db:"patient_name"`
	PatientPhone  string        `json:"patientPhone" db:"patient_phone"`
	Position      int           `json:"position" db:"position"`
	Status        EntryStatus   `json:"status" db:"status"`
	CheckInMethod CheckInMethod `json:"checkInMethod" db:"check_in_method"`
	Priority      bool          `json:"priority" db:"priority"`
	ArrivedAt     time.Time     `json:"arrivedAt" db:"arrived_at"`
	NotifiedAt    *time.Time    `json:"notifiedAt,omitempty" db:"notified_at"`
	CalledAt      *time.Time    `json:"calledAt,omitempty" db:"called_at"`
	CompletedAt   *time.Time    `json:"completedAt,omitempty" db:"completed_at"`
	UpdatedAt     time.Time     `json:"updatedAt" db:"updated_at"`
}

// Clone returns a deep copy so callers can mutate without aliasing store state
func (e *QueueEntry) Clone() *QueueEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.NotifiedAt = cloneTime(e.NotifiedAt)
	c.CalledAt = cloneTime(e.CalledAt)
	c.CompletedAt = cloneTime(e.CompletedAt)
	return &c
}

// WaitDuration is the time from arrival to being called
func (e *QueueEntry) WaitDuration() (time.Duration, bool) {
	if e.CalledAt == nil || e.ArrivedAt.IsZero() {
		return 0, false
	}
	return e.CalledAt.Sub(e.ArrivedAt), true
}

// ConsultationDuration is the time from being called to completion
func (e *QueueEntry) ConsultationDuration() (time.Duration, bool) {
	if e.CalledAt == nil || e.CompletedAt == nil {
		return 0, false
	}
	return e.CompletedAt.Sub(*e.CalledAt), true
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
