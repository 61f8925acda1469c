package entities

import (
	"time"
)

// Clinic is the read-mostly owner of a queue
type Clinic struct {
	ID                     string    `json:"id" db:"id"`
	Name                   string    `json:"name" db:"name"`
	DoctorName             string    `json:"doctorName" db:"doctor_name"`
	AvgConsultationMinutes int       `json:"avgConsultationMinutes" db:"avg_consultation_minutes"`
	NotifyAtPosition       int       `json:"notifyAtPosition" db:"notify_at_position"`
	IsDoctorPresent        bool      `json:"isDoctorPresent" db:"is_doctor_present"`
	IsActive               bool      `json:"isActive" db:"is_active"`
	CreatedAt              time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt              time.Time `json:"updatedAt" db:"updated_at"`
}

// EstimatedWaitMinutes estimates the wait for a patient with peopleAhead in front
func (c *Clinic) EstimatedWaitMinutes(peopleAhead int) int {
	if c == nil || peopleAhead <= 0 || c.AvgConsultationMinutes <= 0 {
		return 0
	}
	return peopleAhead * c.AvgConsultationMinutes
}

// ShouldNotify reports whether a waiting patient at position is within the
// clinic's notification threshold
func (c *Clinic) ShouldNotify(position int) bool {
	if c == nil || c.NotifyAtPosition <= 0 || position < 1 {
		return false
	}
	return position-1 <= c.NotifyAtPosition
}
