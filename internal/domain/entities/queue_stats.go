package entities

// QueueStats holds today's derived counters for a clinic.
// Durations are whole minutes and nil when there are no samples.
type QueueStats struct {
	Waiting                 int  `json:"waiting"`
	SeenToday               int  `json:"seenToday"`
	AvgWaitMinutes          *int `json:"avgWait"`
	LastConsultationMinutes *int `json:"lastConsultation"`
}

// QueueSnapshot is the clinic dashboard payload
type QueueSnapshot struct {
	ClinicID string        `json:"clinicId"`
	Seq      uint64        `json:"seq"`
	Queue    []*QueueEntry `json:"queue"`
	Stats    *QueueStats   `json:"stats"`
}

// PublicQueueEntry is an entry stripped of contact details
type PublicQueueEntry struct {
	ID          string      `json:"id"`
	Position    int         `json:"position"`
	Status      EntryStatus `json:"status"`
	DisplayName string      `json:"displayName,omitempty"`
}

// PublicSnapshot is the snapshot shared on the aggregate patient channel
type PublicSnapshot struct {
	ClinicID string             `json:"clinicId"`
	Seq      uint64             `json:"seq"`
	Queue    []PublicQueueEntry `json:"queue"`
	Stats    *QueueStats        `json:"stats"`
}

// PatientStatus is the per-patient payload
type PatientStatus struct {
	EntryID              string      `json:"entryId"`
	Position             int         `json:"position"`
	Status               EntryStatus `json:"status"`
	EstimatedWaitMinutes int         `json:"estimatedWaitMinutes"`
	PeopleAhead          int         `json:"peopleAhead"`
}

// NewPatientStatus derives the per-patient payload from an entry's position.
// Terminal entries report position 0 and nobody ahead.
func NewPatientStatus(entry *QueueEntry, clinic *Clinic) *PatientStatus {
	ps := &PatientStatus{
		EntryID: entry.ID,
		Status:  entry.Status,
	}
	if !entry.Status.IsActive() {
		return ps
	}
	ps.Position = entry.Position
	if entry.Status != EntryStatusInConsultation && entry.Position > 1 {
		ps.PeopleAhead = entry.Position - 1
	}
	ps.EstimatedWaitMinutes = clinic.EstimatedWaitMinutes(ps.PeopleAhead)
	return ps
}

// DoctorPresence is the payload announcing the doctor's availability
type DoctorPresence struct {
	ClinicID        string `json:"clinicId"`
	IsDoctorPresent bool   `json:"isDoctorPresent"`
}
