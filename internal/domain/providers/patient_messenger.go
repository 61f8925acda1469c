package providers

import (
	"context"
)

// TurnAlert is a proactive message telling a patient their turn is close
type TurnAlert struct {
	Phone       string
	PatientName string
	ClinicName  string
	Position    int
	PeopleAhead int
}

// PatientMessenger delivers out-of-band messages to patients
type PatientMessenger interface {
	SendTurnAlert(ctx context.Context, alert TurnAlert) error
}
