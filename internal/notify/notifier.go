package notify

import (
	"context"
	"log/slog"
)

type Kind string

const (
	KindJobStarted         Kind = "job-started"
	KindJobCompleted       Kind = "job-completed"
	KindJobCancelled       Kind = "job-cancelled"
	KindBookingUnfulfilled Kind = "booking-unfulfilled"
)

// Payload is the typed notification body handed to the delivery backend.
// Rendering is the backend's concern.
type Payload struct {
	Kind           Kind   `json:"kind"`
	JobID          string `json:"job_id,omitempty"`
	ConsultationID string `json:"consultation_id,omitempty"`
	ProviderName   string `json:"provider_name,omitempty"`
	ServiceType    string `json:"service_type,omitempty"`
	PIN            string `json:"pin,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// Notifier delivers a notification to a recipient. Callers treat failures as
// best-effort; delivery never gates a state transition.
type Notifier interface {
	Notify(ctx context.Context, recipientID string, p Payload) error
}

// LogNotifier is the fallback backend for local runs without a push endpoint.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l *LogNotifier) Notify(ctx context.Context, recipientID string, p Payload) error {
	l.Logger.Info("notification", "recipient", recipientID, "kind", string(p.Kind), "job_id", p.JobID)
	return nil
}
