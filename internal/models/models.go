package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ProviderPresence tracks a provider's availability and last known position.
type ProviderPresence struct {
	ProviderID string    `json:"provider_id"`
	Online     bool      `json:"online"`
	Location   Coord     `json:"location"`
	Pincode    string    `json:"pincode,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// LocationReport is the payload providers send while online. It flows either
// straight into the presence store or through the kafka ingest topic.
type LocationReport struct {
	ProviderID string    `json:"provider_id"`
	Loc        Coord     `json:"loc"`
	CapturedAt time.Time `json:"captured_at"`
}

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusAccepted   JobStatus = "accepted"
	StatusInProgress JobStatus = "in-progress"
	StatusCompleted  JobStatus = "completed"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type ProviderAddress struct {
	Type    string  `json:"type,omitempty"`
	Address string  `json:"address"`
	City    string  `json:"city"`
	State   string  `json:"state"`
	Pincode string  `json:"pincode"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

type CustomerAddress struct {
	Address string  `json:"address"`
	City    string  `json:"city"`
	State   string  `json:"state"`
	Pincode string  `json:"pincode"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// JobCard is the durable record of one booking moving through the lifecycle.
// It is owned by the lifecycle controller; nothing else writes its status.
type JobCard struct {
	ID                   string            `json:"id"`
	ProviderID           string            `json:"provider_id,omitempty"`
	ProviderName         string            `json:"provider_name,omitempty"`
	ProviderAddress      ProviderAddress   `json:"provider_address,omitempty"`
	CustomerID           string            `json:"customer_id"`
	CustomerName         string            `json:"customer_name"`
	CustomerPhone        string            `json:"customer_phone"`
	CustomerAddress      CustomerAddress   `json:"customer_address"`
	ServiceType          string            `json:"service_type"`
	Problem              string            `json:"problem,omitempty"`
	QuestionnaireAnswers map[string]string `json:"questionnaire_answers,omitempty"`
	ConsultationID       string            `json:"consultation_id,omitempty"`
	Status               JobStatus         `json:"status"`
	TaskPIN              string            `json:"task_pin,omitempty"`
	PINGeneratedAt       *time.Time        `json:"pin_generated_at,omitempty"`
	CancellationReason   string            `json:"cancellation_reason,omitempty"`
	CancelledAt          *time.Time        `json:"cancelled_at,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// BookingRequest is what the booking originator submits to get a job
// dispatched to nearby providers.
type BookingRequest struct {
	CustomerID           string            `json:"customer_id"`
	CustomerName         string            `json:"customer_name"`
	CustomerPhone        string            `json:"customer_phone"`
	CustomerAddress      CustomerAddress   `json:"customer_address"`
	ServiceType          string            `json:"service_type"`
	Problem              string            `json:"problem,omitempty"`
	QuestionnaireAnswers map[string]string `json:"questionnaire_answers,omitempty"`
	ConsultationID       string            `json:"consultation_id,omitempty"`
}

// OfferSummary is the per-candidate payload pushed over the dispatch channel.
type OfferSummary struct {
	OfferID        string  `json:"offer_id"`
	JobID          string  `json:"job_id"`
	ConsultationID string  `json:"consultation_id,omitempty"`
	ServiceType    string  `json:"service_type"`
	Problem        string  `json:"problem,omitempty"`
	CustomerArea   string  `json:"customer_area"`
	ETASeconds     float64 `json:"eta_seconds,omitempty"`
}

// MirrorEntry is the disposable projection the live status mirror holds per
// job. It is always reconstructible from the durable record.
type MirrorEntry struct {
	ProviderID string    `json:"provider_id,omitempty"`
	CustomerID string    `json:"customer_id"`
	Status     JobStatus `json:"status"`
	UpdatedAt  time.Time `json:"updated_at"`
}
