// Package events publishes verification status changes for downstream
// consumers. Delivery is best-effort: the engine logs failures and moves on.
package events

import (
	"time"

	"github.com/google/uuid"
)

// DefaultTopic carries StatusChanged events keyed by subject.
const DefaultTopic = "kyc.verification.status"

// EventType values set in the event_type record header.
const (
	TypeStepSubmitted = "verification.step_submitted"
	TypeStepReset     = "verification.step_reset"
	TypeReviewed      = "verification.reviewed"
	TypeAutoApproved  = "verification.auto_approved"
)

// StatusChanged describes one committed mutation of a verification record.
type StatusChanged struct {
	EventID        uuid.UUID `json:"eventId"`
	Type           string    `json:"type"`
	OccurredAt     time.Time `json:"occurredAt"`
	RecordID       string    `json:"recordId"`
	SubjectID      string    `json:"subjectId"`
	Kind           string    `json:"kind"`
	Step           string    `json:"step,omitempty"`
	PreviousStatus string    `json:"previousStatus"`
	Status         string    `json:"status"`
	IsVerified     bool      `json:"isVerified"`
	Version        int64     `json:"version"`
	PerformedBy    string    `json:"performedBy"`
	RequestID      string    `json:"requestId,omitempty"`
}
