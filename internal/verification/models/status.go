package models

import (
	dErrors "ekyc/pkg/domain-errors"
)

// Status is the aggregate outcome of a verification record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	// StatusExpired is never stored. Read views report it once the expiry
	// instant has passed, whatever the stored status is.
	StatusExpired Status = "expired"
)

// IsStored reports whether the status may be persisted on a record.
func (s Status) IsStored() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}

// ParseReviewDecision accepts only the two outcomes an admin can set.
func ParseReviewDecision(s string) (Status, error) {
	switch Status(s) {
	case StatusApproved, StatusRejected:
		return Status(s), nil
	default:
		return "", dErrors.New(dErrors.CodeValidation, "decision must be approved or rejected")
	}
}

// VerificationKind namespaces records: a subject holds at most one record per kind.
type VerificationKind string

const (
	// KindEKYC is the full four-step electronic KYC flow.
	KindEKYC VerificationKind = "ekyc"
)

// StepKind names one evidentiary check.
type StepKind string

const (
	StepFace     StepKind = "face"
	StepDocument StepKind = "document"
	StepVideo    StepKind = "video"
	StepVoice    StepKind = "voice"
)

// AllSteps lists every step a record must complete before auto-approval, in
// the order the capture flow presents them.
var AllSteps = []StepKind{StepFace, StepDocument, StepVideo, StepVoice}

func (k StepKind) IsValid() bool {
	switch k {
	case StepFace, StepDocument, StepVideo, StepVoice:
		return true
	default:
		return false
	}
}

// ParseStepKind validates a step name.
func ParseStepKind(s string) (StepKind, error) {
	k := StepKind(s)
	if !k.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "unknown step: "+s)
	}
	return k, nil
}

// UsesLiveness reports whether the step is scored by the liveness provider
// and carries a liveness score.
func (k StepKind) UsesLiveness() bool {
	return k == StepFace || k == StepVideo
}

// EvidenceStatus is the per-artifact verdict.
type EvidenceStatus string

const (
	EvidencePending  EvidenceStatus = "pending"
	EvidenceVerified EvidenceStatus = "verified"
	EvidenceRejected EvidenceStatus = "rejected"
)

// DocumentKind selects the OCR endpoint for a document capture.
type DocumentKind string

const (
	DocumentPassport       DocumentKind = "passport"
	DocumentNationalID     DocumentKind = "national_id"
	DocumentDriversLicense DocumentKind = "drivers_license"
)

// ParseDocumentKind defaults an empty value to a national ID card.
func ParseDocumentKind(s string) (DocumentKind, error) {
	if s == "" {
		return DocumentNationalID, nil
	}
	switch k := DocumentKind(s); k {
	case DocumentPassport, DocumentNationalID, DocumentDriversLicense:
		return k, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidEvidence, "unsupported document kind: "+s)
	}
}

// AuditAction tags a history entry.
type AuditAction string

const (
	ActionSubmitStep   AuditAction = "submit-step"
	ActionAutoApproval AuditAction = "auto_approval"
	ActionResetStep    AuditAction = "reset-step"
	ActionVerification AuditAction = "verification"
)

// SystemActor is recorded as performer for automatic transitions.
const SystemActor = "system"
