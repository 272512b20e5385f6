package models

import (
	"time"

	id "ekyc/pkg/domain"
	dErrors "ekyc/pkg/domain-errors"
)

// StepState tracks completion of one step. Attempts is cumulative across
// resets.
type StepState struct {
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Attempts    int        `json:"attempts"`
}

// Evidence is the stored artifact reference plus the provider verdict for a step.
type Evidence struct {
	ArtifactRef        string            `json:"artifactRef"`
	VerificationStatus EvidenceStatus    `json:"verificationStatus"`
	ProviderConfidence float64           `json:"providerConfidence"`
	LivenessScore      *float64          `json:"livenessScore,omitempty"`
	ExtractedFields    map[string]string `json:"extractedFields,omitempty"`
	DocumentKind       DocumentKind      `json:"documentKind,omitempty"`
	DocumentNumber     string            `json:"documentNumber,omitempty"`
	ContentType        string            `json:"contentType"`
	Size               int64             `json:"size"`
	Checksum           string            `json:"checksum"`
	CaptureDevice      string            `json:"captureDevice,omitempty"`
	OriginalFilename   string            `json:"originalFilename,omitempty"`
	UploadedAt         time.Time         `json:"uploadedAt"`
}

// AuditEntry is one immutable line of record history.
type AuditEntry struct {
	Timestamp   time.Time   `json:"timestamp"`
	Action      AuditAction `json:"action"`
	Status      Status      `json:"status"`
	PerformedBy string      `json:"performedBy"`
	Notes       string      `json:"notes,omitempty"`
}

// VerificationRecord is the per-(subject, kind) aggregate.
//
// Invariants:
//   - Status is one of pending, approved, rejected
//   - Steps holds an entry for every StepKind
//   - History only grows
//   - Version starts at 1 and grows by exactly 1 per persisted mutation
type VerificationRecord struct {
	ID         id.RecordID
	SubjectID  id.SubjectID
	Kind       VerificationKind
	Status     Status
	Steps      map[StepKind]StepState
	Evidence   map[StepKind]*Evidence
	History    []AuditEntry
	ExpiryDate time.Time
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewVerificationRecord builds the lazy default record: every step
// incomplete, status pending, no history.
func NewVerificationRecord(recordID id.RecordID, subjectID id.SubjectID, kind VerificationKind, now time.Time, validity time.Duration) (*VerificationRecord, error) {
	if recordID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "record id is required")
	}
	if subjectID.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "subject id is required")
	}
	if kind == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "verification kind is required")
	}
	if validity <= 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "validity period must be positive")
	}
	steps := make(map[StepKind]StepState, len(AllSteps))
	for _, step := range AllSteps {
		steps[step] = StepState{}
	}
	return &VerificationRecord{
		ID:         recordID,
		SubjectID:  subjectID,
		Kind:       kind,
		Status:     StatusPending,
		Steps:      steps,
		Evidence:   make(map[StepKind]*Evidence),
		History:    []AuditEntry{},
		ExpiryDate: now.Add(validity),
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// IsExpiredAt reports whether the record is past its expiry instant.
func (r *VerificationRecord) IsExpiredAt(now time.Time) bool {
	return now.After(r.ExpiryDate)
}

// IsValidAt reports whether the record currently counts as a valid approval.
func (r *VerificationRecord) IsValidAt(now time.Time) bool {
	return r.Status == StatusApproved && !r.IsExpiredAt(now)
}

// AllStepsCompleted reports whether every step is complete.
func (r *VerificationRecord) AllStepsCompleted() bool {
	for _, step := range AllSteps {
		if !r.Steps[step].Completed {
			return false
		}
	}
	return true
}

// DocumentNumber returns the number extracted from the attached document
// evidence, or "" when none is attached.
func (r *VerificationRecord) DocumentNumber() string {
	if ev := r.Evidence[StepDocument]; ev != nil {
		return ev.DocumentNumber
	}
	return ""
}

// Clone returns a deep copy so callers can build the next version without
// touching the one they read.
func (r *VerificationRecord) Clone() *VerificationRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Steps = make(map[StepKind]StepState, len(r.Steps))
	for k, v := range r.Steps {
		if v.CompletedAt != nil {
			t := *v.CompletedAt
			v.CompletedAt = &t
		}
		out.Steps[k] = v
	}
	out.Evidence = make(map[StepKind]*Evidence, len(r.Evidence))
	for k, v := range r.Evidence {
		out.Evidence[k] = v.clone()
	}
	out.History = append([]AuditEntry(nil), r.History...)
	return &out
}

func (e *Evidence) clone() *Evidence {
	if e == nil {
		return nil
	}
	out := *e
	if e.LivenessScore != nil {
		score := *e.LivenessScore
		out.LivenessScore = &score
	}
	if e.ExtractedFields != nil {
		out.ExtractedFields = make(map[string]string, len(e.ExtractedFields))
		for k, v := range e.ExtractedFields {
			out.ExtractedFields[k] = v
		}
	}
	return &out
}

func (r *VerificationRecord) appendHistory(entry AuditEntry) {
	r.History = append(r.History, entry)
}
