package models

import (
	"time"

	id "ekyc/pkg/domain"
)

// StepView is the read projection of one step.
type StepView struct {
	Step        StepKind      `json:"step"`
	Completed   bool          `json:"completed"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
	Attempts    int           `json:"attempts"`
	Evidence    *EvidenceView `json:"evidence,omitempty"`
}

// EvidenceView hides storage details. Document numbers and extracted fields
// are only populated for admin views.
type EvidenceView struct {
	VerificationStatus EvidenceStatus    `json:"verificationStatus"`
	ProviderConfidence float64           `json:"providerConfidence"`
	LivenessScore      *float64          `json:"livenessScore,omitempty"`
	DocumentKind       DocumentKind      `json:"documentKind,omitempty"`
	DocumentNumber     string            `json:"documentNumber,omitempty"`
	ExtractedFields    map[string]string `json:"extractedFields,omitempty"`
	ContentType        string            `json:"contentType"`
	Size               int64             `json:"size"`
	UploadedAt         time.Time         `json:"uploadedAt"`
}

// StatusView is the record projection returned by read operations.
// IsExpired and IsValid are derived at read time and never stored.
type StatusView struct {
	RecordID   id.RecordID      `json:"recordId"`
	SubjectID  id.SubjectID     `json:"subjectId"`
	Kind       VerificationKind `json:"kind"`
	Status     Status           `json:"status"`
	Steps      []StepView       `json:"steps"`
	History    []AuditEntry     `json:"history"`
	ExpiryDate time.Time        `json:"expiryDate"`
	IsExpired  bool             `json:"isExpired"`
	IsValid    bool             `json:"isValid"`
	Version    int64            `json:"version"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// ViewMode selects how much evidence detail a projection exposes.
type ViewMode int

const (
	ViewSubject ViewMode = iota
	ViewAdmin
)

// NewStatusView projects a record at the given instant. Status reads as
// expired once the validity window has passed.
func NewStatusView(r *VerificationRecord, now time.Time, mode ViewMode) *StatusView {
	expired := r.IsExpiredAt(now)
	status := r.Status
	if expired {
		status = StatusExpired
	}
	view := &StatusView{
		RecordID:   r.ID,
		SubjectID:  r.SubjectID,
		Kind:       r.Kind,
		Status:     status,
		Steps:      make([]StepView, 0, len(AllSteps)),
		History:    append([]AuditEntry(nil), r.History...),
		ExpiryDate: r.ExpiryDate,
		IsExpired:  expired,
		IsValid:    r.IsValidAt(now),
		Version:    r.Version,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	for _, step := range AllSteps {
		state := r.Steps[step]
		sv := StepView{
			Step:        step,
			Completed:   state.Completed,
			CompletedAt: state.CompletedAt,
			Attempts:    state.Attempts,
		}
		if ev := r.Evidence[step]; ev != nil {
			sv.Evidence = newEvidenceView(ev, mode)
		}
		view.Steps = append(view.Steps, sv)
	}
	return view
}

func newEvidenceView(ev *Evidence, mode ViewMode) *EvidenceView {
	out := &EvidenceView{
		VerificationStatus: ev.VerificationStatus,
		ProviderConfidence: ev.ProviderConfidence,
		LivenessScore:      ev.LivenessScore,
		DocumentKind:       ev.DocumentKind,
		ContentType:        ev.ContentType,
		Size:               ev.Size,
		UploadedAt:         ev.UploadedAt,
	}
	if mode == ViewAdmin {
		out.DocumentNumber = ev.DocumentNumber
		if len(ev.ExtractedFields) > 0 {
			out.ExtractedFields = make(map[string]string, len(ev.ExtractedFields))
			for k, v := range ev.ExtractedFields {
				out.ExtractedFields[k] = v
			}
		}
	}
	return out
}

// Step returns the view for a single step.
func (v *StatusView) Step(step StepKind) StepView {
	for _, s := range v.Steps {
		if s.Step == step {
			return s
		}
	}
	return StepView{Step: step}
}
