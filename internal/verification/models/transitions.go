package models

import (
	"time"

	dErrors "ekyc/pkg/domain-errors"
)

// RecordAttempt applies one scored submission to a step. Attempts always
// grow by one; the step completes only when passed is true.
//
// A step's completion and its attached evidence always agree. A passing
// attempt, or any attempt on an incomplete step, attaches the new evidence
// and returns the superseded artifact ref. A failing attempt on a completed
// step keeps the evidence that completed it and returns the new artifact ref
// instead. Either way the returned ref is released by the caller once the
// record is committed.
func (r *VerificationRecord) RecordAttempt(step StepKind, evidence *Evidence, passed bool, now time.Time, performedBy string) (released string, err error) {
	if !step.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidEvidence, "unknown step: "+string(step))
	}
	if err := r.AcceptsSubmissions(now); err != nil {
		return "", err
	}

	state := r.Steps[step]
	state.Attempts++
	notes := "step not passed"
	keepPrior := state.Completed && !passed
	if passed {
		completedAt := now
		state.Completed = true
		state.CompletedAt = &completedAt
		notes = "step passed"
	}
	r.Steps[step] = state

	switch {
	case evidence == nil:
	case keepPrior:
		released = evidence.ArtifactRef
		notes = "step not passed; completed evidence kept"
	default:
		if prev := r.Evidence[step]; prev != nil && prev.ArtifactRef != evidence.ArtifactRef {
			released = prev.ArtifactRef
		}
		r.Evidence[step] = evidence
	}

	r.appendHistory(AuditEntry{
		Timestamp:   now,
		Action:      ActionSubmitStep,
		Status:      r.Status,
		PerformedBy: performedBy,
		Notes:       string(step) + ": " + notes,
	})
	r.UpdatedAt = now
	return released, nil
}

// ResetStep clears a step back to incomplete and detaches its evidence.
// Attempts are preserved. A rejected record returns to pending. An expired
// record that was never approved is reopened: it returns to pending with a
// fresh validity window, so a lapsed subject can always start again.
func (r *VerificationRecord) ResetStep(step StepKind, now time.Time, validity time.Duration, performedBy string) (released string, err error) {
	if !step.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidState, "unknown step: "+string(step))
	}
	if r.Status == StatusApproved {
		return "", dErrors.New(dErrors.CodeInvalidState, "approved records cannot reset steps")
	}

	state := r.Steps[step]
	state.Completed = false
	state.CompletedAt = nil
	r.Steps[step] = state

	if ev := r.Evidence[step]; ev != nil {
		released = ev.ArtifactRef
	}
	delete(r.Evidence, step)

	notes := string(step)
	if r.IsExpiredAt(now) {
		r.ExpiryDate = now.Add(validity)
		notes += "; validity window restarted"
	}
	if r.Status == StatusRejected {
		r.Status = StatusPending
	}
	r.appendHistory(AuditEntry{
		Timestamp:   now,
		Action:      ActionResetStep,
		Status:      r.Status,
		PerformedBy: performedBy,
		Notes:       notes,
	})
	r.UpdatedAt = now
	return released, nil
}

// ApplyReview overwrites the status with an operator decision regardless of
// step completion. Approval restarts the validity window. A rejection leaves
// it alone; the subject reopens the record with ResetStep.
func (r *VerificationRecord) ApplyReview(decision Status, notes, operator string, now time.Time, validity time.Duration) error {
	if decision != StatusApproved && decision != StatusRejected {
		return dErrors.New(dErrors.CodeValidation, "decision must be approved or rejected")
	}
	if operator == "" {
		return dErrors.New(dErrors.CodeValidation, "operator id is required")
	}
	r.Status = decision
	if decision == StatusApproved {
		r.ExpiryDate = now.Add(validity)
	}
	r.appendHistory(AuditEntry{
		Timestamp:   now,
		Action:      ActionVerification,
		Status:      decision,
		PerformedBy: operator,
		Notes:       notes,
	})
	r.UpdatedAt = now
	return nil
}

// AcceptsSubmissions returns InvalidState unless the record is pending and
// unexpired.
func (r *VerificationRecord) AcceptsSubmissions(now time.Time) error {
	if r.IsExpiredAt(now) {
		return dErrors.New(dErrors.CodeInvalidState, "verification record has expired")
	}
	switch r.Status {
	case StatusApproved:
		return dErrors.New(dErrors.CodeInvalidState, "verification already approved")
	case StatusRejected:
		return dErrors.New(dErrors.CodeInvalidState, "verification rejected; reset a step to appeal")
	}
	return nil
}

// RecomputeStatus derives the aggregate status after a mutation. It is the
// only place a record moves to approved without an operator: when every
// step is complete and the record is still pending, the returned copy is
// approved, carries an auto_approval history entry and a fresh validity
// window. Any other record comes back as an unchanged copy.
func RecomputeStatus(record *VerificationRecord, now time.Time, validity time.Duration) *VerificationRecord {
	out := record.Clone()
	if out == nil {
		return nil
	}
	if out.Status != StatusPending || !out.AllStepsCompleted() {
		return out
	}
	out.Status = StatusApproved
	out.ExpiryDate = now.Add(validity)
	out.appendHistory(AuditEntry{
		Timestamp:   now,
		Action:      ActionAutoApproval,
		Status:      StatusApproved,
		PerformedBy: SystemActor,
		Notes:       "all steps completed",
	})
	out.UpdatedAt = now
	return out
}
