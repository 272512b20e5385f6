package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ekyc/internal/events"
	"ekyc/internal/verification/models"
	id "ekyc/pkg/domain"
	dErrors "ekyc/pkg/domain-errors"
	"ekyc/pkg/platform/sentinel"
	"ekyc/pkg/requestcontext"
)

type ResetResult struct {
	RecordID id.RecordID
	Step     models.StepKind
	Status   models.Status
	Attempts int
	Version  int64
	Record   *models.StatusView
}

// ResetStep returns a step to incomplete and releases its artifact. A
// rejected record goes back to pending and an expired one is reopened with a
// fresh validity window. Approved records refuse.
func (s *Service) ResetStep(ctx context.Context, subjectID id.SubjectID, step models.StepKind, authToken string) (result *ResetResult, err error) {
	ctx = detach(ctx)
	ctx, span := s.tracer.Start(ctx, "verification.ResetStep", trace.WithAttributes(
		attribute.String("subject_id", string(subjectID)),
		attribute.String("step", string(step)),
	))
	defer func() { endSpan(span, err) }()
	defer s.observe("reset_step", time.Now())

	if _, err := id.ParseSubjectID(string(subjectID)); err != nil {
		return nil, err
	}
	if !step.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidState, "unknown step: "+string(step))
	}

	rec, err := s.records.Get(ctx, subjectID, models.KindEKYC)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "no verification record for subject")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification record")
	}

	var released string
	prev, next, err := s.commit(ctx, "reset_step", rec, func(next *models.VerificationRecord, now time.Time) error {
		var err error
		released, err = next.ResetStep(step, now, s.cfg.RecordValidity, string(subjectID))
		return err
	})
	if err != nil {
		return nil, err
	}
	s.discardArtifact(ctx, released, "step reset")

	s.metrics.IncrementStepReset(string(step))
	s.logAudit(ctx, "verification_step_reset",
		"record_id", next.ID.String(),
		"subject_id", string(subjectID),
		"step", string(step),
		"previous_status", string(prev.Status),
		"status", string(next.Status),
	)
	s.propagate(ctx, events.TypeStepReset, step, prev, next, string(subjectID), authToken)

	view := models.NewStatusView(next, requestcontext.Now(ctx), models.ViewSubject)
	return &ResetResult{
		RecordID: next.ID,
		Step:     step,
		Status:   view.Status,
		Attempts: next.Steps[step].Attempts,
		Version:  next.Version,
		Record:   view,
	}, nil
}
