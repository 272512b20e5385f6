package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ekyc/internal/events"
	"ekyc/internal/verification/models"
	id "ekyc/pkg/domain"
	dErrors "ekyc/pkg/domain-errors"
	"ekyc/pkg/requestcontext"
)

// AdminReview sets an operator decision regardless of step completion. No
// caller token exists on this path, so identity sync authenticates with a
// service token.
func (s *Service) AdminReview(ctx context.Context, recordID id.RecordID, decision, notes string, operatorID id.OperatorID) (view *models.StatusView, err error) {
	ctx = detach(ctx)
	ctx, span := s.tracer.Start(ctx, "verification.AdminReview", trace.WithAttributes(
		attribute.String("record_id", recordID.String()),
		attribute.String("decision", decision),
	))
	defer func() { endSpan(span, err) }()
	defer s.observe("admin_review", time.Now())

	if recordID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "record id is required")
	}
	status, err := models.ParseReviewDecision(decision)
	if err != nil {
		return nil, err
	}
	if _, err := id.ParseOperatorID(string(operatorID)); err != nil {
		return nil, err
	}

	rec, err := s.recordByID(ctx, recordID)
	if err != nil {
		return nil, err
	}

	prev, next, err := s.commit(ctx, "admin_review", rec, func(next *models.VerificationRecord, now time.Time) error {
		return next.ApplyReview(status, notes, string(operatorID), now, s.cfg.RecordValidity)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementAdminReview(string(status))
	s.logAudit(ctx, "verification_reviewed",
		"record_id", next.ID.String(),
		"subject_id", string(next.SubjectID),
		"operator_id", string(operatorID),
		"previous_status", string(prev.Status),
		"decision", string(status),
	)
	s.propagate(ctx, events.TypeReviewed, "", prev, next, string(operatorID), "")

	return models.NewStatusView(next, requestcontext.Now(ctx), models.ViewAdmin), nil
}
