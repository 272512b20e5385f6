package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ekyc/internal/verification/models"
	id "ekyc/pkg/domain"
	dErrors "ekyc/pkg/domain-errors"
	"ekyc/pkg/platform/sentinel"
	"ekyc/pkg/requestcontext"
)

// GetStatus returns the subject's view, creating the default record on the
// first query.
func (s *Service) GetStatus(ctx context.Context, subjectID id.SubjectID) (view *models.StatusView, err error) {
	ctx, span := s.tracer.Start(ctx, "verification.GetStatus", trace.WithAttributes(
		attribute.String("subject_id", string(subjectID)),
	))
	defer func() { endSpan(span, err) }()
	defer s.observe("get_status", time.Now())

	if _, err := id.ParseSubjectID(string(subjectID)); err != nil {
		return nil, err
	}
	// Creation is a write; it must not be abandoned halfway.
	rec, err := s.loadOrCreate(detach(ctx), subjectID)
	if err != nil {
		return nil, err
	}
	return models.NewStatusView(rec, requestcontext.Now(ctx), models.ViewSubject), nil
}

// GetRecord is the operator view of one record.
func (s *Service) GetRecord(ctx context.Context, recordID id.RecordID) (view *models.StatusView, err error) {
	ctx, span := s.tracer.Start(ctx, "verification.GetRecord", trace.WithAttributes(
		attribute.String("record_id", recordID.String()),
	))
	defer func() { endSpan(span, err) }()
	defer s.observe("get_record", time.Now())

	rec, err := s.recordByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	return models.NewStatusView(rec, requestcontext.Now(ctx), models.ViewAdmin), nil
}

// ListRecords returns operator views of every record, most recently updated
// first.
func (s *Service) ListRecords(ctx context.Context) (views []*models.StatusView, err error) {
	ctx, span := s.tracer.Start(ctx, "verification.ListRecords")
	defer func() { endSpan(span, err) }()
	defer s.observe("list_records", time.Now())

	records, err := s.records.ListAll(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list verification records")
	}
	now := requestcontext.Now(ctx)
	views = make([]*models.StatusView, 0, len(records))
	for _, rec := range records {
		views = append(views, models.NewStatusView(rec, now, models.ViewAdmin))
	}
	return views, nil
}

// EvidenceContent is a stored artifact as attached to a record step.
type EvidenceContent struct {
	ContentType      string
	OriginalFilename string
	Checksum         string
	Data             []byte
}

// GetEvidence reads the artifact currently attached to a step so an operator
// can inspect it during review.
func (s *Service) GetEvidence(ctx context.Context, recordID id.RecordID, step models.StepKind) (content *EvidenceContent, err error) {
	ctx, span := s.tracer.Start(ctx, "verification.GetEvidence", trace.WithAttributes(
		attribute.String("record_id", recordID.String()),
		attribute.String("step", string(step)),
	))
	defer func() { endSpan(span, err) }()
	defer s.observe("get_evidence", time.Now())

	if !step.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown step: "+string(step))
	}
	rec, err := s.recordByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	ev := rec.Evidence[step]
	if ev == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "no evidence attached to step")
	}
	data, err := s.evidence.Open(ctx, ev.ArtifactRef)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.logger.ErrorContext(ctx, "attached evidence missing from store",
				"record_id", recordID.String(),
				"step", string(step),
				"artifact_ref", ev.ArtifactRef,
			)
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "evidence artifact not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read evidence artifact")
	}
	return &EvidenceContent{
		ContentType:      ev.ContentType,
		OriginalFilename: ev.OriginalFilename,
		Checksum:         ev.Checksum,
		Data:             data,
	}, nil
}

func (s *Service) recordByID(ctx context.Context, recordID id.RecordID) (*models.VerificationRecord, error) {
	if recordID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "record id is required")
	}
	rec, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "verification record not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification record")
	}
	return rec, nil
}
