package service

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ekyc/internal/events"
	"ekyc/internal/evidence/artifact"
	"ekyc/internal/evidence/capture"
	"ekyc/internal/evidence/providers"
	"ekyc/internal/verification/models"
	id "ekyc/pkg/domain"
	dErrors "ekyc/pkg/domain-errors"
	"ekyc/pkg/platform/sentinel"
	"ekyc/pkg/requestcontext"
)

// SubmitMetadata is what the capture client says about the artifact. None
// of it is trusted for storage: the content type is re-sniffed and the
// filename is kept for audit only.
type SubmitMetadata struct {
	ContentType  string
	DocumentKind string
	UserAgent    string
	Filename     string
}

type SubmitRequest struct {
	SubjectID id.SubjectID
	Step      models.StepKind
	Artifact  []byte
	Metadata  SubmitMetadata
	AuthToken string
}

// StepResult reports one accepted submission. Passed is false for a
// low-confidence attempt, which is still recorded. ArtifactRef is empty when
// the attempt failed on an already completed step and its artifact was not
// kept.
type StepResult struct {
	RecordID      id.RecordID
	Step          models.StepKind
	Passed        bool
	Attempts      int
	Status        models.Status
	AutoApproved  bool
	ArtifactRef   string
	Confidence    float64
	LivenessScore *float64
	Version       int64
	Record        *models.StatusView
}

// providerVerdict is the scored outcome of one submission.
type providerVerdict struct {
	passed        bool
	confidence    float64
	livenessScore *float64
	fields        map[string]string
	number        string
	documentKind  models.DocumentKind
}

// SubmitStep scores an artifact for one step, stores it and records the
// attempt. A record that completes its last step is auto-approved in the
// same write.
func (s *Service) SubmitStep(ctx context.Context, req SubmitRequest) (result *StepResult, err error) {
	ctx = detach(ctx)
	ctx, span := s.tracer.Start(ctx, "verification.SubmitStep", trace.WithAttributes(
		attribute.String("subject_id", string(req.SubjectID)),
		attribute.String("step", string(req.Step)),
	))
	defer func() { endSpan(span, err) }()
	defer s.observe("submit_step", time.Now())
	defer func() {
		outcome := "error"
		switch {
		case err == nil && result.Passed:
			outcome = "passed"
		case err == nil:
			outcome = "failed"
		case dErrors.HasCode(err, dErrors.CodeDuplicateDocument):
			outcome = "duplicate"
		case dErrors.HasCode(err, dErrors.CodeInvalidEvidence):
			outcome = "invalid"
		}
		s.metrics.IncrementStepSubmission(string(req.Step), outcome)
	}()

	if _, err := id.ParseSubjectID(string(req.SubjectID)); err != nil {
		return nil, err
	}
	if !req.Step.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidEvidence, "unknown step: "+string(req.Step))
	}
	contentType, err := s.policyFor(req.Step).Inspect(req.Artifact, req.Metadata.ContentType)
	if err != nil {
		return nil, err
	}
	docKind := models.DocumentKind("")
	if req.Step == models.StepDocument {
		if docKind, err = models.ParseDocumentKind(req.Metadata.DocumentKind); err != nil {
			return nil, err
		}
	}

	rec, err := s.loadOrCreate(ctx, req.SubjectID)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	if err := rec.AcceptsSubmissions(now); err != nil {
		return nil, err
	}

	media := providers.Media{Data: req.Artifact, ContentType: contentType}
	verdict, err := s.score(ctx, req.Step, docKind, media)
	if err != nil {
		return nil, err
	}
	if verdict.number != "" {
		if err := s.ensureDocumentUnclaimed(ctx, rec, verdict.number); err != nil {
			return nil, err
		}
	}

	stored, err := s.evidence.Put(ctx, req.Artifact, contentType)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store artifact")
	}

	evidence := &models.Evidence{
		ArtifactRef:        stored.Ref,
		VerificationStatus: models.EvidenceRejected,
		ProviderConfidence: verdict.confidence,
		LivenessScore:      verdict.livenessScore,
		ExtractedFields:    verdict.fields,
		DocumentKind:       verdict.documentKind,
		DocumentNumber:     verdict.number,
		ContentType:        stored.ContentType,
		Size:               stored.Size,
		Checksum:           stored.Checksum,
		CaptureDevice:      captureDevice(ctx, req.Metadata.UserAgent),
		OriginalFilename:   cleanFilename(req.Metadata.Filename),
		UploadedAt:         now,
	}
	if verdict.passed {
		evidence.VerificationStatus = models.EvidenceVerified
	}

	var released string
	prev, next, err := s.commit(ctx, "submit_step", rec, func(next *models.VerificationRecord, now time.Time) error {
		var err error
		released, err = next.RecordAttempt(req.Step, evidence, verdict.passed, now, string(req.SubjectID))
		return err
	})
	if err != nil {
		s.discardArtifact(ctx, stored.Ref, "record write failed")
		if dErrors.HasCode(err, dErrors.CodeDuplicateDocument) {
			s.metrics.IncrementDuplicateDocument()
			s.logAudit(ctx, "duplicate_document_rejected",
				"record_id", rec.ID.String(),
				"subject_id", string(req.SubjectID),
			)
		}
		return nil, err
	}
	artifactRef := stored.Ref
	switch released {
	case "":
	case stored.Ref:
		artifactRef = ""
		s.discardArtifact(ctx, released, "completed step kept its evidence")
	default:
		s.discardArtifact(ctx, released, "evidence superseded")
	}

	autoApproved := prev.Status == models.StatusPending && next.Status == models.StatusApproved
	if autoApproved {
		s.metrics.IncrementAutoApproval()
		s.logAudit(ctx, "verification_auto_approved",
			"record_id", next.ID.String(),
			"subject_id", string(next.SubjectID),
		)
	}
	s.logAudit(ctx, "verification_step_submitted",
		"record_id", next.ID.String(),
		"subject_id", string(next.SubjectID),
		"step", string(req.Step),
		"passed", verdict.passed,
		"attempts", next.Steps[req.Step].Attempts,
		"version", next.Version,
	)

	s.propagate(ctx, events.TypeStepSubmitted, req.Step, prev, next, string(req.SubjectID), req.AuthToken)

	view := models.NewStatusView(next, now, models.ViewSubject)
	return &StepResult{
		RecordID:      next.ID,
		Step:          req.Step,
		Passed:        verdict.passed,
		Attempts:      next.Steps[req.Step].Attempts,
		Status:        view.Status,
		AutoApproved:  autoApproved,
		ArtifactRef:   artifactRef,
		Confidence:    verdict.confidence,
		LivenessScore: verdict.livenessScore,
		Version:       next.Version,
		Record:        view,
	}, nil
}

func (s *Service) policyFor(step models.StepKind) artifact.Policy {
	switch step {
	case models.StepVideo:
		return s.cfg.Policies[artifact.MediaVideo]
	case models.StepVoice:
		return s.cfg.Policies[artifact.MediaAudio]
	default:
		return s.cfg.Policies[artifact.MediaImage]
	}
}

// score calls the provider for the step. Thresholds are exclusive: a score
// equal to the threshold does not pass.
func (s *Service) score(ctx context.Context, step models.StepKind, docKind models.DocumentKind, media providers.Media) (*providerVerdict, error) {
	if step == models.StepDocument {
		extraction, err := s.gateway.ExtractDocument(ctx, providers.DocumentKind(docKind), media)
		if err != nil {
			return nil, s.providerFailure(ctx, step, err)
		}
		number := strings.TrimSpace(extraction.PrimaryNumber)
		return &providerVerdict{
			passed:       number != "",
			confidence:   extraction.Confidence,
			fields:       extraction.Fields,
			number:       number,
			documentKind: docKind,
		}, nil
	}

	result, err := s.gateway.ScoreLiveness(ctx, providers.MediaKind(step), media)
	if err != nil {
		return nil, s.providerFailure(ctx, step, err)
	}
	if step.UsesLiveness() {
		liveness := result.LivenessScore
		return &providerVerdict{
			passed:        liveness > s.cfg.LivenessThreshold,
			confidence:    result.Confidence,
			livenessScore: &liveness,
		}, nil
	}
	return &providerVerdict{
		passed:     result.Confidence > s.cfg.VoiceConfidenceThreshold,
		confidence: result.Confidence,
	}, nil
}

func (s *Service) providerFailure(ctx context.Context, step models.StepKind, err error) error {
	s.logger.WarnContext(ctx, "provider call failed",
		"step", string(step),
		"category", string(providers.GetCategory(err)),
		"error", err,
	)
	return dErrors.Wrap(err, dErrors.CodeProviderUnavailable, "verification provider unavailable")
}

// ensureDocumentUnclaimed rejects a number another record already holds.
// The store constraint closes the race this read leaves open.
func (s *Service) ensureDocumentUnclaimed(ctx context.Context, rec *models.VerificationRecord, number string) error {
	owner, err := s.records.FindByDocumentNumber(ctx, number)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return nil
	case err != nil:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check document number")
	case owner.ID == rec.ID:
		return nil
	}
	s.metrics.IncrementDuplicateDocument()
	s.logAudit(ctx, "duplicate_document_rejected",
		"record_id", rec.ID.String(),
		"subject_id", string(rec.SubjectID),
		"holder_record_id", owner.ID.String(),
	)
	return dErrors.New(dErrors.CodeDuplicateDocument, "document number is already registered")
}

func captureDevice(ctx context.Context, userAgent string) string {
	if userAgent == "" {
		userAgent = requestcontext.UserAgent(ctx)
	}
	if userAgent == "" {
		return ""
	}
	return capture.ParseUserAgent(userAgent)
}

// cleanFilename drops any directory part and caps the length.
func cleanFilename(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	name = path.Base(name)
	if name == "." || name == "/" {
		return ""
	}
	if len(name) > 255 {
		name = name[:255]
	}
	return name
}
