// Package service is the verification engine. It orchestrates step
// submission, reset and operator review over the record store, the evidence
// store, the provider gateway and the identity-sync notifier.
//
// Ordering on every mutating path is fixed: score, write the artifact,
// then commit the record with a version check. A failed commit deletes the
// artifact it wrote; a committed record never points at a missing artifact.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"ekyc/internal/events"
	"ekyc/internal/evidence/artifact"
	"ekyc/internal/verification/metrics"
	"ekyc/internal/verification/models"
	id "ekyc/pkg/domain"
	dErrors "ekyc/pkg/domain-errors"
	"ekyc/pkg/platform/sentinel"
	"ekyc/pkg/requestcontext"
)

// maxCommitAttempts bounds the optimistic-concurrency loop: the first write
// plus one retry against a freshly loaded record.
const maxCommitAttempts = 2

// Config holds the scoring thresholds, record lifetime and media policies.
type Config struct {
	LivenessThreshold        float64
	VoiceConfidenceThreshold float64
	RecordValidity           time.Duration
	Policies                 map[artifact.MediaClass]artifact.Policy
}

// DefaultConfig returns the reference thresholds.
func DefaultConfig() Config {
	return Config{
		LivenessThreshold:        0.5,
		VoiceConfidenceThreshold: 0.5,
		RecordValidity:           365 * 24 * time.Hour,
		Policies:                 artifact.DefaultPolicies(),
	}
}

// Service is the verification engine.
type Service struct {
	records   RecordStore
	evidence  EvidenceStore
	gateway   ProviderGateway
	identity  IdentitySync
	publisher StatusPublisher
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	creates   singleflight.Group
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithPublisher enables status-change events.
func WithPublisher(p StatusPublisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithConfig(cfg Config) Option {
	return func(s *Service) {
		s.cfg = cfg
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// New wires the engine. The four collaborators are required.
func New(records RecordStore, evidence EvidenceStore, gateway ProviderGateway, identity IdentitySync, opts ...Option) (*Service, error) {
	if records == nil {
		return nil, errors.New("record store is required")
	}
	if evidence == nil {
		return nil, errors.New("evidence store is required")
	}
	if gateway == nil {
		return nil, errors.New("provider gateway is required")
	}
	if identity == nil {
		return nil, errors.New("identity sync client is required")
	}
	s := &Service{
		records:  records,
		evidence: evidence,
		gateway:  gateway,
		identity: identity,
		cfg:      DefaultConfig(),
		logger:   slog.Default(),
		tracer:   otel.Tracer("ekyc/verification"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.Policies == nil {
		s.cfg.Policies = artifact.DefaultPolicies()
	}
	if s.cfg.RecordValidity <= 0 {
		return nil, errors.New("record validity must be positive")
	}
	return s, nil
}

// loadOrCreate returns the subject's record, creating the default one on
// first use. Concurrent first calls for one subject share a single Create.
func (s *Service) loadOrCreate(ctx context.Context, subjectID id.SubjectID) (*models.VerificationRecord, error) {
	rec, err := s.records.Get(ctx, subjectID, models.KindEKYC)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification record")
	}

	v, err, _ := s.creates.Do(string(subjectID), func() (any, error) {
		fresh, err := models.NewVerificationRecord(id.NewRecordID(), subjectID, models.KindEKYC, requestcontext.Now(ctx), s.cfg.RecordValidity)
		if err != nil {
			return nil, err
		}
		created, err := s.records.Create(ctx, fresh)
		if err != nil {
			return nil, err
		}
		if created.ID == fresh.ID {
			s.logAudit(ctx, "verification_record_created",
				"record_id", created.ID.String(),
				"subject_id", string(subjectID),
			)
		}
		return created, nil
	})
	if err != nil {
		var de *dErrors.Error
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create verification record")
	}
	return v.(*models.VerificationRecord).Clone(), nil
}

// mutation applies a change to a private copy of the record. It runs again
// against a reloaded record when the first commit loses a race.
type mutation func(next *models.VerificationRecord, now time.Time) error

// commit applies fn, recomputes the aggregate status and writes the result
// with a version check. It returns the record the mutation was based on and
// the committed record.
func (s *Service) commit(ctx context.Context, op string, current *models.VerificationRecord, fn mutation) (*models.VerificationRecord, *models.VerificationRecord, error) {
	now := requestcontext.Now(ctx)
	for attempt := 1; ; attempt++ {
		next := current.Clone()
		if err := fn(next, now); err != nil {
			return nil, nil, err
		}
		next = models.RecomputeStatus(next, now, s.cfg.RecordValidity)
		next.Version = current.Version + 1

		err := s.records.CompareAndSwap(ctx, next, current.Version)
		switch {
		case err == nil:
			return current, next, nil
		case errors.Is(err, sentinel.ErrConflict):
			if attempt >= maxCommitAttempts {
				s.metrics.IncrementCASConflict(op, "exhausted")
				s.logger.WarnContext(ctx, "verification record write lost the race twice",
					"operation", op,
					"record_id", current.ID.String(),
				)
				return nil, nil, dErrors.Wrap(err, dErrors.CodeConflict, "verification record was modified concurrently")
			}
			s.metrics.IncrementCASConflict(op, "retried")
			reloaded, err := s.records.GetByID(ctx, current.ID)
			if err != nil {
				return nil, nil, translateStoreError(err, "failed to reload verification record")
			}
			current = reloaded
		default:
			return nil, nil, translateStoreError(err, "failed to save verification record")
		}
	}
}

func translateStoreError(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "verification record not found")
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.Wrap(err, dErrors.CodeDuplicateDocument, "document number is already registered")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "verification record was modified concurrently")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

// propagate tells the account service and event consumers about a
// committed record. Both are best-effort: failures are logged and counted,
// never returned.
func (s *Service) propagate(ctx context.Context, eventType string, step models.StepKind, prev, next *models.VerificationRecord, performedBy, authToken string) {
	now := requestcontext.Now(ctx)
	status := next.Status
	if next.IsExpiredAt(now) {
		status = models.StatusExpired
	}
	isVerified := next.IsValidAt(now)

	if err := s.identity.Notify(ctx, next.SubjectID, string(status), isVerified, authToken); err != nil {
		s.metrics.IncrementIdentitySyncFailure()
		s.logger.WarnContext(ctx, "identity sync failed",
			"record_id", next.ID.String(),
			"status", string(status),
			"error", err,
		)
	}

	if s.publisher == nil {
		return
	}
	if prev.Status == models.StatusPending && next.Status == models.StatusApproved && eventType == events.TypeStepSubmitted {
		eventType = events.TypeAutoApproved
	}
	event := events.StatusChanged{
		Type:           eventType,
		OccurredAt:     now,
		RecordID:       next.ID.String(),
		SubjectID:      string(next.SubjectID),
		Kind:           string(next.Kind),
		Step:           string(step),
		PreviousStatus: string(prev.Status),
		Status:         string(status),
		IsVerified:     isVerified,
		Version:        next.Version,
		PerformedBy:    performedBy,
		RequestID:      requestcontext.RequestID(ctx),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "status event not published",
			"record_id", next.ID.String(),
			"error", err,
		)
	}
}

// discardArtifact deletes an artifact written by a failed operation.
func (s *Service) discardArtifact(ctx context.Context, ref, reason string) {
	if ref == "" {
		return
	}
	if err := s.evidence.Delete(ctx, ref); err != nil {
		s.logger.ErrorContext(ctx, "artifact rollback failed; artifact orphaned",
			"artifact_ref", ref,
			"reason", reason,
			"error", err,
		)
	}
}

// logAudit emits an audit-style log line with the request id attached.
func (s *Service) logAudit(ctx context.Context, event string, attrs ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	args := append(attrs, "event", event, "log_type", "audit")
	s.logger.InfoContext(ctx, event, args...)
}

// detach keeps request values but drops cancellation: a mutation that
// started runs to completion even if the caller goes away.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.GetCode(err)))
	}
	span.End()
}

func (s *Service) observe(op string, start time.Time) {
	s.metrics.ObserveOperation(op, time.Since(start))
}
