package service

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"ekyc/internal/events"
	"ekyc/internal/evidence/artifact"
	"ekyc/internal/evidence/providers"
	"ekyc/internal/verification/models"
	id "ekyc/pkg/domain"
)

// RecordStore persists verification records. Implementations enforce the
// (subject, kind) and document-number uniqueness constraints themselves and
// report violations as sentinel errors.
type RecordStore interface {
	Get(ctx context.Context, subjectID id.SubjectID, kind models.VerificationKind) (*models.VerificationRecord, error)
	GetByID(ctx context.Context, recordID id.RecordID) (*models.VerificationRecord, error)
	Create(ctx context.Context, rec *models.VerificationRecord) (*models.VerificationRecord, error)
	CompareAndSwap(ctx context.Context, rec *models.VerificationRecord, expectedVersion int64) error
	FindByDocumentNumber(ctx context.Context, number string) (*models.VerificationRecord, error)
	ListAll(ctx context.Context) ([]*models.VerificationRecord, error)
}

// EvidenceStore holds artifact bytes.
type EvidenceStore interface {
	Put(ctx context.Context, data []byte, contentType string) (*artifact.Artifact, error)
	Delete(ctx context.Context, ref string) error
	Exists(ctx context.Context, ref string) (bool, error)
	Open(ctx context.Context, ref string) ([]byte, error)
}

// ProviderGateway scores evidence with the external OCR and liveness providers.
type ProviderGateway interface {
	ExtractDocument(ctx context.Context, kind providers.DocumentKind, image providers.Media) (*providers.DocumentExtraction, error)
	ScoreLiveness(ctx context.Context, kind providers.MediaKind, media providers.Media) (*providers.LivenessResult, error)
}

// IdentitySync pushes the verification outcome to the account service.
type IdentitySync interface {
	Notify(ctx context.Context, subjectID id.SubjectID, status string, isVerified bool, authToken string) error
}

// StatusPublisher emits committed status changes.
type StatusPublisher interface {
	Publish(ctx context.Context, event events.StatusChanged) error
}
