package providers

import (
	"context"
	"time"
)

// DocumentKind selects the OCR endpoint.
type DocumentKind string

const (
	DocumentPassport       DocumentKind = "passport"
	DocumentNationalID     DocumentKind = "national_id"
	DocumentDriversLicense DocumentKind = "drivers_license"
)

// MediaKind selects the liveness endpoint.
type MediaKind string

const (
	MediaFace  MediaKind = "face"
	MediaVideo MediaKind = "video"
	MediaVoice MediaKind = "voice"
)

// DocumentExtraction is the normalized OCR result.
type DocumentExtraction struct {
	ProviderID    string
	Fields        map[string]string
	PrimaryNumber string  // document number; empty when the provider could not read one
	Confidence    float64 // 0.0-1.0
	CheckedAt     time.Time
}

// LivenessResult is the normalized biometric result.
type LivenessResult struct {
	ProviderID    string
	Confidence    float64 // 0.0-1.0
	LivenessScore float64 // 0.0-1.0
	CheckedAt     time.Time
}

// Media is raw capture bytes plus their sniffed content type.
type Media struct {
	Data        []byte
	ContentType string
}

// Gateway is the uniform interface over the OCR and liveness providers.
// Calls are synchronous and never retried internally; failures are
// *ProviderError values.
type Gateway interface {
	ExtractDocument(ctx context.Context, kind DocumentKind, image Media) (*DocumentExtraction, error)
	ScoreLiveness(ctx context.Context, kind MediaKind, media Media) (*LivenessResult, error)
}
