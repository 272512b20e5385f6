package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ekyc/internal/verification/models"
	id "ekyc/pkg/domain"
)

// ErrInvalidStatus is returned when a record carries a status that may not be
// persisted, either on its way in or when read back.
var ErrInvalidStatus = errors.New("verification record status cannot be stored")

func checkStatus(status models.Status) error {
	if !status.IsStored() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, string(status))
	}
	return nil
}

// recordDoc is the serialized form shared by the Redis store and the JSONB
// columns of the Postgres store.
type recordDoc struct {
	ID         string                               `json:"id"`
	SubjectID  string                               `json:"subject_id"`
	Kind       string                               `json:"kind"`
	Status     string                               `json:"status"`
	Steps      map[models.StepKind]models.StepState `json:"steps"`
	Evidence   map[models.StepKind]*models.Evidence `json:"evidence"`
	History    []models.AuditEntry                  `json:"history"`
	ExpiryDate time.Time                            `json:"expiry_date"`
	Version    int64                                `json:"version"`
	CreatedAt  time.Time                            `json:"created_at"`
	UpdatedAt  time.Time                            `json:"updated_at"`
}

func encodeRecord(r *models.VerificationRecord) ([]byte, error) {
	if err := checkStatus(r.Status); err != nil {
		return nil, err
	}
	return json.Marshal(recordDoc{
		ID:         r.ID.String(),
		SubjectID:  r.SubjectID.String(),
		Kind:       string(r.Kind),
		Status:     string(r.Status),
		Steps:      r.Steps,
		Evidence:   r.Evidence,
		History:    r.History,
		ExpiryDate: r.ExpiryDate,
		Version:    r.Version,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	})
}

func decodeRecord(data []byte) (*models.VerificationRecord, error) {
	var doc recordDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode verification record: %w", err)
	}
	parsed, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("decode verification record id: %w", err)
	}
	if err := checkStatus(models.Status(doc.Status)); err != nil {
		return nil, fmt.Errorf("decode verification record %s: %w", doc.ID, err)
	}
	return &models.VerificationRecord{
		ID:         id.RecordID(parsed),
		SubjectID:  id.SubjectID(doc.SubjectID),
		Kind:       models.VerificationKind(doc.Kind),
		Status:     models.Status(doc.Status),
		Steps:      normalizeSteps(doc.Steps),
		Evidence:   normalizeEvidence(doc.Evidence),
		History:    normalizeHistory(doc.History),
		ExpiryDate: doc.ExpiryDate,
		Version:    doc.Version,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}, nil
}

func normalizeSteps(steps map[models.StepKind]models.StepState) map[models.StepKind]models.StepState {
	out := make(map[models.StepKind]models.StepState, len(models.AllSteps))
	for _, step := range models.AllSteps {
		out[step] = steps[step]
	}
	return out
}

func normalizeEvidence(ev map[models.StepKind]*models.Evidence) map[models.StepKind]*models.Evidence {
	out := make(map[models.StepKind]*models.Evidence, len(ev))
	for k, v := range ev {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

func normalizeHistory(h []models.AuditEntry) []models.AuditEntry {
	if h == nil {
		return []models.AuditEntry{}
	}
	return h
}
