package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ekyc/internal/verification/models"
	id "ekyc/pkg/domain"
)

func TestDecodeRecord(t *testing.T) {
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	rec, err := models.NewVerificationRecord(id.NewRecordID(), "subject-1", models.KindEKYC, now, time.Hour)
	require.NoError(t, err)

	t.Run("fills steps missing from the payload", func(t *testing.T) {
		payload := []byte(`{"id":"` + rec.ID.String() + `","subject_id":"subject-1","kind":"ekyc","status":"pending","version":3}`)
		got, err := decodeRecord(payload)
		require.NoError(t, err)
		assert.Len(t, got.Steps, len(models.AllSteps))
		assert.NotNil(t, got.Evidence)
		assert.NotNil(t, got.History)
		assert.Equal(t, int64(3), got.Version)
	})

	t.Run("rejects a derived status read back from storage", func(t *testing.T) {
		payload := []byte(`{"id":"` + rec.ID.String() + `","subject_id":"subject-1","kind":"ekyc","status":"expired","version":2}`)
		_, err := decodeRecord(payload)
		assert.ErrorIs(t, err, ErrInvalidStatus)
	})

	t.Run("rejects an unknown status", func(t *testing.T) {
		payload := []byte(`{"id":"` + rec.ID.String() + `","status":"archived"}`)
		_, err := decodeRecord(payload)
		assert.ErrorIs(t, err, ErrInvalidStatus)
	})

	t.Run("encoding refuses a derived status", func(t *testing.T) {
		bad := rec.Clone()
		bad.Status = models.StatusExpired
		_, err := encodeRecord(bad)
		assert.ErrorIs(t, err, ErrInvalidStatus)
	})
}
