package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "ekyc/pkg/domain-errors"
)

// TestParseRecordID_Invariants validates the parsing invariant:
// "record IDs must be valid, non-empty, non-nil UUIDs"
func TestParseRecordID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseRecordID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseRecordID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseRecordID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		validUUID := uuid.New()
		id, err := ParseRecordID(validUUID.String())
		require.NoError(t, err)
		assert.Equal(t, RecordID(validUUID), id)
		assert.False(t, id.IsNil())
	})
}

// TestParseSubjectID_SecurityInvariants validates trust-boundary rules for
// opaque identifiers that end up in storage keys and outbound URLs.
func TestParseSubjectID_SecurityInvariants(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE verification_records;--", true},
		{"Path traversal", "../../../etc/passwd", true},
		{"URL path injection", "abc/verification-status", true},
		{"Null byte injection", "user\x00admin", true},
		{"Oversized input", strings.Repeat("a", 129), true},
		{"Unicode zero-width space", "user\u200B1", true},
		{"Empty string", "", true},
		{"Whitespace only", "   ", true},

		{"Mongo-style object id", "64b7f2c9e13a4d2f9c8b4567", false},
		{"UUID", uuid.NewString(), false},
		{"Namespaced id", "acct:eu-west_1.user-42", false},
		{"Max length", strings.Repeat("a", 128), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseSubjectID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.input, id.String())
		})
	}
}

func TestParseOperatorID(t *testing.T) {
	_, err := ParseOperatorID("")
	require.Error(t, err)

	op, err := ParseOperatorID("reviewer-7")
	require.NoError(t, err)
	assert.Equal(t, "reviewer-7", op.String())
}

func TestRecordIDJSON(t *testing.T) {
	original := NewRecordID()
	data, err := json.Marshal(map[string]RecordID{"id": original})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+original.String()+`"}`, string(data))

	var decoded map[string]RecordID
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original, decoded["id"])

	require.Error(t, json.Unmarshal([]byte(`{"id":"nope"}`), &decoded))
}
