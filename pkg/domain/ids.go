// Package domain holds the identifier primitives shared by every bounded
// context. Parsing happens once at the trust boundary; everything inside the
// engine works with the typed values.
package domain

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	dErrors "ekyc/pkg/domain-errors"
)

// RecordID identifies a verification record.
type RecordID uuid.UUID

// NewRecordID returns a fresh random record ID.
func NewRecordID() RecordID {
	return RecordID(uuid.New())
}

// ParseRecordID parses a record ID at a trust boundary. Nil UUIDs are rejected.
func ParseRecordID(s string) (RecordID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return RecordID{}, err
	}
	return RecordID(u), nil
}

func (id RecordID) String() string { return uuid.UUID(id).String() }

// IsNil reports whether the ID is the zero value.
func (id RecordID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id RecordID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *RecordID) UnmarshalText(b []byte) error {
	parsed, err := ParseRecordID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func parseUUID(s string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, "id is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeValidation, "id must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, "id must not be the nil UUID")
	}
	return u, nil
}

// SubjectID is the opaque account identifier issued by the identity service.
// The engine never interprets it; it only enforces a conservative shape so it
// is safe to use as a storage key and in outbound URLs.
//
// Invariants:
//   - 1 to 128 characters
//   - ASCII letters, digits, '.', '_', ':' and '-' only
type SubjectID string

// OperatorID identifies the human reviewer behind an admin decision.
// Same shape rules as SubjectID.
type OperatorID string

var opaqueIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// ParseSubjectID validates an opaque subject identifier.
func ParseSubjectID(s string) (SubjectID, error) {
	if !opaqueIDPattern.MatchString(s) {
		return "", dErrors.New(dErrors.CodeValidation, "subject id must be 1-128 characters of [A-Za-z0-9._:-]")
	}
	return SubjectID(s), nil
}

// ParseOperatorID validates an operator identifier.
func ParseOperatorID(s string) (OperatorID, error) {
	if !opaqueIDPattern.MatchString(s) {
		return "", dErrors.New(dErrors.CodeValidation, "operator id must be 1-128 characters of [A-Za-z0-9._:-]")
	}
	return OperatorID(s), nil
}

func (id SubjectID) String() string { return string(id) }

// IsZero reports whether the subject ID is unset.
func (id SubjectID) IsZero() bool { return id == "" }

func (id OperatorID) String() string { return string(id) }
