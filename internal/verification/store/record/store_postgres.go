package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"ekyc/internal/verification/models"
	id "ekyc/pkg/domain"
	"ekyc/pkg/platform/sentinel"
)

const (
	pgUniqueViolation = "23505"

	subjectKindConstraint    = "verification_records_subject_kind_key"
	documentNumberConstraint = "verification_records_document_number_key"
)

// PostgresStore persists records in the verification_records table. The
// unique constraints on (subject_id, kind) and the partial unique index on
// document_number close races between processes.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectColumns = `id, subject_id, kind, status, version, expiry_date, steps, evidence, history, created_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, subjectID id.SubjectID, kind models.VerificationKind) (*models.VerificationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM verification_records WHERE subject_id = $1 AND kind = $2`,
		subjectID.String(), string(kind))
	rec, err := scanRecord(row)
	if err != nil {
		return nil, wrapNotFound(err, "find verification record by subject")
	}
	return rec, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, recordID id.RecordID) (*models.VerificationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM verification_records WHERE id = $1`,
		uuid.UUID(recordID))
	rec, err := scanRecord(row)
	if err != nil {
		return nil, wrapNotFound(err, "find verification record by id")
	}
	return rec, nil
}

// Create inserts the record or, when the subject already holds one of this
// kind, returns the stored record.
func (s *PostgresStore) Create(ctx context.Context, rec *models.VerificationRecord) (*models.VerificationRecord, error) {
	cols, err := toColumns(rec)
	if err != nil {
		return nil, err
	}
	var insertedID uuid.UUID
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO verification_records (
			id, subject_id, kind, status, document_number, version, expiry_date,
			steps, evidence, history, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (subject_id, kind) DO NOTHING
		RETURNING id
	`, uuid.UUID(rec.ID), rec.SubjectID.String(), string(rec.Kind), string(rec.Status), cols.documentNumber,
		rec.Version, rec.ExpiryDate, cols.steps, cols.evidence, cols.history, rec.CreatedAt, rec.UpdatedAt,
	).Scan(&insertedID)
	switch {
	case err == nil:
		return rec.Clone(), nil
	case errors.Is(err, sql.ErrNoRows):
		return s.Get(ctx, rec.SubjectID, rec.Kind)
	default:
		return nil, translateWriteError(err, "create verification record")
	}
}

// CompareAndSwap writes rec if the stored version equals expectedVersion.
func (s *PostgresStore) CompareAndSwap(ctx context.Context, rec *models.VerificationRecord, expectedVersion int64) error {
	if rec.Version != expectedVersion+1 {
		return sentinel.ErrConflict
	}
	cols, err := toColumns(rec)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE verification_records
		SET status = $1,
			document_number = $2,
			version = $3,
			expiry_date = $4,
			steps = $5,
			evidence = $6,
			history = $7,
			updated_at = $8
		WHERE id = $9 AND version = $10
	`, string(rec.Status), cols.documentNumber, rec.Version, rec.ExpiryDate,
		cols.steps, cols.evidence, cols.history, rec.UpdatedAt,
		uuid.UUID(rec.ID), expectedVersion)
	if err != nil {
		return translateWriteError(err, "update verification record")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update verification record: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM verification_records WHERE id = $1)`, uuid.UUID(rec.ID),
	).Scan(&exists); err != nil {
		return fmt.Errorf("check verification record: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrConflict
}

func (s *PostgresStore) FindByDocumentNumber(ctx context.Context, number string) (*models.VerificationRecord, error) {
	if number == "" {
		return nil, sentinel.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM verification_records WHERE document_number = $1`, number)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, wrapNotFound(err, "find verification record by document number")
	}
	return rec, nil
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]*models.VerificationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM verification_records ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list verification records: %w", err)
	}
	defer rows.Close()

	var out []*models.VerificationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verification record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verification records: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.VerificationRecord, error) {
	var (
		recID                    uuid.UUID
		subjectID, kind, status  string
		version                  int64
		expiry, created, updated time.Time
		steps, evidence, history []byte
	)
	if err := row.Scan(&recID, &subjectID, &kind, &status, &version, &expiry,
		&steps, &evidence, &history, &created, &updated); err != nil {
		return nil, err
	}
	if err := checkStatus(models.Status(status)); err != nil {
		return nil, fmt.Errorf("decode verification record %s: %w", recID, err)
	}
	rec := &models.VerificationRecord{
		ID:         id.RecordID(recID),
		SubjectID:  id.SubjectID(subjectID),
		Kind:       models.VerificationKind(kind),
		Status:     models.Status(status),
		ExpiryDate: expiry.UTC(),
		Version:    version,
		CreatedAt:  created.UTC(),
		UpdatedAt:  updated.UTC(),
	}
	var stepMap map[models.StepKind]models.StepState
	if err := json.Unmarshal(steps, &stepMap); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	var evidenceMap map[models.StepKind]*models.Evidence
	if err := json.Unmarshal(evidence, &evidenceMap); err != nil {
		return nil, fmt.Errorf("decode evidence: %w", err)
	}
	var entries []models.AuditEntry
	if err := json.Unmarshal(history, &entries); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	rec.Steps = normalizeSteps(stepMap)
	rec.Evidence = normalizeEvidence(evidenceMap)
	rec.History = normalizeHistory(entries)
	return rec, nil
}

type columns struct {
	documentNumber sql.NullString
	steps          []byte
	evidence       []byte
	history        []byte
}

func toColumns(rec *models.VerificationRecord) (*columns, error) {
	if err := checkStatus(rec.Status); err != nil {
		return nil, err
	}
	steps, err := json.Marshal(rec.Steps)
	if err != nil {
		return nil, fmt.Errorf("encode steps: %w", err)
	}
	evidence, err := json.Marshal(rec.Evidence)
	if err != nil {
		return nil, fmt.Errorf("encode evidence: %w", err)
	}
	history, err := json.Marshal(normalizeHistory(rec.History))
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}
	number := rec.DocumentNumber()
	return &columns{
		documentNumber: sql.NullString{String: number, Valid: number != ""},
		steps:          steps,
		evidence:       evidence,
		history:        history,
	}, nil
}

func wrapNotFound(err error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func translateWriteError(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		switch pgErr.ConstraintName {
		case documentNumberConstraint:
			return sentinel.ErrAlreadyUsed
		case subjectKindConstraint:
			return sentinel.ErrConflict
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
