// Package record persists verification records. Every implementation
// enforces two uniqueness constraints itself: one record per (subject, kind)
// and one record per attached document number.
package record

import (
	"context"
	"sort"
	"sync"

	"ekyc/internal/verification/models"
	id "ekyc/pkg/domain"
	"ekyc/pkg/platform/sentinel"
)

type subjectKey struct {
	subject id.SubjectID
	kind    models.VerificationKind
}

// InMemoryStore is a process-local store for tests and single-node runs.
// Records are cloned on the way in and out so callers never share state.
type InMemoryStore struct {
	mu         sync.RWMutex
	byID       map[id.RecordID]*models.VerificationRecord
	bySubject  map[subjectKey]id.RecordID
	byDocument map[string]id.RecordID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		byID:       make(map[id.RecordID]*models.VerificationRecord),
		bySubject:  make(map[subjectKey]id.RecordID),
		byDocument: make(map[string]id.RecordID),
	}
}

func (s *InMemoryStore) Get(_ context.Context, subjectID id.SubjectID, kind models.VerificationKind) (*models.VerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recID, ok := s.bySubject[subjectKey{subjectID, kind}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.byID[recID].Clone(), nil
}

func (s *InMemoryStore) GetByID(_ context.Context, recordID id.RecordID) (*models.VerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[recordID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return rec.Clone(), nil
}

// Create inserts the record unless one already exists for its subject and
// kind, in which case the existing record is returned unchanged.
func (s *InMemoryStore) Create(_ context.Context, rec *models.VerificationRecord) (*models.VerificationRecord, error) {
	if err := checkStatus(rec.Status); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := subjectKey{rec.SubjectID, rec.Kind}
	if existing, ok := s.bySubject[key]; ok {
		return s.byID[existing].Clone(), nil
	}
	if _, ok := s.byID[rec.ID]; ok {
		return nil, sentinel.ErrConflict
	}
	if number := rec.DocumentNumber(); number != "" {
		if _, taken := s.byDocument[number]; taken {
			return nil, sentinel.ErrAlreadyUsed
		}
		s.byDocument[number] = rec.ID
	}
	s.byID[rec.ID] = rec.Clone()
	s.bySubject[key] = rec.ID
	return rec.Clone(), nil
}

// CompareAndSwap replaces the stored record if its version still equals
// expectedVersion. rec.Version must be expectedVersion+1.
func (s *InMemoryStore) CompareAndSwap(_ context.Context, rec *models.VerificationRecord, expectedVersion int64) error {
	if rec.Version != expectedVersion+1 {
		return sentinel.ErrConflict
	}
	if err := checkStatus(rec.Status); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[rec.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return sentinel.ErrConflict
	}

	oldNumber := current.DocumentNumber()
	newNumber := rec.DocumentNumber()
	if newNumber != "" && newNumber != oldNumber {
		if owner, taken := s.byDocument[newNumber]; taken && owner != rec.ID {
			return sentinel.ErrAlreadyUsed
		}
	}
	if oldNumber != "" && oldNumber != newNumber {
		delete(s.byDocument, oldNumber)
	}
	if newNumber != "" {
		s.byDocument[newNumber] = rec.ID
	}
	s.byID[rec.ID] = rec.Clone()
	return nil
}

func (s *InMemoryStore) FindByDocumentNumber(_ context.Context, number string) (*models.VerificationRecord, error) {
	if number == "" {
		return nil, sentinel.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	recID, ok := s.byDocument[number]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.byID[recID].Clone(), nil
}

// ListAll returns every record, most recently updated first.
func (s *InMemoryStore) ListAll(_ context.Context) ([]*models.VerificationRecord, error) {
	s.mu.RLock()
	out := make([]*models.VerificationRecord, 0, len(s.byID))
	for _, rec := range s.byID {
		out = append(out, rec.Clone())
	}
	s.mu.RUnlock()
	sortRecords(out)
	return out, nil
}

func sortRecords(records []*models.VerificationRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].UpdatedAt.Equal(records[j].UpdatedAt) {
			return records[i].UpdatedAt.After(records[j].UpdatedAt)
		}
		return records[i].ID.String() < records[j].ID.String()
	})
}
