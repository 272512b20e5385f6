package record_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/suite"

	"ekyc/internal/verification/models"
	"ekyc/internal/verification/store/record"
	id "ekyc/pkg/domain"
	"ekyc/pkg/platform/sentinel"
)

// recordStore is the behaviour every backend must share.
type recordStore interface {
	Get(ctx context.Context, subjectID id.SubjectID, kind models.VerificationKind) (*models.VerificationRecord, error)
	GetByID(ctx context.Context, recordID id.RecordID) (*models.VerificationRecord, error)
	Create(ctx context.Context, rec *models.VerificationRecord) (*models.VerificationRecord, error)
	CompareAndSwap(ctx context.Context, rec *models.VerificationRecord, expectedVersion int64) error
	FindByDocumentNumber(ctx context.Context, number string) (*models.VerificationRecord, error)
	ListAll(ctx context.Context) ([]*models.VerificationRecord, error)
}

// storeContractSuite is embedded by each backend's suite, which sets store
// in SetupTest after resetting its backend.
type storeContractSuite struct {
	suite.Suite
	store recordStore
}

var baseTime = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func (s *storeContractSuite) newRecord(subject string) *models.VerificationRecord {
	rec, err := models.NewVerificationRecord(id.NewRecordID(), id.SubjectID(subject), models.KindEKYC, baseTime, 365*24*time.Hour)
	s.Require().NoError(err)
	return rec
}

func (s *storeContractSuite) create(subject string) *models.VerificationRecord {
	rec, err := s.store.Create(context.Background(), s.newRecord(subject))
	s.Require().NoError(err)
	return rec
}

// withDocument returns the next version of rec carrying a document number.
func withDocument(rec *models.VerificationRecord, number string) *models.VerificationRecord {
	next := rec.Clone()
	_, _ = next.RecordAttempt(models.StepDocument, &models.Evidence{
		ArtifactRef:        "ref-" + number,
		VerificationStatus: models.EvidenceVerified,
		ProviderConfidence: 0.9,
		DocumentKind:       models.DocumentNationalID,
		DocumentNumber:     number,
		UploadedAt:         baseTime,
	}, true, baseTime.Add(time.Minute), "subject")
	next.Version = rec.Version + 1
	return next
}

func (s *storeContractSuite) TestCreateIsGetOrCreate() {
	ctx := context.Background()
	first := s.create("subject-a")

	again, err := s.store.Create(ctx, s.newRecord("subject-a"))
	s.Require().NoError(err)
	s.Equal(first.ID, again.ID, "second create returns the stored record")

	got, err := s.store.Get(ctx, "subject-a", models.KindEKYC)
	s.Require().NoError(err)
	s.Equal(first.ID, got.ID)
	s.Equal(int64(1), got.Version)
	s.Equal(models.StatusPending, got.Status)
	s.Len(got.Steps, len(models.AllSteps))
}

func (s *storeContractSuite) TestConcurrentCreateYieldsOneRecord() {
	ctx := context.Background()
	const goroutines = 20
	var wg sync.WaitGroup
	ids := make(chan id.RecordID, goroutines)
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := s.store.Create(ctx, s.newRecord("subject-race"))
			if err == nil {
				ids <- rec.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[id.RecordID]bool{}
	for recID := range ids {
		seen[recID] = true
	}
	s.Len(seen, 1, "all callers observe the same record")

	all, err := s.store.ListAll(ctx)
	s.Require().NoError(err)
	s.Len(all, 1)
}

func (s *storeContractSuite) TestGetMissing() {
	ctx := context.Background()
	_, err := s.store.Get(ctx, "nobody", models.KindEKYC)
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.GetByID(ctx, id.NewRecordID())
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.FindByDocumentNumber(ctx, "NOPE")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *storeContractSuite) TestCompareAndSwap() {
	ctx := context.Background()
	rec := s.create("subject-cas")

	next := withDocument(rec, "DOC-1")
	s.Require().NoError(s.store.CompareAndSwap(ctx, next, rec.Version))

	got, err := s.store.GetByID(ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal(int64(2), got.Version)
	s.True(got.Steps[models.StepDocument].Completed)
	s.Equal("DOC-1", got.DocumentNumber())
	s.Len(got.History, 1)

	s.Run("stale version is a conflict", func() {
		stale := withDocument(rec, "DOC-1")
		s.ErrorIs(s.store.CompareAndSwap(ctx, stale, rec.Version), sentinel.ErrConflict)
	})

	s.Run("version must advance by exactly one", func() {
		skip := got.Clone()
		skip.Version = got.Version + 2
		s.ErrorIs(s.store.CompareAndSwap(ctx, skip, got.Version), sentinel.ErrConflict)
	})

	s.Run("unknown record is not found", func() {
		ghost := s.newRecord("ghost")
		ghost.Version = 2
		s.ErrorIs(s.store.CompareAndSwap(ctx, ghost, 1), sentinel.ErrNotFound)
	})
}

func (s *storeContractSuite) TestDocumentNumberIsGloballyUnique() {
	ctx := context.Background()
	owner := s.create("subject-owner")
	s.Require().NoError(s.store.CompareAndSwap(ctx, withDocument(owner, "X123"), owner.Version))

	other := s.create("subject-other")
	err := s.store.CompareAndSwap(ctx, withDocument(other, "X123"), other.Version)
	s.ErrorIs(err, sentinel.ErrAlreadyUsed)

	unchanged, err := s.store.GetByID(ctx, other.ID)
	s.Require().NoError(err)
	s.Equal(other.Version, unchanged.Version)
	s.Empty(unchanged.DocumentNumber())

	found, err := s.store.FindByDocumentNumber(ctx, "X123")
	s.Require().NoError(err)
	s.Equal(owner.ID, found.ID)
}

func (s *storeContractSuite) TestReleasingDocumentFreesNumber() {
	ctx := context.Background()
	owner := s.create("subject-release")
	withDoc := withDocument(owner, "R-1")
	s.Require().NoError(s.store.CompareAndSwap(ctx, withDoc, owner.Version))

	reset := withDoc.Clone()
	_, err := reset.ResetStep(models.StepDocument, baseTime.Add(2*time.Minute), 365*24*time.Hour, "subject")
	s.Require().NoError(err)
	reset.Version = withDoc.Version + 1
	s.Require().NoError(s.store.CompareAndSwap(ctx, reset, withDoc.Version))

	_, err = s.store.FindByDocumentNumber(ctx, "R-1")
	s.ErrorIs(err, sentinel.ErrNotFound)

	other := s.create("subject-claims")
	s.NoError(s.store.CompareAndSwap(ctx, withDocument(other, "R-1"), other.Version))
}

func (s *storeContractSuite) TestConcurrentCASHasOneWinner() {
	ctx := context.Background()
	rec := s.create("subject-concurrent")
	const goroutines = 10

	var wg sync.WaitGroup
	var wins, conflicts atomic.Int32
	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := rec.Clone()
			_, _ = next.RecordAttempt(models.StepFace, nil, i%2 == 0, baseTime, "subject")
			next.Version = rec.Version + 1
			err := s.store.CompareAndSwap(ctx, next, rec.Version)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(goroutines-1), conflicts.Load())

	got, err := s.store.GetByID(ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal(int64(2), got.Version)
	s.Equal(1, got.Steps[models.StepFace].Attempts)
}

func (s *storeContractSuite) TestListAll() {
	ctx := context.Background()
	a := s.create("subject-1")
	b := s.create("subject-2")

	bumped := b.Clone()
	bumped.UpdatedAt = baseTime.Add(time.Hour)
	bumped.Version = b.Version + 1
	s.Require().NoError(s.store.CompareAndSwap(ctx, bumped, b.Version))

	all, err := s.store.ListAll(ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(b.ID, all[0].ID, "most recently updated first")
	s.Equal(a.ID, all[1].ID)
}

func (s *storeContractSuite) TestDerivedStatusIsNeverPersisted() {
	ctx := context.Background()

	expired := s.newRecord("subject-expired")
	expired.Status = models.StatusExpired
	_, err := s.store.Create(ctx, expired)
	s.ErrorIs(err, record.ErrInvalidStatus)
	_, err = s.store.Get(ctx, "subject-expired", models.KindEKYC)
	s.ErrorIs(err, sentinel.ErrNotFound)

	stored := s.create("subject-live")
	next := stored.Clone()
	next.Status = models.StatusExpired
	next.Version = stored.Version + 1
	s.ErrorIs(s.store.CompareAndSwap(ctx, next, stored.Version), record.ErrInvalidStatus)

	got, err := s.store.GetByID(ctx, stored.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPending, got.Status)
	s.Equal(stored.Version, got.Version)
}
