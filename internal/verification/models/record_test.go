package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"ekyc/internal/verification/models"
	id "ekyc/pkg/domain"
	dErrors "ekyc/pkg/domain-errors"
)

const validity = 365 * 24 * time.Hour

type RecordSuite struct {
	suite.Suite
	now     time.Time
	subject id.SubjectID
}

func TestRecordSuite(t *testing.T) {
	suite.Run(t, new(RecordSuite))
}

func (s *RecordSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.subject = id.SubjectID("subject-1")
}

func (s *RecordSuite) newRecord() *models.VerificationRecord {
	rec, err := models.NewVerificationRecord(id.NewRecordID(), s.subject, models.KindEKYC, s.now, validity)
	s.Require().NoError(err)
	return rec
}

func (s *RecordSuite) evidence(ref string) *models.Evidence {
	return &models.Evidence{
		ArtifactRef:        ref,
		VerificationStatus: models.EvidenceVerified,
		ProviderConfidence: 0.9,
		UploadedAt:         s.now,
	}
}

func (s *RecordSuite) completeAll(rec *models.VerificationRecord) {
	for i, step := range models.AllSteps {
		_, err := rec.RecordAttempt(step, s.evidence(string(rune('a'+i))+".jpg"), true, s.now, "subject-1")
		s.Require().NoError(err)
	}
}

func (s *RecordSuite) TestConstruction() {
	s.Run("starts pending with every step incomplete", func() {
		rec := s.newRecord()
		s.Equal(models.StatusPending, rec.Status)
		s.Equal(int64(1), rec.Version)
		s.Empty(rec.History)
		s.Len(rec.Steps, len(models.AllSteps))
		for _, step := range models.AllSteps {
			s.False(rec.Steps[step].Completed)
			s.Zero(rec.Steps[step].Attempts)
		}
		s.Equal(s.now.Add(validity), rec.ExpiryDate)
	})

	s.Run("rejects missing subject", func() {
		_, err := models.NewVerificationRecord(id.NewRecordID(), "", models.KindEKYC, s.now, validity)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.Run("rejects non-positive validity", func() {
		_, err := models.NewVerificationRecord(id.NewRecordID(), s.subject, models.KindEKYC, s.now, 0)
		s.Require().Error(err)
	})
}

func (s *RecordSuite) TestRecordAttempt() {
	s.Run("failed attempt counts but leaves step incomplete", func() {
		rec := s.newRecord()
		_, err := rec.RecordAttempt(models.StepFace, s.evidence("a.jpg"), false, s.now, "subject-1")
		s.Require().NoError(err)

		s.Equal(1, rec.Steps[models.StepFace].Attempts)
		s.False(rec.Steps[models.StepFace].Completed)
		s.Nil(rec.Steps[models.StepFace].CompletedAt)
		s.Require().NotNil(rec.Evidence[models.StepFace])
		s.Require().Len(rec.History, 1)
		s.Equal(models.ActionSubmitStep, rec.History[0].Action)
		s.Equal(models.StatusPending, rec.History[0].Status)
	})

	s.Run("passing attempt completes the step", func() {
		rec := s.newRecord()
		_, err := rec.RecordAttempt(models.StepFace, s.evidence("a.jpg"), true, s.now, "subject-1")
		s.Require().NoError(err)
		s.True(rec.Steps[models.StepFace].Completed)
		s.Require().NotNil(rec.Steps[models.StepFace].CompletedAt)
		s.Equal(s.now, *rec.Steps[models.StepFace].CompletedAt)
	})

	s.Run("returns superseded artifact on resubmission", func() {
		rec := s.newRecord()
		_, err := rec.RecordAttempt(models.StepVoice, s.evidence("old.wav"), false, s.now, "subject-1")
		s.Require().NoError(err)
		superseded, err := rec.RecordAttempt(models.StepVoice, s.evidence("new.wav"), true, s.now, "subject-1")
		s.Require().NoError(err)
		s.Equal("old.wav", superseded)
		s.Equal(2, rec.Steps[models.StepVoice].Attempts)
	})

	s.Run("failing attempt on a completed step keeps its evidence", func() {
		rec := s.newRecord()
		passing := s.evidence("doc-1.png")
		passing.DocumentNumber = "X123"
		_, err := rec.RecordAttempt(models.StepDocument, passing, true, s.now, "subject-1")
		s.Require().NoError(err)
		completedAt := *rec.Steps[models.StepDocument].CompletedAt

		failing := s.evidence("doc-2.png")
		failing.VerificationStatus = models.EvidenceRejected
		later := s.now.Add(time.Minute)
		released, err := rec.RecordAttempt(models.StepDocument, failing, false, later, "subject-1")
		s.Require().NoError(err)

		s.Equal("doc-2.png", released, "the rejected artifact is handed back for release")
		state := rec.Steps[models.StepDocument]
		s.True(state.Completed)
		s.Equal(completedAt, *state.CompletedAt)
		s.Equal(2, state.Attempts)
		s.Require().NotNil(rec.Evidence[models.StepDocument])
		s.Equal("doc-1.png", rec.Evidence[models.StepDocument].ArtifactRef)
		s.Equal(models.EvidenceVerified, rec.Evidence[models.StepDocument].VerificationStatus)
		s.Equal("X123", rec.DocumentNumber())
		s.Len(rec.History, 2)
		s.Equal(later, rec.UpdatedAt)
	})

	s.Run("completed steps never carry rejected evidence", func() {
		rec := s.newRecord()
		s.completeAll(rec)
		for _, step := range models.AllSteps {
			failing := s.evidence("retry-" + string(step))
			failing.VerificationStatus = models.EvidenceRejected
			_, err := rec.RecordAttempt(step, failing, false, s.now, "subject-1")
			s.Require().NoError(err)
		}
		for _, step := range models.AllSteps {
			s.True(rec.Steps[step].Completed, step)
			s.Equal(models.EvidenceVerified, rec.Evidence[step].VerificationStatus, step)
		}
	})

	s.Run("rejects approved record", func() {
		rec := s.newRecord()
		s.Require().NoError(rec.ApplyReview(models.StatusApproved, "", "op-1", s.now, validity))
		_, err := rec.RecordAttempt(models.StepFace, s.evidence("a.jpg"), true, s.now, "subject-1")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("rejects expired record", func() {
		rec := s.newRecord()
		_, err := rec.RecordAttempt(models.StepFace, s.evidence("a.jpg"), true, s.now.Add(validity+time.Second), "subject-1")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}

func (s *RecordSuite) TestResetStep() {
	s.Run("preserves attempts and releases evidence", func() {
		rec := s.newRecord()
		_, err := rec.RecordAttempt(models.StepDocument, s.evidence("doc.png"), true, s.now, "subject-1")
		s.Require().NoError(err)

		released, err := rec.ResetStep(models.StepDocument, s.now, validity, "subject-1")
		s.Require().NoError(err)
		s.Equal("doc.png", released)
		s.False(rec.Steps[models.StepDocument].Completed)
		s.Nil(rec.Steps[models.StepDocument].CompletedAt)
		s.Equal(1, rec.Steps[models.StepDocument].Attempts)
		s.Nil(rec.Evidence[models.StepDocument])
		s.Equal(models.ActionResetStep, rec.History[len(rec.History)-1].Action)
	})

	s.Run("moves rejected back to pending", func() {
		rec := s.newRecord()
		s.Require().NoError(rec.ApplyReview(models.StatusRejected, "blurry", "op-1", s.now, validity))
		_, err := rec.ResetStep(models.StepFace, s.now, validity, "subject-1")
		s.Require().NoError(err)
		s.Equal(models.StatusPending, rec.Status)
	})

	s.Run("refuses approved record and changes nothing", func() {
		rec := s.newRecord()
		s.completeAll(rec)
		rec = models.RecomputeStatus(rec, s.now, validity)
		before := rec.Clone()

		_, err := rec.ResetStep(models.StepFace, s.now, validity, "subject-1")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
		s.Equal(before, rec)
	})

	s.Run("reopens an expired pending record", func() {
		rec := s.newRecord()
		_, err := rec.RecordAttempt(models.StepFace, s.evidence("a.jpg"), true, s.now, "subject-1")
		s.Require().NoError(err)
		lapsed := s.now.Add(validity + time.Hour)
		_, err = rec.RecordAttempt(models.StepVideo, s.evidence("b.mp4"), true, lapsed, "subject-1")
		s.Require().True(dErrors.HasCode(err, dErrors.CodeInvalidState))

		released, err := rec.ResetStep(models.StepFace, lapsed, validity, "subject-1")
		s.Require().NoError(err)
		s.Equal("a.jpg", released)
		s.Equal(models.StatusPending, rec.Status)
		s.Equal(lapsed.Add(validity), rec.ExpiryDate)
		s.False(rec.IsExpiredAt(lapsed))
		s.Contains(rec.History[len(rec.History)-1].Notes, "validity window restarted")
		s.NoError(rec.AcceptsSubmissions(lapsed))
	})

	s.Run("reopens an expired rejected record", func() {
		rec := s.newRecord()
		s.Require().NoError(rec.ApplyReview(models.StatusRejected, "blurry", "op-1", s.now, validity))
		lapsed := s.now.Add(validity + time.Hour)

		_, err := rec.ResetStep(models.StepVoice, lapsed, validity, "subject-1")
		s.Require().NoError(err)
		s.Equal(models.StatusPending, rec.Status)
		s.Equal(lapsed.Add(validity), rec.ExpiryDate)
	})

	s.Run("leaves the window alone on an unexpired record", func() {
		rec := s.newRecord()
		expiry := rec.ExpiryDate
		_, err := rec.ResetStep(models.StepVoice, s.now.Add(time.Hour), validity, "subject-1")
		s.Require().NoError(err)
		s.Equal(expiry, rec.ExpiryDate)
	})

	s.Run("refuses an expired approved record", func() {
		rec := s.newRecord()
		s.Require().NoError(rec.ApplyReview(models.StatusApproved, "", "op-1", s.now, validity))
		_, err := rec.ResetStep(models.StepFace, s.now.Add(validity+time.Hour), validity, "subject-1")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	s.Run("refuses unknown step", func() {
		rec := s.newRecord()
		_, err := rec.ResetStep(models.StepKind("fingerprint"), s.now, validity, "subject-1")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}

func (s *RecordSuite) TestRecomputeStatus() {
	s.Run("approves once every step is complete", func() {
		rec := s.newRecord()
		s.completeAll(rec)
		later := s.now.Add(time.Hour)

		out := models.RecomputeStatus(rec, later, validity)
		s.Equal(models.StatusApproved, out.Status)
		s.Equal(later.Add(validity), out.ExpiryDate)
		last := out.History[len(out.History)-1]
		s.Equal(models.ActionAutoApproval, last.Action)
		s.Equal(models.SystemActor, last.PerformedBy)

		s.Equal(models.StatusPending, rec.Status, "input must not be mutated")
		s.Len(rec.History, len(models.AllSteps))
	})

	s.Run("leaves incomplete records pending", func() {
		rec := s.newRecord()
		_, err := rec.RecordAttempt(models.StepFace, s.evidence("a.jpg"), true, s.now, "subject-1")
		s.Require().NoError(err)
		out := models.RecomputeStatus(rec, s.now, validity)
		s.Equal(models.StatusPending, out.Status)
		s.Len(out.History, 1)
	})

	s.Run("does not auto-approve rejected records", func() {
		rec := s.newRecord()
		s.completeAll(rec)
		s.Require().NoError(rec.ApplyReview(models.StatusRejected, "", "op-1", s.now, validity))
		out := models.RecomputeStatus(rec, s.now, validity)
		s.Equal(models.StatusRejected, out.Status)
	})
}

func (s *RecordSuite) TestApplyReview() {
	s.Run("approves without completed steps", func() {
		rec := s.newRecord()
		later := s.now.Add(24 * time.Hour)
		s.Require().NoError(rec.ApplyReview(models.StatusApproved, "manual check", "op-1", later, validity))
		s.Equal(models.StatusApproved, rec.Status)
		s.Equal(later.Add(validity), rec.ExpiryDate)
		s.Equal(models.ActionVerification, rec.History[0].Action)
		s.Equal("op-1", rec.History[0].PerformedBy)
	})

	s.Run("rejects other decisions", func() {
		rec := s.newRecord()
		err := rec.ApplyReview(models.StatusPending, "", "op-1", s.now, validity)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *RecordSuite) TestStatusView() {
	rec := s.newRecord()
	ev := s.evidence("doc.png")
	ev.DocumentNumber = "X123"
	ev.ExtractedFields = map[string]string{"surname": "DOE"}
	_, err := rec.RecordAttempt(models.StepDocument, ev, true, s.now, "subject-1")
	s.Require().NoError(err)

	s.Run("subject view redacts document details", func() {
		view := models.NewStatusView(rec, s.now, models.ViewSubject)
		doc := view.Step(models.StepDocument)
		s.Require().NotNil(doc.Evidence)
		s.Empty(doc.Evidence.DocumentNumber)
		s.Nil(doc.Evidence.ExtractedFields)
		s.False(view.IsExpired)
		s.False(view.IsValid)
	})

	s.Run("admin view keeps document details", func() {
		view := models.NewStatusView(rec, s.now, models.ViewAdmin)
		doc := view.Step(models.StepDocument)
		s.Equal("X123", doc.Evidence.DocumentNumber)
		s.Equal("DOE", doc.Evidence.ExtractedFields["surname"])
	})

	s.Run("derives expiry at read time", func() {
		approved := rec.Clone()
		s.Require().NoError(approved.ApplyReview(models.StatusApproved, "", "op-1", s.now, validity))

		s.True(models.NewStatusView(approved, s.now, models.ViewSubject).IsValid)
		view := models.NewStatusView(approved, s.now.Add(validity+time.Minute), models.ViewSubject)
		s.True(view.IsExpired)
		s.False(view.IsValid)
		s.Equal(models.StatusExpired, view.Status)
		s.Equal(models.StatusApproved, approved.Status, "expiry is never stored")
	})
}

func TestParseStepKind(t *testing.T) {
	for _, step := range models.AllSteps {
		got, err := models.ParseStepKind(string(step))
		if err != nil || got != step {
			t.Fatalf("ParseStepKind(%q) = %q, %v", step, got, err)
		}
	}
	if _, err := models.ParseStepKind("selfie"); !dErrors.HasCode(err, dErrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
