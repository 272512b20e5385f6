package artifact_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	"ekyc/internal/evidence/artifact"
	dErrors "ekyc/pkg/domain-errors"
	"ekyc/pkg/platform/sentinel"
	"ekyc/pkg/testutil"
)

type FileStoreSuite struct {
	suite.Suite
	root  string
	store *artifact.FileStore
	ctx   context.Context
}

func TestFileStoreSuite(t *testing.T) {
	suite.Run(t, new(FileStoreSuite))
}

func (s *FileStoreSuite) SetupTest() {
	s.root = s.T().TempDir()
	store, err := artifact.NewFileStore(s.root)
	s.Require().NoError(err)
	s.store = store
	s.ctx = context.Background()
}

func (s *FileStoreSuite) TestPut() {
	s.Run("writes bytes under an opaque ref", func() {
		data := testutil.JPEG("put")
		art, err := s.store.Put(s.ctx, data, "image/jpeg")
		s.Require().NoError(err)

		s.Regexp(`^[0-9a-f-]{36}\.jpg$`, art.Ref)
		s.Equal(int64(len(data)), art.Size)
		s.Len(art.Checksum, 64)

		got, err := s.store.Open(s.ctx, art.Ref)
		s.Require().NoError(err)
		s.Equal(data, got)
	})

	s.Run("identical content gets distinct refs", func() {
		data := testutil.PNG("same")
		a, err := s.store.Put(s.ctx, data, "image/png")
		s.Require().NoError(err)
		b, err := s.store.Put(s.ctx, data, "image/png")
		s.Require().NoError(err)
		s.NotEqual(a.Ref, b.Ref)
		s.Equal(a.Checksum, b.Checksum)
	})

	s.Run("leaves no temp files behind", func() {
		_, err := s.store.Put(s.ctx, testutil.WAV("tmp"), "audio/wave")
		s.Require().NoError(err)
		matches, err := filepath.Glob(filepath.Join(s.root, "*", ".upload-*"))
		s.Require().NoError(err)
		s.Empty(matches)
	})

	s.Run("honours cancelled context", func() {
		ctx, cancel := context.WithCancel(s.ctx)
		cancel()
		_, err := s.store.Put(ctx, testutil.JPEG("cancel"), "image/jpeg")
		s.ErrorIs(err, context.Canceled)
	})
}

func (s *FileStoreSuite) TestDeleteAndExists() {
	art, err := s.store.Put(s.ctx, testutil.MP4("del"), "video/mp4")
	s.Require().NoError(err)

	ok, err := s.store.Exists(s.ctx, art.Ref)
	s.Require().NoError(err)
	s.True(ok)

	s.Require().NoError(s.store.Delete(s.ctx, art.Ref))
	ok, err = s.store.Exists(s.ctx, art.Ref)
	s.Require().NoError(err)
	s.False(ok)

	s.Run("deleting twice is not an error", func() {
		s.NoError(s.store.Delete(s.ctx, art.Ref))
	})

	s.Run("open of deleted ref is not found", func() {
		_, err := s.store.Open(s.ctx, art.Ref)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *FileStoreSuite) TestRejectsForeignRefs() {
	outside := filepath.Join(filepath.Dir(s.root), "secret.txt")
	s.Require().NoError(os.WriteFile(outside, []byte("x"), 0o600))

	for _, ref := range []string{"../secret.txt", "passport.jpg", "", "00000000-0000-0000-0000-000000000000.jpg/../x"} {
		_, err := s.store.Exists(s.ctx, ref)
		s.ErrorIs(err, artifact.ErrInvalidRef, ref)
		s.ErrorIs(s.store.Delete(s.ctx, ref), artifact.ErrInvalidRef, ref)
	}
	_, err := os.Stat(outside)
	s.NoError(err)
}

func TestPolicyInspect(t *testing.T) {
	policies := artifact.DefaultPolicies()

	cases := []struct {
		name     string
		class    artifact.MediaClass
		data     []byte
		declared string
		wantType string
		wantErr  bool
	}{
		{name: "jpeg image", class: artifact.MediaImage, data: testutil.JPEG("a"), declared: "image/jpeg", wantType: "image/jpeg"},
		{name: "png without declared type", class: artifact.MediaImage, data: testutil.PNG("a"), wantType: "image/png"},
		{name: "jpg alias", class: artifact.MediaImage, data: testutil.JPEG("a"), declared: "image/jpg", wantType: "image/jpeg"},
		{name: "mp4 video", class: artifact.MediaVideo, data: testutil.MP4("a"), declared: "video/mp4", wantType: "video/mp4"},
		{name: "webm video", class: artifact.MediaVideo, data: testutil.WebM("a"), wantType: "video/webm"},
		{name: "wav audio", class: artifact.MediaAudio, data: testutil.WAV("a"), declared: "audio/wav", wantType: "audio/wave"},
		{name: "mp3 audio", class: artifact.MediaAudio, data: testutil.MP3("a"), declared: "audio/mpeg", wantType: "audio/mpeg"},
		{name: "text posing as image", class: artifact.MediaImage, data: testutil.Text("a"), declared: "image/jpeg", wantErr: true},
		{name: "declared type disagrees", class: artifact.MediaImage, data: testutil.PNG("a"), declared: "image/jpeg", wantErr: true},
		{name: "video sent as image", class: artifact.MediaImage, data: testutil.MP4("a"), wantErr: true},
		{name: "empty artifact", class: artifact.MediaAudio, data: nil, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := policies[tc.class].Inspect(tc.data, tc.declared)
			if tc.wantErr {
				if !dErrors.HasCode(err, dErrors.CodeInvalidEvidence) {
					t.Fatalf("expected invalid_evidence, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.wantType {
				t.Fatalf("content type = %q, want %q", got, tc.wantType)
			}
		})
	}

	t.Run("oversized artifact", func(t *testing.T) {
		p := artifact.Policy{Class: artifact.MediaImage, MaxBytes: 8, ContentTypes: []string{"image/jpeg"}}
		if _, err := p.Inspect(testutil.JPEG("big"), ""); !dErrors.HasCode(err, dErrors.CodeInvalidEvidence) {
			t.Fatalf("expected invalid_evidence, got %v", err)
		}
	})
}
