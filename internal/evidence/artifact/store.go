// Package artifact persists raw evidence bytes on local disk under opaque,
// collision-resistant refs. Client filenames never reach the filesystem.
package artifact

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"ekyc/pkg/platform/sentinel"
)

// Artifact describes bytes that were durably written.
type Artifact struct {
	Ref         string
	ContentType string
	Size        int64
	Checksum    string
}

// refPattern accepts exactly what Put generates: a UUIDv4 plus a short extension.
var refPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\.[a-z0-9]{1,5}$`)

// ErrInvalidRef is returned for refs that Put could not have produced.
var ErrInvalidRef = errors.New("invalid artifact ref")

// FileStore writes each artifact to <root>/<ref[0:2]>/<ref>.
type FileStore struct {
	root     string
	dirPerm  fs.FileMode
	filePerm fs.FileMode
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("artifact root directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &FileStore{root: abs, dirPerm: 0o750, filePerm: 0o640}, nil
}

// Put writes data and returns once the file and its directory entry are
// synced. The write goes to a temp file that is renamed into place, so a
// crash never leaves a partial artifact under a valid ref.
func (s *FileStore) Put(ctx context.Context, data []byte, contentType string) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ref := uuid.NewString() + Extension(contentType)
	dir := s.shardDir(ref)
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return nil, fmt.Errorf("create shard directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return nil, fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Chmod(s.filePerm); err != nil {
		return nil, fmt.Errorf("chmod artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, ref)); err != nil {
		return nil, fmt.Errorf("commit artifact: %w", err)
	}
	committed = true
	if err := syncDir(dir); err != nil {
		_ = os.Remove(filepath.Join(dir, ref))
		return nil, fmt.Errorf("sync shard directory: %w", err)
	}

	sum := blake2b.Sum256(data)
	return &Artifact{
		Ref:         ref,
		ContentType: contentType,
		Size:        int64(len(data)),
		Checksum:    hex.EncodeToString(sum[:]),
	}, nil
}

// Delete removes an artifact. Deleting a missing ref succeeds.
func (s *FileStore) Delete(_ context.Context, ref string) error {
	path, err := s.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

// Exists reports whether the ref is stored.
func (s *FileStore) Exists(_ context.Context, ref string) (bool, error) {
	path, err := s.path(ref)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat artifact: %w", err)
	}
}

// Open returns the stored bytes, or sentinel.ErrNotFound.
func (s *FileStore) Open(_ context.Context, ref string) ([]byte, error) {
	path, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

func (s *FileStore) path(ref string) (string, error) {
	if !refPattern.MatchString(ref) {
		return "", ErrInvalidRef
	}
	return filepath.Join(s.shardDir(ref), ref), nil
}

func (s *FileStore) shardDir(ref string) string {
	return filepath.Join(s.root, ref[:2])
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
