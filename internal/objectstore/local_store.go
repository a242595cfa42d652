package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/book-expert/speech-service/internal/fileutil"
)

const filePermissions = 0o600

// LocalStore keeps objects as files in a single directory.
type LocalStore struct {
	dir string
}

// NewLocalStore creates dir if needed and returns a store rooted there.
func NewLocalStore(dir string) (*LocalStore, error) {
	err := fileutil.EnsureDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare local store: %w", err)
	}

	return &LocalStore{dir: dir}, nil
}

// Dir returns the directory objects are written to.
func (l *LocalStore) Dir() string {
	return l.dir
}

// Download reads the file named key.
func (l *LocalStore) Download(_ context.Context, key string) ([]byte, error) {
	keyErr := validateKey(key)
	if keyErr != nil {
		return nil, keyErr
	}

	data, err := os.ReadFile(filepath.Join(l.dir, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: '%s' in %s", ErrObjectNotFound, key, l.dir)
		}

		return nil, fmt.Errorf("failed to read object '%s': %w", key, err)
	}

	return data, nil
}

// Upload writes data to a temporary file and renames it into place so readers
// never observe a partial object.
func (l *LocalStore) Upload(_ context.Context, key string, data []byte) error {
	keyErr := validateKey(key)
	if keyErr != nil {
		return keyErr
	}

	tempFile, err := os.CreateTemp(l.dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for '%s': %w", key, err)
	}

	tempName := tempFile.Name()

	_, writeErr := tempFile.Write(data)
	closeErr := tempFile.Close()

	if writeErr == nil {
		writeErr = closeErr
	}

	if writeErr == nil {
		writeErr = os.Chmod(tempName, filePermissions)
	}

	if writeErr == nil {
		writeErr = os.Rename(tempName, filepath.Join(l.dir, key))
	}

	if writeErr != nil {
		_ = os.Remove(tempName)

		return fmt.Errorf("failed to write object '%s': %w", key, writeErr)
	}

	return nil
}
