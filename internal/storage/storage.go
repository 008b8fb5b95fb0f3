package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"compliance-service/internal/models"
)

// Uploader stores an evidence file and returns its document reference. The
// upload must complete before any workflow state is mutated; a failed upload
// aborts the approval with nothing written.
type Uploader interface {
	Upload(ctx context.Context, fileName string, content io.Reader, contentType string) (models.Document, error)
}

// objectKey namespaces uploads so identically-named files never collide.
func objectKey(fileName string) string {
	return fmt.Sprintf("approvals/%s/%s", uuid.New().String(), fileName)
}

// LocalStore writes files under a base directory. Development fallback when
// no S3 bucket is configured.
type LocalStore struct {
	baseDir string
}

// NewLocalStore creates a new LocalStore
func NewLocalStore(baseDir string) *LocalStore {
	return &LocalStore{baseDir: baseDir}
}

// Upload writes the content to disk and returns a file:// reference.
func (s *LocalStore) Upload(ctx context.Context, fileName string, content io.Reader, contentType string) (models.Document, error) {
	key := objectKey(fileName)
	path := filepath.Join(s.baseDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return models.Document{}, fmt.Errorf("failed to create upload directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return models.Document{}, fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, content); err != nil {
		return models.Document{}, fmt.Errorf("failed to write file: %w", err)
	}

	return models.Document{
		FileURL:  "file://" + path,
		FileName: fileName,
	}, nil
}
