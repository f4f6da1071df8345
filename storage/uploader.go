package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
)

type UploadResult struct {
	Key      string
	Location string
	ETag     string
}

// FileUploader abstracts the object store used for recalculation preview
// archives so services never depend on the R2 client directly.
type FileUploader interface {
	Upload(ctx context.Context, key string, contentType string, reader io.Reader) (*UploadResult, error)

	Delete(ctx context.Context, key string) error

	GetPublicURL(key string) string
}

// RecalculationArchiveKey builds the object key under which the full preview
// payload of a recalculation job is stored.
func RecalculationArchiveKey(publicID uuid.UUID) string {
	return fmt.Sprintf("recalculations/%s/preview.json", publicID)
}
