package artifacts

import (
	"context"
	"errors"
	"io"

	"mediaconv/models"
)

// ErrNotFound marks a missing object on the read path. Removing a missing
// object is not an error.
var ErrNotFound = errors.New("artifact not found")

// Store is the object-storage contract for job inputs, outputs and
// previews.
type Store interface {
	Put(ctx context.Context, ref models.ObjectRef, r io.Reader, size int64, contentType string) (models.ObjectRef, error)
	PutFile(ctx context.Context, ref models.ObjectRef, path, contentType string) (models.ObjectRef, error)
	Fetch(ctx context.Context, ref models.ObjectRef) (io.ReadCloser, error)
	FetchFile(ctx context.Context, ref models.ObjectRef, path string) error
	// Remove deletes the object and reports the bytes freed; removing a
	// missing object returns (0, nil).
	Remove(ctx context.Context, ref models.ObjectRef) (int64, error)
}
