// Package blob abstracts the storage objects the engine manages. The
// engine never streams file bytes itself; it only asks this accessor to
// check, copy, and delete objects it is told about.
package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectMissing reports that no object exists at the given path.
var ErrObjectMissing = errors.New("storage object not found")

// Stat describes a stored object.
type Stat struct {
	Size    int64
	ModTime time.Time
}

// Accessor is the injected storage dependency.
type Accessor interface {
	Exists(ctx context.Context, path string) (bool, error)
	Copy(ctx context.Context, src, dst string) error
	Delete(ctx context.Context, path string) error
	Stat(ctx context.Context, path string) (Stat, error)
}

// Uploader extends Accessor with the operations the upload receiver and
// download handlers need. The engine itself only uses Accessor.
type Uploader interface {
	Accessor
	Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, path, filename string, ttl time.Duration) (string, error)
}
