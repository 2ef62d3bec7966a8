package ports

import (
	"context"
	"io"
)

type PutObjectInput struct {
	ObjectKey   string
	ContentType string
	Reader      io.Reader
	Size        int64
}

type PutObjectOutput struct {
	// ObjectKey is the key the provider stored the object under: the same
	// key for localfs, the Drive file id for gdrive.
	ObjectKey string
	Size      int64
}

// StorageProvider stores frames and delivered videos (localfs, gdrive).
type StorageProvider interface {
	Provider() string

	// PutObject writes the object, replacing any existing one with the same key.
	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	DeleteObject(ctx context.Context, objectKey string) error
}

// FrameStore is a StorageProvider backed by a local directory tree, which
// the encoder reads frame sequences from.
type FrameStore interface {
	StorageProvider

	// Path returns the filesystem path of objectKey.
	Path(objectKey string) string
	// RemovePrefix deletes every object under prefix.
	RemovePrefix(ctx context.Context, prefix string) error
}
