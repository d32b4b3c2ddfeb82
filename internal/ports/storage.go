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
	// En localfs será el mismo object_key.
	// En gdrive será el fileId real.
	ObjectKey string
	Size      int64
	// Location is the externally reachable address of the stored object:
	// a presigned URL for s3, a content link for gdrive, a filesystem
	// path for localfs. Job results persist this value.
	Location string
}

// StorageProvider: implementaciones (localfs, gdrive, s3, etc.).
// Solo escritura; la API sirve artefactos desde el result_json del job.
type StorageProvider interface {
	Provider() string
	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
}
