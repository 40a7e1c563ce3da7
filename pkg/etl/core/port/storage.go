package port

import (
	"context"
	"io"
)

// Storage is a named object store connection (local filesystem, GCS).
type Storage interface {
	// Upload writes data under objectName.
	Upload(ctx context.Context, objectName string, data io.Reader, contentType string) error
	// Download opens objectName for reading. The caller closes the reader.
	Download(ctx context.Context, objectName string) (io.ReadCloser, error)
	// ListObjects returns object names under prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
	// DeleteObject removes objectName.
	DeleteObject(ctx context.Context, objectName string) error
	// Close releases the connection.
	Close() error
}

// StorageResolver returns a storage connection by name.
type StorageResolver interface {
	Storage(name string) (Storage, error)
}
