// Package gcs stores objects in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/tigerroll/etlcore/pkg/etl/core/config"
	"github.com/tigerroll/etlcore/pkg/etl/core/port"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
)

// ProviderType is the storage type handled by this package.
const ProviderType = "gcs"

// Adapter implements port.Storage on one bucket. BasePath, when set, prefixes
// every object name.
type Adapter struct {
	name   string
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

var _ port.Storage = (*Adapter)(nil)

// NewAdapter opens a client. Without a credentials file the default application
// credentials are used.
func NewAdapter(ctx context.Context, name string, cfg config.StorageConfig) (*Adapter, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs storage '%s': bucket must be set", name)
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage '%s': failed to create client: %w", name, err)
	}
	return NewAdapterWithClient(name, client, cfg), nil
}

// NewAdapterWithClient wraps an existing client, e.g. one pointed at an emulator.
func NewAdapterWithClient(name string, client *storage.Client, cfg config.StorageConfig) *Adapter {
	return &Adapter{
		name:   name,
		client: client,
		bucket: client.Bucket(cfg.Bucket),
		prefix: strings.Trim(cfg.BasePath, "/"),
	}
}

func (a *Adapter) object(name string) string {
	if a.prefix == "" {
		return name
	}
	return path.Join(a.prefix, name)
}

// Upload streams data into the object.
func (a *Adapter) Upload(ctx context.Context, objectName string, data io.Reader, contentType string) error {
	w := a.bucket.Object(a.object(objectName)).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return fmt.Errorf("gcs storage '%s': failed to upload '%s': %w", a.name, objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs storage '%s': failed to finalize '%s': %w", a.name, objectName, err)
	}
	logger.Debugf("Uploaded '%s' (gcs storage '%s').", objectName, a.name)
	return nil
}

// Download opens a reader on the object.
func (a *Adapter) Download(ctx context.Context, objectName string) (io.ReadCloser, error) {
	r, err := a.bucket.Object(a.object(objectName)).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs storage '%s': failed to open '%s': %w", a.name, objectName, err)
	}
	return r, nil
}

// ListObjects returns object names below prefix, relative to BasePath.
func (a *Adapter) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	it := a.bucket.Objects(ctx, &storage.Query{Prefix: a.object(prefix)})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs storage '%s': failed to list '%s': %w", a.name, prefix, err)
		}
		name := attrs.Name
		if a.prefix != "" {
			name = strings.TrimPrefix(name, a.prefix+"/")
		}
		names = append(names, name)
	}
	return names, nil
}

// DeleteObject removes the object. A missing object is not an error.
func (a *Adapter) DeleteObject(ctx context.Context, objectName string) error {
	err := a.bucket.Object(a.object(objectName)).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		logger.Warnf("Attempted to delete non-existent object '%s' (gcs storage '%s').", objectName, a.name)
		return nil
	}
	return err
}

// Close closes the client.
func (a *Adapter) Close() error {
	return a.client.Close()
}
