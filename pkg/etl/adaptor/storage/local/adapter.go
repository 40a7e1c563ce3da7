// Package local stores objects as files below a base directory.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tigerroll/etlcore/pkg/etl/core/config"
	"github.com/tigerroll/etlcore/pkg/etl/core/port"
	"github.com/tigerroll/etlcore/pkg/etl/support/util/logger"
)

// ProviderType is the storage type handled by this package.
const ProviderType = "local"

// Adapter implements port.Storage on the local file system.
type Adapter struct {
	name    string
	baseDir string
}

var _ port.Storage = (*Adapter)(nil)

// NewAdapter creates an adapter rooted at cfg.BasePath, creating the directory
// when it does not exist.
func NewAdapter(name string, cfg config.StorageConfig) (*Adapter, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("local storage '%s': basePath must be set", name)
	}
	info, err := os.Stat(cfg.BasePath)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(cfg.BasePath, 0o755); err != nil {
			return nil, fmt.Errorf("local storage '%s': failed to create '%s': %w", name, cfg.BasePath, err)
		}
	case err != nil:
		return nil, fmt.Errorf("local storage '%s': failed to stat '%s': %w", name, cfg.BasePath, err)
	case !info.IsDir():
		return nil, fmt.Errorf("local storage '%s': '%s' is not a directory", name, cfg.BasePath)
	}
	abs, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, err
	}
	return &Adapter{name: name, baseDir: abs}, nil
}

// Upload writes data to baseDir/objectName, creating parent directories.
func (a *Adapter) Upload(ctx context.Context, objectName string, data io.Reader, contentType string) error {
	full, err := a.resolvePath(objectName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for '%s': %w", full, err)
	}
	f, err := os.Create(full)
	if err != nil {
		return fmt.Errorf("failed to create file '%s': %w", full, err)
	}
	if _, err := io.Copy(f, data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write '%s': %w", full, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	logger.Debugf("Uploaded '%s' (local storage '%s').", objectName, a.name)
	return nil
}

// Download opens baseDir/objectName.
func (a *Adapter) Download(ctx context.Context, objectName string) (io.ReadCloser, error) {
	full, err := a.resolvePath(objectName)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("failed to open '%s': %w", full, err)
	}
	return f, nil
}

// ListObjects walks baseDir and returns slash-separated names starting with prefix.
func (a *Adapter) ListObjects(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(a.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(a.baseDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			names = append(names, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list '%s' with prefix '%s': %w", a.baseDir, prefix, err)
	}
	sort.Strings(names)
	return names, nil
}

// DeleteObject removes the file. A missing file is not an error.
func (a *Adapter) DeleteObject(ctx context.Context, objectName string) error {
	full, err := a.resolvePath(objectName)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			logger.Warnf("Attempted to delete non-existent object '%s' (local storage '%s').", objectName, a.name)
			return nil
		}
		return fmt.Errorf("failed to delete '%s': %w", full, err)
	}
	return nil
}

// Close is a no-op.
func (a *Adapter) Close() error { return nil }

// resolvePath joins objectName under baseDir and refuses paths escaping it.
func (a *Adapter) resolvePath(objectName string) (string, error) {
	full := filepath.Join(a.baseDir, filepath.FromSlash(objectName))
	if full != a.baseDir && !strings.HasPrefix(full, a.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("object '%s' resolves outside of '%s'", objectName, a.baseDir)
	}
	return full, nil
}
