package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Compile-time check that FileSystem implements Storage.
var _ Storage = (*FileSystem)(nil)

// FileSystem implements Storage using the local filesystem.
// Files are stored at <basePath>/<bucket>/<id>/blob.
type FileSystem struct {
	basePath string
}

// NewFileSystem creates a new FileSystem storage rooted at basePath.
func NewFileSystem(basePath string) *FileSystem {
	return &FileSystem{basePath: basePath}
}

func (fs *FileSystem) objectDir(bucket, id string) string {
	return filepath.Join(fs.basePath, bucket, id)
}

func (fs *FileSystem) blobPath(bucket, id string) string {
	return filepath.Join(fs.objectDir(bucket, id), "blob")
}

// Store writes data from the reader to disk using atomic write (temp file + rename).
// It returns the number of bytes written.
func (fs *FileSystem) Store(bucket, id string, data io.Reader) (int64, error) {
	dir := fs.objectDir(bucket, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "upload-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	// Clean up the temp file on any error path.
	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, data)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("writing data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing temp file: %w", err)
	}

	dst := fs.blobPath(bucket, id)
	if err := os.Rename(tmpPath, dst); err != nil {
		return 0, fmt.Errorf("renaming temp file to %s: %w", dst, err)
	}
	tmpPath = ""

	return n, nil
}

// Retrieve opens the stored blob. A missing blob yields ErrNotFound.
func (fs *FileSystem) Retrieve(bucket, id string) (io.ReadCloser, error) {
	path := fs.blobPath(bucket, id)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, id)
		}
		return nil, fmt.Errorf("opening file %s: %w", path, err)
	}
	return f, nil
}

// Delete removes the entire <bucket>/<id>/ directory.
// It is idempotent: deleting a non-existent blob returns no error.
func (fs *FileSystem) Delete(bucket, id string) error {
	dir := fs.objectDir(bucket, id)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing directory %s: %w", dir, err)
	}
	return nil
}

// Exists checks whether the blob exists on disk.
func (fs *FileSystem) Exists(bucket, id string) (bool, error) {
	path := fs.blobPath(bucket, id)
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking file %s: %w", path, err)
}
