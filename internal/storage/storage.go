package storage

import (
	"errors"
	"io"
)

// Buckets used by the service.
const (
	BucketGenerations = "generations"
	BucketEdits       = "edits"
)

// ErrNotFound is returned by Retrieve when no blob exists for the key.
var ErrNotFound = errors.New("blob not found")

// Storage defines the interface for image blob storage. Blobs are addressed
// by a bucket name and an object ID.
type Storage interface {
	// Store writes data and returns the number of bytes written.
	Store(bucket, id string, data io.Reader) (int64, error)

	// Retrieve returns a ReadCloser for the stored data.
	Retrieve(bucket, id string) (io.ReadCloser, error)

	// Delete removes the stored data.
	Delete(bucket, id string) error

	// Exists checks whether data exists in storage.
	Exists(bucket, id string) (bool, error)
}

// ReadAll retrieves a blob fully into memory.
func ReadAll(s Storage, bucket, id string) ([]byte, error) {
	rc, err := s.Retrieve(bucket, id)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
