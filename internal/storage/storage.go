// Package storage abstracts blob persistence behind a single Backend
// interface with a local-directory and an S3 implementation. Keys are
// validated centrally; callers never hand a raw client-supplied name to
// either variant.
package storage

import (
	"context"
	"errors"
	"io"
	"strings"
)

var (
	// ErrNotFound is returned when no blob exists under the requested key.
	ErrNotFound = errors.New("storage: object not found")
	// ErrInvalidKey is returned before any I/O when a key could escape the
	// storage namespace.
	ErrInvalidKey = errors.New("storage: invalid key")
)

// Backend is the capability set the pipelines rely on. Writes are
// all-or-nothing from the caller's perspective; Get on the S3 variant yields
// a stream that may be consumed exactly once. Concurrent Get and Delete of
// the same key is unsupported.
type Backend interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, int64, string, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	DownloadToFile(ctx context.Context, key string, destPath string) error
	UploadFile(ctx context.Context, key string, filePath string, contentType string) error
}

// CleanKey rejects keys that are empty, contain path separators or parent
// references, or carry control characters. Every Backend entry point calls
// it before touching the filesystem or the bucket.
func CleanKey(key string) error {
	if key == "" || len(key) > 255 {
		return ErrInvalidKey
	}
	if strings.ContainsAny(key, "/\\") {
		return ErrInvalidKey
	}
	if key == "." || key == ".." {
		return ErrInvalidKey
	}
	for _, r := range key {
		if r < 0x20 || r == 0x7f {
			return ErrInvalidKey
		}
	}
	return nil
}
