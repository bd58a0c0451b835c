// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package storage defines the object store interface used to synchronize datasets and models, and the error
// type shared by its backends.
//
// The backends are in the subpackages: gcsstore (Google Cloud Storage), s3store (AWS S3), miniostore
// (S3 compatible servers) and localstore (a local directory, one subdirectory per bucket).
package storage

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/gomlx/foodclassifier/internal/runerr"
)

// Object describes one object in a bucket.
type Object struct {
	// Key of the object, "/" separated. Keys ending with "/" are directory placeholders.
	Key string

	// Size in bytes.
	Size int64

	// Updated is the last modification time, if known.
	Updated time.Time
}

// IsDir reports whether the object is a directory placeholder.
func (o Object) IsDir() bool { return len(o.Key) > 0 && o.Key[len(o.Key)-1] == '/' }

// Store is an object store.
type Store interface {
	// List all objects in the bucket, lazily. The sequence can only be iterated once: call List again to
	// restart. Iteration stops at the first error, which is yielded.
	List(ctx context.Context, bucket string) iter.Seq2[Object, error]

	// Download the object bucket/key to localPath. The parent directory of localPath must exist.
	Download(ctx context.Context, bucket, key, localPath string) error

	// Upload the file at localPath to bucket/key, overwriting any existing object.
	Upload(ctx context.Context, bucket, localPath, key string) error

	// Close releases the resources of the store.
	Close() error
}

// Error is returned by all Store operations on failure.
// It always matches runerr.ErrStorage with errors.Is.
type Error struct {
	// Backend that failed, e.g. "gcs".
	Backend string

	// Op is the operation that failed: "list", "download" or "upload".
	Op string

	Bucket string
	Key    string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s.%s %s/%s: %v", e.Backend, e.Op, e.Bucket, e.Key, e.Err)
	}
	return fmt.Sprintf("%s.%s bucket %s: %v", e.Backend, e.Op, e.Bucket, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Is makes every Error match runerr.ErrStorage.
func (e *Error) Is(target error) bool { return target == runerr.ErrStorage }

// NewError creates a storage Error.
func NewError(backend, op, bucket, key string, err error) *Error {
	return &Error{Backend: backend, Op: op, Bucket: bucket, Key: key, Err: err}
}

// ErrorSeq returns a sequence that only yields err.
func ErrorSeq(err error) iter.Seq2[Object, error] {
	return func(yield func(Object, error) bool) {
		yield(Object{}, err)
	}
}

// WriteFile copies r to localPath. It writes to a temporary file in the same directory first and renames it at
// the end, so an interrupted download never leaves a partial file at localPath.
func WriteFile(localPath string, r io.Reader) error {
	dir, name := filepath.Split(localPath)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+name+".*.partial")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err = io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err = os.Rename(tmpPath, localPath); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
