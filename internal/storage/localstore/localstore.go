// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package localstore implements storage.Store on a local directory: each bucket is a subdirectory of the root
// and each object a file, keyed by its "/" separated path relative to the bucket.
package localstore

import (
	"context"
	"io/fs"
	"iter"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gomlx/foodclassifier/internal/storage"
	"github.com/pkg/errors"
)

// BackendName used in errors.
const BackendName = "local"

// Store is a storage.Store backed by a local directory.
type Store struct {
	root string
}

var _ storage.Store = (*Store)(nil)

// New creates a Store rooted at root, which must be an existing directory.
func New(root string) (*Store, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, storage.NewError(BackendName, "open", root, "", err)
	}
	if !info.IsDir() {
		return nil, storage.NewError(BackendName, "open", root, "", errors.New("not a directory"))
	}
	return &Store{root: root}, nil
}

// Root directory of the store.
func (s *Store) Root() string { return s.root }

func (s *Store) bucketDir(bucket string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", errors.Errorf("invalid bucket name %q", bucket)
	}
	return filepath.Join(s.root, bucket), nil
}

func (s *Store) objectPath(bucket, key string) (string, error) {
	dir, err := s.bucketDir(bucket)
	if err != nil {
		return "", err
	}
	clean := path.Clean("/" + key)
	if clean == "/" || clean != "/"+strings.TrimSuffix(key, "/") {
		return "", errors.Errorf("invalid object key %q", key)
	}
	return filepath.Join(dir, filepath.FromSlash(clean[1:])), nil
}

// List implements storage.Store. Empty directories are listed as "/" terminated keys, files in lexical order.
func (s *Store) List(ctx context.Context, bucket string) iter.Seq2[storage.Object, error] {
	dir, err := s.bucketDir(bucket)
	if err != nil {
		return storage.ErrorSeq(storage.NewError(BackendName, "list", bucket, "", err))
	}
	return func(yield func(storage.Object, error) bool) {
		err := filepath.WalkDir(dir, func(p string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if p == dir {
				return nil
			}
			rel, err := filepath.Rel(dir, p)
			if err != nil {
				return err
			}
			key := filepath.ToSlash(rel)
			info, err := entry.Info()
			if err != nil {
				return err
			}
			obj := storage.Object{Key: key, Size: info.Size(), Updated: info.ModTime()}
			if entry.IsDir() {
				entries, err := os.ReadDir(p)
				if err != nil {
					return err
				}
				if len(entries) > 0 {
					return nil
				}
				obj = storage.Object{Key: key + "/", Updated: info.ModTime()}
			} else if !entry.Type().IsRegular() {
				return nil
			}
			if !yield(obj, nil) {
				return fs.SkipAll
			}
			return nil
		})
		if err != nil {
			yield(storage.Object{}, storage.NewError(BackendName, "list", bucket, "", err))
		}
	}
}

// Download implements storage.Store.
func (s *Store) Download(ctx context.Context, bucket, key, localPath string) error {
	p, err := s.objectPath(bucket, key)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return storage.NewError(BackendName, "download", bucket, key, err)
	}
	f, err := os.Open(p)
	if err != nil {
		return storage.NewError(BackendName, "download", bucket, key, err)
	}
	defer func() { _ = f.Close() }()
	if err = storage.WriteFile(localPath, f); err != nil {
		return storage.NewError(BackendName, "download", bucket, key, err)
	}
	return nil
}

// Upload implements storage.Store. The bucket directory is created if needed.
func (s *Store) Upload(ctx context.Context, bucket, localPath, key string) error {
	p, err := s.objectPath(bucket, key)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return storage.NewError(BackendName, "upload", bucket, key, err)
	}
	f, err := os.Open(localPath)
	if err != nil {
		return storage.NewError(BackendName, "upload", bucket, key, err)
	}
	defer func() { _ = f.Close() }()
	if err = os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return storage.NewError(BackendName, "upload", bucket, key, err)
	}
	if err = storage.WriteFile(p, f); err != nil {
		return storage.NewError(BackendName, "upload", bucket, key, err)
	}
	return nil
}

// Close implements storage.Store.
func (s *Store) Close() error { return nil }
