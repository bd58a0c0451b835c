// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package gcsstore implements storage.Store on Google Cloud Storage.
package gcsstore

import (
	"context"
	"io"
	"iter"
	"os"

	gcs "cloud.google.com/go/storage"
	"github.com/gomlx/foodclassifier/internal/config"
	"github.com/gomlx/foodclassifier/internal/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"k8s.io/klog/v2"
)

// BackendName used in errors.
const BackendName = "gcs"

// Store is a storage.Store backed by a GCS client.
type Store struct {
	client *gcs.Client
}

var _ storage.Store = (*Store)(nil)

// ClientOptions returns the GCS client options for cfg: the service account JSON in cfg.CredentialsFile if set,
// otherwise none, and the Application Default Credentials are used.
func ClientOptions(cfg config.Storage) ([]option.ClientOption, error) {
	if cfg.CredentialsFile == "" {
		return nil, nil
	}
	if _, err := os.Stat(cfg.CredentialsFile); err != nil {
		return nil, errors.Wrapf(err, "GCS credentials file")
	}
	return []option.ClientOption{option.WithCredentialsFile(cfg.CredentialsFile)}, nil
}

// New creates a Store, see ClientOptions for the credentials used.
func New(ctx context.Context, cfg config.Storage) (*Store, error) {
	opts, err := ClientOptions(cfg)
	if err != nil {
		return nil, storage.NewError(BackendName, "open", "", "", err)
	}
	if len(opts) == 0 {
		klog.V(1).Infof("gcs: no credentials file configured, using Application Default Credentials")
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, storage.NewError(BackendName, "open", "", "", err)
	}
	return &Store{client: client}, nil
}

// List implements storage.Store.
func (s *Store) List(ctx context.Context, bucket string) iter.Seq2[storage.Object, error] {
	return func(yield func(storage.Object, error) bool) {
		it := s.client.Bucket(bucket).Objects(ctx, nil)
		for {
			attrs, err := it.Next()
			if err == iterator.Done {
				return
			}
			if err != nil {
				yield(storage.Object{}, storage.NewError(BackendName, "list", bucket, "", err))
				return
			}
			if !yield(storage.Object{Key: attrs.Name, Size: attrs.Size, Updated: attrs.Updated}, nil) {
				return
			}
		}
	}
}

// Download implements storage.Store.
func (s *Store) Download(ctx context.Context, bucket, key, localPath string) error {
	reader, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return storage.NewError(BackendName, "download", bucket, key, err)
	}
	defer func() { _ = reader.Close() }()
	if err = storage.WriteFile(localPath, reader); err != nil {
		return storage.NewError(BackendName, "download", bucket, key, err)
	}
	return nil
}

// Upload implements storage.Store.
func (s *Store) Upload(ctx context.Context, bucket, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return storage.NewError(BackendName, "upload", bucket, key, err)
	}
	defer func() { _ = f.Close() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel() // Canceling before Close aborts the upload.
	writer := s.client.Bucket(bucket).Object(key).NewWriter(ctx)
	if _, err = io.Copy(writer, f); err != nil {
		cancel()
		_ = writer.Close()
		return storage.NewError(BackendName, "upload", bucket, key, err)
	}
	if err = writer.Close(); err != nil {
		return storage.NewError(BackendName, "upload", bucket, key, err)
	}
	return nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	return s.client.Close()
}
