// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package miniostore implements storage.Store on S3 compatible servers (MinIO, Ceph, ...) with the MinIO client.
package miniostore

import (
	"context"
	"iter"
	"os"
	"strings"

	"github.com/gomlx/foodclassifier/internal/config"
	"github.com/gomlx/foodclassifier/internal/storage"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

// BackendName used in errors.
const BackendName = "minio"

// Store is a storage.Store backed by a MinIO client.
type Store struct {
	client *minio.Client
}

var _ storage.Store = (*Store)(nil)

// New creates a Store for the configured endpoint ("host:port", an "http://" or "https://" prefix selects
// whether to use TLS). Without configured keys, credentials are read from the standard AWS and MinIO environment
// variables.
func New(cfg config.Storage) (*Store, error) {
	endpoint, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, storage.NewError(BackendName, "open", "", "", err)
	}
	var creds *credentials.Credentials
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
		})
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, storage.NewError(BackendName, "open", "", "", err)
	}
	return &Store{client: client}, nil
}

func parseEndpoint(endpoint string, useSSL bool) (host string, secure bool, err error) {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		host, secure = strings.TrimPrefix(endpoint, "https://"), true
	case strings.HasPrefix(endpoint, "http://"):
		host, secure = strings.TrimPrefix(endpoint, "http://"), false
	default:
		host, secure = endpoint, useSSL
	}
	host = strings.TrimSuffix(host, "/")
	if host == "" || strings.Contains(host, "/") {
		return "", false, errors.Errorf("invalid endpoint %q, it must be \"host[:port]\"", endpoint)
	}
	return host, secure, nil
}

// List implements storage.Store.
func (s *Store) List(ctx context.Context, bucket string) iter.Seq2[storage.Object, error] {
	return func(yield func(storage.Object, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel() // Stops the listing goroutine of the client on early exit.
		for info := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Recursive: true}) {
			if info.Err != nil {
				yield(storage.Object{}, storage.NewError(BackendName, "list", bucket, "", info.Err))
				return
			}
			if !yield(storage.Object{Key: info.Key, Size: info.Size, Updated: info.LastModified}, nil) {
				return
			}
		}
		if err := ctx.Err(); err != nil {
			yield(storage.Object{}, storage.NewError(BackendName, "list", bucket, "", err))
		}
	}
}

// Download implements storage.Store.
func (s *Store) Download(ctx context.Context, bucket, key, localPath string) error {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return storage.NewError(BackendName, "download", bucket, key, err)
	}
	defer func() { _ = obj.Close() }()
	if err = storage.WriteFile(localPath, obj); err != nil {
		return storage.NewError(BackendName, "download", bucket, key, err)
	}
	return nil
}

// Upload implements storage.Store.
func (s *Store) Upload(ctx context.Context, bucket, localPath, key string) error {
	if _, err := os.Stat(localPath); err != nil {
		return storage.NewError(BackendName, "upload", bucket, key, err)
	}
	if _, err := s.client.FPutObject(ctx, bucket, key, localPath, minio.PutObjectOptions{}); err != nil {
		return storage.NewError(BackendName, "upload", bucket, key, err)
	}
	return nil
}

// Close implements storage.Store.
func (s *Store) Close() error { return nil }
