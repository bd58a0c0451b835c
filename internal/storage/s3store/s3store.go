// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package s3store implements storage.Store on AWS S3.
package s3store

import (
	"context"
	"iter"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gomlx/foodclassifier/internal/config"
	"github.com/gomlx/foodclassifier/internal/storage"
	"github.com/pkg/errors"
)

// BackendName used in errors.
const BackendName = "s3"

// DefaultRegion if none is configured here or in the AWS configuration.
const DefaultRegion = "us-east-1"

// API is the subset of the S3 client used by Store, so it can be mocked.
type API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store is a storage.Store backed by S3.
type Store struct {
	client API
}

var _ storage.Store = (*Store)(nil)

// New creates a Store with the AWS default credential chain, overridden by the configured region, static
// credentials and endpoint, if set.
func New(ctx context.Context, cfg config.Storage) (*Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, storage.NewError(BackendName, "open", "", "", err)
	}
	if awsCfg.Region == "" {
		awsCfg.Region = DefaultRegion
	}
	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return NewWithClient(s3.NewFromConfig(awsCfg, s3Opts...)), nil
}

// NewWithClient creates a Store using the given client. Mostly for testing.
func NewWithClient(client API) *Store {
	return &Store{client: client}
}

// List implements storage.Store.
func (s *Store) List(ctx context.Context, bucket string) iter.Seq2[storage.Object, error] {
	return func(yield func(storage.Object, error) bool) {
		paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(bucket),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(storage.Object{}, storage.NewError(BackendName, "list", bucket, "", err))
				return
			}
			for _, obj := range page.Contents {
				o := storage.Object{
					Key:  aws.ToString(obj.Key),
					Size: aws.ToInt64(obj.Size),
				}
				if obj.LastModified != nil {
					o.Updated = *obj.LastModified
				}
				if !yield(o, nil) {
					return
				}
			}
		}
	}
}

// Download implements storage.Store.
func (s *Store) Download(ctx context.Context, bucket, key, localPath string) error {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return storage.NewError(BackendName, "download", bucket, key, err)
	}
	defer func() { _ = output.Body.Close() }()
	if err = storage.WriteFile(localPath, output.Body); err != nil {
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
	info, err := f.Stat()
	if err != nil {
		return storage.NewError(BackendName, "upload", bucket, key, err)
	}
	if info.IsDir() {
		return storage.NewError(BackendName, "upload", bucket, key, errors.Errorf("%q is a directory", localPath))
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return storage.NewError(BackendName, "upload", bucket, key, err)
	}
	return nil
}

// Close implements storage.Store.
func (s *Store) Close() error { return nil }
