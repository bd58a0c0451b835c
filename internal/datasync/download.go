// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package datasync moves labeled image trees between a local disk and an object store, and offers a few helpers
// to inspect and reorganize a local image dataset.
package datasync

import (
	"context"
	"io"
	"iter"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/foodclassifier/internal/storage"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// Stats of a DownloadDirectory call.
type Stats struct {
	// Downloaded files, and their total size in bytes.
	Downloaded int
	Bytes      int64

	// Skipped files, because they already existed locally.
	Skipped int

	// Dirs is the number of directory placeholders seen.
	Dirs int
}

// String implements fmt.Stringer.
func (s Stats) String() string {
	return humanize.Comma(int64(s.Downloaded)) + " files downloaded (" + humanize.Bytes(uint64(s.Bytes)) + "), " +
		humanize.Comma(int64(s.Skipped)) + " already present, " + humanize.Comma(int64(s.Dirs)) + " directories"
}

// Option configures DownloadDirectory.
type Option func(*options)

type options struct {
	progress io.Writer
}

// WithProgress shows a progress spinner on w (usually os.Stderr) while downloading.
func WithProgress(w io.Writer) Option {
	return func(o *options) { o.progress = w }
}

// DownloadDirectory downloads every object of the bucket into localRoot, keeping the key hierarchy.
//
// Keys ending with "/" only create the corresponding directory. Files that already exist locally are skipped and
// never overwritten, so an interrupted download can be resumed by calling it again. Keys that would land outside
// localRoot are rejected with a storage error.
func DownloadDirectory(ctx context.Context, store storage.Store, bucket, localRoot string, opts ...Option) (Stats, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	var stats Stats
	if err := os.MkdirAll(localRoot, 0o755); err != nil {
		return stats, errors.Wrapf(err, "creating download directory %q", localRoot)
	}
	var bar *progressbar.ProgressBar
	if o.progress != nil {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(o.progress),
			progressbar.OptionSetDescription("Downloading "+bucket),
			progressbar.OptionShowCount(),
			progressbar.OptionSetItsString("files"),
			progressbar.OptionShowIts(),
			progressbar.OptionClearOnFinish(),
		)
		defer func() { _ = bar.Finish() }()
	}

	for obj, err := range store.List(ctx, bucket) {
		if err != nil {
			return stats, err
		}
		localPath, err := localPathFor(localRoot, obj.Key)
		if err != nil {
			return stats, storage.NewError("datasync", "download", bucket, obj.Key, err)
		}
		if obj.IsDir() {
			if err := os.MkdirAll(localPath, 0o755); err != nil {
				return stats, errors.Wrapf(err, "creating directory %q", localPath)
			}
			stats.Dirs++
			continue
		}
		if info, err := os.Stat(localPath); err == nil {
			if info.IsDir() {
				return stats, storage.NewError("datasync", "download", bucket, obj.Key,
					errors.Errorf("local path %q is a directory", localPath))
			}
			klog.V(2).Infof("skipping %q, it already exists", localPath)
			stats.Skipped++
			continue
		}
		if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return stats, errors.Wrapf(err, "creating directory for %q", localPath)
		}
		if err := store.Download(ctx, bucket, obj.Key, localPath); err != nil {
			return stats, err
		}
		stats.Downloaded++
		stats.Bytes += obj.Size
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	klog.Infof("bucket %q -> %q: %s", bucket, localRoot, stats)
	return stats, nil
}

// localPathFor returns the local path of key under localRoot, or an error if it would be outside of it.
func localPathFor(localRoot, key string) (string, error) {
	if key == "" || path.IsAbs(key) || strings.Contains(key, `\`) {
		return "", errors.Errorf("invalid object key %q", key)
	}
	clean := path.Clean(key)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errors.Errorf("object key %q points outside of the download directory", key)
	}
	if clean == "." {
		return localRoot, nil
	}
	return filepath.Join(localRoot, filepath.FromSlash(clean)), nil
}

// UploadFile uploads the local file to bucket under remoteName, overwriting it if it already exists.
func UploadFile(ctx context.Context, store storage.Store, bucket, localPath, remoteName string) error {
	if err := store.Upload(ctx, bucket, localPath, remoteName); err != nil {
		return err
	}
	klog.Infof("uploaded %q to bucket %q as %q", localPath, bucket, remoteName)
	return nil
}

// ListObjects lists all objects of the bucket, see storage.Store.List.
func ListObjects(ctx context.Context, store storage.Store, bucket string) iter.Seq2[storage.Object, error] {
	return store.List(ctx, bucket)
}
