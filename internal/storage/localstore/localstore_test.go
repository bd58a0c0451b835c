// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/foodclassifier/internal/runerr"
	"github.com/gomlx/foodclassifier/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, s storage.Store, bucket string) []string {
	var keys []string
	for obj, err := range s.List(context.Background(), bucket) {
		require.NoError(t, err)
		keys = append(keys, obj.Key)
	}
	return keys
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	bucketDir := filepath.Join(root, "data")
	require.NoError(t, os.MkdirAll(filepath.Join(bucketDir, "training", "pizza"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(bucketDir, "validation"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bucketDir, "training", "pizza", "1.jpg"), []byte("jpg"), 0o644))

	s, err := New(root)
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()
	assert.Equal(t, []string{"training/pizza/1.jpg", "validation/"}, collect(t, s, "data"))

	local := filepath.Join(t.TempDir(), "1.jpg")
	require.NoError(t, s.Download(ctx, "data", "training/pizza/1.jpg", local))
	content, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "jpg", string(content))

	// Upload overwrites and creates the bucket.
	require.NoError(t, os.WriteFile(local, []byte("new"), 0o644))
	require.NoError(t, s.Upload(ctx, "models", local, "trained_model"))
	require.NoError(t, s.Upload(ctx, "models", local, "trained_model"))
	assert.Equal(t, []string{"trained_model"}, collect(t, s, "models"))
}

func TestStoreErrors(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := New(root)
	require.NoError(t, err)

	err = s.Download(ctx, "data", "missing.jpg", filepath.Join(t.TempDir(), "x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, runerr.ErrStorage))

	err = s.Download(ctx, "data", "../escape.jpg", filepath.Join(t.TempDir(), "x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, runerr.ErrStorage))

	err = s.Upload(ctx, "models", filepath.Join(root, "missing.zip"), "model")
	require.Error(t, err)
	assert.True(t, errors.Is(err, runerr.ErrStorage))

	var listErr error
	for _, err := range s.List(ctx, "missing") {
		listErr = err
	}
	require.Error(t, listErr)
	assert.True(t, errors.Is(listErr, runerr.ErrStorage))

	_, err = New(filepath.Join(root, "missing"))
	require.Error(t, err)
}
