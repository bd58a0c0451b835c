// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gomlx/foodclassifier/internal/runerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockAPI serves objects from memory, listing them in pages of pageSize.
type mockAPI struct {
	objects  map[string][]byte
	keys     []string
	pageSize int
	listErr  error
	puts     map[string][]byte
}

func (m *mockAPI) ListObjectsV2(_ context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	start := 0
	if params.ContinuationToken != nil {
		for ii, key := range m.keys {
			if key == *params.ContinuationToken {
				start = ii
			}
		}
	}
	end := min(start+m.pageSize, len(m.keys))
	output := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(m.keys))}
	for _, key := range m.keys[start:end] {
		output.Contents = append(output.Contents, types.Object{
			Key:          aws.String(key),
			Size:         aws.Int64(int64(len(m.objects[key]))),
			LastModified: aws.Time(time.Unix(1700000000, 0)),
		})
	}
	if end < len(m.keys) {
		output.NextContinuationToken = aws.String(m.keys[end])
	}
	return output, nil
}

func (m *mockAPI) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	content, found := m.objects[*params.Key]
	if !found {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(content))}, nil
}

func (m *mockAPI) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	content, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	if m.puts == nil {
		m.puts = make(map[string][]byte)
	}
	m.puts[*params.Bucket+"/"+*params.Key] = content
	return &s3.PutObjectOutput{}, nil
}

func newMock() *mockAPI {
	return &mockAPI{
		objects: map[string][]byte{
			"training/":           nil,
			"training/pizza/1.jpg": []byte("one"),
			"training/pizza/2.jpg": []byte("two"),
		},
		keys:     []string{"training/", "training/pizza/1.jpg", "training/pizza/2.jpg"},
		pageSize: 2,
	}
}

func TestList(t *testing.T) {
	s := NewWithClient(newMock())
	var keys []string
	var sizes []int64
	for obj, err := range s.List(context.Background(), "bucket") {
		require.NoError(t, err)
		keys = append(keys, obj.Key)
		sizes = append(sizes, obj.Size)
		assert.Equal(t, int64(1700000000), obj.Updated.Unix())
	}
	assert.Equal(t, []string{"training/", "training/pizza/1.jpg", "training/pizza/2.jpg"}, keys)
	assert.Equal(t, []int64{0, 3, 3}, sizes)

	// Early stop.
	var count int
	for range s.List(context.Background(), "bucket") {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func TestListError(t *testing.T) {
	m := newMock()
	m.listErr = errors.New("access denied")
	s := NewWithClient(m)
	var gotErr error
	for _, err := range s.List(context.Background(), "bucket") {
		gotErr = err
	}
	require.Error(t, gotErr)
	assert.True(t, errors.Is(gotErr, runerr.ErrStorage))
	assert.Contains(t, gotErr.Error(), "access denied")
}

func TestDownloadUpload(t *testing.T) {
	ctx := context.Background()
	m := newMock()
	s := NewWithClient(m)
	local := filepath.Join(t.TempDir(), "1.jpg")
	require.NoError(t, s.Download(ctx, "bucket", "training/pizza/1.jpg", local))
	content, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "one", string(content))

	err = s.Download(ctx, "bucket", "missing.jpg", local)
	require.Error(t, err)
	assert.True(t, errors.Is(err, runerr.ErrStorage))

	require.NoError(t, s.Upload(ctx, "models", local, "trained_model"))
	assert.Equal(t, []byte("one"), m.puts["models/trained_model"])

	err = s.Upload(ctx, "models", filepath.Join(t.TempDir(), "missing.zip"), "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, runerr.ErrStorage))
	require.NoError(t, s.Close())
}
