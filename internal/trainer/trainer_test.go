// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package trainer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gomlx/foodclassifier/internal/backbone"
	"github.com/gomlx/foodclassifier/internal/classifier"
	"github.com/gomlx/foodclassifier/internal/hypertune"
	"github.com/gomlx/foodclassifier/internal/imagefolder"
	"github.com/gomlx/foodclassifier/internal/runerr"
	"github.com/gomlx/foodclassifier/internal/storage/localstore"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	mlcontext "github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	if _, found := os.LookupEnv(backends.ConfigEnvVar); !found {
		// For testing, we use the CPU backend (and avoid GPU if not explicitly requested).
		must.M(os.Setenv(backends.ConfigEnvVar, "xla:cpu"))
	}
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, FoodDataBucket, cfg.DatasetBucket())
	assert.Equal(t, "dataset", filepath.Clean(cfg.DataRoot()))

	cfg.Dummy = true
	assert.Equal(t, DummyDataBucket, cfg.DatasetBucket())
	assert.Equal(t, filepath.Join("dataset", DummySubdir), filepath.Clean(cfg.DataRoot()))
	cfg.BucketName = "my-bucket"
	assert.Equal(t, "my-bucket", cfg.DatasetBucket())

	for name, modify := range map[string]func(c *Config){
		"batch size":    func(c *Config) { c.BatchSize = 0 },
		"epochs":        func(c *Config) { c.Epochs = -1 },
		"learning rate": func(c *Config) { c.LearningRate = 0 },
		"image size":    func(c *Config) { c.ImageSize = 0 },
		"patience":      func(c *Config) { c.Patience = 0 },
		"dataset dir":   func(c *Config) { c.DatasetDir = "" },
		"output dir":    func(c *Config) { c.OutputDir = "" },
		"models bucket": func(c *Config) { c.OnCloud, c.ModelsBucketName = true, "" },
		"same dirs":     func(c *Config) { c.OutputDir = "dataset/" },
		"current dir":   func(c *Config) { c.OutputDir = "." },
		"parent dir":    func(c *Config) { c.DatasetDir, c.OutputDir = "work/data/dataset", "work" },
		"archive dir":   func(c *Config) { c.ArchiveDir = "output/zips" },
		"absolute":      func(c *Config) { c.OutputDir = must.M1(filepath.Abs(".")) },
	} {
		c := DefaultConfig()
		modify(&c)
		err := c.Validate()
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, runerr.ErrConfig), name)
	}

	// Sibling directories, or an output directory under the dataset one, are fine.
	cfg = DefaultConfig()
	cfg.DatasetDir, cfg.OutputDir, cfg.ArchiveDir = "work/dataset", "work/output", "work"
	require.NoError(t, cfg.Validate())
	cfg.DatasetDir, cfg.OutputDir = "work", "work/output"
	require.NoError(t, cfg.Validate())
	cfg.DatasetDir, cfg.OutputDir = "work/dataset", "work/dataset2"
	require.NoError(t, cfg.Validate())
}

func TestEarlyStopping(t *testing.T) {
	e := NewEarlyStopping(2)
	assert.False(t, e.Update(1.0))
	assert.False(t, e.Update(0.5))
	assert.False(t, e.Update(0.5)) // Equal is not an improvement: wait=1.
	assert.True(t, e.Update(0.7))  // wait=2.
	assert.Equal(t, 0.5, e.Best())

	e = NewEarlyStopping(1)
	assert.False(t, e.Update(3))
	assert.False(t, e.Update(2))
	assert.True(t, e.Update(2))
}

type fakeSaver struct {
	saves int
	err   error
}

func (s *fakeSaver) Save() error {
	if s.err != nil {
		return s.err
	}
	s.saves++
	return nil
}

func TestBestCheckpoint(t *testing.T) {
	saver := &fakeSaver{}
	b := NewBestCheckpoint(saver)
	for _, step := range []struct {
		accuracy float64
		saved    bool
	}{{0, true}, {0.5, true}, {0.5, false}, {0.25, false}, {0.75, true}} {
		saved, err := b.Update(step.accuracy)
		require.NoError(t, err)
		assert.Equal(t, step.saved, saved, "accuracy %g", step.accuracy)
	}
	assert.Equal(t, 3, saver.saves)
	assert.Equal(t, 3, b.Saves())
	assert.Equal(t, 0.75, b.Best())

	saver.err = errors.New("disk full")
	_, err := b.Update(1)
	require.Error(t, err)
	assert.Equal(t, 0.75, b.Best())
}

func writePNG(t *testing.T, path string, shade uint8) {
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	img := image.NewNRGBA(image.Rect(0, 0, 24, 20))
	for y := range 20 {
		for x := range 24 {
			img.Set(x, y, color.NRGBA{R: shade, G: uint8(x * 10), B: uint8(y * 10), A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

// newFoodBucket creates a local object store with a "food" bucket holding 2 classes, with 4 training,
// 2 validation and 2 evaluation images each.
func newFoodBucket(t *testing.T) *localstore.Store {
	root := t.TempDir()
	perSplit := map[string]int{imagefolder.Training: 4, imagefolder.Validation: 2, imagefolder.Evaluation: 2}
	for split, count := range perSplit {
		for classIdx, class := range []string{"bread", "soup"} {
			for i := range count {
				path := filepath.Join(root, "food", split, class, fmt.Sprintf("%d.png", i))
				writePNG(t, path, uint8(60+150*classIdx))
			}
		}
	}
	s, err := localstore.New(root)
	require.NoError(t, err)
	return s
}

func TestRun(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping training in short mode")
	}
	ctx := context.Background()
	store := newFoodBucket(t)
	workDir := t.TempDir()
	cfg := DefaultConfig()
	cfg.BucketName = "food"
	cfg.ModelsBucketName = "models"
	cfg.OnCloud = true
	cfg.DownloadDataset = true
	cfg.Epochs = 1
	cfg.BatchSize = 2
	cfg.Backbone = backbone.CnnName
	cfg.ImageSize = 32
	cfg.Seed = 42
	cfg.DatasetDir = filepath.Join(workDir, "dataset")
	cfg.OutputDir = filepath.Join(workDir, "output")
	cfg.ArchiveDir = workDir
	cfg.WeightsDir = filepath.Join(workDir, "weights")

	// Stale checkpoints in the output directory are removed, other files are kept.
	require.NoError(t, os.MkdirAll(cfg.OutputDir, 0o755))
	staleCheckpoint := filepath.Join(cfg.OutputDir, CheckpointPrefix+"n0000009-20200101-000000.json")
	require.NoError(t, os.WriteFile(staleCheckpoint, []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.OutputDir, "notes.txt"), []byte("keep"), 0o644))

	mlCtx := classifier.CreateDefaultContext()
	mlCtx.SetParam(classifier.ParamHeadHiddenUnits, 16)
	metricFile := filepath.Join(workDir, "hypertune", "output.metrics")
	var out bytes.Buffer
	now := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	result, err := Run(ctx, cfg, Deps{
		Backend:  backends.MustNew(),
		Context:  mlCtx,
		Store:    store,
		Reporter: hypertune.NewReporter("0", hypertune.NewFileSink(metricFile)),
		Out:      &out,
		Now:      func() time.Time { return now },
	})
	require.NoError(t, err)
	fmt.Println(out.String())

	assert.Equal(t, 1, result.EpochsRun)
	assert.False(t, result.StoppedEarly)
	assert.Len(t, result.Report.Classes, 2)
	assert.Equal(t, "bread", result.Report.Classes[0].Name)
	assert.Equal(t, "soup", result.Report.Classes[1].Name)
	assert.Equal(t, 4, result.Report.Total)
	assert.Equal(t, 4, result.ConfusionMatrix.Total())
	assert.Contains(t, out.String(), "Training Finished!")

	// Dataset downloaded.
	count, err := imagefolder.CountImages(filepath.Join(cfg.DatasetDir, imagefolder.Training))
	require.NoError(t, err)
	assert.Equal(t, 8, count)

	// Best model saved, stale checkpoint removed.
	_, err = os.Stat(staleCheckpoint)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(cfg.OutputDir, "notes.txt"))
	require.NoError(t, err)
	checkpointFiles, err := filepath.Glob(filepath.Join(cfg.OutputDir, CheckpointPrefix+"*"))
	require.NoError(t, err)
	assert.NotEmpty(t, checkpointFiles)

	// Archive uploaded without the extension.
	require.True(t, strings.HasPrefix(result.Archive, "trained_model_2024_03_01_12_30_00_loss_"), result.Archive)
	info, err := os.Stat(filepath.Join(store.Root(), "models", result.Archive))
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
	zips, err := filepath.Glob(filepath.Join(cfg.ArchiveDir, "*.zip"))
	require.NoError(t, err)
	assert.Empty(t, zips)

	// Exactly one loss metric reported, at global step = epochs.
	f, err := os.Open(metricFile)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		lines = append(lines, entry)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 1)
	assert.Equal(t, "1", lines[0]["global_step"])
	assert.Equal(t, "0", lines[0]["trial"])
	assert.Contains(t, lines[0], MetricTag)
}

func TestRunNotEnoughImages(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test requiring a backend in short mode")
	}
	dataDir := t.TempDir()
	for _, split := range imagefolder.Splits {
		writePNG(t, filepath.Join(dataDir, split, "bread", "0.png"), 10)
	}
	cfg := DefaultConfig()
	cfg.DatasetDir = dataDir
	cfg.OutputDir = filepath.Join(t.TempDir(), "output")
	cfg.Backbone = backbone.CnnName
	_, err := Run(context.Background(), cfg, Deps{
		Backend:  backends.MustNew(),
		Reporter: hypertune.NewReporter("0"),
		Out:      &bytes.Buffer{},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, runerr.ErrData))
}

func TestRunRequiresStore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DownloadDataset = true
	_, err := Run(context.Background(), cfg, Deps{Reporter: hypertune.NewReporter("0")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, runerr.ErrConfig))
}

func TestRemoveStaleCheckpoints(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{CheckpointPrefix + "n0000001-x.json", CheckpointPrefix + "n0000001-x.bin", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "dataset", "training"), 0o755))
	require.NoError(t, removeStaleCheckpoints(dir))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	assert.Equal(t, []string{"dataset", "notes.txt"}, names)
}

type fakeLister bool

func (l fakeLister) HasCheckpoints() (bool, error) { return bool(l), nil }

// publishConfig returns a configuration publishing workDir/output into a local "models" bucket.
func publishConfig(t *testing.T, workDir string) (Config, Deps, *localstore.Store) {
	store, err := localstore.New(t.TempDir())
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.OnCloud = true
	cfg.ModelsBucketName = "models"
	cfg.OutputDir = filepath.Join(workDir, "output")
	cfg.ArchiveDir = filepath.Join(workDir, "archives")
	require.NoError(t, os.MkdirAll(cfg.OutputDir, 0o755))
	require.NoError(t, os.MkdirAll(cfg.ArchiveDir, 0o755))
	deps := Deps{
		Store: store,
		Out:   &bytes.Buffer{},
		Now:   func() time.Time { return time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC) },
	}
	return cfg, deps, store
}

func TestPublishWithoutCheckpoint(t *testing.T) {
	cfg, deps, store := publishConfig(t, t.TempDir())
	require.NoError(t, os.WriteFile(filepath.Join(cfg.OutputDir, "notes.txt"), []byte("no model"), 0o644))
	checkpoint, err := checkpoints.Build(mlcontext.New()).Dir(cfg.OutputDir).Keep(1).Done()
	require.NoError(t, err)

	_, err = publish(context.Background(), cfg, deps, checkpoint, 0.5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, runerr.ErrData))

	// Nothing uploaded, nothing left behind.
	_, err = os.Stat(filepath.Join(store.Root(), "models"))
	assert.True(t, os.IsNotExist(err))
	zips, err := filepath.Glob(filepath.Join(cfg.ArchiveDir, "*"))
	require.NoError(t, err)
	assert.Empty(t, zips)
}

func TestPublishRemovesArchive(t *testing.T) {
	cfg, deps, store := publishConfig(t, t.TempDir())
	require.NoError(t, os.WriteFile(filepath.Join(cfg.OutputDir, CheckpointPrefix+"n0000001-x.json"), []byte("{}"), 0o644))

	name, err := publish(context.Background(), cfg, deps, fakeLister(true), 0.5)
	require.NoError(t, err)
	assert.Equal(t, "trained_model_2024_03_01_12_30_00_loss_0.5", name)
	_, err = os.Stat(filepath.Join(store.Root(), "models", name))
	require.NoError(t, err)
	leftovers, err := filepath.Glob(filepath.Join(cfg.ArchiveDir, "*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	// A failed upload doesn't leave the archive behind either.
	cfg.ModelsBucketName = "invalid/bucket"
	_, err = publish(context.Background(), cfg, deps, fakeLister(true), 0.5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, runerr.ErrStorage))
	leftovers, err = filepath.Glob(filepath.Join(cfg.ArchiveDir, "*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}
