// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package trainer

import (
	"path/filepath"
	"strings"

	"github.com/gomlx/foodclassifier/internal/backbone"
	"github.com/gomlx/foodclassifier/internal/imagefolder"
	"github.com/gomlx/foodclassifier/internal/runerr"
	"github.com/pkg/errors"
)

// Default buckets.
const (
	FoodDataBucket   = "image-recognition-food-data-bucket"
	DummyDataBucket  = "image-recognition-dummy-data-bucket"
	FoodModelsBucket = "image-classification-food-model-bucket"
)

// DummySubdir is the subdirectory of the dataset root holding the small dummy dataset.
const DummySubdir = "dummy"

// Config of a training run. It is built once, from flags, and not changed during the run.
type Config struct {
	BatchSize    int
	Epochs       int
	LearningRate float64

	// BucketName holds the dataset. If empty, FoodDataBucket or, in Dummy mode, DummyDataBucket.
	BucketName string

	// ModelsBucketName where the trained model archive is uploaded when OnCloud.
	ModelsBucketName string

	// OnCloud enables the upload of the trained model.
	OnCloud bool

	// DownloadDataset from BucketName into DatasetDir before training.
	DownloadDataset bool

	// Dummy trains on the dummy dataset, under DatasetDir/dummy.
	Dummy bool

	// DatasetDir is the root of the local dataset.
	DatasetDir string

	// OutputDir holds the best model checkpoint. Checkpoints left by a previous run are removed at the start.
	// It can't be, or contain, DatasetDir or ArchiveDir.
	OutputDir string

	// ArchiveDir is where the model zip archive is created before upload.
	ArchiveDir string

	// WeightsDir caches the pre-trained backbone weights.
	WeightsDir string

	// Backbone name, see backbone.Names.
	Backbone string

	// ImageSize is the width and height images are resized to.
	ImageSize int

	// Patience is the number of epochs without improvement of the validation loss before stopping.
	Patience int

	// Seed for the shuffling and augmentation. If 0 one is picked from the clock.
	Seed uint64
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:        2,
		Epochs:           20,
		LearningRate:     1e-5,
		ModelsBucketName: FoodModelsBucket,
		DatasetDir:       "./dataset",
		OutputDir:        "./output",
		ArchiveDir:       ".",
		WeightsDir:       "~/.cache/foodclassifier",
		Backbone:         backbone.InceptionV3Name,
		ImageSize:        imagefolder.ImageSize,
		Patience:         5,
	}
}

// DatasetBucket returns the bucket the dataset is downloaded from.
func (c Config) DatasetBucket() string {
	switch {
	case c.BucketName != "":
		return c.BucketName
	case c.Dummy:
		return DummyDataBucket
	}
	return FoodDataBucket
}

// DataRoot returns the directory with the training, validation and evaluation splits.
func (c Config) DataRoot() string {
	if c.Dummy {
		return filepath.Join(c.DatasetDir, DummySubdir)
	}
	return c.DatasetDir
}

// Validate the configuration values.
func (c Config) Validate() error {
	switch {
	case c.BatchSize <= 0:
		return errors.Wrapf(runerr.ErrConfig, "batch size must be > 0, got %d", c.BatchSize)
	case c.Epochs <= 0:
		return errors.Wrapf(runerr.ErrConfig, "epochs must be > 0, got %d", c.Epochs)
	case c.LearningRate <= 0:
		return errors.Wrapf(runerr.ErrConfig, "learning rate must be > 0, got %g", c.LearningRate)
	case c.ImageSize <= 0:
		return errors.Wrapf(runerr.ErrConfig, "image size must be > 0, got %d", c.ImageSize)
	case c.Patience <= 0:
		return errors.Wrapf(runerr.ErrConfig, "patience must be > 0, got %d", c.Patience)
	case c.DatasetDir == "":
		return errors.Wrap(runerr.ErrConfig, "dataset directory not set")
	case c.OutputDir == "":
		return errors.Wrap(runerr.ErrConfig, "output directory not set")
	case c.OnCloud && c.ModelsBucketName == "":
		return errors.Wrap(runerr.ErrConfig, "models bucket name not set")
	}
	for _, other := range []struct{ name, dir string }{{"dataset", c.DatasetDir}, {"archive", c.ArchiveDir}} {
		if other.dir == "" {
			continue
		}
		inside, err := isWithin(other.dir, c.OutputDir)
		if err != nil {
			return errors.Wrapf(runerr.ErrConfig, "checking output directory %q: %v", c.OutputDir, err)
		}
		if inside {
			return errors.Wrapf(runerr.ErrConfig, "output directory %q can't hold the %s directory %q",
				c.OutputDir, other.name, other.dir)
		}
	}
	return nil
}

// isWithin returns whether path is parent itself or a path under it.
func isWithin(path, parent string) (bool, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}
	absParent, err := filepath.Abs(parent)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(absParent, absPath)
	if err != nil {
		return false, nil
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))), nil
}
