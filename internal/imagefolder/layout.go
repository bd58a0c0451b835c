// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package imagefolder reads labeled image datasets laid out as `<root>/<split>/<class_name>/<image>` and
// serves them as train.Dataset batches.
//
// The class vocabulary is the sorted list of class subdirectories of the training split, and it must be
// the same for every split.
package imagefolder

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/foodclassifier/internal/runerr"
	"github.com/pkg/errors"
)

// Split names, as subdirectories of the dataset root.
const (
	Training   = "training"
	Validation = "validation"
	Evaluation = "evaluation"
)

// Splits in the order they are used by a run.
var Splits = []string{Training, Validation, Evaluation}

// ImageExtensions recognized as image files, compared case-insensitively.
var ImageExtensions = []string{".png", ".jpg", ".jpeg"}

// Layout of a dataset root directory.
type Layout struct {
	Root string
}

// SplitDir returns the directory of the given split.
func (l Layout) SplitDir(split string) string {
	return filepath.Join(l.Root, split)
}

// Check that the root and all splits exist and are directories.
func (l Layout) Check() error {
	dirs := []string{l.Root}
	for _, split := range Splits {
		dirs = append(dirs, l.SplitDir(split))
	}
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil {
			return runerr.Configf("dataset directory %q: %v", dir, err)
		}
		if !info.IsDir() {
			return runerr.Configf("dataset path %q is not a directory", dir)
		}
	}
	return nil
}

// IsImageFile returns whether the file name has one of the ImageExtensions.
// The match ignores case, so upper-case names like "IMG_1.JPG" are counted too: on such trees counts are
// higher than those of a case-sensitive "*.jpg" glob.
func IsImageFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, imgExt := range ImageExtensions {
		if ext == imgExt {
			return true
		}
	}
	return false
}

// WalkImages calls fn for every image file under dir, recursively, in lexical order.
func WalkImages(dir string, fn func(path string) error) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsImageFile(d.Name()) {
			return nil
		}
		return fn(path)
	})
}

// CountImages counts the image files under dir, recursively.
func CountImages(dir string) (count int, err error) {
	err = WalkImages(dir, func(string) error {
		count++
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(runerr.ErrConfig, "counting images in %q: %v", dir, err)
	}
	return count, nil
}

// StepsPerEpoch is the number of full batches of batchSize in count examples. The partial
// trailing batch is not counted.
func StepsPerEpoch(count, batchSize int) int {
	if batchSize <= 0 {
		return 0
	}
	return count / batchSize
}
