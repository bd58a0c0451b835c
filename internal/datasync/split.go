// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasync

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gomlx/foodclassifier/internal/imagefolder"
	"github.com/gomlx/foodclassifier/internal/runerr"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// FoodClasses of the Food-11 dataset, in class ID order: the images of class i are named "i_<n>.jpg".
var FoodClasses = []string{"bread", "dairy_product", "dessert", "egg", "fried_food", "meat",
	"noodles_pasta", "rice", "seafood", "soup", "vegetable"}

// SplitByClassPrefix moves the images directly under dataPath whose name starts with "<classIndex>_" into the
// subdirectory dataPath/classNames[classIndex], creating it if needed. It returns the number of files moved.
//
// It is idempotent: moved files are no longer at the top-level, so calling it again moves nothing.
func SplitByClassPrefix(dataPath string, classIndex int, classNames []string) (moved int, err error) {
	if classIndex < 0 || classIndex >= len(classNames) {
		return 0, errors.Wrapf(runerr.ErrConfig, "class index %d out of range, there are %d class names",
			classIndex, len(classNames))
	}
	className := classNames[classIndex]
	if className == "" || strings.ContainsAny(className, `/\`) || className == "." || className == ".." {
		return 0, errors.Wrapf(runerr.ErrConfig, "invalid class name %q", className)
	}
	entries, err := os.ReadDir(dataPath)
	if err != nil {
		return 0, errors.Wrapf(runerr.ErrConfig, "reading %q: %v", dataPath, err)
	}
	prefix := strconv.Itoa(classIndex) + "_"
	targetDir := filepath.Join(dataPath, className)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !imagefolder.IsImageFile(name) {
			continue
		}
		if err = os.MkdirAll(targetDir, 0o755); err != nil {
			return moved, errors.Wrapf(err, "creating class directory %q", targetDir)
		}
		if err = os.Rename(filepath.Join(dataPath, name), filepath.Join(targetDir, name)); err != nil {
			return moved, errors.Wrapf(err, "moving %q into %q", name, targetDir)
		}
		moved++
	}
	klog.V(1).Infof("moved %d images of class #%d %q into %q", moved, classIndex, className, targetDir)
	return moved, nil
}

// SplitAllByClassPrefix calls SplitByClassPrefix for every class, and returns the total number of files moved.
func SplitAllByClassPrefix(dataPath string, classNames []string) (moved int, err error) {
	for classIndex := range classNames {
		n, err := SplitByClassPrefix(dataPath, classIndex, classNames)
		moved += n
		if err != nil {
			return moved, err
		}
	}
	return moved, nil
}
