// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasync

import (
	"fmt"
	"image"
	"os"
	"sort"

	// Decoders of the supported image formats.
	_ "image/jpeg"
	_ "image/png"

	"github.com/gomlx/foodclassifier/internal/imagefolder"
	"github.com/gomlx/foodclassifier/internal/runerr"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// SizeStats of the images in a directory tree.
type SizeStats struct {
	Count                     int
	MeanWidth, MeanHeight     float64
	MedianWidth, MedianHeight float64
}

// String implements fmt.Stringer.
func (s SizeStats) String() string {
	return fmt.Sprintf("%d images: mean %.1fx%.1f, median %.1fx%.1f",
		s.Count, s.MeanWidth, s.MeanHeight, s.MedianWidth, s.MedianHeight)
}

// ImageSizeStats walks dataPath recursively and returns the mean and median width and height of its images.
// Only the image headers are decoded. It returns a data error if there are no images.
func ImageSizeStats(dataPath string) (SizeStats, error) {
	var widths, heights []float64
	err := imagefolder.WalkImages(dataPath, func(path string) error {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		cfg, _, err := image.DecodeConfig(f)
		if err != nil {
			return errors.Wrapf(runerr.ErrData, "decoding header of %q: %v", path, err)
		}
		widths = append(widths, float64(cfg.Width))
		heights = append(heights, float64(cfg.Height))
		return nil
	})
	if err != nil {
		return SizeStats{}, errors.WithMessagef(err, "reading images sizes in %q", dataPath)
	}
	if len(widths) == 0 {
		return SizeStats{}, errors.Wrapf(runerr.ErrData, "no images found in %q", dataPath)
	}
	return SizeStats{
		Count:        len(widths),
		MeanWidth:    stat.Mean(widths, nil),
		MeanHeight:   stat.Mean(heights, nil),
		MedianWidth:  median(widths),
		MedianHeight: median(heights),
	}, nil
}

// median of values, averaging the two middle values for even lengths. It sorts values.
func median(values []float64) float64 {
	sort.Float64s(values)
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}
