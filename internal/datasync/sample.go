// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasync

import (
	"image"
	"image/color"
	"math/rand/v2"
	"path/filepath"
	"unicode/utf8"

	"github.com/disintegration/imaging"
	"github.com/gomlx/foodclassifier/internal/imagefolder"
	"github.com/gomlx/foodclassifier/internal/runerr"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"k8s.io/klog/v2"
)

// Layout of the sample grid.
const (
	SampleRows    = 4
	SampleCols    = 4
	SampleTile    = 160
	sampleLabelHt = 18
)

// VisualizeSample picks SampleRows*SampleCols images at random (with replacement) from the dataPath tree and
// saves them as a grid to outPath, each tile titled with the name of the directory holding the image, that is,
// its class. The output format is taken from the outPath extension, usually ".png".
func VisualizeSample(dataPath, outPath string, rng *rand.Rand) error {
	var paths []string
	err := imagefolder.WalkImages(dataPath, func(path string) error {
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "listing images in %q", dataPath)
	}
	if len(paths) == 0 {
		return errors.Wrapf(runerr.ErrData, "no images found in %q", dataPath)
	}

	cellHeight := SampleTile + sampleLabelHt
	grid := imaging.New(SampleCols*SampleTile, SampleRows*cellHeight, color.White)
	for ii := range SampleRows * SampleCols {
		path := paths[rng.IntN(len(paths))]
		img, err := imaging.Open(path, imaging.AutoOrientation(true))
		if err != nil {
			return errors.Wrapf(runerr.ErrData, "decoding %q: %v", path, err)
		}
		img = imaging.Fit(img, SampleTile, SampleTile, imaging.Lanczos)
		x0 := (ii % SampleCols) * SampleTile
		y0 := (ii / SampleCols) * cellHeight
		center := image.Pt(
			x0+(SampleTile-img.Bounds().Dx())/2,
			y0+sampleLabelHt+(SampleTile-img.Bounds().Dy())/2)
		grid = imaging.Paste(grid, img, center)
		drawLabel(grid, filepath.Base(filepath.Dir(path)), x0, y0)
	}
	if err = imaging.Save(grid, outPath); err != nil {
		return errors.Wrapf(err, "saving sample grid to %q", outPath)
	}
	klog.Infof("saved %d sample images from %q to %q", SampleRows*SampleCols, dataPath, outPath)
	return nil
}

// drawLabel writes the label centered on top of the tile starting at (x0, y0), truncated to the tile width.
func drawLabel(dst *image.NRGBA, label string, x0, y0 int) {
	face := basicfont.Face7x13
	maxChars := SampleTile / face.Advance
	label = truncateLabel(label, maxChars)
	width := utf8.RuneCountInString(label) * face.Advance
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.Black),
		Face: face,
		Dot:  fixed.P(x0+(SampleTile-width)/2, y0+face.Ascent+(sampleLabelHt-face.Height)/2),
	}
	d.DrawString(label)
}

// truncateLabel keeps the first maxChars characters (runes) of label.
func truncateLabel(label string, maxChars int) string {
	runes := []rune(label)
	if len(runes) <= maxChars {
		return label
	}
	return string(runes[:maxChars])
}
