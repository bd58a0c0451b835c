// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package imagefolder

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/gomlx/foodclassifier/internal/runerr"
)

// ImageSize is the width and height every image is resized to.
const ImageSize = 229

// LoadImage decodes the image file and resizes it to width x height, without preserving the aspect ratio.
//
// Undecodable files are data errors.
func LoadImage(imagePath string, width, height int) (image.Image, error) {
	img, err := imaging.Open(imagePath)
	if err != nil {
		return nil, runerr.Dataf("reading image %q: %v", imagePath, err)
	}
	size := img.Bounds().Size()
	if size.X != width || size.Y != height {
		img = imaging.Resize(img, width, height, imaging.NearestNeighbor)
	}
	return img, nil
}
