// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package imagefolder

import (
	"image"
	"math"
	"math/rand/v2"

	"github.com/disintegration/imaging"
)

// Augmentation configures the random transformations applied to training images.
//
// All ranges are symmetric: a value r samples uniformly from [-r, r].
type Augmentation struct {
	// RotationDegrees is the rotation range, in degrees.
	RotationDegrees float64

	// Zoom range: each axis is scaled independently by a factor in [1-Zoom, 1+Zoom].
	Zoom float64

	// WidthShift and HeightShift are translation ranges as fractions of the image width and height.
	WidthShift, HeightShift float64

	// ShearDegrees is the shear angle range, in degrees.
	ShearDegrees float64

	// FlipHorizontal flips half the images horizontally.
	FlipHorizontal bool
}

// DefaultAugmentation used for the training split.
var DefaultAugmentation = Augmentation{
	RotationDegrees: 25,
	Zoom:            0.15,
	WidthShift:      0.2,
	HeightShift:     0.2,
	ShearDegrees:    0.15,
	FlipHorizontal:  true,
}

// Transform holds one sampled augmentation: apply it with Apply.
type Transform struct {
	Theta, Shear   float64 // Radians.
	ZoomX, ZoomY   float64
	ShiftX, ShiftY float64 // Fractions of width and height.
	Flip           bool
}

// Sample draws a random Transform.
func (a *Augmentation) Sample(rng *rand.Rand) Transform {
	uniform := func(r float64) float64 {
		if r == 0 {
			return 0
		}
		return (2*rng.Float64() - 1) * r
	}
	t := Transform{
		Theta:  uniform(a.RotationDegrees) * math.Pi / 180,
		Shear:  uniform(a.ShearDegrees) * math.Pi / 180,
		ZoomX:  1 + uniform(a.Zoom),
		ZoomY:  1 + uniform(a.Zoom),
		ShiftX: uniform(a.WidthShift),
		ShiftY: uniform(a.HeightShift),
	}
	if a.FlipHorizontal {
		t.Flip = rng.IntN(2) == 1
	}
	return t
}

// IsIdentity returns whether the transformation doesn't change the image.
func (t Transform) IsIdentity() bool {
	return t.Theta == 0 && t.Shear == 0 && t.ZoomX == 1 && t.ZoomY == 1 && t.ShiftX == 0 && t.ShiftY == 0 && !t.Flip
}

// Apply the affine transformation around the image center and then the flip. Pixels sampled from outside the
// source are filled with the nearest edge pixel.
func (t Transform) Apply(img image.Image) image.Image {
	if t.IsIdentity() {
		return img
	}
	src := imaging.Clone(img)
	if t.Theta != 0 || t.Shear != 0 || t.ZoomX != 1 || t.ZoomY != 1 || t.ShiftX != 0 || t.ShiftY != 0 {
		src = warpAffine(src, t)
	}
	if t.Flip {
		src = imaging.FlipH(src)
	}
	return src
}

// warpAffine maps each output pixel p to the source pixel M·p, where M composes rotation, shear and zoom
// around the center plus the shift. Same convention as the usual "inverse mapping" augmentation.
func warpAffine(src *image.NRGBA, t Transform) *image.NRGBA {
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	cx, cy := float64(width-1)/2, float64(height-1)/2

	// M = Rotation · Shear · Zoom, acting on (row, col) offsets from the center.
	cos, sin := math.Cos(t.Theta), math.Sin(t.Theta)
	shearSin, shearCos := -math.Sin(t.Shear), math.Cos(t.Shear)
	m00, m01 := cos, -sin*shearCos+cos*shearSin
	m10, m11 := sin, cos*shearCos+sin*shearSin
	m00, m10 = m00*t.ZoomY, m10*t.ZoomY
	m01, m11 = m01*t.ZoomX, m11*t.ZoomX
	shiftRow, shiftCol := t.ShiftY*float64(height), t.ShiftX*float64(width)

	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	for row := 0; row < height; row++ {
		dr := float64(row) - cy
		for col := 0; col < width; col++ {
			dc := float64(col) - cx
			srcRow := m00*dr + m01*dc + cy + shiftRow
			srcCol := m10*dr + m11*dc + cx + shiftCol
			sampleNearestEdge(src, srcCol, srcRow, dst.Pix[dst.PixOffset(col, row):])
		}
	}
	return dst
}

// sampleNearestEdge writes into out the bilinear interpolation of src at (x, y), clamping coordinates to
// the image edges.
func sampleNearestEdge(src *image.NRGBA, x, y float64, out []uint8) {
	bounds := src.Bounds()
	maxX, maxY := float64(bounds.Dx()-1), float64(bounds.Dy()-1)
	x = min(max(x, 0), maxX)
	y = min(max(y, 0), maxY)
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	x1, y1 := min(x0+1, bounds.Dx()-1), min(y0+1, bounds.Dy()-1)
	fx, fy := x-float64(x0), y-float64(y0)

	p00 := src.Pix[src.PixOffset(bounds.Min.X+x0, bounds.Min.Y+y0):]
	p01 := src.Pix[src.PixOffset(bounds.Min.X+x1, bounds.Min.Y+y0):]
	p10 := src.Pix[src.PixOffset(bounds.Min.X+x0, bounds.Min.Y+y1):]
	p11 := src.Pix[src.PixOffset(bounds.Min.X+x1, bounds.Min.Y+y1):]
	for ch := 0; ch < 4; ch++ {
		top := float64(p00[ch])*(1-fx) + float64(p01[ch])*fx
		bottom := float64(p10[ch])*(1-fx) + float64(p11[ch])*fx
		out[ch] = uint8(math.Round(top*(1-fy) + bottom*fy))
	}
}
