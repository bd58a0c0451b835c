// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package imagefolder

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/foodclassifier/internal/runerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeImage writes a uniformly colored PNG image; the file extension doesn't need to match the format.
func writeImage(t *testing.T, path string, width, height int, c color.Color) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

// createDataset creates the 3 splits with numPerClass[split] images of each of the classes.
func createDataset(t *testing.T, root string, classes []string, numPerClass map[string]int) {
	t.Helper()
	for _, split := range Splits {
		for classIdx, class := range classes {
			for ii := range numPerClass[split] {
				name := filepath.Join(root, split, class, string(rune('a'+ii))+".png")
				writeImage(t, name, 12, 10, color.NRGBA{R: uint8(100 * classIdx), G: 50, B: 200, A: 255})
			}
		}
	}
}

func TestCountImages(t *testing.T) {
	root := t.TempDir()
	writeImage(t, filepath.Join(root, "a", "1.png"), 3, 3, color.White)
	writeImage(t, filepath.Join(root, "a", "2.jpg"), 3, 3, color.White)
	writeImage(t, filepath.Join(root, "b", "deep", "3.jpeg"), 3, 3, color.White)
	writeImage(t, filepath.Join(root, "b", "4.JPG"), 3, 3, color.White)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b", "img.gif"), []byte("x"), 0o644))

	count, err := CountImages(root)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	_, err = CountImages(filepath.Join(root, "missing"))
	assert.ErrorIs(t, err, runerr.ErrConfig)
}

func TestStepsPerEpoch(t *testing.T) {
	for _, tc := range []struct{ count, batch, want int }{
		{8, 2, 4},
		{9, 2, 4},
		{1, 2, 0},
		{0, 2, 0},
		{100, 32, 3},
		{5, 0, 0},
	} {
		assert.Equalf(t, tc.want, StepsPerEpoch(tc.count, tc.batch), "StepsPerEpoch(%d, %d)", tc.count, tc.batch)
	}
}

func TestVocabulary(t *testing.T) {
	root := t.TempDir()
	for _, class := range []string{"soup", "bread", "rice"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, class), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "README"), []byte("x"), 0o644))
	vocab, err := ReadVocabulary(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"bread", "rice", "soup"}, vocab.Names())
	idx, found := vocab.Index("soup")
	assert.True(t, found)
	assert.Equal(t, 2, idx)
	_, found = vocab.Index("egg")
	assert.False(t, found)

	_, err = ReadVocabulary(t.TempDir())
	assert.ErrorIs(t, err, runerr.ErrData)
}

func TestListExamples(t *testing.T) {
	root := t.TempDir()
	createDataset(t, root, []string{"dog", "cat"}, map[string]int{Training: 3, Validation: 1, Evaluation: 2})
	layout := Layout{Root: root}
	require.NoError(t, layout.Check())

	vocab, err := ReadVocabulary(layout.SplitDir(Training))
	require.NoError(t, err)
	examples, err := ListExamples(layout.SplitDir(Evaluation), vocab)
	require.NoError(t, err)
	require.Len(t, examples, 4)
	// "cat" is index 0, "dog" is index 1.
	assert.Equal(t, []int{0, 0, 1, 1}, []int{examples[0].Label, examples[1].Label, examples[2].Label, examples[3].Label})
	assert.Equal(t, filepath.Join(root, Evaluation, "cat", "a.png"), examples[0].Path)
	assert.Equal(t, filepath.Join(root, Evaluation, "cat", "b.png"), examples[1].Path)

	// Extra class in validation.
	require.NoError(t, os.MkdirAll(filepath.Join(root, Validation, "bird"), 0o755))
	_, err = ListExamples(layout.SplitDir(Validation), vocab)
	assert.ErrorIs(t, err, runerr.ErrData)

	assert.ErrorIs(t, Layout{Root: filepath.Join(root, "nope")}.Check(), runerr.ErrConfig)
}

func TestDataset(t *testing.T) {
	root := t.TempDir()
	createDataset(t, root, []string{"bread", "soup"}, map[string]int{Training: 3, Validation: 2, Evaluation: 2})
	p, err := BuildPipelines(Layout{Root: root}, 4, 16, 7, DefaultAugmentation)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Vocabulary.Len())
	assert.Equal(t, 1, p.Train.NumBatches())
	assert.Equal(t, 1, p.Validation.NumBatches())
	assert.Equal(t, 1, p.Evaluation.NumBatches())

	ds := p.Train
	spec, inputs, labels, err := ds.Yield()
	require.NoError(t, err)
	assert.Nil(t, spec)
	require.Len(t, inputs, 1)
	require.Len(t, labels, 1)
	assert.Equal(t, []int{4, 16, 16, 3}, inputs[0].Shape().Dimensions)
	assert.Equal(t, []int{4, 1}, labels[0].Shape().Dimensions)

	// 6 examples, batch of 4 with the remainder dropped: only one batch.
	_, _, _, err = ds.Yield()
	assert.ErrorIs(t, err, io.EOF)
	ds.Reset()
	_, _, _, err = ds.Yield()
	assert.NoError(t, err)

	// Evaluation keeps the partial batch and the order.
	evalDS := New("eval", p.Evaluation.Examples()[:3], 2).Size(8, 8)
	imgs, gotLabels, err := evalDS.YieldImages()
	require.NoError(t, err)
	assert.Len(t, imgs, 2)
	assert.Equal(t, []int{0, 0}, gotLabels)
	imgs, gotLabels, err = evalDS.YieldImages()
	require.NoError(t, err)
	assert.Len(t, imgs, 1)
	assert.Equal(t, []int{1}, gotLabels)
	_, _, err = evalDS.YieldImages()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDatasetShuffle(t *testing.T) {
	examples := make([]Example, 50)
	for ii := range examples {
		examples[ii] = Example{Path: "unused", Label: ii}
	}
	order := func(ds *Dataset) []int {
		var labels []int
		for {
			batch, _, err := ds.next()
			if err != nil {
				return labels
			}
			for _, ex := range batch {
				labels = append(labels, ex.Label)
			}
		}
	}
	ordered := order(New("ordered", examples, 5))
	for ii, label := range ordered {
		require.Equal(t, ii, label)
	}
	first := order(New("a", examples, 5).Shuffle(3))
	second := order(New("b", examples, 5).Shuffle(3))
	assert.Equal(t, first, second, "same seed should give the same order")
	assert.NotEqual(t, ordered, first)
	assert.ElementsMatch(t, ordered, first)
}

func TestAugmentation(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 20, 20))
	for y := range 20 {
		for x := range 20 {
			src.Set(x, y, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	assert.True(t, Transform{ZoomX: 1, ZoomY: 1}.IsIdentity())
	assert.Same(t, image.Image(src), Transform{ZoomX: 1, ZoomY: 1}.Apply(src))

	// Edge replication fill: a uniform image stays uniform under any transformation.
	rng := rand.New(rand.NewPCG(1, 2))
	aug := Augmentation{RotationDegrees: 25, Zoom: 0.15, WidthShift: 0.2, HeightShift: 0.2, ShearDegrees: 15, FlipHorizontal: true}
	for range 5 {
		out := aug.Sample(rng).Apply(src)
		assert.Equal(t, src.Bounds(), out.Bounds())
		for _, p := range []image.Point{{0, 0}, {19, 19}, {0, 19}, {10, 10}} {
			assert.Equal(t, color.NRGBA{R: 10, G: 20, B: 30, A: 255}, out.At(p.X, p.Y))
		}
	}

	// A pure shift moves the content: the left half becomes a copy of the left edge.
	striped := image.NewNRGBA(image.Rect(0, 0, 10, 1))
	for x := range 10 {
		striped.Set(x, 0, color.NRGBA{R: uint8(x * 10), A: 255})
	}
	shifted := Transform{ZoomX: 1, ZoomY: 1, ShiftX: -0.5}.Apply(striped)
	assert.Equal(t, color.NRGBA{R: 0, A: 255}, shifted.At(0, 0))
	assert.Equal(t, color.NRGBA{R: 0, A: 255}, shifted.At(5, 0))
	assert.Equal(t, color.NRGBA{R: 40, A: 255}, shifted.At(9, 0))

	flipped := Transform{ZoomX: 1, ZoomY: 1, Flip: true}.Apply(striped)
	assert.Equal(t, color.NRGBA{R: 90, A: 255}, flipped.At(0, 0))
}
