// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package imagefolder

import (
	"image"
	"io"
	"math/rand/v2"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	timage "github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
)

// Dataset implements train.Dataset over a list of labeled image files.
//
// Each Yield returns:
//
//   - inputs: one tensor with the images, shaped `[batch_size, height, width, 3]`, float32 values in [0, 1].
//   - labels: one tensor with the class indices, int32 shaped `[batch_size, 1]`.
//
// Yield is safe for concurrent use, so the Dataset can be wrapped with datasets.Parallel, at the cost of
// losing the order of the batches.
type Dataset struct {
	name      string
	examples  []Example
	batchSize int

	width, height int
	dropRemainder bool
	augmentation  *Augmentation
	toTensor      *timage.ToTensorConfig

	// mu protects rng, order and pos.
	mu      sync.Mutex
	rng     *rand.Rand
	shuffle bool
	order   []int
	pos     int
}

var _ train.Dataset = (*Dataset)(nil)

// New creates a Dataset named name over examples, yielding batches of batchSize images, in the
// given order, of size ImageSize x ImageSize, and keeping the partial trailing batch.
//
// Use the configuration methods to change the defaults: they return the Dataset itself, so calls
// can be cascaded.
func New(name string, examples []Example, batchSize int) *Dataset {
	ds := &Dataset{
		name:      name,
		examples:  examples,
		batchSize: batchSize,
		width:     ImageSize,
		height:    ImageSize,
		toTensor:  timage.ToTensor(dtypes.Float32),
		rng:       rand.New(rand.NewPCG(0, 0)),
	}
	ds.Reset()
	return ds
}

// Size sets the width and height images are resized to.
func (ds *Dataset) Size(width, height int) *Dataset {
	ds.width, ds.height = width, height
	return ds
}

// Shuffle the examples at every Reset, using the given seed for the shuffling and for the augmentation.
func (ds *Dataset) Shuffle(seed uint64) *Dataset {
	ds.mu.Lock()
	ds.rng = rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))
	ds.shuffle = true
	ds.mu.Unlock()
	ds.Reset()
	return ds
}

// Augment each yielded image with a random transformation sampled from aug.
func (ds *Dataset) Augment(aug Augmentation) *Dataset {
	ds.augmentation = &aug
	return ds
}

// DropRemainder configures whether the trailing partial batch is dropped.
func (ds *Dataset) DropRemainder(drop bool) *Dataset {
	ds.dropRemainder = drop
	return ds
}

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// Examples returns the examples in their original order. The returned slice must not be modified.
func (ds *Dataset) Examples() []Example { return ds.examples }

// NumBatches returns how many batches an epoch yields.
func (ds *Dataset) NumBatches() int {
	if ds.dropRemainder {
		return StepsPerEpoch(len(ds.examples), ds.batchSize)
	}
	return (len(ds.examples) + ds.batchSize - 1) / ds.batchSize
}

// Reset implements train.Dataset. It restarts the epoch, and reshuffles if shuffling is enabled.
func (ds *Dataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.pos = 0
	if len(ds.order) != len(ds.examples) {
		ds.order = make([]int, len(ds.examples))
	}
	for ii := range ds.order {
		ds.order[ii] = ii
	}
	if ds.shuffle {
		ds.rng.Shuffle(len(ds.order), func(i, j int) {
			ds.order[i], ds.order[j] = ds.order[j], ds.order[i]
		})
	}
}

// next selects the examples of the next batch and samples their augmentation.
func (ds *Dataset) next() (batch []Example, transforms []Transform, err error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	remaining := len(ds.order) - ds.pos
	if remaining <= 0 || (ds.dropRemainder && remaining < ds.batchSize) {
		return nil, nil, io.EOF
	}
	n := min(remaining, ds.batchSize)
	batch = make([]Example, n)
	for ii := range n {
		batch[ii] = ds.examples[ds.order[ds.pos+ii]]
	}
	ds.pos += n
	if ds.augmentation != nil {
		transforms = make([]Transform, n)
		for ii := range transforms {
			transforms[ii] = ds.augmentation.Sample(ds.rng)
		}
	}
	return batch, transforms, nil
}

// YieldImages returns the next batch as decoded, resized and augmented images, along with their labels.
func (ds *Dataset) YieldImages() (images []image.Image, labels []int, err error) {
	batch, transforms, err := ds.next()
	if err != nil {
		return nil, nil, err
	}
	images = make([]image.Image, len(batch))
	labels = make([]int, len(batch))
	for ii, example := range batch {
		img, err := LoadImage(example.Path, ds.width, ds.height)
		if err != nil {
			return nil, nil, err
		}
		if transforms != nil {
			img = transforms[ii].Apply(img)
		}
		images[ii] = img
		labels[ii] = example.Label
	}
	return images, labels, nil
}

// Yield implements train.Dataset.
func (ds *Dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	images, labelsInts, err := ds.YieldImages()
	if err != nil {
		return nil, nil, nil, err
	}
	var imagesTensor *tensors.Tensor
	err = exceptions.TryCatch[error](func() { imagesTensor = ds.toTensor.Batch(images) })
	if err != nil {
		return nil, nil, nil, errors.WithMessagef(err, "dataset %q: converting images to tensor", ds.name)
	}
	labelsValues := make([][]int32, len(labelsInts))
	for ii, label := range labelsInts {
		labelsValues[ii] = []int32{int32(label)}
	}
	inputs = []*tensors.Tensor{imagesTensor}
	labels = []*tensors.Tensor{tensors.FromValue(labelsValues)}
	return
}
