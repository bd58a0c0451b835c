// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backbone

import (
	"github.com/gomlx/gomlx/examples/inceptionv3"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	timage "github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// InceptionV3Name is the name of the InceptionV3 backbone.
const InceptionV3Name = "inceptionv3"

// InceptionV3 is the ImageNet pre-trained InceptionV3 model, without its classification top and without
// the final pooling: its features are the last convolution block, which is `[5, 5, 2048]` for 229x229 images.
type InceptionV3 struct {
	// WeightsDir where the Keras weights are downloaded and unpacked.
	WeightsDir string
}

// Name implements Backbone.
func (b *InceptionV3) Name() string { return InceptionV3Name }

// Prepare implements Backbone: it downloads and unpacks the pre-trained weights, if not there yet.
func (b *InceptionV3) Prepare(ctx *context.Context) error {
	dir, err := fsutil.ReplaceTildeInDir(b.WeightsDir)
	if err != nil {
		return err
	}
	b.WeightsDir = dir
	if err = inceptionv3.DownloadAndUnpackWeights(b.WeightsDir); err != nil {
		return errors.WithMessagef(err, "downloading InceptionV3 weights to %q", b.WeightsDir)
	}
	return nil
}

// Features implements Backbone.
func (b *InceptionV3) Features(ctx *context.Context, images *Node) *Node {
	images = inceptionv3.PreprocessImage(images, 1.0, timage.ChannelsLast) // Scale from [0, 1] to Keras' [-1, 1].
	return inceptionv3.BuildGraph(ctx, images).
		PreTrained(b.WeightsDir).
		SetPooling(inceptionv3.NoPooling).
		Trainable(false).
		Done()
}
