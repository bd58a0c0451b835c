// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backbone

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

// CnnName is the name of the small convolutional backbone.
const CnnName = "cnn"

// Hyperparameters of the Cnn backbone.
const (
	// ParamCnnNumLayers is the number of convolution blocks; each halves the image size until it is 16 or smaller.
	ParamCnnNumLayers = "cnn_num_layers"

	// ParamCnnChannels is the number of channels of every convolution.
	ParamCnnChannels = "cnn_channels"
)

// Cnn is a small randomly initialized convolutional feature extractor. Frozen, it works as a fixed random
// projection of the images: it is meant for runs without access to pre-trained weights, like tests and the
// dummy dataset.
type Cnn struct{}

// Name implements Backbone.
func (b *Cnn) Name() string { return CnnName }

// Prepare implements Backbone. Nothing to prepare.
func (b *Cnn) Prepare(*context.Context) error { return nil }

// Features implements Backbone.
func (b *Cnn) Features(ctx *context.Context, images *Node) *Node {
	batchSize := images.Shape().Dimensions[0]
	numLayers := context.GetParamOr(ctx, ParamCnnNumLayers, 3)
	numChannels := context.GetParamOr(ctx, ParamCnnChannels, 8)

	x := images
	imgSize := x.Shape().Dimensions[1]
	for convIdx := range numLayers {
		ctx := ctx.Inf("%03d_conv", convIdx)
		x = layers.Convolution(ctx, x).Channels(numChannels).KernelSize(3).PadSame().Done()
		x = activations.Relu(x)
		if imgSize > 16 {
			x = MaxPool(x).Window(2).Done()
			imgSize = x.Shape().Dimensions[1]
		}
	}
	x.AssertDims(batchSize, imgSize, x.Shape().Dimensions[2], numChannels)
	return x
}
