// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package classifier builds the image classification model: a frozen backbone.Backbone feeding a small trainable
// head, and the helpers to run it for inference.
package classifier

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/foodclassifier/internal/backbone"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
)

// Hyperparameter keys.
const (
	// ParamBackbone selects the backbone by name, see backbone.Names.
	ParamBackbone = "backbone"

	// ParamNumClasses is the number of output classes of the head. Set from the training vocabulary.
	ParamNumClasses = "num_classes"

	// ParamClassNames holds the class names in index order, so a saved model describes its own outputs.
	ParamClassNames = "class_names"

	// ParamHeadHiddenUnits is the size of the hidden dense layer of the head.
	ParamHeadHiddenUnits = "head_hidden_units"

	// ParamHeadDropoutRate is the dropout rate applied after the hidden layer, during training.
	ParamHeadDropoutRate = "head_dropout_rate"
)

// CreateDefaultContext sets the context with default hyperparameters.
func CreateDefaultContext() *context.Context {
	ctx := context.New()
	ctx.ResetRNGState()
	ctx.SetParams(map[string]any{
		ParamBackbone:        backbone.InceptionV3Name,
		ParamNumClasses:      0,
		ParamHeadHiddenUnits: 512,
		ParamHeadDropoutRate: 0.5,

		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 1e-5,

		// Cnn backbone, only used if "backbone" is "cnn".
		backbone.ParamCnnNumLayers: 3,
		backbone.ParamCnnChannels:  8,
	})
	return ctx
}

// Head builds the trainable classification head on top of the backbone features:
// flatten, dense(hidden units) with ReLU, dropout and a dense layer with one logit per class.
//
// It returns the logits, shaped `[batch_size, num_classes]`: the softmax is left to the loss.
func Head(ctx *context.Context, features *Node, numClasses int) *Node {
	batchSize := features.Shape().Dimensions[0]
	hiddenUnits := context.GetParamOr(ctx, ParamHeadHiddenUnits, 512)
	dropoutRate := context.GetParamOr(ctx, ParamHeadDropoutRate, 0.5)

	x := Reshape(features, batchSize, -1)
	x = layers.Dense(ctx.In("hidden"), x, true, hiddenUnits)
	x = activations.Relu(x)
	if dropoutRate > 0 {
		x = layers.DropoutStatic(ctx, x, dropoutRate)
	}
	return layers.Dense(ctx.In("logits"), x, true, numClasses)
}

// ModelFn returns the train.ModelFn of the classifier using the given backbone.
//
// It takes one input: the images batch shaped `[batch_size, height, width, 3]` with values in [0, 1].
// The number of classes is read from the "num_classes" hyperparameter.
func ModelFn(b backbone.Backbone) train.ModelFn {
	return func(ctx *context.Context, spec any, inputs []*Node) []*Node {
		_ = spec              // Not needed.
		ctx = ctx.In("model") // Create the model by default under the "/model" scope.
		numClasses := context.GetParamOr(ctx, ParamNumClasses, 0)
		if numClasses <= 0 {
			exceptions.Panicf("classifier: hyperparameter %q must be set to the number of classes, got %d",
				ParamNumClasses, numClasses)
		}
		features := backbone.Frozen(ctx, b, inputs[0])
		logits := Head(ctx.In("head"), features, numClasses)
		return []*Node{logits}
	}
}
