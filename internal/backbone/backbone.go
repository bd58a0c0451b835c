// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backbone provides the frozen feature extractors the classifier head is trained on top of.
//
// A Backbone maps images shaped `[batch_size, 229, 229, 3]` (values in [0, 1]) to a fixed-size feature map
// per example. Its variables are never trained: see Frozen.
package backbone

import (
	"sort"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/foodclassifier/internal/runerr"
	"k8s.io/klog/v2"
)

// Backbone is a feature extractor used as the frozen base of a classifier.
type Backbone interface {
	// Name of the backbone, as selected by the "backbone" hyperparameter.
	Name() string

	// Prepare is called once before any graph is built, e.g. to download pre-trained weights.
	Prepare(ctx *context.Context) error

	// Features builds the feature extraction graph for images. It creates its variables under ctx.
	// Output is shaped `[batch_size, ...]`, with fixed dimensions after the batch axis.
	Features(ctx *context.Context, images *Node) *Node
}

// Factory creates a Backbone. weightsDir is where pre-trained weights are cached.
type Factory func(weightsDir string) Backbone

var registry = map[string]Factory{
	InceptionV3Name: func(weightsDir string) Backbone { return &InceptionV3{WeightsDir: weightsDir} },
	CnnName:         func(string) Backbone { return &Cnn{} },
}

// Register a new backbone factory. It overwrites any previous one with the same name.
func Register(name string, factory Factory) {
	registry[name] = factory
}

// Names of the registered backbones, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates the backbone registered under name.
func New(name, weightsDir string) (Backbone, error) {
	factory, found := registry[name]
	if !found {
		return nil, runerr.Configf("unknown backbone %q, valid values are %q", name, Names())
	}
	return factory(weightsDir), nil
}

// Frozen builds the backbone features under the scope "backbone" of ctx, marks every variable of that scope as
// not trainable and stops the gradient at its output, so no training step ever changes the backbone.
func Frozen(ctx *context.Context, b Backbone, images *Node) *Node {
	ctx = ctx.In("backbone")
	features := b.Features(ctx, images)
	count := 0
	for v := range ctx.IterVariablesInScope() {
		if v.Trainable {
			v.SetTrainable(false)
			count++
		}
	}
	if count > 0 {
		klog.V(1).Infof("backbone %q: froze %d variables", b.Name(), count)
	}
	return StopGradient(features)
}
