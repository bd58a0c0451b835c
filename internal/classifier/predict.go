// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classifier

import (
	"io"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
)

// Predictor runs the model in inference mode and returns the most likely class of each image.
type Predictor struct {
	exec *context.Exec
}

// NewPredictor compiles modelFn for inference using the variables already in ctx. It never creates new variables.
func NewPredictor(backend backends.Backend, ctx *context.Context, modelFn train.ModelFn) (*Predictor, error) {
	exec, err := context.NewExec(backend, ctx.Reuse(), func(ctx *context.Context, images *Node) *Node {
		logits := modelFn(ctx, nil, []*Node{images})[0]
		// Take the class with the highest logit value.
		return ArgMax(logits, -1, dtypes.Int32)
	})
	if err != nil {
		return nil, errors.WithMessage(err, "compiling predictor")
	}
	return &Predictor{exec: exec}, nil
}

// PredictBatch returns the predicted classes for the images tensor shaped `[batch_size, height, width, 3]`.
func (p *Predictor) PredictBatch(images *tensors.Tensor) ([]int, error) {
	output, err := p.exec.Exec1(images)
	if err != nil {
		return nil, err
	}
	defer output.MustFinalizeAll()
	classes := output.Value().([]int32)
	predictions := make([]int, len(classes))
	for ii, c := range classes {
		predictions[ii] = int(c)
	}
	return predictions, nil
}

// Predict runs over the whole dataset, from its start, and returns the predicted and the true class of every
// example in the order they were yielded. The dataset labels must be shaped `[batch_size, 1]`.
func (p *Predictor) Predict(ds train.Dataset) (predicted, truth []int, err error) {
	ds.Reset()
	defer ds.Reset()
	for {
		_, inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "reading dataset %q", ds.Name())
		}
		batchPredictions, err := p.PredictBatch(inputs[0])
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "predicting batch of dataset %q", ds.Name())
		}
		predicted = append(predicted, batchPredictions...)
		for _, row := range labels[0].Value().([][]int32) {
			truth = append(truth, int(row[0]))
		}
		finalize(inputs)
		finalize(labels)
	}
	return predicted, truth, nil
}

func finalize(ts []*tensors.Tensor) {
	for _, t := range ts {
		t.MustFinalizeAll()
	}
}
