// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package imagefolder

import (
	"k8s.io/klog/v2"
)

// Pipelines holds the datasets of the three splits and the class vocabulary they share.
type Pipelines struct {
	Vocabulary *Vocabulary

	// Train is shuffled, augmented and drops the partial trailing batch.
	Train *Dataset

	// Validation is ordered and drops the partial trailing batch.
	Validation *Dataset

	// Evaluation is ordered and yields every example, so predictions align with Evaluation.Examples().
	Evaluation *Dataset
}

// BuildPipelines creates the datasets for the splits of layout, yielding imageSize x imageSize images.
// The vocabulary is read from the training split, and the other splits must have the same classes.
func BuildPipelines(layout Layout, batchSize, imageSize int, seed uint64, aug Augmentation) (*Pipelines, error) {
	vocab, err := ReadVocabulary(layout.SplitDir(Training))
	if err != nil {
		return nil, err
	}
	examples := make(map[string][]Example, len(Splits))
	for _, split := range Splits {
		examples[split], err = ListExamples(layout.SplitDir(split), vocab)
		if err != nil {
			return nil, err
		}
		klog.V(1).Infof("split %q: %d images", split, len(examples[split]))
	}
	p := &Pipelines{
		Vocabulary: vocab,
		Train: New(Training, examples[Training], batchSize).
			Size(imageSize, imageSize).
			Shuffle(seed).
			Augment(aug).
			DropRemainder(true),
		Validation: New(Validation, examples[Validation], batchSize).
			Size(imageSize, imageSize).
			DropRemainder(true),
		Evaluation: New(Evaluation, examples[Evaluation], batchSize).
			Size(imageSize, imageSize),
	}
	return p, nil
}
