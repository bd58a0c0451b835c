// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package report builds the evaluation summaries of a classifier: the confusion matrix and a per-class
// classification report (precision, recall, F1 and support), both in class-index order.
package report

import (
	"fmt"
	"strings"

	"github.com/gomlx/foodclassifier/internal/runerr"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ConfusionMatrix counts the predictions per true class (rows) and predicted class (columns).
type ConfusionMatrix struct {
	// Classes names, in class-index order.
	Classes []string

	// Counts[trueClass][predictedClass].
	Counts [][]int
}

// NewConfusionMatrix builds the confusion matrix of the predicted classes against the true ones.
// Both slices must have the same length and their values must be valid indices of classes.
func NewConfusionMatrix(classes []string, truth, predicted []int) (*ConfusionMatrix, error) {
	if len(truth) != len(predicted) {
		return nil, errors.Wrapf(runerr.ErrData, "%d true labels but %d predictions", len(truth), len(predicted))
	}
	numClasses := len(classes)
	cm := &ConfusionMatrix{
		Classes: classes,
		Counts:  make([][]int, numClasses),
	}
	for ii := range cm.Counts {
		cm.Counts[ii] = make([]int, numClasses)
	}
	for ii, t := range truth {
		p := predicted[ii]
		if t < 0 || t >= numClasses || p < 0 || p >= numClasses {
			return nil, errors.Wrapf(runerr.ErrData, "example #%d: label %d or prediction %d out of range for %d classes",
				ii, t, p, numClasses)
		}
		cm.Counts[t][p]++
	}
	return cm, nil
}

// Total number of examples counted.
func (cm *ConfusionMatrix) Total() int {
	var total int
	for _, row := range cm.Counts {
		for _, c := range row {
			total += c
		}
	}
	return total
}

// ClassMetrics holds the metrics of one row of the classification report.
type ClassMetrics struct {
	Name                  string
	Precision, Recall, F1 float64
	Support               int
}

// ClassificationReport summarizes a ConfusionMatrix.
type ClassificationReport struct {
	// Classes metrics in class-index order.
	Classes []ClassMetrics

	Accuracy    float64
	MacroAvg    ClassMetrics
	WeightedAvg ClassMetrics
	Total       int
}

// Report computes the ClassificationReport. Precision (recall) of a class that is never predicted (never present)
// is taken as 0, and so is its F1.
func (cm *ConfusionMatrix) Report() *ClassificationReport {
	numClasses := len(cm.Classes)
	r := &ClassificationReport{
		Classes: make([]ClassMetrics, numClasses),
		Total:   cm.Total(),
	}
	precisions := make([]float64, numClasses)
	recalls := make([]float64, numClasses)
	f1s := make([]float64, numClasses)
	supports := make([]float64, numClasses)
	var correct int
	for class := range numClasses {
		truePositives := cm.Counts[class][class]
		correct += truePositives
		var predictedCount, support int
		for other := range numClasses {
			predictedCount += cm.Counts[other][class]
			support += cm.Counts[class][other]
		}
		precisions[class] = safeRatio(float64(truePositives), float64(predictedCount))
		recalls[class] = safeRatio(float64(truePositives), float64(support))
		f1s[class] = safeRatio(2*precisions[class]*recalls[class], precisions[class]+recalls[class])
		supports[class] = float64(support)
		r.Classes[class] = ClassMetrics{
			Name:      cm.Classes[class],
			Precision: precisions[class],
			Recall:    recalls[class],
			F1:        f1s[class],
			Support:   support,
		}
	}
	r.Accuracy = safeRatio(float64(correct), float64(r.Total))
	if numClasses == 0 {
		return r
	}
	r.MacroAvg = ClassMetrics{
		Name:      "macro avg",
		Precision: stat.Mean(precisions, nil),
		Recall:    stat.Mean(recalls, nil),
		F1:        stat.Mean(f1s, nil),
		Support:   r.Total,
	}
	r.WeightedAvg = ClassMetrics{Name: "weighted avg", Support: r.Total}
	if floats.Sum(supports) > 0 {
		r.WeightedAvg.Precision = stat.Mean(precisions, supports)
		r.WeightedAvg.Recall = stat.Mean(recalls, supports)
		r.WeightedAvg.F1 = stat.Mean(f1s, supports)
	}
	return r
}

func safeRatio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// String renders the report as a text table, with the layout of scikit-learn's classification_report.
func (r *ClassificationReport) String() string {
	const digits = 2
	width := len("weighted avg")
	for _, c := range r.Classes {
		width = max(width, len(c.Name))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%*s  %9s %9s %9s %9s\n\n", width, "", "precision", "recall", "f1-score", "support")
	writeRow := func(c ClassMetrics) {
		fmt.Fprintf(&sb, "%*s  %9.*f %9.*f %9.*f %9d\n", width, c.Name,
			digits, c.Precision, digits, c.Recall, digits, c.F1, c.Support)
	}
	for _, c := range r.Classes {
		writeRow(c)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "%*s  %9s %9s %9.*f %9d\n", width, "accuracy", "", "", digits, r.Accuracy, r.Total)
	writeRow(r.MacroAvg)
	writeRow(r.WeightedAvg)
	return sb.String()
}
