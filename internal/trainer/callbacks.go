// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package trainer

import (
	"math"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// EarlyStopping tracks the validation loss at the end of each epoch, and signals to stop once it hasn't
// improved (strictly decreased) for Patience epochs.
type EarlyStopping struct {
	Patience int

	best float64
	wait int
}

// NewEarlyStopping creates an EarlyStopping with the given patience.
func NewEarlyStopping(patience int) *EarlyStopping {
	return &EarlyStopping{Patience: patience, best: math.Inf(1)}
}

// Update with the validation loss of the epoch just finished. It returns true if training should stop.
// A NaN loss counts as no improvement.
func (e *EarlyStopping) Update(loss float64) (stop bool) {
	if loss < e.best {
		e.best = loss
		e.wait = 0
		return false
	}
	e.wait++
	return e.wait >= e.Patience
}

// Best loss seen so far, +Inf before the first Update.
func (e *EarlyStopping) Best() float64 { return e.best }

// Saver is implemented by checkpoints.Handler.
type Saver interface {
	Save() error
}

// BestCheckpoint saves the model whenever the validation accuracy improves (strictly) over the best seen so far.
// The first Update always saves.
type BestCheckpoint struct {
	saver Saver
	best  float64
	saves int
}

// NewBestCheckpoint creates a BestCheckpoint saving with saver.
func NewBestCheckpoint(saver Saver) *BestCheckpoint {
	return &BestCheckpoint{saver: saver, best: math.Inf(-1)}
}

// Update with the validation accuracy of the epoch just finished. It returns whether the model was saved.
func (b *BestCheckpoint) Update(accuracy float64) (saved bool, err error) {
	if !(accuracy > b.best) {
		return false, nil
	}
	previous := b.best
	if err = b.saver.Save(); err != nil {
		return false, errors.WithMessage(err, "saving best model checkpoint")
	}
	b.best = accuracy
	b.saves++
	klog.V(1).Infof("validation accuracy improved from %g to %g, model saved", previous, accuracy)
	return true, nil
}

// Best accuracy seen so far, -Inf before the first Update.
func (b *BestCheckpoint) Best() float64 { return b.best }

// Saves is the number of times the model was saved.
func (b *BestCheckpoint) Saves() int { return b.saves }
