// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package runerr

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, "config", Kind(Configf("flag --epochs=%d", -1)))
	assert.Equal(t, "data", Kind(errors.WithMessage(Dataf("no images in %q", "x"), "counting")))
	assert.Equal(t, "storage", Kind(errors.Wrap(ErrStorage, "bucket")))
	assert.Equal(t, "internal", Kind(errors.New("boom")))

	err := Dataf("split %q has %d classes", "validation", 3)
	assert.ErrorIs(t, err, ErrData)
	assert.Contains(t, err.Error(), `split "validation" has 3 classes`)
}
