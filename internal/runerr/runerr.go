// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package runerr defines the classes of failures a training run or a data-sync command can end with.
//
// Errors are classified by wrapping one of the sentinels, e.g. `errors.Wrapf(runerr.ErrData, "no images in %q", dir)`,
// and tested with errors.Is. None of the classes are retried.
package runerr

import (
	"github.com/pkg/errors"
)

var (
	// ErrConfig is a bad flag, configuration entry or path.
	ErrConfig = errors.New("configuration error")

	// ErrData is an empty or malformed dataset, or a missing model artifact.
	ErrData = errors.New("data error")

	// ErrStorage is a failure talking to the object store (credentials, permissions, network).
	ErrStorage = errors.New("storage error")
)

// Kind returns a short name for the class of err: "config", "data", "storage" or "internal" if it is not classified.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrData):
		return "data"
	case errors.Is(err, ErrStorage):
		return "storage"
	}
	return "internal"
}

// Configf returns a new configuration error with the formatted message.
func Configf(format string, args ...any) error {
	return errors.Wrapf(ErrConfig, format, args...)
}

// Dataf returns a new data error with the formatted message.
func Dataf(format string, args ...any) error {
	return errors.Wrapf(ErrData, format, args...)
}
