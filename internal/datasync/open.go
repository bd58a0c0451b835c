// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasync

import (
	"context"

	"github.com/gomlx/foodclassifier/internal/config"
	"github.com/gomlx/foodclassifier/internal/runerr"
	"github.com/gomlx/foodclassifier/internal/storage"
	"github.com/gomlx/foodclassifier/internal/storage/gcsstore"
	"github.com/gomlx/foodclassifier/internal/storage/localstore"
	"github.com/gomlx/foodclassifier/internal/storage/miniostore"
	"github.com/gomlx/foodclassifier/internal/storage/s3store"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// OpenStore creates the storage.Store selected by cfg.Backend.
func OpenStore(ctx context.Context, cfg config.Storage) (store storage.Store, err error) {
	switch cfg.Backend {
	case config.BackendGCS, "":
		store, err = gcsstore.New(ctx, cfg)
	case config.BackendS3:
		store, err = s3store.New(ctx, cfg)
	case config.BackendMinio:
		store, err = miniostore.New(cfg)
	case config.BackendLocal:
		store, err = localstore.New(cfg.LocalRoot)
	default:
		return nil, errors.Wrapf(runerr.ErrConfig, "unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("opened %q object store", cfg.Backend)
	return store, nil
}
