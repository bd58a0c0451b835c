// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// trainer fine-tunes a classification head on top of a frozen pre-trained InceptionV3 on the food images dataset.
//
// The dataset is read from --dataset_dir (optionally downloaded first from --bucket_name), the best model is saved
// in --output_dir, and with --isOnGCP the trained model is zipped and uploaded to --models_bucket_name.
// The evaluation loss is reported to the hyperparameter tuning service in the end.
//
// Storage credentials and the hypertune sinks are configured with --config (YAML) or FOODCLS_ environment variables.
package main

import (
	stdcontext "context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gomlx/foodclassifier/internal/backbone"
	"github.com/gomlx/foodclassifier/internal/classifier"
	"github.com/gomlx/foodclassifier/internal/config"
	"github.com/gomlx/foodclassifier/internal/datasync"
	"github.com/gomlx/foodclassifier/internal/hypertune"
	"github.com/gomlx/foodclassifier/internal/runerr"
	"github.com/gomlx/foodclassifier/internal/storage"
	"github.com/gomlx/foodclassifier/internal/trainer"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/ui/commandline"
	"k8s.io/klog/v2"
)

var defaults = trainer.DefaultConfig()

var (
	flagBucketName = flag.String("bucket_name", "",
		fmt.Sprintf("Bucket with the dataset. Defaults to %q, or %q with --isDummy.",
			trainer.FoodDataBucket, trainer.DummyDataBucket))
	flagModelsBucketName = flag.String("models_bucket_name", defaults.ModelsBucketName,
		"Bucket where the trained model archive is uploaded, with --isOnGCP.")
	flagBatchSize    = flag.Int("batch_size", defaults.BatchSize, "Batch size.")
	flagEpochs       = flag.Int("epochs", defaults.Epochs, "Number of epochs to train.")
	flagLearningRate = flag.Float64("learning_rate", defaults.LearningRate, "Adam learning rate.")

	flagOnCloud  = flag.Bool("isOnGCP", false, "Running on the cloud: upload the trained model when finished.")
	flagDownload = flag.Bool("isDownloadDataset", false, "Download the dataset from the bucket before training.")
	flagDummy    = flag.Bool("isDummy", false, "Train on the small dummy dataset, under <dataset_dir>/dummy.")

	flagDatasetDir = flag.String("dataset_dir", defaults.DatasetDir, "Local dataset directory.")
	flagOutputDir  = flag.String("output_dir", defaults.OutputDir,
		"Directory where the best model is saved. Checkpoints of previous runs in it are removed.")
	flagWeightsDir = flag.String("weights_dir", defaults.WeightsDir,
		"Directory where pre-trained backbone weights are downloaded.")
	flagBackbone = flag.String("backbone", defaults.Backbone,
		fmt.Sprintf("Backbone model, one of %q.", backbone.Names()))
	flagPatience = flag.Int("patience", defaults.Patience,
		"Number of epochs without improvement of the validation loss before stopping.")
	flagSeed   = flag.Uint64("seed", 0, "Seed for shuffling and augmentation. If 0 it is taken from the clock.")
	flagConfig = flag.String("config", "", "YAML file with the storage and hypertune configuration.")
)

func main() {
	ctx := classifier.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	paramsSet, err := commandline.ParseContextSettings(ctx, *settings)
	if err != nil {
		klog.Fatalf("parsing --set: %+v", err)
	}
	klog.V(1).Infof("hyperparameters set with --set: %v", paramsSet)
	klog.V(1).Infof("context: %s", strings.TrimSpace(commandline.SprintContextSettings(ctx)))

	cfg := defaults
	cfg.BucketName = *flagBucketName
	cfg.ModelsBucketName = *flagModelsBucketName
	cfg.BatchSize = *flagBatchSize
	cfg.Epochs = *flagEpochs
	cfg.LearningRate = *flagLearningRate
	cfg.OnCloud = *flagOnCloud
	cfg.DownloadDataset = *flagDownload
	cfg.Dummy = *flagDummy
	cfg.DatasetDir = *flagDatasetDir
	cfg.OutputDir = *flagOutputDir
	cfg.WeightsDir = *flagWeightsDir
	cfg.Backbone = *flagBackbone
	cfg.Patience = *flagPatience
	cfg.Seed = *flagSeed

	runCtx, cancel := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(runCtx, cfg, ctx)
	cancel()
	if err != nil {
		klog.Errorf("training failed (%s error): %+v", runerr.Kind(err), err)
		klog.Flush()
		os.Exit(1)
	}
}

func run(ctx stdcontext.Context, cfg trainer.Config, mlCtx *context.Context) error {
	settings, err := config.Load(*flagConfig)
	if err != nil {
		return err
	}

	var store storage.Store
	if cfg.DownloadDataset || cfg.OnCloud {
		store, err = datasync.OpenStore(ctx, settings.Storage)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				klog.Warningf("closing object store: %v", err)
			}
		}()
	}

	reporter, err := hypertune.New(ctx, settings.Hypertune)
	if err != nil {
		return err
	}
	defer func() {
		if err := reporter.Close(ctx); err != nil {
			klog.Warningf("closing hypertune reporter: %v", err)
		}
	}()

	backend := backends.MustNew()
	defer backend.Finalize()
	fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())

	_, err = trainer.Run(ctx, cfg, trainer.Deps{
		Backend:     backend,
		Context:     mlCtx,
		Store:       store,
		Reporter:    reporter,
		Out:         os.Stdout,
		ProgressBar: true,
	})
	return err
}
