// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package trainer runs one training of the food image classifier, end to end: optionally download the dataset,
// train the head on top of a frozen backbone with early stopping, keep the best checkpoint, evaluate, optionally
// publish the model archive, and report the evaluation loss for hyperparameter tuning.
package trainer

import (
	stdcontext "context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gomlx/foodclassifier/internal/archive"
	"github.com/gomlx/foodclassifier/internal/backbone"
	"github.com/gomlx/foodclassifier/internal/classifier"
	"github.com/gomlx/foodclassifier/internal/datasync"
	"github.com/gomlx/foodclassifier/internal/hypertune"
	"github.com/gomlx/foodclassifier/internal/imagefolder"
	"github.com/gomlx/foodclassifier/internal/report"
	"github.com/gomlx/foodclassifier/internal/runerr"
	"github.com/gomlx/foodclassifier/internal/storage"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// MetricTag reported to the hyperparameter tuning service.
const MetricTag = "loss"

// Deps are the collaborators of a run.
type Deps struct {
	// Backend runs the model. Required.
	Backend backends.Backend

	// Context holds the model hyperparameters. If nil, classifier.CreateDefaultContext is used.
	// The backbone, the learning rate and the classes are always set from the Config and the dataset.
	Context *context.Context

	// Store is the object store. Required if Config.DownloadDataset or Config.OnCloud.
	Store storage.Store

	// Reporter of the evaluation loss. Required.
	Reporter *hypertune.Reporter

	// Out receives the human-readable results. Defaults to os.Stdout.
	Out io.Writer

	// Now defaults to time.Now.
	Now func() time.Time

	// ProgressBar shows training progress on the terminal.
	ProgressBar bool
}

// Result of a run.
type Result struct {
	// EpochsRun is the number of epochs actually trained, fewer than configured if stopped early.
	EpochsRun    int
	StoppedEarly bool

	BestValidationAccuracy float64

	// EvalLoss and EvalAccuracy on the evaluation split, of the final model.
	EvalLoss, EvalAccuracy float64

	ConfusionMatrix *report.ConfusionMatrix
	Report          *report.ClassificationReport

	// Archive is the name of the uploaded model archive, if Config.OnCloud.
	Archive string
}

// Run one training as configured. Any failure aborts the run: nothing is retried.
func Run(ctx stdcontext.Context, cfg Config, deps Deps) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if (cfg.DownloadDataset || cfg.OnCloud) && deps.Store == nil {
		return nil, errors.Wrap(runerr.ErrConfig, "an object store is required to download the dataset or upload the model")
	}
	if deps.Backend == nil || deps.Reporter == nil {
		return nil, errors.New("trainer.Run requires a backend and a hypertune reporter")
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.Seed == 0 {
		cfg.Seed = uint64(deps.Now().UnixNano())
	}
	klog.V(1).Infof("training configuration: %+v", cfg)

	// Acquire data.
	if cfg.DownloadDataset {
		bucket := cfg.DatasetBucket()
		fmt.Fprintf(deps.Out, "Downloading dataset from %q...\n", bucket)
		var opts []datasync.Option
		if deps.ProgressBar {
			opts = append(opts, datasync.WithProgress(os.Stderr))
		}
		stats, err := datasync.DownloadDirectory(ctx, deps.Store, bucket, cfg.DatasetDir, opts...)
		if err != nil {
			return nil, errors.WithMessage(err, "downloading dataset")
		}
		fmt.Fprintf(deps.Out, "Download finished: %s\n", stats)
	}

	// Count images and steps per epoch.
	layout := imagefolder.Layout{Root: cfg.DataRoot()}
	if err := layout.Check(); err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(imagefolder.Splits))
	for _, split := range imagefolder.Splits {
		count, err := imagefolder.CountImages(layout.SplitDir(split))
		if err != nil {
			return nil, err
		}
		counts[split] = count
	}
	fmt.Fprintf(deps.Out, "Images: %d training, %d validation, %d evaluation\n",
		counts[imagefolder.Training], counts[imagefolder.Validation], counts[imagefolder.Evaluation])
	trainSteps := imagefolder.StepsPerEpoch(counts[imagefolder.Training], cfg.BatchSize)
	validationSteps := imagefolder.StepsPerEpoch(counts[imagefolder.Validation], cfg.BatchSize)
	if trainSteps == 0 || validationSteps == 0 {
		return nil, errors.Wrapf(runerr.ErrData,
			"not enough images for one batch of %d: %d training steps and %d validation steps per epoch",
			cfg.BatchSize, trainSteps, validationSteps)
	}
	if counts[imagefolder.Evaluation] == 0 {
		return nil, errors.Wrapf(runerr.ErrData, "no evaluation images in %q", layout.SplitDir(imagefolder.Evaluation))
	}

	// Pipelines and vocabulary.
	pipelines, err := imagefolder.BuildPipelines(layout, cfg.BatchSize, cfg.ImageSize, cfg.Seed,
		imagefolder.DefaultAugmentation)
	if err != nil {
		return nil, err
	}
	vocab := pipelines.Vocabulary
	fmt.Fprintf(deps.Out, "Classes (%d): %q\n", vocab.Len(), vocab.Names())

	// Model.
	mlCtx := deps.Context
	if mlCtx == nil {
		mlCtx = classifier.CreateDefaultContext()
	}
	mlCtx.SetParams(map[string]any{
		classifier.ParamBackbone:     cfg.Backbone,
		classifier.ParamNumClasses:   vocab.Len(),
		classifier.ParamClassNames:   vocab.Names(),
		optimizers.ParamLearningRate: cfg.LearningRate,
	})
	b, err := backbone.New(cfg.Backbone, cfg.WeightsDir)
	if err != nil {
		return nil, err
	}
	if err = b.Prepare(mlCtx); err != nil {
		return nil, err
	}
	modelFn := classifier.ModelFn(b)

	// Best model checkpoint: no resuming.
	if err = os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, errors.Wrapf(runerr.ErrConfig, "creating output directory %q: %v", cfg.OutputDir, err)
	}
	if err = removeStaleCheckpoints(cfg.OutputDir); err != nil {
		return nil, err
	}
	checkpoint, err := checkpoints.Build(mlCtx).Dir(cfg.OutputDir).Keep(1).Done()
	if err != nil {
		return nil, errors.WithMessagef(err, "creating checkpoint in %q", cfg.OutputDir)
	}

	// Compile: sparse labels with the softmax fused in the loss.
	trainer := train.NewTrainer(deps.Backend, mlCtx, modelFn,
		losses.SparseCategoricalCrossEntropyLogits,
		optimizers.FromContext(mlCtx),
		[]metrics.Interface{metrics.NewMovingAverageSparseCategoricalAccuracy("Moving Average Accuracy", "~acc", 0.01)},
		[]metrics.Interface{metrics.NewSparseCategoricalAccuracy("Mean Accuracy", "#acc")})
	loop := train.NewLoop(trainer)
	if deps.ProgressBar {
		commandline.AttachProgressBar(loop)
	}

	// Train.
	result := &Result{}
	trainDS := datasets.Parallel(pipelines.Train)
	defer trainDS.Done()
	earlyStopping := NewEarlyStopping(cfg.Patience)
	bestCheckpoint := NewBestCheckpoint(checkpoint)
	for epoch := range cfg.Epochs {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		if _, err = loop.RunEpochs(trainDS, 1); err != nil {
			return nil, errors.WithMessagef(err, "training epoch %d", epoch+1)
		}
		valLoss, valAccuracy, err := evaluate(trainer, pipelines.Validation)
		if err != nil {
			return nil, err
		}
		result.EpochsRun = epoch + 1
		saved, err := bestCheckpoint.Update(valAccuracy)
		if err != nil {
			return nil, err
		}
		savedMsg := ""
		if saved {
			savedMsg = ", saved"
		}
		fmt.Fprintf(deps.Out, "Epoch %d/%d: val_loss=%.4f val_accuracy=%.4f%s\n",
			epoch+1, cfg.Epochs, valLoss, valAccuracy, savedMsg)
		if earlyStopping.Update(valLoss) {
			result.StoppedEarly = true
			fmt.Fprintf(deps.Out, "Early stopping: no improvement of val_loss over %.4f for %d epochs\n",
				earlyStopping.Best(), cfg.Patience)
			break
		}
	}
	result.BestValidationAccuracy = bestCheckpoint.Best()

	// Evaluate the final model.
	fmt.Fprintln(deps.Out, "Evaluation phase...")
	predictor, err := classifier.NewPredictor(deps.Backend, mlCtx, modelFn)
	if err != nil {
		return nil, err
	}
	predicted, truth, err := predictor.Predict(pipelines.Evaluation)
	if err != nil {
		return nil, err
	}
	result.ConfusionMatrix, err = report.NewConfusionMatrix(vocab.Names(), truth, predicted)
	if err != nil {
		return nil, err
	}
	result.Report = result.ConfusionMatrix.Report()
	fmt.Fprintln(deps.Out, "Classification report:")
	fmt.Fprintln(deps.Out, result.Report)
	fmt.Fprintln(deps.Out, "Confusion matrix:")
	fmt.Fprintln(deps.Out, result.ConfusionMatrix)
	result.EvalLoss, result.EvalAccuracy, err = evaluate(trainer, pipelines.Evaluation)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(deps.Out, "Evaluation: loss=%g accuracy=%.4f\n", result.EvalLoss, result.EvalAccuracy)

	// Publish.
	if cfg.OnCloud {
		result.Archive, err = publish(ctx, cfg, deps, checkpoint, result.EvalLoss)
		if err != nil {
			return nil, err
		}
	}

	// Report metric.
	if err = deps.Reporter.Report(ctx, MetricTag, result.EvalLoss, cfg.Epochs); err != nil {
		return nil, err
	}
	fmt.Fprintln(deps.Out, "Training Finished!")
	return result, nil
}

// CheckpointPrefix is the file name prefix of the checkpoint files written in the output directory.
const CheckpointPrefix = "checkpoint-"

// removeStaleCheckpoints deletes the checkpoint files in dir, so the run doesn't resume from them.
// Other files are left untouched.
func removeStaleCheckpoints(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrapf(runerr.ErrConfig, "reading output directory %q: %v", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), CheckpointPrefix) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err = os.Remove(path); err != nil {
			return errors.Wrapf(runerr.ErrConfig, "removing stale checkpoint %q: %v", path, err)
		}
		klog.V(1).Infof("removed stale checkpoint %q", path)
	}
	return nil
}

// evaluate returns the mean loss and accuracy of the model over the whole ds.
func evaluate(trainer *train.Trainer, ds train.Dataset) (loss, accuracy float64, err error) {
	ds.Reset()
	defer ds.Reset()
	values, err := trainer.Eval(ds)
	if err != nil {
		return 0, 0, errors.WithMessagef(err, "evaluating on %q", ds.Name())
	}
	defer func() {
		for _, v := range values {
			v.MustFinalizeAll()
		}
	}()
	if len(values) < 2 {
		return 0, 0, errors.Errorf("evaluating on %q returned %d metrics, expected loss and accuracy",
			ds.Name(), len(values))
	}
	if loss, err = scalar(values[0]); err != nil {
		return 0, 0, err
	}
	if accuracy, err = scalar(values[1]); err != nil {
		return 0, 0, err
	}
	return loss, accuracy, nil
}

// scalar converts a float scalar tensor to float64.
func scalar(t *tensors.Tensor) (float64, error) {
	switch v := t.Value().(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	}
	return 0, errors.Errorf("expected a float scalar, got tensor shaped %s", t.Shape())
}

// checkpointLister is implemented by checkpoints.Handler.
type checkpointLister interface {
	HasCheckpoints() (bool, error)
}

// publish zips the output directory and uploads it to the models bucket. It fails if no model was saved.
// The local zip file is removed once done, also on failure.
func publish(ctx stdcontext.Context, cfg Config, deps Deps, checkpoint checkpointLister,
	evalLoss float64) (name string, err error) {
	hasCheckpoints, err := checkpoint.HasCheckpoints()
	if err != nil {
		return "", errors.WithMessagef(err, "listing checkpoints in %q", cfg.OutputDir)
	}
	if !hasCheckpoints {
		return "", errors.Wrapf(runerr.ErrData, "no saved model in %q to publish", cfg.OutputDir)
	}
	name = archive.Name(deps.Now(), evalLoss)
	zipPath := filepath.Join(cfg.ArchiveDir, name+archive.Extension)
	defer func() {
		if rmErr := os.Remove(zipPath); rmErr != nil && !os.IsNotExist(rmErr) {
			klog.Warningf("removing model archive %q: %v", zipPath, rmErr)
		}
	}()
	if _, err = archive.ZipDir(cfg.OutputDir, zipPath); err != nil {
		return "", err
	}
	if err = datasync.UploadFile(ctx, deps.Store, cfg.ModelsBucketName, zipPath, name); err != nil {
		return "", errors.WithMessage(err, "uploading trained model")
	}
	fmt.Fprintf(deps.Out, "Model archive %q uploaded to bucket %q\n", name, cfg.ModelsBucketName)
	return name, nil
}
