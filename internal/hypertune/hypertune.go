// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package hypertune reports the objective metric of a training trial to a hyperparameter tuning service.
//
// The default sink writes the metrics file read by Vertex AI (Cloud ML) hyperparameter tuning, in the same format
// as the cloudml-hypertune Python package: one JSON object per line, with every value encoded as a string.
package hypertune

import (
	"context"
	"os"
	"time"

	"github.com/gomlx/foodclassifier/internal/config"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// MetricFileEnvVar names the metrics file.
	MetricFileEnvVar = "CLOUD_ML_HP_METRIC_FILE"

	// TrialIDEnvVar holds the ID of the trial, set by the tuning service.
	TrialIDEnvVar = "CLOUD_ML_TRIAL_ID"

	// DefaultMetricFile is used if MetricFileEnvVar is not set.
	DefaultMetricFile = "/tmp/hypertune/output.metrics"

	// DefaultTrialID is used if TrialIDEnvVar is not set.
	DefaultTrialID = "0"
)

// Metric is one reported value.
type Metric struct {
	Trial          string
	Tag            string
	Value          float64
	GlobalStep     int
	Timestamp      time.Time
	CheckpointPath string
}

// Sink stores reported metrics.
type Sink interface {
	Write(ctx context.Context, m Metric) error
	Close(ctx context.Context) error
}

// Reporter sends metrics to all its sinks.
type Reporter struct {
	trial string
	sinks []Sink
	now   func() time.Time
}

// NewReporter creates a Reporter for the given trial, writing to sinks.
func NewReporter(trial string, sinks ...Sink) *Reporter {
	return &Reporter{trial: trial, sinks: sinks, now: time.Now}
}

// New creates the Reporter configured by cfg: the metrics file sink always, and the MongoDB sink if
// cfg.MongoURI is set. The trial ID is read from the environment.
func New(ctx context.Context, cfg config.Hypertune) (*Reporter, error) {
	metricFile := cfg.MetricFile
	if metricFile == "" {
		metricFile = MetricFileFromEnv()
	}
	sinks := []Sink{NewFileSink(metricFile)}
	if cfg.MongoURI != "" {
		mongoSink, err := NewMongoSink(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, mongoSink)
	}
	return NewReporter(TrialFromEnv(), sinks...), nil
}

// TrialFromEnv returns the trial ID set by the tuning service, or DefaultTrialID.
func TrialFromEnv() string {
	if trial := os.Getenv(TrialIDEnvVar); trial != "" {
		return trial
	}
	return DefaultTrialID
}

// MetricFileFromEnv returns the metrics file path set by the tuning service, or DefaultMetricFile.
func MetricFileFromEnv() string {
	if path := os.Getenv(MetricFileEnvVar); path != "" {
		return path
	}
	return DefaultMetricFile
}

// Trial ID of the reporter.
func (r *Reporter) Trial() string { return r.trial }

// Report the value of the metric tag at globalStep. All sinks are tried, the first error is returned.
func (r *Reporter) Report(ctx context.Context, tag string, value float64, globalStep int) error {
	m := Metric{
		Trial:      r.trial,
		Tag:        tag,
		Value:      value,
		GlobalStep: globalStep,
		Timestamp:  r.now(),
	}
	var firstErr error
	for _, sink := range r.sinks {
		if err := sink.Write(ctx, m); err != nil {
			klog.Errorf("hypertune: failed to report %s=%g: %+v", tag, value, err)
			if firstErr == nil {
				firstErr = errors.WithMessagef(err, "reporting metric %q", tag)
			}
		}
	}
	if firstErr == nil {
		klog.Infof("hypertune: trial %s reported %s=%g at step %d", r.trial, tag, value, globalStep)
	}
	return firstErr
}

// Close all sinks.
func (r *Reporter) Close(ctx context.Context) error {
	var firstErr error
	for _, sink := range r.sinks {
		if err := sink.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
