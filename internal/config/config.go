// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config loads the deployment configuration shared by the trainer and the datasync tools: which object
// store to use and with what credentials, and where to report hyperparameter tuning metrics.
//
// Values come, in increasing priority, from the defaults, an optional YAML file and environment variables
// prefixed with "FOODCLS_", where "__" separates levels: FOODCLS_STORAGE__BACKEND=s3 sets storage.backend.
package config

import (
	"os"
	"strings"

	"github.com/gomlx/foodclassifier/internal/runerr"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// EnvPrefix of the environment variables read by Load.
const EnvPrefix = "FOODCLS_"

// Storage backends.
const (
	BackendGCS   = "gcs"
	BackendS3    = "s3"
	BackendMinio = "minio"
	BackendLocal = "local"
)

// Storage configures the object store.
type Storage struct {
	// Backend is one of "gcs", "s3", "minio" or "local".
	Backend string `koanf:"backend"`

	// CredentialsFile is the GCS service account JSON. If empty the Application Default Credentials are used.
	CredentialsFile string `koanf:"credentials_file"`

	// Endpoint, Region, AccessKey, SecretKey and UseSSL configure the S3 and MinIO backends.
	// Empty values fall back to the SDK defaults (environment, shared config files).
	Endpoint  string `koanf:"endpoint"`
	Region    string `koanf:"region"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	UseSSL    bool   `koanf:"use_ssl"`

	// LocalRoot is the directory holding one subdirectory per bucket, for the "local" backend.
	LocalRoot string `koanf:"local_root"`
}

// Hypertune configures where tuning metrics are reported.
type Hypertune struct {
	// MetricFile overrides the CLOUD_ML_HP_METRIC_FILE environment variable.
	MetricFile string `koanf:"metric_file"`

	// MongoURI, if set, also stores each reported metric in MongoDB.
	MongoURI        string `koanf:"mongo_uri"`
	MongoDatabase   string `koanf:"mongo_database"`
	MongoCollection string `koanf:"mongo_collection"`
}

// Config is the whole deployment configuration.
type Config struct {
	Storage   Storage   `koanf:"storage"`
	Hypertune Hypertune `koanf:"hypertune"`
}

// Default configuration.
func Default() Config {
	return Config{
		Storage: Storage{
			Backend: BackendGCS,
			UseSSL:  true,
		},
		Hypertune: Hypertune{
			MongoDatabase:   "hypertune",
			MongoCollection: "trials",
		},
	}
}

// Load the configuration from the defaults, the YAML file at path (skipped if path is empty) and the
// environment.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, errors.Wrap(err, "loading default configuration")
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, errors.Wrapf(runerr.ErrConfig, "configuration file %q: %v", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, errors.Wrapf(runerr.ErrConfig, "parsing configuration file %q: %v", path, err)
		}
		klog.V(1).Infof("loaded configuration from %q", path)
	}
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return Config{}, errors.Wrap(err, "loading configuration from environment")
	}
	var cfg Config
	if err = k.Unmarshal("", &cfg); err != nil {
		return Config{}, errors.Wrapf(runerr.ErrConfig, "invalid configuration: %v", err)
	}
	if err = cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values that can be checked without connecting anywhere.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case BackendGCS, BackendS3:
	case BackendMinio:
		if c.Storage.Endpoint == "" {
			return errors.Wrap(runerr.ErrConfig, "storage.endpoint must be set for the minio backend")
		}
	case BackendLocal:
		if c.Storage.LocalRoot == "" {
			return errors.Wrap(runerr.ErrConfig, "storage.local_root must be set for the local backend")
		}
	default:
		return errors.Wrapf(runerr.ErrConfig, "unknown storage.backend %q, valid values are %q, %q, %q and %q",
			c.Storage.Backend, BackendGCS, BackendS3, BackendMinio, BackendLocal)
	}
	if c.Hypertune.MongoURI != "" && (c.Hypertune.MongoDatabase == "" || c.Hypertune.MongoCollection == "") {
		return errors.Wrap(runerr.ErrConfig, "hypertune.mongo_database and hypertune.mongo_collection can't be empty")
	}
	return nil
}
