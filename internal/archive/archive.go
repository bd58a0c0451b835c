// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package archive packs the trained model directory into a zip file for upload.
package archive

import (
	"archive/zip"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gomlx/foodclassifier/internal/runerr"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Extension of the archives created.
const Extension = ".zip"

// Name returns the name, without extension, of the archive of a model trained at time now and with the given
// evaluation loss: "trained_model_YYYY_MM_DD_HH_MM_SS_loss_<loss>".
func Name(now time.Time, loss float64) string {
	lossStr := strconv.FormatFloat(loss, 'g', -1, 64)
	if !strings.ContainsAny(lossStr, ".eIN") {
		lossStr += ".0"
	}
	return "trained_model_" + now.Format("2006_01_02_15_04_05") + "_loss_" + lossStr
}

// ZipDir writes every regular file under srcDir to a new zip archive at zipPath, named relative to srcDir.
// It returns the number of files archived. zipPath must not be inside srcDir.
func ZipDir(srcDir, zipPath string) (numFiles int, err error) {
	info, err := os.Stat(srcDir)
	if err != nil {
		return 0, errors.Wrapf(runerr.ErrData, "model directory %q: %v", srcDir, err)
	}
	if !info.IsDir() {
		return 0, errors.Wrapf(runerr.ErrData, "model path %q is not a directory", srcDir)
	}
	absSrc, err := filepath.Abs(srcDir)
	if err != nil {
		return 0, errors.Wrapf(err, "resolving %q", srcDir)
	}
	absZip, err := filepath.Abs(zipPath)
	if err != nil {
		return 0, errors.Wrapf(err, "resolving %q", zipPath)
	}
	if rel, err := filepath.Rel(absSrc, absZip); err == nil && !strings.HasPrefix(rel, "..") {
		return 0, errors.Wrapf(runerr.ErrConfig, "archive %q can't be created inside the directory it archives %q",
			zipPath, srcDir)
	}

	file, err := os.Create(zipPath)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to create archive %q", zipPath)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = errors.Wrapf(closeErr, "failed to close archive %q", zipPath)
		}
	}()
	zipWriter := zip.NewWriter(file)
	err = filepath.WalkDir(srcDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !entry.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if err := addFile(zipWriter, path, filepath.ToSlash(rel)); err != nil {
			return err
		}
		numFiles++
		return nil
	})
	if err != nil {
		_ = zipWriter.Close()
		return 0, errors.WithMessagef(err, "archiving %q", srcDir)
	}
	if err = zipWriter.Close(); err != nil {
		return 0, errors.Wrapf(err, "failed to finish archive %q", zipPath)
	}
	klog.V(1).Infof("archived %d files from %q into %q", numFiles, srcDir, zipPath)
	return numFiles, nil
}

func addFile(zipWriter *zip.Writer, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrapf(err, "failed to stat %q", path)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return errors.Wrapf(err, "failed to create zip header for %q", path)
	}
	header.Name = name
	header.Method = zip.Deflate
	w, err := zipWriter.CreateHeader(header)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q in archive", name)
	}
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open %q", path)
	}
	defer func() { _ = f.Close() }()
	if _, err = io.Copy(w, f); err != nil {
		return errors.Wrapf(err, "failed to write %q to archive", name)
	}
	return nil
}
