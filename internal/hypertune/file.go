// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hypertune

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MaxFileEntries is the number of most recent metrics kept in the metrics file.
const MaxFileEntries = 100

// FileSink rewrites the metrics file with the last MaxFileEntries metrics reported by this process on each Write.
// Metrics in the file from previous processes are discarded.
type FileSink struct {
	path string

	mu    sync.Mutex
	lines [][]byte
}

var _ Sink = (*FileSink)(nil)

// NewFileSink creates a FileSink writing to path. The file is only created on the first Write.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Path of the metrics file.
func (s *FileSink) Path() string { return s.path }

// Write implements Sink.
func (s *FileSink) Write(_ context.Context, m Metric) error {
	line, err := json.Marshal(map[string]any{
		"timestamp":       json.Number(formatTimestamp(m.Timestamp)),
		"trial":           m.Trial,
		m.Tag:             formatFloat(m.Value),
		"global_step":     strconv.Itoa(m.GlobalStep),
		"checkpoint_path": m.CheckpointPath,
	})
	if err != nil {
		return errors.Wrap(err, "encoding metric")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
	if len(s.lines) > MaxFileEntries {
		s.lines = s.lines[len(s.lines)-MaxFileEntries:]
	}

	var buf bytes.Buffer
	for _, l := range s.lines {
		buf.Write(l)
		buf.WriteByte('\n')
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrapf(err, "creating directory for metrics file %q", s.path)
	}
	if err := os.WriteFile(s.path, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "writing metrics file %q", s.path)
	}
	return nil
}

// Close implements Sink.
func (s *FileSink) Close(context.Context) error { return nil }

// formatTimestamp as seconds since the epoch.
func formatTimestamp(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/1e9, 'f', 6, 64)
}

// formatFloat formats v the way Python's str(float) does for typical values: "0.5", "1.0", "1e-07".
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eIN") {
		s += ".0"
	}
	return s
}
