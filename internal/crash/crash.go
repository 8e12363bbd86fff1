/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */


// Package crash turns a panic into a crash report, a last flush of pending canvas writes and a snapshot of every
// open canvas, then exits.
package crash

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"time"

	"memorialcanvas/internal/domain"
	applog "memorialcanvas/internal/log"
	"memorialcanvas/internal/storage"
	"memorialcanvas/internal/telemetry"
	"memorialcanvas/internal/version"
)

// exitFn is used to allow testing of Recover without terminating the test process.
var exitFn = os.Exit

// FlushTimeout bounds the final flush of pending writes.
const FlushTimeout = 3 * time.Second

// Session is what Recover rescues. All fields are optional.
type Session struct {
	// Dir receives the crash report and the canvas snapshots under its backups folder. Empty means os.TempDir.
	Dir string
	// Flush drains pending writes, e.g. the Flush of every open storage.Writer.
	Flush func(ctx context.Context) error
	// Canvases returns the current local state of every open canvas.
	Canvases func() []domain.Document
}

// Recover captures a panic, logs it with stacktrace, writes an error report file, flushes pending writes and
// snapshots every open canvas.
//
// Usage: defer crash.Recover(sess)
func Recover(s *Session) {
	r := recover()
	if r == nil {
		return
	}
	l := applog.WithComponent("crash")
	stack := debug.Stack()
	l.Error("panic recovered", slog.Any("panic", r), slog.String("stack", string(stack)))

	reportPath, err := writeReport(s, r, stack)
	if err != nil {
		l.Error("write crash report failed", slog.Any("err", err))
	}
	for _, path := range rescue(s) {
		l.Info("crash snapshot written", slog.String("path", path))
	}

	if _, err := fmt.Fprintf(os.Stderr, "A fatal error occurred. A crash report was saved to: %s\n", reportPath); err != nil {
		l.Error("failed to write crash message to stderr", slog.Any("err", err))
	}
	if _, err := fmt.Fprintf(os.Stderr, "Version: %s\nOS/Arch: %s/%s\n", version.String(), runtime.GOOS, runtime.GOARCH); err != nil {
		l.Error("failed to write version info to stderr", slog.Any("err", err))
	}
	exitFn(2)
}

// rescue flushes pending writes and writes one snapshot per open canvas. It returns the snapshot paths.
func rescue(s *Session) []string {
	if s == nil {
		return nil
	}
	l := applog.WithComponent("crash")
	if s.Flush != nil {
		ctx, cancel := context.WithTimeout(context.Background(), FlushTimeout)
		err := safeFlush(ctx, s.Flush)
		cancel()
		if err != nil {
			l.Error("flush of pending writes failed", slog.Any("err", err))
		}
	}
	if s.Canvases == nil {
		return nil
	}
	docs := s.Canvases()
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	var paths []string
	for _, d := range docs {
		raw, err := json.Marshal(d)
		if err != nil {
			l.Error("encode crash snapshot failed", slog.String("canvas", d.ID), slog.Any("err", err))
			continue
		}
		path, err := storage.WriteCrashSnapshot(reportDir(s), d.ID, raw)
		if err != nil {
			l.Error("crash snapshot failed", slog.String("canvas", d.ID), slog.Any("err", err))
			continue
		}
		paths = append(paths, path)
	}
	return paths
}

// safeFlush runs flush and turns a second panic into an error so that the report is still completed.
func safeFlush(ctx context.Context, flush func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during flush: %v", r)
		}
	}()
	return flush(ctx)
}

func reportDir(s *Session) string {
	if s == nil || s.Dir == "" {
		return os.TempDir()
	}
	return s.Dir
}

func writeReport(s *Session, panicVal any, stack []byte) (string, error) {
	dir := os.TempDir()
	if s != nil && s.Dir != "" {
		dir = filepath.Join(s.Dir, storage.BackupsDirName)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("ensure backups dir: %w", err)
		}
	}
	stamp := time.Now().Format("20060102-150405")
	path := filepath.Join(dir, fmt.Sprintf("crash-%s.log", stamp))

	var buf bytes.Buffer
	_, _ = fmt.Fprintf(&buf, "Memorial Canvas Crash Report\n")
	_, _ = fmt.Fprintf(&buf, "Timestamp: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(&buf, "Version: %s\n", version.String())
	_, _ = fmt.Fprintf(&buf, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	if s != nil && s.Dir != "" {
		_, _ = fmt.Fprintf(&buf, "DataDir: %s\n", s.Dir)
	}
	_, _ = fmt.Fprintf(&buf, "\nPanic: %v\n\n", panicVal)
	_, _ = fmt.Fprintf(&buf, "Stack:\n%s\n", string(stack))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return path, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			applog.WithComponent("crash").Error("failed to close crash report file", slog.Any("err", err), slog.String("path", path))
		}
	}()
	if _, err := f.Write(buf.Bytes()); err != nil {
		return path, err
	}
	_ = f.Sync()

	// Canvas content never goes into the report, so it can be uploaded as is.
	telemetry.UploadCrash(buf.Bytes())
	return path, nil
}
