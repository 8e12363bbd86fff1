/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */


package log

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func resetLogger(t *testing.T) {
	t.Helper()
	t.Cleanup(func() { Init(Options{Writer: io.Discard}) })
}

func lastJSONLine(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var last string
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		if s := strings.TrimSpace(sc.Text()); s != "" {
			last = s
		}
	}
	if last == "" {
		t.Fatalf("no log lines")
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(last), &m); err != nil {
		t.Fatalf("unmarshal %q: %v", last, err)
	}
	return m
}

func TestInitWritesRotatedJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "canvas.log")
	resetLogger(t)
	Init(Options{Level: "debug", Format: "json", File: path, Writer: io.Discard})

	WithOperation(WithComponent("storage"), "commit").Info("revision stored", slog.Int64("rev", 7))

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	m := lastJSONLine(t, b)
	want := map[string]any{"app": "memorialcanvas", "component": "storage", "op": "commit", "msg": "revision stored", "rev": 7.0}
	for k, v := range want {
		if m[k] != v {
			t.Errorf("%s = %v, want %v", k, m[k], v)
		}
	}
	if _, ok := m["ver"].(string); !ok {
		t.Errorf("missing ver attr")
	}
}

func TestInitConsoleRespectsLevel(t *testing.T) {
	resetLogger(t)
	var buf bytes.Buffer
	Init(Options{Level: "warn", Writer: &buf})

	l := WithComponent("cli")
	l.Info("hidden")
	l.Warn("store unreachable", slog.String("driver", "postgres"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record passed a warn logger: %q", out)
	}
	for _, want := range []string{"WRN store unreachable", "app=memorialcanvas", "component=cli", "driver=postgres"} {
		if !strings.Contains(out, want) {
			t.Errorf("console output misses %q: %q", want, out)
		}
	}
}

func TestContextCanvasAttrIsAdded(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(withEnricher(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	l.InfoContext(ContextWithCanvas(context.Background(), "c-42"), "committed")

	if m := lastJSONLine(t, buf.Bytes()); m["canvas"] != "c-42" {
		t.Fatalf("canvas attr = %v, want c-42", m["canvas"])
	}
	if _, ok := CanvasFromContext(context.Background()); ok {
		t.Fatalf("empty context must not carry a canvas id")
	}
	if ctx := ContextWithCanvas(context.Background(), ""); ctx != context.Background() {
		t.Fatalf("empty id should leave the context alone")
	}
}

func TestConsoleHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	h := newConsoleHandler(&buf, slog.LevelWarn, false)
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("info should not be enabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Fatalf("error should be enabled at warn level")
	}

	h2 := h.WithAttrs([]slog.Attr{slog.String("k", "v")}).WithGroup("grp")
	r := slog.NewRecord(time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC), slog.LevelError, "boom", 0)
	r.AddAttrs(slog.Int("n", 42), slog.Float64("pi", 3.14), slog.String("title", "In Memoriam"), slog.Group("rect", slog.Int("w", 10)))
	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("handle: %v", err)
	}

	want := `09:30:00.000 ERR boom k=v grp.n=42 grp.pi=3.14 grp.title="In Memoriam" grp.rect.w=10` + "\n"
	if got := buf.String(); got != want {
		t.Fatalf("got  %q\nwant %q", got, want)
	}
}

func TestMultiHandlerFiltersPerHandler(t *testing.T) {
	var quiet, loud bytes.Buffer
	h := multiHandler(
		slog.NewJSONHandler(&quiet, &slog.HandlerOptions{Level: slog.LevelError}),
		slog.NewJSONHandler(&loud, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	l := slog.New(h).With(slog.String("component", "undo"))
	l.Debug("checkpoint")

	if quiet.Len() != 0 {
		t.Fatalf("error handler received a debug record: %s", quiet.String())
	}
	if m := lastJSONLine(t, loud.Bytes()); m["component"] != "undo" {
		t.Fatalf("bound attrs lost: %v", m)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvLevel, "warn")
	t.Setenv(EnvFormat, "json")
	t.Setenv(EnvSource, "yes")
	t.Setenv(EnvFile, "")

	opts := FromEnv()
	if opts.Level != "warn" || opts.Format != "json" || !opts.AddSource || opts.File != "" {
		t.Fatalf("FromEnv mismatch: %+v", opts)
	}
	if v := getenv("MCV_SURELY_UNSET_VARIABLE", "fallback"); v != "fallback" {
		t.Fatalf("getenv fallback = %q", v)
	}
	if parseLevel("nonsense") != slog.LevelInfo || parseLevel(" WARNING ") != slog.LevelWarn {
		t.Fatalf("parseLevel mapping broken")
	}
}
