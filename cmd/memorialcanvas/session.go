/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */


package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"memorialcanvas/internal/canvas"
	"memorialcanvas/internal/domain"
	"memorialcanvas/internal/storage"
	"memorialcanvas/internal/textlayout"
	"memorialcanvas/internal/undo"
	"memorialcanvas/internal/vector"
)

// session is one canvas opened for editing with its debounced writer.
type session struct {
	cv *canvas.Canvas
	w  *storage.Writer
}

func (a *app) baseDocument(id string) domain.Document {
	return domain.NewDocument(id, float64(a.cfg.Editor.CanvasWidth), float64(a.cfg.Editor.CanvasHeight))
}

func (a *app) loadDocument(ctx context.Context, st *stack, id string) (domain.Document, error) {
	doc, rev, err := canvas.Load(ctx, st.Backend, id, a.baseDocument(id))
	if err != nil {
		return domain.Document{}, err
	}
	if err := st.Revisions.Observe(ctx, id, rev); err != nil {
		a.log.Warn("observe revision", slog.String("canvas", id), slog.Any("err", err))
	}
	return doc, nil
}

// openCanvas loads id and wires it to a writer. The crash session is pointed at the canvas so that a panic
// still flushes and snapshots it.
func (a *app) openCanvas(ctx context.Context, st *stack, id string) (*session, error) {
	doc, err := a.loadDocument(ctx, st, id)
	if err != nil {
		return nil, err
	}
	fitter, _, err := a.textEngine()
	if err != nil {
		return nil, err
	}
	snap := vector.DefaultSnapOptions()
	if a.cfg.Editor.SnapThreshold > 0 {
		snap.Threshold = float32(a.cfg.Editor.SnapThreshold)
	}
	w := storage.NewWriter(st.Backend, id, storage.WriterOptions{Debounce: a.cfg.Editor.Debounce(), Revisions: st.Revisions})
	cv := canvas.New(doc, canvas.Options{
		Saver:  w,
		Fitter: fitter,
		Snap:   snap,
		Undo:   undo.NewManager(undo.Config{MaxPerCanvas: a.cfg.Editor.UndoDepth, MinInterval: 250 * time.Millisecond}),
	})
	if a.crash != nil {
		a.crash.Flush = w.Flush
		a.crash.Canvases = func() []domain.Document { return []domain.Document{cv.View()} }
	}
	return &session{cv: cv, w: w}, nil
}

// close flushes pending saves and reports every save that failed.
func (s *session) close(ctx context.Context) error {
	ferr := s.w.Close(ctx)
	if err := s.cv.Wait(ctx); err != nil {
		return errors.Join(ferr, err)
	}
	if errs := s.cv.Errors(); len(errs) > 0 {
		return errors.Join(errs...)
	}
	return ferr
}

// textEngine selects the auto-fit strategy and the provider used for measuring and rendering text.
func (a *app) textEngine() (canvas.Fitter, textlayout.Provider, error) {
	lib, err := textlayout.NewDefaultLibrary()
	if err != nil {
		return nil, nil, fmt.Errorf("load fonts: %w", err)
	}
	if dir := a.fontDir(); dir != "" {
		n, err := lib.LoadDir(dir)
		switch {
		case err == nil:
			a.log.Debug("fonts loaded", slog.String("dir", dir), slog.Int("count", n))
		case a.cfg.Editor.FontDir != "" || !errors.Is(err, fs.ErrNotExist):
			return nil, nil, fmt.Errorf("load fonts from %s: %w", dir, err)
		}
	}
	provider := textlayout.OTProvider{Lib: lib, Fallback: textlayout.BasicProvider{}}
	switch a.cfg.Editor.Fitter {
	case "measured":
		return textlayout.NewMeasuredFitter(provider), provider, nil
	case "", "heuristic":
		return textlayout.HeuristicFitter{}, provider, nil
	default:
		return nil, nil, fmt.Errorf("unknown fitter %q", a.cfg.Editor.Fitter)
	}
}

// writeDocument stores every target of doc through a writer so that revisions stay monotonic.
func (a *app) writeDocument(ctx context.Context, st *stack, doc domain.Document) error {
	targets, err := canvas.DocumentTargets(doc)
	if err != nil {
		return err
	}
	w := storage.NewWriter(st.Backend, doc.ID, storage.WriterOptions{Revisions: st.Revisions})
	results := make([]<-chan error, 0, len(targets))
	for _, t := range targets {
		results = append(results, w.Save(ctx, t.Name, t.Value))
	}
	if err := w.Close(ctx); err != nil && ctx.Err() != nil {
		return err
	}
	var errs []error
	for _, res := range results {
		errs = append(errs, <-res)
	}
	return errors.Join(errs...)
}

// parseStyle turns attr=value pairs into a style. Numbers and booleans are typed except for textual attributes.
func parseStyle(pairs []string) (domain.Style, error) {
	st := domain.Style{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid attribute %q, want attr=value", p)
		}
		st[domain.Attr(k)] = parseValue(domain.Attr(k), v)
	}
	return st, nil
}

func parseValue(attr domain.Attr, v string) any {
	switch attr {
	case domain.AttrContent, domain.AttrFontFamily, domain.AttrColor, domain.AttrAlign, domain.AttrSourceRef, domain.AttrKind:
		return v
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v
}

func geometry(r vector.Rect) domain.Style {
	return domain.Style{
		domain.AttrX:      float64(r.X),
		domain.AttrY:      float64(r.Y),
		domain.AttrWidth:  float64(r.W),
		domain.AttrHeight: float64(r.H),
	}
}

func formatRect(r vector.Rect) string {
	return fmt.Sprintf("x=%g y=%g w=%g h=%g", r.X, r.Y, r.W, r.H)
}

// fontDir is the configured font directory or the one inside the data directory.
func (a *app) fontDir() string {
	if a.cfg.Editor.FontDir != "" {
		return a.cfg.Editor.FontDir
	}
	return filepath.Join(a.dataDir(), "fonts")
}
