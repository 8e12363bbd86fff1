/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package export renders a committed canvas document as PDF, SVG or PNG for print preview and sharing.
//
// Coordinates:
//   - Page origin is top-left, one canvas unit is one point (PDF) or one user unit (SVG).
//   - PNG output is scaled by Options.Scale pixels per unit.
//
// Every element is drawn at its stored geometry in paint order. Text honours font size, alignment and colour;
// image and video elements are drawn as placeholders labelled with their sourceRef; icons and shapes are drawn
// as rectangles. Element opacity applies to everything drawn for the element.
package export

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"memorialcanvas/internal/canvas"
	"memorialcanvas/internal/domain"
	applog "memorialcanvas/internal/log"
	"memorialcanvas/internal/textlayout"
	"memorialcanvas/internal/vector"
)

// Format names an output format.
type Format string

const (
	FormatPDF     Format = "pdf"
	FormatSVG     Format = "svg"
	FormatPNG     Format = "png"
	FormatArchive Format = "zip"
)

var ErrUnknownFormat = errors.New("unknown export format")

// ParseFormat accepts a format name or a file extension with or without the leading dot.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))); f {
	case FormatPDF, FormatSVG, FormatPNG, FormatArchive:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Options control rendering. Zero values select defaults.
//
//nolint:revive // keep options grouped and explicit for clarity
type Options struct {
	IncludeGuides bool         // draw the canvas border
	Background    vector.Color // zero means white
	GuideColor    vector.Color // zero means red
	Placeholder   vector.Color // media placeholder fill; zero means light grey
	Stroke        vector.Color // media, icon and shape outline; zero means dark grey
	Scale         float64      // PNG pixels per canvas unit; zero means 1
	MaxWidth      int          // PNG width limit in pixels; larger renderings are downscaled
	Provider      textlayout.Provider
}

func (o Options) withDefaults() Options {
	if o.Background == (vector.Color{}) {
		o.Background = vector.White
	}
	if o.GuideColor == (vector.Color{}) {
		o.GuideColor = vector.Color{R: 255, A: 255}
	}
	if o.Placeholder == (vector.Color{}) {
		o.Placeholder = vector.Color{R: 232, G: 232, B: 232, A: 255}
	}
	if o.Stroke == (vector.Color{}) {
		o.Stroke = vector.Color{R: 96, G: 96, B: 96, A: 255}
	}
	if o.Scale <= 0 {
		o.Scale = 1
	}
	if o.Provider == nil {
		o.Provider = defaultProvider()
	}
	return o
}

var (
	providerOnce sync.Once
	provider     textlayout.Provider
)

// defaultProvider measures with the bundled Go fonts and falls back to the fixed 7x13 face.
func defaultProvider() textlayout.Provider {
	providerOnce.Do(func() {
		lib, err := textlayout.NewDefaultLibrary()
		if err != nil {
			applog.WithComponent("export").Warn("font library unavailable; using basic face", slog.Any("err", err))
			provider = textlayout.BasicProvider{}
			return
		}
		provider = textlayout.OTProvider{Lib: lib, Fallback: textlayout.BasicProvider{}}
	})
	return provider
}

// Render writes doc to w in format f.
func Render(f Format, doc domain.Document, w io.Writer, opts Options) error {
	switch f {
	case FormatPDF:
		return PDF(doc, w, opts)
	case FormatSVG:
		return SVG(doc, w, opts)
	case FormatPNG:
		return PNG(doc, w, opts)
	case FormatArchive:
		return Archive(doc, w, opts)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

// WriteFile renders doc to path, picking the format from the file extension.
func WriteFile(path string, doc domain.Document, opts Options) error {
	f, err := ParseFormat(filepath.Ext(path))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", f, err)
	}
	if err := Render(f, doc, out, opts); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", f, err)
	}
	return nil
}

// page is a document resolved for drawing.
type page struct {
	Title    string
	W, H     float64
	Elements []canvas.Element
}

func resolve(doc domain.Document) (page, error) {
	if doc.Width <= 0 || doc.Height <= 0 {
		return page{}, fmt.Errorf("export %s: %w: canvas size %gx%g", doc.ID, domain.ErrInvalidDocument, doc.Width, doc.Height)
	}
	return page{
		Title:    doc.Title,
		W:        doc.Width,
		H:        doc.Height,
		Elements: canvas.NewStore(doc).Elements(),
	}, nil
}

// textLine is one wrapped line of a text element, offsets relative to the element box.
type textLine struct {
	Text     string
	X        float64 // left edge after alignment
	Baseline float64
	Width    float64
}

// layoutText wraps the content of el to its width with p and aligns every line. Lines below the box are dropped.
func layoutText(p textlayout.Provider, el canvas.Element, scale float64) []textLine {
	t := el.Text
	if t == nil || strings.TrimSpace(t.Content) == "" {
		return nil
	}
	spec := fontSpec(t, scale)
	boxW := float64(el.Bounds.W) * scale
	boxH := float64(el.Bounds.H) * scale
	wrap := &textlayout.WordWrapLayouter{Provider: p, BreakWords: true}
	box, err := wrap.Layout([]textlayout.Span{{Text: t.Content, Font: spec}}, float32(boxW))
	if err != nil {
		return nil
	}
	met := box.Metrics
	lineH := float64(met.LineHeight())
	if lineH <= 0 {
		lineH = float64(spec.SizePt) * 1.2
	}
	var out []textLine
	for i, ln := range box.Lines {
		text := ln.Text()
		w, _ := textlayout.Measure(p, []textlayout.Span{{Text: text, Font: spec}})
		baseline := float64(i)*lineH + float64(met.Ascent)
		if i > 0 && baseline-float64(met.Ascent) >= boxH {
			break
		}
		out = append(out, textLine{Text: text, X: alignOffset(t.Align, boxW, float64(w)), Baseline: baseline, Width: float64(w)})
	}
	return out
}

func fontSpec(t *canvas.TextAttrs, scale float64) textlayout.FontSpec {
	spec := textlayout.FontSpec{
		Family: textlayout.ResolveFamily(t.FontFamily),
		SizePt: float32(float64(t.FontSize) * scale),
		Weight: 400,
		Italic: t.Italic,
	}
	if t.Bold {
		spec.Weight = 700
	}
	return spec
}

func alignOffset(a domain.Align, boxW, lineW float64) float64 {
	switch a {
	case domain.AlignCenter:
		return (boxW - lineW) / 2
	case domain.AlignRight:
		return boxW - lineW
	}
	return 0
}

// textColor resolves the colour of a text element with its opacity applied.
func textColor(el canvas.Element) vector.Color {
	return vector.MustHex(el.Text.Color).WithOpacity(el.Opacity)
}

// label is the caption drawn inside a placeholder.
func label(el canvas.Element) string {
	if el.Media != nil && el.Media.SourceRef != "" {
		return el.Media.SourceRef
	}
	return string(el.Kind) + " " + el.Key.String()
}
