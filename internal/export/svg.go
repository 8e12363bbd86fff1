/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"memorialcanvas/internal/canvas"
	"memorialcanvas/internal/domain"
	"memorialcanvas/internal/vector"
)

// SVG writes doc as one SVG document. The viewBox matches the canvas size; fonts are referenced by family name
// only and lines are broken with the measuring provider of opts.
func SVG(doc domain.Document, w io.Writer, opts Options) error {
	pg, err := resolve(doc)
	if err != nil {
		return err
	}
	opts = opts.withDefaults()

	bw := bufio.NewWriter(w)
	var werr error
	wf := func(format string, args ...any) {
		if werr != nil {
			return
		}
		_, werr = fmt.Fprintf(bw, format, args...)
	}

	wf("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	wf("<svg xmlns=\"http://www.w3.org/2000/svg\" version=\"1.1\" width=\"%g\" height=\"%g\" viewBox=\"0 0 %g %g\">\n", pg.W, pg.H, pg.W, pg.H)
	if pg.Title != "" {
		wf("  <title>%s</title>\n", escText(pg.Title))
	}
	wf("  <rect x=\"0\" y=\"0\" width=\"%g\" height=\"%g\" fill=\"%s\"/>\n", pg.W, pg.H, svgColor(opts.Background))

	stroke := svgColor(opts.Stroke)
	fill := svgColor(opts.Placeholder)
	for i, el := range pg.Elements {
		if el.Opacity <= 0 {
			continue
		}
		r := el.Bounds
		wf("  <g id=\"%s\" opacity=\"%g\">\n", escAttr(el.Key.String()), float64(el.Opacity)/100)
		switch {
		case el.Text != nil:
			clip := fmt.Sprintf("clip-%d", i)
			wf("    <clipPath id=\"%s\"><rect x=\"%g\" y=\"%g\" width=\"%g\" height=\"%g\"/></clipPath>\n", clip, r.X, r.Y, r.W, r.H)
			svgText(wf, opts, el, clip)
		case el.Media != nil:
			wf("    <rect x=\"%g\" y=\"%g\" width=\"%g\" height=\"%g\" fill=\"%s\" stroke=\"%s\" stroke-width=\"0.5\"/>\n", r.X, r.Y, r.W, r.H, fill, stroke)
			wf("    <path d=\"M%g %gL%g %gM%g %gL%g %g\" stroke=\"%s\" stroke-width=\"0.5\"/>\n", r.X, r.Y, r.Right(), r.Bottom(), r.Right(), r.Y, r.X, r.Bottom(), stroke)
			wf("    <text x=\"%g\" y=\"%g\" font-family=\"Helvetica, Arial, sans-serif\" font-size=\"8\" fill=\"%s\" data-source-ref=\"%s\">%s</text>\n",
				r.X+3, r.Y+11, stroke, escAttr(el.Media.SourceRef), escText(label(el)))
		case el.Kind == domain.KindShape:
			wf("    <rect x=\"%g\" y=\"%g\" width=\"%g\" height=\"%g\" fill=\"%s\" stroke=\"%s\" stroke-width=\"1\"/>\n", r.X, r.Y, r.W, r.H, fill, stroke)
		default:
			wf("    <rect x=\"%g\" y=\"%g\" width=\"%g\" height=\"%g\" fill=\"none\" stroke=\"%s\" stroke-width=\"1\"/>\n", r.X, r.Y, r.W, r.H, stroke)
		}
		wf("  </g>\n")
	}

	if opts.IncludeGuides {
		wf("  <rect x=\"0\" y=\"0\" width=\"%g\" height=\"%g\" fill=\"none\" stroke=\"%s\" stroke-width=\"0.2\"/>\n", pg.W, pg.H, svgColor(opts.GuideColor))
	}
	wf("</svg>\n")

	if werr != nil {
		return fmt.Errorf("build svg: %w", werr)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write svg: %w", err)
	}
	return nil
}

func svgText(wf func(string, ...any), opts Options, el canvas.Element, clip string) {
	t := el.Text
	lines := layoutText(opts.Provider, el, 1)
	if len(lines) == 0 {
		return
	}
	var attrs []string
	if t.Bold {
		attrs = append(attrs, "font-weight=\"bold\"")
	}
	if t.Italic {
		attrs = append(attrs, "font-style=\"italic\"")
	}
	if t.Underline {
		attrs = append(attrs, "text-decoration=\"underline\"")
	}
	extra := ""
	if len(attrs) > 0 {
		extra = " " + strings.Join(attrs, " ")
	}
	col := vector.MustHex(t.Color)
	wf("    <text font-family=\"%s\" font-size=\"%g\" fill=\"%s\" clip-path=\"url(#%s)\"%s>\n",
		escAttr(t.FontFamily), t.FontSize, svgColor(col), clip, extra)
	for _, ln := range lines {
		wf("      <tspan x=\"%g\" y=\"%g\">%s</tspan>\n", float64(el.Bounds.X)+ln.X, float64(el.Bounds.Y)+ln.Baseline, escText(ln.Text))
	}
	wf("    </text>\n")
}

func svgColor(c vector.Color) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

var (
	attrEscaper = strings.NewReplacer("&", "&amp;", "\"", "&quot;", "<", "&lt;", "\n", " ", "\r", "")
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
)

func escAttr(s string) string { return attrEscaper.Replace(s) }

func escText(s string) string { return textEscaper.Replace(s) }
