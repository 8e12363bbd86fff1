/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"memorialcanvas/internal/canvas"
	"memorialcanvas/internal/domain"
	"memorialcanvas/internal/textlayout"
	"memorialcanvas/internal/vector"
)

// lineSpacing is the PDF line height relative to the font size.
const lineSpacing = 1.2

// PDF writes doc as a single-page PDF whose page size equals the canvas size in points.
// Text uses the built-in core fonts so nothing needs to be embedded; families map to Times or Helvetica.
func PDF(doc domain.Document, w io.Writer, opts Options) error {
	pg, err := resolve(doc)
	if err != nil {
		return err
	}
	opts = opts.withDefaults()

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr: "pt",
		Size:    gofpdf.SizeType{Wd: pg.W, Ht: pg.H},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	if pg.Title != "" {
		pdf.SetTitle(pg.Title, true)
	}
	pdf.SetCreator("memorialcanvas", false)
	pdf.AddPageFormat("", gofpdf.SizeType{Wd: pg.W, Ht: pg.H})
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	setFillColor(pdf, opts.Background)
	pdf.Rect(0, 0, pg.W, pg.H, "F")

	for _, el := range pg.Elements {
		alpha := float64(el.Opacity) / 100
		if alpha <= 0 {
			continue
		}
		pdf.SetAlpha(alpha, "Normal")
		r := el.Bounds
		x, y, bw, bh := float64(r.X), float64(r.Y), float64(r.W), float64(r.H)
		switch {
		case el.Text != nil:
			pdfText(pdf, tr, el)
		case el.Media != nil:
			setFillColor(pdf, opts.Placeholder)
			setDrawColor(pdf, opts.Stroke)
			pdf.SetLineWidth(0.5)
			pdf.Rect(x, y, bw, bh, "FD")
			pdf.Line(x, y, x+bw, y+bh)
			pdf.Line(x+bw, y, x, y+bh)
			pdfCaption(pdf, tr, el, opts.Stroke)
		default:
			setDrawColor(pdf, opts.Stroke)
			pdf.SetLineWidth(1)
			style := "D"
			if el.Kind == domain.KindShape {
				setFillColor(pdf, opts.Placeholder)
				style = "FD"
			}
			pdf.Rect(x, y, bw, bh, style)
		}
		pdf.SetAlpha(1, "Normal")
	}

	if opts.IncludeGuides {
		setDrawColor(pdf, opts.GuideColor)
		pdf.SetLineWidth(0.2)
		pdf.Rect(0, 0, pg.W, pg.H, "D")
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func pdfText(pdf *gofpdf.Fpdf, tr func(string) string, el canvas.Element) {
	t := el.Text
	if strings.TrimSpace(t.Content) == "" {
		return
	}
	size := float64(t.FontSize)
	pdf.SetFont(coreFamily(t.FontFamily), pdfStyle(t), size)
	setTextColor(pdf, vector.MustHex(t.Color))

	r := el.Bounds
	x, y, bw, bh := float64(r.X), float64(r.Y), float64(r.W), float64(r.H)
	pdf.ClipRect(x, y, bw, bh, false)
	defer pdf.ClipEnd()
	lineH := size * lineSpacing
	var lines []string
	for _, para := range strings.Split(tr(t.Content), "\n") {
		if para == "" {
			lines = append(lines, "")
			continue
		}
		lines = append(lines, pdfWrap(pdf, para, bw)...)
	}
	for i, ln := range lines {
		top := float64(i) * lineH
		if i > 0 && top >= bh {
			break
		}
		lw := pdf.GetStringWidth(ln)
		pdf.Text(x+alignOffset(t.Align, bw, lw), y+top+size, ln)
	}
}

// pdfWrap breaks an already translated paragraph at spaces so that every line fits w in the current font. A
// single word wider than w gets a line of its own.
func pdfWrap(pdf *gofpdf.Fpdf, para string, w float64) []string {
	var (
		lines []string
		cur   string
	)
	for _, word := range strings.Fields(para) {
		next := word
		if cur != "" {
			next = cur + " " + word
		}
		if cur != "" && pdf.GetStringWidth(next) > w {
			lines = append(lines, cur)
			next = word
		}
		cur = next
	}
	return append(lines, cur)
}

// pdfCaption writes the placeholder label at the top left of the element.
func pdfCaption(pdf *gofpdf.Fpdf, tr func(string) string, el canvas.Element, col vector.Color) {
	r := el.Bounds
	size := 8.0
	if float64(r.H) < size*2 {
		return
	}
	pdf.SetFont("Helvetica", "", size)
	setTextColor(pdf, col)
	pdf.ClipRect(float64(r.X), float64(r.Y), float64(r.W), float64(r.H), false)
	pdf.Text(float64(r.X)+3, float64(r.Y)+3+size, tr(label(el)))
	pdf.ClipEnd()
}

// coreFamily maps a canvas font family to one of the PDF core fonts.
func coreFamily(family string) string {
	switch textlayout.ResolveFamily(family) {
	case "Georgia", "Times New Roman", "Garamond", "Playfair Display", "Lora", "Great Vibes":
		return "Times"
	}
	return "Helvetica"
}

func pdfStyle(t *canvas.TextAttrs) string {
	var s string
	if t.Bold {
		s += "B"
	}
	if t.Italic {
		s += "I"
	}
	if t.Underline {
		s += "U"
	}
	return s
}

func setDrawColor(pdf *gofpdf.Fpdf, c vector.Color) {
	pdf.SetDrawColor(int(c.R), int(c.G), int(c.B))
}

func setFillColor(pdf *gofpdf.Fpdf, c vector.Color) {
	pdf.SetFillColor(int(c.R), int(c.G), int(c.B))
}

func setTextColor(pdf *gofpdf.Fpdf, c vector.Color) {
	pdf.SetTextColor(int(c.R), int(c.G), int(c.B))
}
