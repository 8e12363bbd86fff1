/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */


// Package textlayout measures and wraps the text of canvas elements and picks
// font sizes that fit a box. Faces come from a Provider so that tests can run on
// the fixed 7x13 bitmap face while exports use the bundled OpenType families.
package textlayout

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// FontSpec names a family, size and style. Size is in points, which the canvas
// treats as pixels.
type FontSpec struct {
	Family string
	SizePt float32
	Weight int // 100..900, 700 is bold
	Italic bool
}

// Metrics are the vertical metrics of a resolved face in pixels.
type Metrics struct {
	Ascent, Descent, LineGap float32
}

// LineHeight is the baseline to baseline distance.
func (m Metrics) LineHeight() float32 { return m.Ascent + m.Descent + m.LineGap }

// Span is a run of text set in one font.
type Span struct {
	Text string
	Font FontSpec
}

// Line is one wrapped line. Width excludes trailing spaces.
type Line struct {
	Spans   []Span
	Width   float32
	Ascent  float32
	Descent float32
}

// Text joins the spans of the line without trailing spaces.
func (l Line) Text() string {
	var b strings.Builder
	for _, sp := range l.Spans {
		b.WriteString(sp.Text)
	}
	return strings.TrimRight(b.String(), " ")
}

// TextBox is wrapped text. Metrics belong to the first span's face.
type TextBox struct {
	Lines   []Line
	Width   float32
	Height  float32
	Metrics Metrics
}

// Provider resolves a FontSpec to a face.
type Provider interface {
	Resolve(FontSpec) (font.Face, Metrics)
}

// Layouter wraps spans into a box of the given width.
type Layouter interface {
	Layout(spans []Span, maxWidth float32) (TextBox, error)
}

// BasicProvider ignores the spec and always returns basicfont.Face7x13, whose
// glyphs advance 7px. Results do not depend on installed fonts.
type BasicProvider struct{}

func (BasicProvider) Resolve(FontSpec) (font.Face, Metrics) {
	f := basicfont.Face7x13
	m := f.Metrics()
	asc, desc := m.Ascent.Round(), m.Descent.Round()
	return f, Metrics{Ascent: float32(asc), Descent: float32(desc), LineGap: float32(m.Height.Round() - asc - desc)}
}

// WordWrapLayouter breaks at spaces and hard newlines. With BreakWords a word
// wider than the box is split between glyphs; otherwise it overflows its line,
// which is what auto-fit needs to notice that a size is too large.
type WordWrapLayouter struct {
	Provider   Provider
	BreakWords bool
}

func NewWordWrap(provider Provider) *WordWrapLayouter { return &WordWrapLayouter{Provider: provider} }

// wrapState accumulates lines for one Layout call.
type wrapState struct {
	box      TextBox
	cur      Line
	trailing float32 // width of spaces at the end of cur
	max      float32
}

func (s *wrapState) add(sp Span, w float32, m Metrics, space bool) {
	if sp.Text == "" {
		return
	}
	if n := len(s.cur.Spans); n > 0 && s.cur.Spans[n-1].Font == sp.Font {
		s.cur.Spans[n-1].Text += sp.Text
	} else {
		s.cur.Spans = append(s.cur.Spans, sp)
	}
	s.cur.Ascent = max(s.cur.Ascent, m.Ascent)
	s.cur.Descent = max(s.cur.Descent, m.Descent)
	if space {
		s.trailing += w
		return
	}
	s.cur.Width += s.trailing + w
	s.trailing = 0
}

func (s *wrapState) fits(w float32) bool {
	return s.max <= 0 || s.cur.Width == 0 || s.cur.Width+s.trailing+w <= s.max
}

func (s *wrapState) newline(m Metrics) {
	if s.cur.Ascent == 0 && s.cur.Descent == 0 {
		s.cur.Ascent, s.cur.Descent = m.Ascent, m.Descent
	}
	s.box.Lines = append(s.box.Lines, s.cur)
	s.box.Width = max(s.box.Width, s.cur.Width)
	s.box.Height += s.cur.Ascent + s.cur.Descent + m.LineGap
	s.cur, s.trailing = Line{}, 0
}

func (l *WordWrapLayouter) Layout(spans []Span, maxWidth float32) (TextBox, error) {
	p := l.Provider
	if p == nil {
		p = BasicProvider{}
	}
	st := &wrapState{max: maxWidth}
	var last Metrics
	for i, sp := range spans {
		face, m := p.Resolve(sp.Font)
		if i == 0 {
			st.box.Metrics = m
		}
		last = m
		d := &font.Drawer{Face: face}
		for j, para := range strings.Split(sp.Text, "\n") {
			if j > 0 {
				st.newline(m)
			}
			for k, word := range strings.Split(para, " ") {
				if k > 0 {
					st.add(Span{Text: " ", Font: sp.Font}, advance(d, " "), m, true)
				}
				l.placeWord(st, d, Span{Text: word, Font: sp.Font}, m)
			}
		}
	}
	if len(spans) == 0 {
		_, st.box.Metrics = p.Resolve(FontSpec{})
		last = st.box.Metrics
	}
	if len(st.cur.Spans) > 0 || len(st.box.Lines) == 0 {
		st.newline(last)
	}
	return st.box, nil
}

func (l *WordWrapLayouter) placeWord(st *wrapState, d *font.Drawer, word Span, m Metrics) {
	if word.Text == "" {
		return
	}
	w := advance(d, word.Text)
	if !st.fits(w) {
		st.newline(m)
	}
	if !l.BreakWords || st.max <= 0 || w <= st.max {
		st.add(word, w, m, false)
		return
	}
	// Split an overlong word, keeping at least one glyph per line.
	rest := word.Text
	for rest != "" {
		n := breakAt(d, rest, st.max-st.cur.Width-st.trailing)
		if n == 0 {
			if st.cur.Width > 0 {
				st.newline(m)
				continue
			}
			_, n = utf8.DecodeRuneInString(rest)
		}
		part := rest[:n]
		st.add(Span{Text: part, Font: word.Font}, advance(d, part), m, false)
		rest = rest[n:]
		if rest != "" {
			st.newline(m)
		}
	}
}

// breakAt returns the byte length of the longest prefix of s that fits into room.
func breakAt(d *font.Drawer, s string, room float32) int {
	var w fixed.Int26_6
	prev := rune(-1)
	for i, r := range s {
		if prev >= 0 {
			w += d.Face.Kern(prev, r)
		}
		a, ok := d.Face.GlyphAdvance(r)
		if !ok {
			a, _ = d.Face.GlyphAdvance('?')
		}
		w += a
		if float32(w>>6) > room {
			return i
		}
		prev = r
	}
	return len(s)
}

func advance(d *font.Drawer, s string) float32 {
	return float32(d.MeasureString(s) >> 6)
}

// Measure returns the width of spans set on one line and the tallest
// ascent plus descent among them.
func Measure(provider Provider, spans []Span) (w, h float32) {
	if provider == nil {
		provider = BasicProvider{}
	}
	if len(spans) == 0 {
		_, m := provider.Resolve(FontSpec{})
		return 0, m.Ascent + m.Descent
	}
	for _, sp := range spans {
		face, m := provider.Resolve(sp.Font)
		w += advance(&font.Drawer{Face: face}, sp.Text)
		h = max(h, m.Ascent+m.Descent)
	}
	return w, h
}
