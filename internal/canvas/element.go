/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package canvas

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"memorialcanvas/internal/domain"
	"memorialcanvas/internal/textlayout"
	"memorialcanvas/internal/vector"
)

// TextAttrs are the typography attributes of a text element.
type TextAttrs struct {
	Content    string
	FontSize   float32
	FontFamily string
	Color      string
	Bold       bool
	Italic     bool
	Underline  bool
	Align      domain.Align
}

// MediaAttrs reference uploaded media. SourceRef is opaque.
type MediaAttrs struct {
	SourceRef string
}

// Element is the resolved, render-ready view of one field.
type Element struct {
	Key        FieldKey
	Kind       domain.Kind
	Bounds     vector.Rect
	AutoHeight bool
	Opacity    int
	Text       *TextAttrs
	Media      *MediaAttrs
}

// MinSize returns the size floor for kind.
func MinSize(kind domain.Kind) vector.Size {
	switch kind {
	case domain.KindText:
		return vector.Size{W: 30, H: 20}
	case domain.KindImage, domain.KindVideo:
		return vector.Size{W: 40, H: 40}
	case domain.KindIcon:
		return vector.Size{W: 16, H: 16}
	default:
		return vector.Size{W: 10, H: 10}
	}
}

// CheckGeometry reports ErrInvalidGeometry when r is below the size floor of
// kind or not fully inside the canvas.
func CheckGeometry(r vector.Rect, kind domain.Kind, canvas vector.Size) error {
	floor := MinSize(kind)
	if r.W < floor.W || r.H < floor.H {
		return fmt.Errorf("%w: %vx%v below floor %vx%v", ErrInvalidGeometry, r.W, r.H, floor.W, floor.H)
	}
	if !vector.R(0, 0, canvas.W, canvas.H).ContainsRect(r) {
		return fmt.Errorf("%w: %+v outside %vx%v", ErrInvalidGeometry, r, canvas.W, canvas.H)
	}
	return nil
}

// ClampRect applies the size floor of kind and keeps r inside the canvas.
func ClampRect(r vector.Rect, kind domain.Kind, canvas vector.Size) vector.Rect {
	r = vector.ClampSize(r, MinSize(kind), vector.Size{})
	if canvas.W > 0 && canvas.H > 0 {
		r = vector.ClampInto(r, vector.R(0, 0, canvas.W, canvas.H))
	}
	return r
}

// Clamp normalises e in place: geometry, opacity and font size. A text box
// with AutoHeight grows to the wrapped height of its content.
func (e *Element) Clamp(canvas vector.Size) {
	e.Opacity = clampOpacity(e.Opacity)
	if e.Text != nil {
		if e.Text.FontSize < textlayout.MinFontSize {
			e.Text.FontSize = textlayout.MinFontSize
		}
		e.Text.FontFamily = textlayout.ResolveFamily(e.Text.FontFamily)
	}
	e.Bounds = ClampRect(e.Bounds, e.Kind, canvas)
	if e.AutoHeight && e.Text != nil {
		if h := ContentHeight(measureProvider(), e.Text, e.Bounds.W); h > e.Bounds.H {
			e.Bounds.H = h
			e.Bounds = ClampRect(e.Bounds, e.Kind, canvas)
		}
	}
}

// measureProvider measures with the bundled Go fonts so that resolved
// geometry does not depend on installed fonts.
var measureProvider = sync.OnceValue(func() textlayout.Provider {
	lib, err := textlayout.NewDefaultLibrary()
	if err != nil {
		return textlayout.BasicProvider{}
	}
	return textlayout.OTProvider{Lib: lib, Fallback: textlayout.BasicProvider{}}
})

// ContentHeight is the height of the content of t wrapped at width w, rounded
// up to whole pixels. Empty content has no height.
func ContentHeight(p textlayout.Provider, t *TextAttrs, w float32) float32 {
	if t == nil || strings.TrimSpace(t.Content) == "" {
		return 0
	}
	spec := textlayout.FontSpec{Family: textlayout.ResolveFamily(t.FontFamily), SizePt: t.FontSize, Weight: 400, Italic: t.Italic}
	if t.Bold {
		spec.Weight = 700
	}
	wrap := &textlayout.WordWrapLayouter{Provider: p, BreakWords: true}
	box, err := wrap.Layout([]textlayout.Span{{Text: t.Content, Font: spec}}, w)
	if err != nil {
		return 0
	}
	return float32(math.Ceil(float64(box.Height)))
}

func clampOpacity(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// elementFromStyle resolves every attribute of style, falling back to the
// kind defaults.
func elementFromStyle(key FieldKey, kind domain.Kind, style domain.Style) Element {
	def := DefaultStyle(kind)
	num := func(a domain.Attr) float32 {
		if v, ok := style.Float(a); ok {
			return float32(v)
		}
		v, _ := def.Float(a)
		return float32(v)
	}
	flag := func(a domain.Attr) bool {
		if v, ok := style.Bool(a); ok {
			return v
		}
		v, _ := def.Bool(a)
		return v
	}
	str := func(a domain.Attr) string {
		if v, ok := style.Str(a); ok {
			return v
		}
		v, _ := def.Str(a)
		return v
	}
	e := Element{
		Key:        key,
		Kind:       kind,
		Bounds:     vector.R(num(domain.AttrX), num(domain.AttrY), num(domain.AttrWidth), num(domain.AttrHeight)),
		AutoHeight: flag(domain.AttrAutoHeight),
		Opacity:    int(num(domain.AttrOpacity)),
	}
	switch {
	case kind == domain.KindText:
		e.Text = &TextAttrs{
			Content:    str(domain.AttrContent),
			FontSize:   num(domain.AttrFontSize),
			FontFamily: str(domain.AttrFontFamily),
			Color:      str(domain.AttrColor),
			Bold:       flag(domain.AttrBold),
			Italic:     flag(domain.AttrItalic),
			Underline:  flag(domain.AttrUnderline),
			Align:      domain.Align(str(domain.AttrAlign)),
		}
	case kind.IsMedia():
		e.Media = &MediaAttrs{SourceRef: str(domain.AttrSourceRef)}
	}
	return e
}

// geometryStyle returns the positional attributes of r.
func geometryStyle(r vector.Rect) domain.Style {
	return domain.Style{
		domain.AttrX:      round3(r.X),
		domain.AttrY:      round3(r.Y),
		domain.AttrWidth:  round3(r.W),
		domain.AttrHeight: round3(r.H),
	}
}

// round3 widens v to float64 rounded to 3 decimals so that persisted values
// do not carry float32 noise.
func round3(v float32) float64 {
	return math.Round(float64(v)*1000) / 1000
}
