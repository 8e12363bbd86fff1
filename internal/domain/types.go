/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany..
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package domain

// This file defines the persisted data model of a memorial canvas.
// Singleton fields (name, dates, ...) keep their style in a flat map while
// collection items (symbols, gallery photos, custom text fields) carry their
// own style so rendering and persistence see geometry on the item itself.

// Kind is the element kind of a canvas field.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindIcon  Kind = "icon"
	KindShape Kind = "shape"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindImage, KindVideo, KindIcon, KindShape:
		return true
	}
	return false
}

// IsMedia reports whether the kind references external media.
func (k Kind) IsMedia() bool { return k == KindImage || k == KindVideo }

// Align is horizontal text alignment.
type Align string

const (
	AlignLeft   Align = "left"
	AlignCenter Align = "center"
	AlignRight  Align = "right"
)

// Attr names one style attribute.
type Attr string

const (
	AttrX          Attr = "x"
	AttrY          Attr = "y"
	AttrWidth      Attr = "width"
	AttrHeight     Attr = "height"
	AttrAutoHeight Attr = "autoHeight"
	AttrOpacity    Attr = "opacity"
	AttrContent    Attr = "content"
	AttrFontSize   Attr = "fontSize"
	AttrFontFamily Attr = "fontFamily"
	AttrColor      Attr = "color"
	AttrBold       Attr = "bold"
	AttrItalic     Attr = "italic"
	AttrUnderline  Attr = "underline"
	AttrAlign      Attr = "alignment"
	AttrSourceRef  Attr = "sourceRef"
	AttrKind       Attr = "kind"
)

// Well-known collection names.
const (
	CollectionSymbols = "symbol"
	CollectionGallery = "gallery"
	CollectionCustom  = "custom"
)

// Style is a set of attributes. Numeric values are stored as float64 so
// that a decoded document compares equal to the one that was encoded.
type Style map[Attr]any

// Item is one entry of a backing collection.
type Item struct {
	ID    string `json:"id"`
	Kind  Kind   `json:"kind"`
	Style Style  `json:"style,omitempty"`
}

// Document is the persisted state of one canvas.
type Document struct {
	ID          string            `json:"id"`
	Title       string            `json:"title,omitempty"`
	Width       float64           `json:"width"`
	Height      float64           `json:"height"`
	Revision    int64             `json:"revision"`
	Fields      map[string]Style  `json:"fields"`
	Collections map[string][]Item `json:"collections"`
}

// NewDocument returns an empty document of the given size.
func NewDocument(id string, width, height float64) Document {
	return Document{
		ID:          id,
		Width:       width,
		Height:      height,
		Fields:      map[string]Style{},
		Collections: map[string][]Item{},
	}
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	out := d
	out.Fields = make(map[string]Style, len(d.Fields))
	for k, s := range d.Fields {
		out.Fields[k] = s.Clone()
	}
	out.Collections = make(map[string][]Item, len(d.Collections))
	for k, items := range d.Collections {
		cp := make([]Item, len(items))
		for i, it := range items {
			cp[i] = it.Clone()
		}
		out.Collections[k] = cp
	}
	return out
}

// Clone returns a copy of the item with its own style map.
func (it Item) Clone() Item {
	it.Style = it.Style.Clone()
	return it
}

// Clone returns a shallow copy of the style; values are scalars.
func (s Style) Clone() Style {
	if s == nil {
		return nil
	}
	out := make(Style, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Float returns a numeric attribute.
func (s Style) Float(a Attr) (float64, bool) {
	return AsFloat(s[a])
}

// Str returns a string attribute.
func (s Style) Str(a Attr) (string, bool) {
	v, ok := s[a].(string)
	return v, ok
}

// Bool returns a boolean attribute.
func (s Style) Bool(a Attr) (bool, bool) {
	v, ok := s[a].(bool)
	return v, ok
}

// AsFloat converts any Go numeric value to float64.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	}
	return 0, false
}

// Normalize converts numeric values to float64 and Kind/Align to plain
// strings, matching what a JSON round trip yields.
func Normalize(v any) any {
	if f, ok := AsFloat(v); ok {
		return f
	}
	switch s := v.(type) {
	case Kind:
		return string(s)
	case Align:
		return string(s)
	}
	return v
}
