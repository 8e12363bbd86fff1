/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package canvas

import (
	"memorialcanvas/internal/domain"
	"memorialcanvas/internal/textlayout"
	"memorialcanvas/internal/vector"
)

// Default text styling for new fields.
const (
	DefaultFontSize  = 16
	DefaultTextColor = "#222222"
	DefaultOpacity   = 100
)

// DefaultSize returns the initial size of a new element of kind.
func DefaultSize(kind domain.Kind) vector.Size {
	switch kind {
	case domain.KindText:
		return vector.Size{W: 280, H: 40}
	case domain.KindImage, domain.KindVideo:
		return vector.Size{W: 150, H: 150}
	case domain.KindIcon:
		return vector.Size{W: 48, H: 48}
	default:
		return vector.Size{W: 100, H: 100}
	}
}

// StaggerPosition spreads new elements so they do not land on top of each
// other: five per row, 30px apart, rows 40px apart.
func StaggerPosition(index int) vector.Pt {
	if index < 0 {
		index = 0
	}
	return vector.Pt{X: float32(40 + (index%5)*30), Y: float32(40 + (index/5)*40)}
}

// DefaultStyle returns the kind defaults used when an attribute is unset.
// Position is not part of it; see StaggerPosition.
func DefaultStyle(kind domain.Kind) domain.Style {
	size := DefaultSize(kind)
	s := domain.Style{
		domain.AttrWidth:   float64(size.W),
		domain.AttrHeight:  float64(size.H),
		domain.AttrOpacity: float64(DefaultOpacity),
	}
	if kind == domain.KindText {
		s[domain.AttrAutoHeight] = true
		s[domain.AttrFontSize] = float64(DefaultFontSize)
		s[domain.AttrFontFamily] = textlayout.DefaultFamily
		s[domain.AttrColor] = DefaultTextColor
		s[domain.AttrAlign] = string(domain.AlignLeft)
		s[domain.AttrBold] = false
		s[domain.AttrItalic] = false
		s[domain.AttrUnderline] = false
	}
	return s
}

// initialStyle is what EnsureDefaultStyle assigns: kind defaults plus the
// staggered position.
func initialStyle(kind domain.Kind, index int) domain.Style {
	s := DefaultStyle(kind)
	p := StaggerPosition(index)
	s[domain.AttrX] = float64(p.X)
	s[domain.AttrY] = float64(p.Y)
	return s
}
