/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package vector

// Smart guides and snapping for dragged canvas elements.
// These utilities are UI-agnostic and deterministic to enable unit testing and
// reuse across the different editor surfaces.

// DefaultSnapThreshold is the canonical snap distance in pixels.
const DefaultSnapThreshold float32 = 6

// Orientation of a guide line.
type Orientation string

const (
	Vertical   Orientation = "vertical"
	Horizontal Orientation = "horizontal"
)

// Guide kinds.
const (
	KindEdge   = "edge"
	KindCenter = "center"
)

// SnapOptions controls which alignment lines are considered and the threshold.
// When neither SnapToEdges nor SnapToCenters is set, both are used.
type SnapOptions struct {
	// Threshold is the maximum distance (in the same units as Rect) at which
	// snapping occurs. Zero means DefaultSnapThreshold.
	Threshold     float32
	SnapToEdges   bool
	SnapToCenters bool
}

// DefaultSnapOptions snaps on all six lines at the default threshold.
func DefaultSnapOptions() SnapOptions {
	return SnapOptions{Threshold: DefaultSnapThreshold, SnapToEdges: true, SnapToCenters: true}
}

// GuideLine describes a visual guide generated during a snap alignment.
// Kind tells which sibling line was matched: "edge" or "center".
// Position is the x (vertical) or y (horizontal) coordinate of the guide.
// From and To are the guide extents; values are rounded to 3 decimal places.
// Guides are render-only and never persisted.
type GuideLine struct {
	Orientation Orientation
	Kind        string
	Position    float32
	From        Pt
	To          Pt
}

// RangeStart and RangeEnd return the extent along the guide.
func (g GuideLine) RangeStart() float32 {
	if g.Orientation == Vertical {
		return g.From.Y
	}
	return g.From.X
}

func (g GuideLine) RangeEnd() float32 {
	if g.Orientation == Vertical {
		return g.To.Y
	}
	return g.To.X
}

// SnapResult is the outcome of Snap. X and Y always hold the position to use;
// they equal the input position on axes that did not snap.
type SnapResult struct {
	X, Y     float32
	SnappedX bool
	SnappedY bool
	Guides   []GuideLine
}

// Snapped reports whether any axis snapped.
func (r SnapResult) Snapped() bool { return r.SnappedX || r.SnappedY }

// Rect returns the moving rect placed at the result position.
func (r SnapResult) Rect(moving Rect) Rect {
	return Rect{X: r.X, Y: r.Y, W: moving.W, H: moving.H}
}

type line struct {
	pos    float32
	center bool
}

func xLines(r Rect) [3]line {
	return [3]line{{r.X, false}, {r.X + r.W/2, true}, {r.X + r.W, false}}
}

func yLines(r Rect) [3]line {
	return [3]line{{r.Y, false}, {r.Y + r.H/2, true}, {r.Y + r.H, false}}
}

type axisMatch struct {
	found   bool
	delta   float32
	dist    float32
	sibling int
	at      line
}

func (m *axisMatch) consider(mv, sib [3]line, idx int, opts SnapOptions) {
	for _, a := range mv {
		if !lineEnabled(a, opts) {
			continue
		}
		for _, b := range sib {
			if !lineEnabled(b, opts) {
				continue
			}
			delta := a.pos - b.pos
			dist := abs32(delta)
			if dist > opts.Threshold {
				continue
			}
			// strict comparison keeps the first candidate on ties
			if !m.found || dist < m.dist {
				*m = axisMatch{found: true, delta: delta, dist: dist, sibling: idx, at: b}
			}
		}
	}
}

func lineEnabled(l line, opts SnapOptions) bool {
	if l.center {
		return opts.SnapToCenters
	}
	return opts.SnapToEdges
}

// Snap computes the snapped position of a moving rectangle against its
// siblings. Each axis is resolved independently: the closest pair of
// alignment lines (left, center, right or top, middle, bottom) within the
// threshold wins and the moving rect is shifted so both lines coincide.
func Snap(moving Rect, siblings []Rect, opts SnapOptions) SnapResult {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultSnapThreshold
	}
	if !opts.SnapToEdges && !opts.SnapToCenters {
		opts.SnapToEdges, opts.SnapToCenters = true, true
	}

	var mx, my axisMatch
	mvX, mvY := xLines(moving), yLines(moving)
	for i, s := range siblings {
		mx.consider(mvX, xLines(s), i, opts)
		my.consider(mvY, yLines(s), i, opts)
	}

	res := SnapResult{X: moving.X, Y: moving.Y}
	if mx.found {
		res.X = FloatRound(moving.X-mx.delta, 3)
		res.SnappedX = true
	}
	if my.found {
		res.Y = FloatRound(moving.Y-my.delta, 3)
		res.SnappedY = true
	}
	snapped := res.Rect(moving)
	if mx.found {
		res.Guides = append(res.Guides, guideForVertical(mx.at, snapped, siblings[mx.sibling]))
	}
	if my.found {
		res.Guides = append(res.Guides, guideForHorizontal(my.at, snapped, siblings[my.sibling]))
	}
	return res
}

func kindOf(l line) string {
	if l.center {
		return KindCenter
	}
	return KindEdge
}

func guideForVertical(l line, a Rect, b Rect) GuideLine {
	minY := min(a.Y, b.Y)
	maxY := max(a.Y+a.H, b.Y+b.H)
	x := FloatRound(l.pos, 3)
	return GuideLine{
		Orientation: Vertical,
		Kind:        kindOf(l),
		Position:    x,
		From:        Pt{x, FloatRound(minY, 3)},
		To:          Pt{x, FloatRound(maxY, 3)},
	}
}

func guideForHorizontal(l line, a Rect, b Rect) GuideLine {
	minX := min(a.X, b.X)
	maxX := max(a.X+a.W, b.X+b.W)
	y := FloatRound(l.pos, 3)
	return GuideLine{
		Orientation: Horizontal,
		Kind:        kindOf(l),
		Position:    y,
		From:        Pt{FloatRound(minX, 3), y},
		To:          Pt{FloatRound(maxX, 3), y},
	}
}
