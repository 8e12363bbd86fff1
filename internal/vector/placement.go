/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package vector

import (
	"math"
	"sort"
)

// PlaceOptions controls the free-slot search used when a new element is
// dropped onto a crowded canvas.
// All units are in the same coordinate space as Rect.
// The search is deterministic for identical inputs.
//
// Margin is the clearance to keep from canvas edges.
// GridStep controls the search granularity; lower values are slower but find
// tighter fits.
//
// Anchor, when provided (HasAnchor=true), biases the search toward positions
// whose center is closest to the anchor (e.g. the drop point) while still
// avoiding collisions. If no collision-free slot exists the least-overlapping
// candidate is returned.
type PlaceOptions struct {
	Margin    float32
	GridStep  float32
	Anchor    Pt
	HasAnchor bool
}

// SuggestPlacement proposes a rect of the given size inside canvas that does
// not overlap obstacles. It returns the rect and the number of candidates
// evaluated. The result always lies within canvas inset by Margin.
func SuggestPlacement(canvas Rect, size Size, obstacles []Rect, opts PlaceOptions) (Rect, int) {
	if opts.Margin < 0 {
		opts.Margin = 0
	}
	if opts.GridStep <= 0 {
		opts.GridStep = 10
	}

	inner := canvas.Inset(opts.Margin, opts.Margin)
	if inner.W <= 0 || inner.H <= 0 {
		inner = canvas
	}
	w := min(max(0, size.W), inner.W)
	h := min(max(0, size.H), inner.H)

	x0, y0 := inner.X, inner.Y
	x1 := max(x0, inner.X+inner.W-w)
	y1 := max(y0, inner.Y+inner.H-h)

	var candidates []Rect
	// Row-major grid; the last cell on each axis is pinned to x1/y1.
	for y := y0; ; y += opts.GridStep {
		if y > y1 {
			y = y1
		}
		for x := x0; ; x += opts.GridStep {
			if x > x1 {
				x = x1
			}
			candidates = append(candidates, R(FloatRound(x, 3), FloatRound(y, 3), FloatRound(w, 3), FloatRound(h, 3)))
			if x == x1 {
				break
			}
		}
		if y == y1 {
			break
		}
	}

	if opts.HasAnchor {
		sort.SliceStable(candidates, func(i, j int) bool {
			di := distTo(candidates[i].Center(), opts.Anchor)
			dj := distTo(candidates[j].Center(), opts.Anchor)
			return di < dj
		})
	}

	best := candidates[0]
	bestCost := float32(math.MaxFloat32)
	attempts := 0
	for _, c := range candidates {
		attempts++
		overlap := totalOverlapArea(c, obstacles)
		if overlap <= 0.0001 {
			best = c
			break
		}
		cost := overlap * 10_000
		if opts.HasAnchor {
			cost += distTo(c.Center(), opts.Anchor)
		}
		// prefer top-left reading order
		cost += c.Y*0.01 + c.X*0.001
		if cost < bestCost {
			bestCost = cost
			best = c
		}
	}
	return ClampInto(best, inner), attempts
}

func distTo(a, b Pt) float32 {
	return float32(math.Hypot(float64(a.X-b.X), float64(a.Y-b.Y)))
}

func totalOverlapArea(r Rect, obstacles []Rect) float32 {
	var sum float32
	for _, o := range obstacles {
		if r.Intersects(o) {
			sum += r.Intersection(o).Area()
		}
	}
	return sum
}
