/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package vector

import "testing"

func TestSuggestPlacement_EmptyCanvasTopLeft(t *testing.T) {
	canvas := R(0, 0, 300, 200)
	pos, attempts := SuggestPlacement(canvas, Size{W: 100, H: 60}, nil, PlaceOptions{Margin: 10})
	if attempts != 1 {
		t.Fatalf("expected first candidate to win, attempts=%d", attempts)
	}
	if pos != R(10, 10, 100, 60) {
		t.Fatalf("unexpected placement %+v", pos)
	}
}

func TestSuggestPlacement_AvoidsObstacle(t *testing.T) {
	canvas := R(0, 0, 300, 200)
	obstacles := []Rect{R(10, 10, 150, 100)}
	pos, _ := SuggestPlacement(canvas, Size{W: 100, H: 60}, obstacles, PlaceOptions{Margin: 10})
	if pos.Y != 10 || pos.X != 160 {
		t.Fatalf("expected (160,10) beside the obstacle, got %+v", pos)
	}
	if pos.Intersects(obstacles[0]) {
		t.Fatalf("placement overlaps obstacle")
	}
}

func TestSuggestPlacement_AnchorBias(t *testing.T) {
	canvas := R(0, 0, 300, 200)
	pos, _ := SuggestPlacement(canvas, Size{W: 100, H: 60}, nil, PlaceOptions{Anchor: Pt{250, 170}, HasAnchor: true})
	c := pos.Center()
	if c.X < 200 || c.Y < 140 {
		t.Fatalf("expected placement near bottom-right anchor, got %+v", pos)
	}
}

func TestSuggestPlacement_FallbackStaysInside(t *testing.T) {
	canvas := R(0, 0, 200, 120)
	obstacles := []Rect{R(0, 0, 200, 120)}
	pos, attempts := SuggestPlacement(canvas, Size{W: 500, H: 500}, obstacles, PlaceOptions{Margin: 8})
	if attempts == 0 {
		t.Fatalf("expected attempts > 0")
	}
	inner := canvas.Inset(8, 8)
	if !inner.ContainsRect(pos) {
		t.Fatalf("expected result inside %+v, got %+v", inner, pos)
	}
}
