/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package textlayout

import (
	"strings"
	"testing"
)

func TestFitFontSize_KnownValues(t *testing.T) {
	cases := []struct {
		text string
		w, h float32
		want float32
	}{
		// base = 20*0.7 + 10*0.3 = 17; factor = 20/5 -> 1.2; 20.4 -> 20
		{"Titel", 200, 60, 20},
		// base = 40*0.7 + 20*0.3 = 34; 34*1.2 = 40.8 -> 41
		{"Titel", 400, 120, 41},
		// 40 runes: factor 0.5 -> 0.6; base 17 -> 10.2 -> 10
		{strings.Repeat("a", 40), 200, 60, 10},
		// tiny box floors at 8
		{"x", 1, 1, 8},
		// huge box caps at 96
		{"x", 10000, 10000, 96},
	}
	for _, tc := range cases {
		if got := FitFontSize(tc.text, DefaultFamily, tc.w, tc.h); got != tc.want {
			t.Errorf("FitFontSize(%q,%v,%v) = %v, want %v", tc.text, tc.w, tc.h, got, tc.want)
		}
	}
}

func TestFitFontSize_CountsRunes(t *testing.T) {
	// "Müller" is 6 runes but 7 bytes
	if a, b := FitFontSize("Müller", "", 300, 90), FitFontSize("Muller", "", 300, 90); a != b {
		t.Fatalf("rune count mismatch: %v vs %v", a, b)
	}
}

func TestFitFontSize_Bounded(t *testing.T) {
	lengths := []int{0, 1, 5, 20, 100, 10000}
	dims := []float32{1, 7, 30, 200, 999, 10000}
	for _, n := range lengths {
		text := strings.Repeat("m", n)
		for _, w := range dims {
			for _, h := range dims {
				got := FitFontSize(text, "", w, h)
				if got < 8 || got > 96 {
					t.Fatalf("FitFontSize(len=%d,%v,%v) = %v out of [8,96]", n, w, h, got)
				}
			}
		}
	}
}

func TestFitFontSize_MonotonicInBox(t *testing.T) {
	for _, text := range []string{"", "Titel", "In loving memory of", strings.Repeat("z", 300)} {
		prev := float32(0)
		for s := float32(1); s <= 4000; s *= 1.5 {
			got := FitFontSize(text, "", s, s*0.6)
			if got < prev {
				t.Fatalf("size decreased for %q at %v: %v < %v", text, s, got, prev)
			}
			prev = got
		}
	}
}

func TestFitFontSize_ResizeExample(t *testing.T) {
	small := FitFontSize("Titel", "Georgia", 200, 60)
	large := FitFontSize("Titel", "Georgia", 400, 120)
	if large < small {
		t.Fatalf("larger box produced smaller font: %v < %v", large, small)
	}
}

func TestFitParams_Tunable(t *testing.T) {
	p := DefaultFitParams
	p.MaxSize = 40
	if got := p.Fit("x", 10000, 10000); got != 40 {
		t.Fatalf("custom MaxSize not honoured: %v", got)
	}
	if got := (HeuristicFitter{}).Fit("Titel", "", 200, 60); got != 20 {
		t.Fatalf("zero HeuristicFitter should use defaults, got %v", got)
	}
}

func TestMeasuredFitter_BoundsAndGrowth(t *testing.T) {
	lib, err := NewDefaultLibrary()
	if err != nil {
		t.Fatalf("NewDefaultLibrary: %v", err)
	}
	f := NewMeasuredFitter(OTProvider{Lib: lib})
	small := f.Fit("Titel", "Georgia", 200, 60)
	large := f.Fit("Titel", "Georgia", 400, 120)
	if small < 8 || small > 96 || large < 8 || large > 96 {
		t.Fatalf("out of bounds: %v %v", small, large)
	}
	if large < small {
		t.Fatalf("measured fitter shrank for a larger box: %v < %v", large, small)
	}
	if tiny := f.Fit("a very long line that cannot fit", "Georgia", 10, 5); tiny != 8 {
		t.Fatalf("expected floor 8 for an impossible box, got %v", tiny)
	}
}

func TestMeasuredFitter_Hysteresis(t *testing.T) {
	lib, err := NewDefaultLibrary()
	if err != nil {
		t.Fatalf("NewDefaultLibrary: %v", err)
	}
	f := NewMeasuredFitter(OTProvider{Lib: lib})
	first := f.Fit("Anna Schmidt", "", 300, 80)
	// jitter within the band returns the memoised size
	for _, d := range []float32{1, -2, 3, -3.5} {
		if got := f.Fit("Anna Schmidt", "", 300+d, 80-d); got != first {
			t.Fatalf("size changed within hysteresis band: %v vs %v", got, first)
		}
	}
	f.Reset()
	if got := f.Fit("Anna Schmidt", "", 300, 80); got != first {
		t.Fatalf("recomputed size differs: %v vs %v", got, first)
	}
}

func TestMeasuredFitter_FitExactIgnoresMemo(t *testing.T) {
	// The basic face is 7px per glyph at every size: "abcd" is 28px wide.
	f := NewMeasuredFitter(BasicProvider{})
	if got := f.Fit("abcd", "", 30, 20); got != MaxFontSize {
		t.Fatalf("fitting box = %v, want %v", got, MaxFontSize)
	}
	if got := f.Fit("abcd", "", 27, 20); got != MaxFontSize {
		t.Fatalf("within the band the memo should answer, got %v", got)
	}
	if got := f.FitExact("abcd", "", 27, 20); got != MinFontSize {
		t.Fatalf("exact fit for a too narrow box = %v, want %v", got, MinFontSize)
	}
	if got := f.Fit("abcd", "", 28, 20); got != MinFontSize {
		t.Fatalf("FitExact should refresh the memo, got %v", got)
	}
}

func TestResolveFamily(t *testing.T) {
	if got := ResolveFamily("playfair display"); got != "Playfair Display" {
		t.Fatalf("ResolveFamily = %q", got)
	}
	if got := ResolveFamily("Comic Sans"); got != DefaultFamily {
		t.Fatalf("unknown family should map to default, got %q", got)
	}
	if IsAllowedFamily("Wingdings") || !IsAllowedFamily("Lora") {
		t.Fatalf("IsAllowedFamily mismatch")
	}
}

func TestParseFontFileName(t *testing.T) {
	cases := map[string]struct {
		family string
		weight int
		italic bool
	}{
		"Lora":                        {"Lora", 400, false},
		"Lora-Bold":                   {"Lora", 700, false},
		"Playfair Display-BoldItalic": {"Playfair Display", 700, true},
		"Great-Vibes":                 {"Great-Vibes", 400, false},
	}
	for in, want := range cases {
		f, w, i := parseFontFileName(in)
		if f != want.family || w != want.weight || i != want.italic {
			t.Errorf("parseFontFileName(%q) = %q,%d,%v", in, f, w, i)
		}
	}
}
