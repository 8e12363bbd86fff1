/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package textlayout

import (
	"math"
	"sync"
	"unicode/utf8"
)

// Font size bounds shared by every fitter.
const (
	MinFontSize float32 = 8
	MaxFontSize float32 = 96
)

// FitParams are the tuning constants of the ratio heuristic.
//
//	base   = (w/WidthDivisor)*WidthWeight + (h/HeightDivisor)*HeightWeight
//	factor = clamp(LengthBase/max(1, runes), MinFactor, MaxFactor)
//	size   = clamp(round(base*factor), MinSize, MaxSize)
type FitParams struct {
	WidthDivisor  float64
	HeightDivisor float64
	WidthWeight   float64
	HeightWeight  float64
	LengthBase    float64
	MinFactor     float64
	MaxFactor     float64
	MinSize       float32
	MaxSize       float32
}

var DefaultFitParams = FitParams{
	WidthDivisor:  10,
	HeightDivisor: 6,
	WidthWeight:   0.7,
	HeightWeight:  0.3,
	LengthBase:    20,
	MinFactor:     0.6,
	MaxFactor:     1.2,
	MinSize:       MinFontSize,
	MaxSize:       MaxFontSize,
}

// Fit computes a font size that roughly fills a w×h box with text. It does no
// glyph measurement and is pure.
func (p FitParams) Fit(text string, w, h float32) float32 {
	n := utf8.RuneCountInString(text)
	base := float64(w)/p.WidthDivisor*p.WidthWeight + float64(h)/p.HeightDivisor*p.HeightWeight
	factor := clampF(p.LengthBase/math.Max(1, float64(n)), p.MinFactor, p.MaxFactor)
	size := math.Round(base * factor)
	if math.IsNaN(size) {
		size = float64(p.MinSize)
	}
	return float32(clampF(size, float64(p.MinSize), float64(p.MaxSize)))
}

// FitFontSize applies DefaultFitParams. The family does not influence the
// heuristic.
func FitFontSize(text, family string, w, h float32) float32 {
	return DefaultFitParams.Fit(text, w, h)
}

// HeuristicFitter adapts FitParams to the fitter interface used by the editor.
type HeuristicFitter struct{ Params FitParams }

func (f HeuristicFitter) Fit(text, family string, w, h float32) float32 {
	p := f.Params
	if p.WidthDivisor == 0 || p.HeightDivisor == 0 {
		p = DefaultFitParams
	}
	return p.Fit(text, w, h)
}

// MeasuredFitter finds the largest integer size in [MinFontSize, MaxFontSize]
// whose word-wrapped layout fits the box, using real glyph advances.
//
// Results are memoised per text/family. While the box changes by less than
// Hysteresis pixels on both axes the previous size is returned, so the size
// does not flicker during a continuous resize.
type MeasuredFitter struct {
	Provider   Provider
	Hysteresis float32

	mu   sync.Mutex
	last map[fitKey]fitMemo
}

type fitKey struct{ text, family string }

type fitMemo struct {
	w, h float32
	size float32
}

// NewMeasuredFitter returns a fitter over provider with a 4px hysteresis band.
func NewMeasuredFitter(provider Provider) *MeasuredFitter {
	return &MeasuredFitter{Provider: provider, Hysteresis: 4}
}

func (f *MeasuredFitter) Fit(text, family string, w, h float32) float32 {
	key := fitKey{text: text, family: family}
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.last[key]; ok && abs(m.w-w) < f.Hysteresis && abs(m.h-h) < f.Hysteresis {
		return m.size
	}
	return f.remember(key, w, h)
}

// FitExact searches for w×h even when a memoised box lies within the
// hysteresis band, and memoises the result.
func (f *MeasuredFitter) FitExact(text, family string, w, h float32) float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remember(fitKey{text: text, family: family}, w, h)
}

func (f *MeasuredFitter) remember(key fitKey, w, h float32) float32 {
	size := f.search(key.text, key.family, w, h)
	if f.last == nil {
		f.last = make(map[fitKey]fitMemo)
	}
	f.last[key] = fitMemo{w: w, h: h, size: size}
	return size
}

// Reset drops memoised results.
func (f *MeasuredFitter) Reset() {
	f.mu.Lock()
	f.last = nil
	f.mu.Unlock()
}

func (f *MeasuredFitter) search(text, family string, w, h float32) float32 {
	if text == "" {
		return FitFontSize(text, family, w, h)
	}
	lw := NewWordWrap(f.provider())
	fits := func(size int) bool {
		box, err := lw.Layout([]Span{{Text: text, Font: FontSpec{Family: family, SizePt: float32(size), Weight: 400}}}, w)
		return err == nil && box.Width <= w && box.Height <= h
	}
	lo, hi := int(MinFontSize), int(MaxFontSize)
	best := lo
	for lo <= hi {
		mid := (lo + hi) / 2
		if fits(mid) {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return float32(best)
}

func (f *MeasuredFitter) provider() Provider {
	if f.Provider == nil {
		return BasicProvider{}
	}
	return f.Provider
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
