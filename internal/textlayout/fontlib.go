/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package textlayout

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

// FontLibrary stores parsed OpenType fonts mapped by family/weight/italic.
// Families without a loaded face fall back to the bundled Go fonts.
type FontLibrary struct {
	mu    sync.RWMutex
	fonts map[fontKey]*opentype.Font
}

type fontKey struct {
	family string
	weight int
	italic bool
}

// FallbackFamily is the family the bundled Go fonts are registered under.
const FallbackFamily = "Go"

func NewFontLibrary() *FontLibrary { return &FontLibrary{fonts: make(map[fontKey]*opentype.Font)} }

// NewDefaultLibrary returns a library preloaded with the Go font family in
// regular, bold, italic and bold italic.
func NewDefaultLibrary() (*FontLibrary, error) {
	fl := NewFontLibrary()
	for _, f := range []struct {
		weight int
		italic bool
		data   []byte
	}{
		{400, false, goregular.TTF},
		{700, false, gobold.TTF},
		{400, true, goitalic.TTF},
		{700, true, gobolditalic.TTF},
	} {
		if err := fl.LoadBytes(FallbackFamily, f.weight, f.italic, f.data); err != nil {
			return nil, err
		}
	}
	return fl, nil
}

// LoadBytes parses font data into the library under the given family/weight/italic.
func (fl *FontLibrary) LoadBytes(family string, weight int, italic bool, data []byte) error {
	f, err := opentype.Parse(data)
	if err != nil {
		return fmt.Errorf("parse font %s: %w", family, err)
	}
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.fonts == nil {
		fl.fonts = make(map[fontKey]*opentype.Font)
	}
	fl.fonts[fontKey{family: family, weight: weight, italic: italic}] = f
	return nil
}

// LoadTTF loads a font file into the library under the given family/weight/italic.
func (fl *FontLibrary) LoadTTF(family string, weight int, italic bool, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read font %s: %w", path, err)
	}
	return fl.LoadBytes(family, weight, italic, data)
}

// LoadDir loads every .ttf/.otf file in dir. The family is taken from the
// file name ("Playfair Display.ttf"); a "-Bold" or "-Italic" suffix selects
// the variant. It returns the number of faces loaded.
func (fl *FontLibrary) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read font dir %s: %w", dir, err)
	}
	n := 0
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".ttf" && ext != ".otf") {
			continue
		}
		family, weight, italic := parseFontFileName(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
		if err := fl.LoadTTF(family, weight, italic, filepath.Join(dir, e.Name())); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func parseFontFileName(base string) (family string, weight int, italic bool) {
	weight = 400
	family = base
	if i := strings.LastIndex(base, "-"); i > 0 {
		variant := strings.ToLower(base[i+1:])
		switch variant {
		case "bold":
			weight = 700
		case "italic":
			italic = true
		case "bolditalic":
			weight, italic = 700, true
		case "regular":
		default:
			return base, weight, italic
		}
		family = base[:i]
	}
	return family, weight, italic
}

func (fl *FontLibrary) find(spec FontSpec) *opentype.Font {
	if fl == nil {
		return nil
	}
	fl.mu.RLock()
	defer fl.mu.RUnlock()
	weight := spec.Weight
	if weight == 0 {
		weight = 400
	}
	for _, family := range []string{spec.Family, FallbackFamily} {
		if f, ok := fl.fonts[fontKey{family: family, weight: weight, italic: spec.Italic}]; ok {
			return f
		}
		// same family, any variant; regular first for determinism
		if f, ok := fl.fonts[fontKey{family: family, weight: 400}]; ok {
			return f
		}
	}
	return nil
}

// OTProvider resolves FontSpec using a FontLibrary and falls back to another Provider.
// Kerning is provided by opentype.Face and font.Drawer.
type OTProvider struct {
	Lib      *FontLibrary
	DPI      float64 // default 72 if zero
	Fallback Provider
}

func (p OTProvider) Resolve(spec FontSpec) (font.Face, Metrics) {
	if spec.SizePt <= 0 {
		spec.SizePt = 12
	}
	dpi := p.DPI
	if dpi <= 0 {
		dpi = 72
	}

	if p.Lib != nil {
		if f := p.Lib.find(spec); f != nil {
			face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: float64(spec.SizePt), DPI: dpi, Hinting: font.HintingFull})
			if err == nil {
				m := face.Metrics()
				return face, Metrics{
					Ascent:  float32(m.Ascent.Round()),
					Descent: float32(m.Descent.Round()),
					LineGap: float32(m.Height.Round() - m.Ascent.Round() - m.Descent.Round()),
				}
			}
		}
	}
	fb := p.Fallback
	if fb == nil {
		fb = BasicProvider{}
	}
	return fb.Resolve(spec)
}
