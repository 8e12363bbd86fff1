/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"memorialcanvas/internal/domain"
	applog "memorialcanvas/internal/log"
)

// PresetName represents a named export preset.
type PresetName string

const (
	PresetWeb   PresetName = "web"
	PresetPrint PresetName = "print"
)

// BatchOptions controls batch export of several canvases.
//
// Path semantics:
//   - If OutDir is empty it defaults to the preset name.
//   - Each canvas is written as <OutDir>/<format>/<canvas id>.<ext>.
//
//nolint:revive // keep fields explicit for clarity
type BatchOptions struct {
	Preset        PresetName
	Formats       []string // allowed: pdf, png, svg, zip; empty means preset defaults
	Scale         float64  // when > 0 overrides the preset's raster scale
	IncludeGuides *bool    // when set, overrides the preset's default for guides
	OutDir        string
}

// BatchExport renders every document in the formats of the preset and returns the written paths.
func BatchExport(docs []domain.Document, opt BatchOptions) ([]string, error) {
	l := applog.WithOperation(applog.WithComponent("export"), "batch")
	if len(docs) == 0 {
		return nil, fmt.Errorf("batch export: no canvases")
	}
	formats := opt.Formats
	if len(formats) == 0 {
		formats = presetDefaultFormats(opt.Preset)
	}
	parsed := make([]Format, 0, len(formats))
	for _, f := range formats {
		pf, err := ParseFormat(f)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, pf)
	}

	baseOut := opt.OutDir
	if baseOut == "" {
		baseOut = string(opt.Preset)
	}
	ro := Options{IncludeGuides: presetIncludeGuides(opt.Preset), Scale: presetScale(opt.Preset)}
	if opt.IncludeGuides != nil {
		ro.IncludeGuides = *opt.IncludeGuides
	}
	if opt.Scale > 0 {
		ro.Scale = opt.Scale
	}

	var written []string
	for _, doc := range docs {
		name := fileStem(doc)
		for _, f := range parsed {
			out := filepath.Join(baseOut, string(f), name+"."+string(f))
			if err := WriteFile(out, doc, ro); err != nil {
				return written, fmt.Errorf("%s canvas %s: %w", f, name, err)
			}
			written = append(written, out)
		}
	}
	l.Info("batch export finished", slog.String("preset", string(opt.Preset)), slog.Int("canvases", len(docs)), slog.Int("files", len(written)))
	return written, nil
}

func fileStem(doc domain.Document) string {
	id := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, doc.ID)
	if id == "" {
		return "canvas"
	}
	return id
}

func presetDefaultFormats(p PresetName) []string {
	switch p {
	case PresetWeb:
		return []string{"png", "svg"}
	case PresetPrint:
		return []string{"pdf"}
	default:
		return []string{"pdf"}
	}
}

func presetIncludeGuides(p PresetName) bool {
	return p == PresetPrint
}

// presetScale is the raster scale: screen resolution for web, 300 dpi for print.
func presetScale(p PresetName) float64 {
	if p == PresetPrint {
		return 300.0 / 72.0
	}
	return 1
}
