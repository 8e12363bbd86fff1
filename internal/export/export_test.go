/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"memorialcanvas/internal/domain"
	"memorialcanvas/internal/textlayout"
)

func sampleDoc() domain.Document {
	d := domain.NewDocument("canvas-1", 400, 300)
	d.Title = "In Memoriam"
	d.Fields["fullname"] = domain.Style{
		domain.AttrKind: "text", domain.AttrX: 20.0, domain.AttrY: 20.0, domain.AttrWidth: 360.0, domain.AttrHeight: 40.0,
		domain.AttrContent: "Erika Mustermann & Söhne", domain.AttrFontSize: 24.0, domain.AttrAlign: "center",
		domain.AttrColor: "#336699", domain.AttrBold: true,
	}
	d.Fields["portrait"] = domain.Style{
		domain.AttrKind: "image", domain.AttrX: 20.0, domain.AttrY: 80.0, domain.AttrWidth: 120.0, domain.AttrHeight: 150.0,
		domain.AttrSourceRef: "canvases/canvas-1/0f8fad5b-d9cb-469f-a165-70867728950e.jpg",
	}
	d.Collections[domain.CollectionSymbols] = []domain.Item{
		{ID: "s0", Kind: domain.KindIcon, Style: domain.Style{domain.AttrX: 200.0, domain.AttrY: 100.0, domain.AttrOpacity: 50.0}},
	}
	d.Collections["shapes"] = []domain.Item{
		{ID: "r0", Kind: domain.KindShape, Style: domain.Style{domain.AttrX: 0.0, domain.AttrY: 250.0, domain.AttrWidth: 400.0, domain.AttrHeight: 50.0}},
	}
	return d
}

func basicOpts() Options { return Options{Provider: textlayout.BasicProvider{}} }

func TestPDFStartsWithHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := PDF(sampleDoc(), &buf, Options{IncludeGuides: true}); err != nil {
		t.Fatalf("pdf: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")) {
		t.Fatalf("not a pdf: %q", buf.Bytes()[:min(16, buf.Len())])
	}
}

func TestPDFSkipsInvisibleElements(t *testing.T) {
	d := sampleDoc()
	d.Fields["fullname"][domain.AttrOpacity] = 0.0
	var buf bytes.Buffer
	if err := PDF(d, &buf, Options{}); err != nil {
		t.Fatalf("pdf: %v", err)
	}
}

func TestSVGDrawsElements(t *testing.T) {
	var buf bytes.Buffer
	if err := SVG(sampleDoc(), &buf, basicOpts()); err != nil {
		t.Fatalf("svg: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`viewBox="0 0 400 300"`,
		`<title>In Memoriam</title>`,
		`fill="#336699"`,
		`font-weight="bold"`,
		`Erika Mustermann &amp; Söhne`,
		`data-source-ref="canvases/canvas-1/0f8fad5b-d9cb-469f-a165-70867728950e.jpg"`,
		`<g id="symbol-0" opacity="0.5">`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("svg misses %s", want)
		}
	}
}

func TestSVGCentersText(t *testing.T) {
	d := domain.NewDocument("c", 200, 100)
	d.Fields["t"] = domain.Style{
		domain.AttrKind: "text", domain.AttrX: 0.0, domain.AttrY: 0.0, domain.AttrWidth: 200.0, domain.AttrHeight: 40.0,
		domain.AttrContent: "abcd", domain.AttrAlign: "center",
	}
	var buf bytes.Buffer
	if err := SVG(d, &buf, basicOpts()); err != nil {
		t.Fatalf("svg: %v", err)
	}
	// The basic face advances 7px per glyph: (200-28)/2.
	if !strings.Contains(buf.String(), `<tspan x="86"`) {
		t.Fatalf("text not centred:\n%s", buf.String())
	}
}

func TestLayoutTextWrapsAndClips(t *testing.T) {
	d := domain.NewDocument("c", 200, 200)
	d.Fields["t"] = domain.Style{
		domain.AttrKind: "text", domain.AttrX: 0.0, domain.AttrY: 0.0, domain.AttrWidth: 60.0, domain.AttrHeight: 30.0,
		domain.AttrContent: "one two three four five six", domain.AttrAlign: "right", domain.AttrAutoHeight: false,
	}
	pg, err := resolve(d)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	lines := layoutText(textlayout.BasicProvider{}, pg.Elements[0], 1)
	if len(lines) < 2 {
		t.Fatalf("expected wrapping, got %+v", lines)
	}
	for _, ln := range lines {
		if ln.X+ln.Width != 60 {
			t.Errorf("line %q not right aligned: x=%v w=%v", ln.Text, ln.X, ln.Width)
		}
		if ln.Baseline-13 >= 30 {
			t.Errorf("line %q below the box", ln.Text)
		}
	}
}

func TestPNGSizeFollowsScale(t *testing.T) {
	var buf bytes.Buffer
	opts := basicOpts()
	opts.Scale = 2
	if err := PNG(sampleDoc(), &buf, opts); err != nil {
		t.Fatalf("png: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 800 || b.Dy() != 600 {
		t.Fatalf("unexpected size %v", b)
	}
}

func TestRasterHonoursOpacity(t *testing.T) {
	d := domain.NewDocument("c", 100, 100)
	d.Collections["shapes"] = []domain.Item{
		{ID: "a", Kind: domain.KindShape, Style: domain.Style{domain.AttrX: 0.0, domain.AttrY: 0.0, domain.AttrWidth: 50.0, domain.AttrHeight: 50.0, domain.AttrOpacity: 100.0}},
		{ID: "b", Kind: domain.KindShape, Style: domain.Style{domain.AttrX: 50.0, domain.AttrY: 50.0, domain.AttrWidth: 50.0, domain.AttrHeight: 50.0, domain.AttrOpacity: 50.0}},
	}
	img, err := Raster(d, basicOpts())
	if err != nil {
		t.Fatalf("raster: %v", err)
	}
	opaque := img.RGBAAt(25, 25)
	if opaque.R != 232 {
		t.Fatalf("opaque shape fill = %v", opaque)
	}
	half := img.RGBAAt(75, 75)
	if half.R <= 232 || half.R == 255 {
		t.Fatalf("half transparent shape should blend with the background, got %v", half)
	}
	if bg := img.RGBAAt(75, 25); bg.R != 255 || bg.G != 255 || bg.B != 255 {
		t.Fatalf("background = %v", bg)
	}
}

func TestThumbnailFitsWidth(t *testing.T) {
	img, err := Thumbnail(sampleDoc(), 100, basicOpts())
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 75 {
		t.Fatalf("unexpected thumbnail size %v", b)
	}
}

func TestRejectsEmptyCanvas(t *testing.T) {
	d := sampleDoc()
	d.Width = 0
	for _, f := range []Format{FormatPDF, FormatSVG, FormatPNG, FormatArchive} {
		if err := Render(f, d, io.Discard, basicOpts()); !errors.Is(err, domain.ErrInvalidDocument) {
			t.Errorf("%s: expected ErrInvalidDocument, got %v", f, err)
		}
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"pdf": FormatPDF, ".PNG": FormatPNG, " svg ": FormatSVG, ".zip": FormatArchive} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("epub"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("expected ErrUnknownFormat, got %v", err)
	}
}

func TestArchiveContents(t *testing.T) {
	var buf bytes.Buffer
	if err := Archive(sampleDoc(), &buf, basicOpts()); err != nil {
		t.Fatalf("archive: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	found := map[string]*zip.File{}
	for _, f := range zr.File {
		found[f.Name] = f
	}
	for _, name := range []string{ArchiveDocument, ArchiveManifest, ArchivePDF, ArchiveSVG, ArchiveThumbnail} {
		if found[name] == nil {
			t.Fatalf("archive misses %s", name)
		}
	}
	rc, err := found[ArchiveManifest].Open()
	if err != nil {
		t.Fatalf("open manifest: %v", err)
	}
	defer func() { _ = rc.Close() }()
	var m Manifest
	if err := json.NewDecoder(rc).Decode(&m); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if m.CanvasID != "canvas-1" || m.Elements != 4 || len(m.Files) != 4 {
		t.Fatalf("unexpected manifest %+v", m)
	}

	rd, err := found[ArchiveDocument].Open()
	if err != nil {
		t.Fatalf("open document: %v", err)
	}
	defer func() { _ = rd.Close() }()
	raw, err := io.ReadAll(rd)
	if err != nil {
		t.Fatalf("read document: %v", err)
	}
	if err := domain.ValidateJSON(raw); err != nil {
		t.Fatalf("archived document invalid: %v", err)
	}
}

func TestWriteFilePicksFormatFromExtension(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "nested", "preview.svg")
	if err := WriteFile(out, sampleDoc(), basicOpts()); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Contains(b, []byte("<svg")) {
		t.Fatalf("not an svg")
	}
	if err := WriteFile(filepath.Join(dir, "x.doc"), sampleDoc(), basicOpts()); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("expected ErrUnknownFormat, got %v", err)
	}
}
