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
	"fmt"
	"image/png"
	"io"
	"time"

	"memorialcanvas/internal/domain"
	"memorialcanvas/internal/version"
)

// Archive entry names.
const (
	ArchiveDocument  = "document.json"
	ArchiveManifest  = "manifest.json"
	ArchivePDF       = "canvas.pdf"
	ArchiveSVG       = "canvas.svg"
	ArchiveThumbnail = "thumbnail.png"
)

// ThumbnailWidth is the width of the archive preview image.
const ThumbnailWidth = 320

// Manifest describes the content of an archive.
type Manifest struct {
	CanvasID  string    `json:"canvasId"`
	Title     string    `json:"title,omitempty"`
	Revision  int64     `json:"revision"`
	Width     float64   `json:"width"`
	Height    float64   `json:"height"`
	Elements  int       `json:"elements"`
	Files     []string  `json:"files"`
	Generator string    `json:"generator"`
	Created   time.Time `json:"created"`
}

// Archive writes a ZIP with the document itself, its PDF and SVG renderings, a thumbnail and a manifest. Media
// objects are referenced by sourceRef and not included.
func Archive(doc domain.Document, w io.Writer, opts Options) error {
	pg, err := resolve(doc)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(w)

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	files := []string{ArchiveDocument}
	if err := addZipFile(zw, ArchiveDocument, raw); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := PDF(doc, &buf, opts); err != nil {
		return err
	}
	if err := addZipFile(zw, ArchivePDF, buf.Bytes()); err != nil {
		return err
	}
	files = append(files, ArchivePDF)

	buf.Reset()
	if err := SVG(doc, &buf, opts); err != nil {
		return err
	}
	if err := addZipFile(zw, ArchiveSVG, buf.Bytes()); err != nil {
		return err
	}
	files = append(files, ArchiveSVG)

	thumb, err := Thumbnail(doc, ThumbnailWidth, opts)
	if err != nil {
		return err
	}
	buf.Reset()
	if err := png.Encode(&buf, thumb); err != nil {
		return fmt.Errorf("encode thumbnail: %w", err)
	}
	if err := addZipFile(zw, ArchiveThumbnail, buf.Bytes()); err != nil {
		return err
	}
	files = append(files, ArchiveThumbnail)

	manifest, err := json.MarshalIndent(Manifest{
		CanvasID:  doc.ID,
		Title:     doc.Title,
		Revision:  doc.Revision,
		Width:     pg.W,
		Height:    pg.H,
		Elements:  len(pg.Elements),
		Files:     files,
		Generator: "memorialcanvas " + version.String(),
		Created:   time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("build manifest: %w", err)
	}
	if err := addZipFile(zw, ArchiveManifest, manifest); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zip: %w", err)
	}
	return nil
}

func addZipFile(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: time.Now()})
	if err != nil {
		return fmt.Errorf("zip add %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("zip write %s: %w", name, err)
	}
	return nil
}
