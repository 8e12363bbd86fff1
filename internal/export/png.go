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
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
	"memorialcanvas/internal/canvas"
	"memorialcanvas/internal/domain"
	"memorialcanvas/internal/textlayout"
	"memorialcanvas/internal/vector"
)

// PNG writes doc as a PNG raster of Options.Scale pixels per canvas unit. With MaxWidth set, a wider raster is
// downscaled to MaxWidth keeping the aspect ratio.
func PNG(doc domain.Document, w io.Writer, opts Options) error {
	img, err := Raster(doc, opts)
	if err != nil {
		return err
	}
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// Raster renders doc into an RGBA image.
func Raster(doc domain.Document, opts Options) (*image.RGBA, error) {
	pg, err := resolve(doc)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	scale := opts.Scale
	pixW := int(math.Round(pg.W * scale))
	pixH := int(math.Round(pg.H * scale))
	if pixW <= 0 || pixH <= 0 {
		return nil, fmt.Errorf("export %s: empty raster %dx%d", doc.ID, pixW, pixH)
	}

	img := image.NewRGBA(image.Rect(0, 0, pixW, pixH))
	draw.Draw(img, img.Bounds(), image.NewUniform(toRGBA(opts.Background)), image.Point{}, draw.Src)

	for _, el := range pg.Elements {
		if el.Opacity <= 0 {
			continue
		}
		// Each element is drawn on its own layer so that opacity applies once to everything it contains.
		box := pixelRect(el.Bounds, scale).Intersect(img.Bounds())
		if box.Empty() {
			continue
		}
		layer := image.NewRGBA(box)
		switch {
		case el.Text != nil:
			rasterText(layer, opts.Provider, el, scale)
		case el.Media != nil:
			fillRect(layer, box, toRGBA(opts.Placeholder))
			strokeRect(layer, box, toRGBA(opts.Stroke))
			cross(layer, box, toRGBA(opts.Stroke))
		case el.Kind == domain.KindShape:
			fillRect(layer, box, toRGBA(opts.Placeholder))
			strokeRect(layer, box, toRGBA(opts.Stroke))
		default:
			strokeRect(layer, box, toRGBA(opts.Stroke))
		}
		mask := image.NewUniform(color.Alpha{A: uint8(math.Round(float64(el.Opacity) * 255 / 100))})
		draw.DrawMask(img, box, layer, box.Min, mask, image.Point{}, draw.Over)
	}

	if opts.IncludeGuides {
		strokeRect(img, img.Bounds(), toRGBA(opts.GuideColor))
	}

	if opts.MaxWidth > 0 && pixW > opts.MaxWidth {
		return downscale(img, opts.MaxWidth), nil
	}
	return img, nil
}

// Thumbnail renders doc at unit scale and fits it into maxW pixels.
func Thumbnail(doc domain.Document, maxW int, opts Options) (*image.RGBA, error) {
	opts.Scale = 1
	opts.MaxWidth = maxW
	return Raster(doc, opts)
}

func downscale(src *image.RGBA, maxW int) *image.RGBA {
	b := src.Bounds()
	h := int(math.Round(float64(b.Dy()) * float64(maxW) / float64(b.Dx())))
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxW, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

func rasterText(layer *image.RGBA, p textlayout.Provider, el canvas.Element, scale float64) {
	lines := layoutText(p, el, scale)
	if len(lines) == 0 {
		return
	}
	face, _ := p.Resolve(fontSpec(el.Text, scale))
	col := toRGBA(vector.MustHex(el.Text.Color))
	d := &font.Drawer{Dst: layer, Src: image.NewUniform(col), Face: face}
	x0 := float64(el.Bounds.X) * scale
	y0 := float64(el.Bounds.Y) * scale
	for _, ln := range lines {
		d.Dot = fixed.P(int(math.Round(x0+ln.X)), int(math.Round(y0+ln.Baseline)))
		d.DrawString(ln.Text)
		if el.Text.Underline {
			y := int(math.Round(y0+ln.Baseline)) + 2
			x := int(math.Round(x0 + ln.X))
			fillRect(layer, image.Rect(x, y, x+int(math.Ceil(ln.Width)), y+1), col)
		}
	}
}

func pixelRect(r vector.Rect, scale float64) image.Rectangle {
	x0 := int(math.Round(float64(r.X) * scale))
	y0 := int(math.Round(float64(r.Y) * scale))
	x1 := int(math.Round(float64(r.Right()) * scale))
	y1 := int(math.Round(float64(r.Bottom()) * scale))
	return image.Rect(x0, y0, x1, y1)
}

func toRGBA(c vector.Color) color.RGBA {
	// color.RGBA is alpha-premultiplied.
	a := uint32(c.A)
	return color.RGBA{R: uint8(uint32(c.R) * a / 255), G: uint8(uint32(c.G) * a / 255), B: uint8(uint32(c.B) * a / 255), A: c.A}
}

func fillRect(img *image.RGBA, r image.Rectangle, col color.RGBA) {
	draw.Draw(img, r.Intersect(img.Bounds()), image.NewUniform(col), image.Point{}, draw.Over)
}

// strokeRect draws a 1px border on the inside of r.
func strokeRect(img *image.RGBA, r image.Rectangle, col color.RGBA) {
	if r.Empty() {
		return
	}
	fillRect(img, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+1), col)
	fillRect(img, image.Rect(r.Min.X, r.Max.Y-1, r.Max.X, r.Max.Y), col)
	fillRect(img, image.Rect(r.Min.X, r.Min.Y, r.Min.X+1, r.Max.Y), col)
	fillRect(img, image.Rect(r.Max.X-1, r.Min.Y, r.Max.X, r.Max.Y), col)
}

// cross draws both diagonals of r, the usual mark for an image that is not rendered.
func cross(img *image.RGBA, r image.Rectangle, col color.RGBA) {
	w, h := r.Dx(), r.Dy()
	n := w
	if h > n {
		n = h
	}
	for i := 0; i < n; i++ {
		x := r.Min.X + i*w/n
		y := r.Min.Y + i*h/n
		img.SetRGBA(x, y, col)
		img.SetRGBA(r.Max.X-1-(x-r.Min.X), y, col)
	}
}
