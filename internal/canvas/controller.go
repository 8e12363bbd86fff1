/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package canvas

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"memorialcanvas/internal/domain"
	applog "memorialcanvas/internal/log"
	"memorialcanvas/internal/textlayout"
	"memorialcanvas/internal/vector"
)

// State is the gesture state of a Controller.
type State int

const (
	Idle State = iota
	Dragging
	Resizing
)

func (s State) String() string {
	switch s {
	case Dragging:
		return "dragging"
	case Resizing:
		return "resizing"
	default:
		return "idle"
	}
}

// Handle names one of the eight resize handles.
type Handle string

const (
	HandleN  Handle = "n"
	HandleS  Handle = "s"
	HandleE  Handle = "e"
	HandleW  Handle = "w"
	HandleNE Handle = "ne"
	HandleNW Handle = "nw"
	HandleSE Handle = "se"
	HandleSW Handle = "sw"
)

// Handles lists every resize handle, clockwise from the top.
var Handles = []Handle{HandleN, HandleNE, HandleE, HandleSE, HandleS, HandleSW, HandleW, HandleNW}

func (h Handle) Valid() bool {
	for _, v := range Handles {
		if v == h {
			return true
		}
	}
	return false
}

// edges reports which sides of the box follow the pointer.
func (h Handle) edges() (left, right, top, bottom bool) {
	for _, c := range h {
		switch c {
		case 'w':
			left = true
		case 'e':
			right = true
		case 'n':
			top = true
		case 's':
			bottom = true
		}
	}
	return
}

// Fitter computes a font size for text in a w×h box. textlayout.HeuristicFitter and *textlayout.MeasuredFitter
// implement it.
type Fitter interface {
	Fit(text, family string, w, h float32) float32
}

// exactFitter is a Fitter that may answer Fit from a nearby memoised box. End
// uses FitExact so that the committed size belongs to the final box.
type exactFitter interface {
	FitExact(text, family string, w, h float32) float32
}

func finalFit(f Fitter, text, family string, w, h float32) float32 {
	if ef, ok := f.(exactFitter); ok {
		return ef.FitExact(text, family, w, h)
	}
	return f.Fit(text, family, w, h)
}

// Frame is the transient visual state produced by one gesture tick.
type Frame struct {
	Key      FieldKey
	Bounds   vector.Rect
	FontSize float32 // zero unless a text element is being resized
	Guides   []vector.GuideLine
	// Aborted is set when there is no active gesture or the element vanished.
	Aborted bool
}

// ControllerOptions configure a Controller. Zero values select defaults.
type ControllerOptions struct {
	Snap   vector.SnapOptions
	Fitter Fitter
}

// Controller runs at most one drag or resize gesture at a time against a Store. Ticks only produce frames; the
// store is written once, when the gesture ends.
type Controller struct {
	store   *Store
	persist *persister
	snap    vector.SnapOptions
	fitter  Fitter
	log     *slog.Logger
	// beforeCommit runs right before a gesture result is staged.
	beforeCommit func(label string)

	mu       sync.Mutex
	state    State
	slot     slot
	key      FieldKey
	handle   Handle
	origin   vector.Pt
	orig     Element
	raw      vector.Rect // unsnapped drag position
	cur      vector.Rect
	font     float32
	siblings []vector.Rect
}

// NewController returns an idle controller that persists commits through saver. A nil saver acknowledges
// commits immediately.
func NewController(store *Store, saver Saver, opts ControllerOptions) *Controller {
	return newController(store, newPersister(store, saver), opts)
}

func newController(store *Store, p *persister, opts ControllerOptions) *Controller {
	if opts.Fitter == nil {
		opts.Fitter = textlayout.HeuristicFitter{}
	}
	return &Controller{
		store:   store,
		persist: p,
		snap:    opts.Snap,
		fitter:  opts.Fitter,
		log:     applog.WithComponent("canvas.controller"),
	}
}

// State returns the current gesture state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active returns the key of the element under gesture, if any.
func (c *Controller) Active() (FieldKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key, c.state != Idle
}

// BeginDrag starts dragging the element at key from pointer. A key that does not resolve leaves the controller
// idle without error.
func (c *Controller) BeginDrag(key FieldKey, pointer vector.Pt) error {
	return c.begin(Dragging, key, "", pointer)
}

// BeginResize starts resizing the element at key with handle.
func (c *Controller) BeginResize(key FieldKey, handle Handle, pointer vector.Pt) error {
	if !handle.Valid() {
		return fmt.Errorf("begin resize: unknown handle %q", handle)
	}
	return c.begin(Resizing, key, handle, pointer)
}

func (c *Controller) begin(state State, key FieldKey, handle Handle, pointer vector.Pt) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Idle {
		return fmt.Errorf("begin %s on %s: %w", state, key, ErrGestureInProgress)
	}
	sl, ok := c.store.slotOf(key)
	if !ok {
		c.log.Debug("gesture on missing element ignored", slog.String("key", key.String()))
		return nil
	}
	el, ok := c.store.elementAt(sl)
	if !ok {
		return nil
	}
	c.state = state
	c.slot = sl
	c.key = el.Key
	c.handle = handle
	c.origin = pointer
	c.orig = el
	c.raw = el.Bounds
	c.cur = el.Bounds
	c.font = 0
	if el.Text != nil {
		c.font = el.Text.FontSize
	}
	c.siblings = nil
	if state == Dragging {
		c.siblings = c.store.siblingsOf(sl)
	}
	return nil
}

// Move applies the pointer position of one tick and returns the frame to render.
func (c *Controller) Move(pointer vector.Pt) Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Idle {
		return Frame{Aborted: true}
	}
	el, ok := c.store.elementAt(c.slot)
	if !ok {
		return c.abortLocked()
	}
	c.key = el.Key
	canvas := c.store.CanvasSize()
	dx, dy := pointer.X-c.origin.X, pointer.Y-c.origin.Y

	if c.state == Dragging {
		c.raw = c.orig.Bounds.Translate(dx, dy)
		res := vector.Snap(c.raw, c.siblings, c.snap)
		c.cur = ClampRect(res.Rect(c.raw), c.orig.Kind, canvas)
		return Frame{Key: c.key, Bounds: c.cur, Guides: res.Guides}
	}

	c.cur = resizeRect(c.orig.Bounds, c.handle, dx, dy, MinSize(c.orig.Kind), canvas)
	f := Frame{Key: c.key, Bounds: c.cur}
	if c.orig.Text != nil {
		c.font = c.fitter.Fit(c.orig.Text.Content, c.orig.Text.FontFamily, c.cur.W, c.cur.H)
		f.FontSize = c.font
	}
	return f
}

// End commits the gesture: the store overlay receives the final attributes and exactly one save is issued for the
// element's target. It returns nil when nothing changed or the element vanished. A non-nil error only reports a
// failure to stage or encode; save failures arrive through the returned Commit.
func (c *Controller) End(ctx context.Context) (*Commit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Idle {
		return nil, nil
	}
	defer c.resetLocked()
	el, ok := c.store.elementAt(c.slot)
	if !ok {
		c.log.Debug("element vanished; gesture aborted", slog.String("key", c.key.String()))
		return nil, nil
	}
	canvas := c.store.CanvasSize()
	attrs := domain.Style{}
	final := c.cur
	label := "resize"
	if c.state == Dragging {
		label = "move"
		final = ClampRect(vector.Snap(c.raw, c.siblings, c.snap).Rect(c.raw), c.orig.Kind, canvas)
	} else {
		final = ClampRect(final, c.orig.Kind, canvas)
		if el.Text != nil && final != c.orig.Bounds {
			c.font = finalFit(c.fitter, el.Text.Content, el.Text.FontFamily, final.W, final.H)
			attrs[domain.AttrFontSize] = float64(c.font)
			attrs[domain.AttrAutoHeight] = false
		}
	}
	if final == c.orig.Bounds {
		return nil, nil
	}
	for a, v := range geometryStyle(final) {
		attrs[a] = v
	}
	if c.beforeCommit != nil {
		c.beforeCommit(label + " " + el.Key.String())
	}
	pend, err := c.store.stageAt(c.slot, attrs)
	if errors.Is(err, ErrMissingElement) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", el.Key, err)
	}
	return c.persist.persist(ctx, pend)
}

// Cancel discards the gesture and returns a frame with the pre-gesture bounds.
func (c *Controller) Cancel() Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Idle {
		return Frame{Aborted: true}
	}
	f := Frame{Key: c.key, Bounds: c.orig.Bounds}
	if c.orig.Text != nil {
		f.FontSize = c.orig.Text.FontSize
	}
	c.resetLocked()
	return f
}

func (c *Controller) abortLocked() Frame {
	c.log.Debug("element vanished; gesture aborted", slog.String("key", c.key.String()))
	c.resetLocked()
	return Frame{Aborted: true}
}

func (c *Controller) resetLocked() {
	c.state = Idle
	c.slot = slot{}
	c.key = FieldKey{}
	c.handle = ""
	c.orig = Element{}
	c.siblings = nil
	c.font = 0
}

// resizeRect moves the sides of r selected by h by the pointer delta. The opposite sides stay fixed; a moving side
// stops at the size floor and at the canvas edge.
func resizeRect(r vector.Rect, h Handle, dx, dy float32, floor, canvas vector.Size) vector.Rect {
	left, right, top, bottom := h.edges()
	x0, y0, x1, y1 := r.X, r.Y, r.Right(), r.Bottom()
	maxX, maxY := canvas.W, canvas.H
	if maxX <= 0 {
		maxX = x1 + abs(dx) + r.W
	}
	if maxY <= 0 {
		maxY = y1 + abs(dy) + r.H
	}
	if left {
		x0 = clampf(x0+dx, 0, x1-floor.W)
	}
	if right {
		x1 = clampf(x1+dx, x0+floor.W, maxX)
	}
	if top {
		y0 = clampf(y0+dy, 0, y1-floor.H)
	}
	if bottom {
		y1 = clampf(y1+dy, y0+floor.H, maxY)
	}
	return vector.R(x0, y0, x1-x0, y1-y0)
}

func clampf(v, lo, hi float32) float32 {
	if hi < lo {
		hi = lo
	}
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
