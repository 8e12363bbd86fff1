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
	"reflect"
	"sync"
	"testing"
	"time"

	"memorialcanvas/internal/domain"
	"memorialcanvas/internal/textlayout"
	"memorialcanvas/internal/vector"
)

type saveCall struct {
	target string
	value  []byte
}

// fakeSaver records every save and answers with err.
type fakeSaver struct {
	mu    sync.Mutex
	calls []saveCall
	err   error
}

func (f *fakeSaver) Save(_ context.Context, target string, value []byte) <-chan error {
	f.mu.Lock()
	f.calls = append(f.calls, saveCall{target: target, value: value})
	err := f.err
	f.mu.Unlock()
	ch := make(chan error, 1)
	ch <- err
	return ch
}

func (f *fakeSaver) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeSaver) saved() []saveCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]saveCall(nil), f.calls...)
}

func waitCommit(t *testing.T, c *Commit) error {
	t.Helper()
	if c == nil {
		t.Fatalf("expected a commit")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.Wait(ctx)
}

func shapeDoc() domain.Document {
	d := domain.NewDocument("c1", 800, 600)
	d.Fields["a"] = domain.Style{domain.AttrKind: "shape", domain.AttrX: 100.0, domain.AttrY: 100.0, domain.AttrWidth: 50.0, domain.AttrHeight: 50.0}
	d.Fields["b"] = domain.Style{domain.AttrKind: "shape", domain.AttrX: 200.0, domain.AttrY: 100.0, domain.AttrWidth: 50.0, domain.AttrHeight: 50.0}
	d.Fields["title"] = domain.Style{domain.AttrKind: "text", domain.AttrContent: "Titel", domain.AttrX: 50.0, domain.AttrY: 300.0, domain.AttrWidth: 200.0, domain.AttrHeight: 60.0}
	return d
}

func TestDragSnapsToSiblingTopEdge(t *testing.T) {
	d := shapeDoc()
	delete(d.Fields, "title")
	s := NewStore(d)
	ctrl := NewController(s, nil, ControllerOptions{})

	if err := ctrl.BeginDrag(Singleton("b"), vector.Pt{X: 225, Y: 125}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	f := ctrl.Move(vector.Pt{X: 225, Y: 129})
	if f.Aborted {
		t.Fatalf("unexpected abort")
	}
	if f.Bounds != vector.R(200, 100, 50, 50) {
		t.Fatalf("bounds = %+v, want y snapped to 100", f.Bounds)
	}
	if len(f.Guides) != 1 {
		t.Fatalf("guides = %+v", f.Guides)
	}
	g := f.Guides[0]
	if g.Orientation != vector.Horizontal || g.Position != 100 || g.RangeStart() != 100 || g.RangeEnd() != 250 {
		t.Fatalf("unexpected guide %+v", g)
	}
	// snapped back onto its original position: nothing to save
	commit, err := ctrl.End(context.Background())
	if err != nil || commit != nil {
		t.Fatalf("end = %v, %v; want no commit", commit, err)
	}
	if ctrl.State() != Idle {
		t.Fatalf("state = %s", ctrl.State())
	}
}

func TestGestureSavesOncePerCommit(t *testing.T) {
	saver := &fakeSaver{}
	s := NewStore(shapeDoc())
	ctrl := NewController(s, saver, ControllerOptions{})

	if err := ctrl.BeginDrag(Singleton("b"), vector.Pt{X: 0, Y: 0}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	for y := float32(1); y <= 80; y += 7 {
		ctrl.Move(vector.Pt{X: 3, Y: y})
	}
	if n := len(saver.saved()); n != 0 {
		t.Fatalf("%d saves during the gesture", n)
	}
	commit, err := ctrl.End(context.Background())
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := waitCommit(t, commit); err != nil {
		t.Fatalf("save: %v", err)
	}
	calls := saver.saved()
	if len(calls) != 1 || calls[0].target != "b" {
		t.Fatalf("saves = %+v", calls)
	}
	if s.Dirty() {
		t.Fatalf("acknowledged edit still pending")
	}
	el, _ := s.Element(Singleton("b"))
	if el.Bounds.Y == 100 {
		t.Fatalf("position not committed: %+v", el.Bounds)
	}
}

func TestDragStaysInsideCanvas(t *testing.T) {
	s := NewStore(shapeDoc())
	ctrl := NewController(s, nil, ControllerOptions{})
	_ = ctrl.BeginDrag(Singleton("a"), vector.Pt{})
	f := ctrl.Move(vector.Pt{X: 5000, Y: -5000})
	if f.Bounds != vector.R(750, 0, 50, 50) {
		t.Fatalf("bounds = %+v", f.Bounds)
	}
	if _, err := ctrl.End(context.Background()); err != nil {
		t.Fatalf("end: %v", err)
	}
	el, _ := s.Element(Singleton("a"))
	if err := CheckGeometry(el.Bounds, el.Kind, s.CanvasSize()); err != nil {
		t.Fatalf("committed geometry invalid: %v", err)
	}
}

func TestResizeRefitsText(t *testing.T) {
	s := NewStore(shapeDoc())
	ctrl := NewController(s, nil, ControllerOptions{})
	key := Singleton("title")

	if err := ctrl.BeginResize(key, HandleSE, vector.Pt{X: 250, Y: 360}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	f := ctrl.Move(vector.Pt{X: 450, Y: 420})
	if f.Bounds != vector.R(50, 300, 400, 120) {
		t.Fatalf("bounds = %+v", f.Bounds)
	}
	small := textlayout.FitFontSize("Titel", "", 200, 60)
	if f.FontSize < small {
		t.Fatalf("font at 400x120 (%v) smaller than at 200x60 (%v)", f.FontSize, small)
	}
	commit, err := ctrl.End(context.Background())
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	_ = waitCommit(t, commit)
	if got := s.GetStyle(key, domain.AttrFontSize, nil); got != float64(f.FontSize) {
		t.Fatalf("fontSize = %v, want %v", got, f.FontSize)
	}
	if got := s.GetStyle(key, domain.AttrAutoHeight, nil); got != false {
		t.Fatalf("autoHeight = %v", got)
	}
}

func TestResizeEndRefitsFinalBox(t *testing.T) {
	// "Titel" is 35px wide in the basic face at every size.
	s := NewStore(shapeDoc())
	ctrl := NewController(s, nil, ControllerOptions{Fitter: textlayout.NewMeasuredFitter(textlayout.BasicProvider{})})
	key := Singleton("title")

	start := vector.Pt{X: 250, Y: 330}
	if err := ctrl.BeginResize(key, HandleE, start); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if f := ctrl.Move(vector.Pt{X: start.X - 164, Y: start.Y}); f.Bounds.W != 36 || f.FontSize != textlayout.MaxFontSize {
		t.Fatalf("36px box: %+v", f)
	}
	// 34px is inside the hysteresis band, so the tick reuses the previous size.
	if f := ctrl.Move(vector.Pt{X: start.X - 166, Y: start.Y}); f.Bounds.W != 34 || f.FontSize != textlayout.MaxFontSize {
		t.Fatalf("34px box: %+v", f)
	}
	commit, err := ctrl.End(context.Background())
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	_ = waitCommit(t, commit)
	if got := s.GetStyle(key, domain.AttrFontSize, nil); got != float64(textlayout.MinFontSize) {
		t.Fatalf("committed fontSize = %v, want a fresh fit of %v", got, textlayout.MinFontSize)
	}
}

func TestResizeRespectsFloorAndAnchor(t *testing.T) {
	s := NewStore(shapeDoc())
	ctrl := NewController(s, nil, ControllerOptions{})
	_ = ctrl.BeginResize(Singleton("a"), HandleNW, vector.Pt{X: 100, Y: 100})
	f := ctrl.Move(vector.Pt{X: 400, Y: 400})
	floor := MinSize(domain.KindShape)
	if f.Bounds.W != floor.W || f.Bounds.H != floor.H {
		t.Fatalf("size below floor: %+v", f.Bounds)
	}
	if f.Bounds.Right() != 150 || f.Bounds.Bottom() != 150 {
		t.Fatalf("opposite corner moved: %+v", f.Bounds)
	}
}

func TestResizePastCanvasEdgesStaysInside(t *testing.T) {
	deltas := []vector.Pt{{X: 5000, Y: 5000}, {X: -5000, Y: -5000}, {X: 5000, Y: -5000}, {X: -5000, Y: 5000}}
	for _, key := range []FieldKey{Singleton("a"), Singleton("title")} {
		for _, h := range Handles {
			for _, d := range deltas {
				s := NewStore(shapeDoc())
				ctrl := NewController(s, &fakeSaver{}, ControllerOptions{})
				start := vector.Pt{X: 120, Y: 120}
				if err := ctrl.BeginResize(key, h, start); err != nil {
					t.Fatalf("%s %s: begin: %v", key, h, err)
				}
				f := ctrl.Move(vector.Pt{X: start.X + d.X, Y: start.Y + d.Y})
				if f.Aborted {
					t.Fatalf("%s %s %+v: frame aborted", key, h, d)
				}
				commit, err := ctrl.End(context.Background())
				if err != nil {
					t.Fatalf("%s %s %+v: end: %v", key, h, d, err)
				}
				if commit != nil {
					_ = waitCommit(t, commit)
				}
				el, err := s.Element(key)
				if err != nil {
					t.Fatalf("%s: %v", key, err)
				}
				b, floor := el.Bounds, MinSize(el.Kind)
				for _, r := range []vector.Rect{f.Bounds, b} {
					if r.X < 0 || r.Y < 0 || r.X+r.W > 800 || r.Y+r.H > 600 {
						t.Errorf("%s %s %+v: %+v leaves the 800x600 canvas", key, h, d, r)
					}
					if r.W < floor.W || r.H < floor.H {
						t.Errorf("%s %s %+v: %+v below floor %+v", key, h, d, r, floor)
					}
				}
			}
		}
	}
}

func TestCancelRestoresOriginal(t *testing.T) {
	saver := &fakeSaver{}
	s := NewStore(shapeDoc())
	before := s.View()
	ctrl := NewController(s, saver, ControllerOptions{})

	_ = ctrl.BeginResize(Singleton("title"), HandleE, vector.Pt{})
	ctrl.Move(vector.Pt{X: 150})
	f := ctrl.Cancel()
	if f.Bounds != vector.R(50, 300, 200, 60) {
		t.Fatalf("cancel frame = %+v", f.Bounds)
	}
	if ctrl.State() != Idle {
		t.Fatalf("state = %s", ctrl.State())
	}
	if len(saver.saved()) != 0 || !reflect.DeepEqual(s.View(), before) {
		t.Fatalf("cancelled gesture left traces")
	}
	if f := ctrl.Cancel(); !f.Aborted {
		t.Fatalf("cancel while idle should abort")
	}
}

func TestGestureOnMissingElementIsIgnored(t *testing.T) {
	ctrl := NewController(NewStore(shapeDoc()), nil, ControllerOptions{})
	if err := ctrl.BeginDrag(Singleton("ghost"), vector.Pt{}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if ctrl.State() != Idle {
		t.Fatalf("state = %s", ctrl.State())
	}
	if f := ctrl.Move(vector.Pt{X: 10}); !f.Aborted {
		t.Fatalf("move while idle should abort")
	}
	if c, err := ctrl.End(context.Background()); c != nil || err != nil {
		t.Fatalf("end while idle = %v, %v", c, err)
	}
}

func TestElementVanishingMidGestureAborts(t *testing.T) {
	saver := &fakeSaver{}
	s := NewStore(testDoc())
	ctrl := NewController(s, saver, ControllerOptions{})
	key := CollectionItem(domain.CollectionGallery, 1)

	_ = ctrl.BeginDrag(key, vector.Pt{})
	if _, err := s.DeleteField(key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if f := ctrl.Move(vector.Pt{X: 20}); !f.Aborted {
		t.Fatalf("expected abort, got %+v", f)
	}
	if ctrl.State() != Idle {
		t.Fatalf("state = %s", ctrl.State())
	}

	_ = ctrl.BeginDrag(CollectionItem(domain.CollectionGallery, 1), vector.Pt{})
	ctrl.Move(vector.Pt{X: 20})
	_, _ = s.DeleteField(CollectionItem(domain.CollectionGallery, 1))
	if c, err := ctrl.End(context.Background()); c != nil || err != nil {
		t.Fatalf("end after vanish = %v, %v", c, err)
	}
	if len(saver.saved()) != 0 {
		t.Fatalf("saved a vanished element")
	}
}

func TestGestureFollowsRenumberedItem(t *testing.T) {
	saver := &fakeSaver{}
	s := NewStore(testDoc())
	ctrl := NewController(s, saver, ControllerOptions{})

	_ = ctrl.BeginDrag(CollectionItem(domain.CollectionGallery, 2), vector.Pt{})
	if _, err := s.DeleteField(CollectionItem(domain.CollectionGallery, 0)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	f := ctrl.Move(vector.Pt{Y: 100})
	if f.Key != CollectionItem(domain.CollectionGallery, 1) {
		t.Fatalf("frame key = %s", f.Key)
	}
	commit, err := ctrl.End(context.Background())
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	_ = waitCommit(t, commit)
	if calls := saver.saved(); len(calls) != 1 || calls[0].target != "gallery-1" {
		t.Fatalf("saves = %+v", calls)
	}
	if got := s.GetStyle(CollectionItem(domain.CollectionGallery, 1), domain.AttrY, nil); got != 400.0 {
		t.Fatalf("moved item y = %v", got)
	}
}

func TestSecondGestureIsRejected(t *testing.T) {
	ctrl := NewController(NewStore(shapeDoc()), nil, ControllerOptions{})
	if err := ctrl.BeginDrag(Singleton("a"), vector.Pt{}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	err := ctrl.BeginResize(Singleton("b"), HandleS, vector.Pt{})
	if !errors.Is(err, ErrGestureInProgress) {
		t.Fatalf("expected ErrGestureInProgress, got %v", err)
	}
	if key, ok := ctrl.Active(); !ok || key != Singleton("a") {
		t.Fatalf("active = %s %v", key, ok)
	}
	if err := ctrl.BeginResize(Singleton("b"), Handle("x"), vector.Pt{}); err == nil {
		t.Fatalf("unknown handle accepted")
	}
}
