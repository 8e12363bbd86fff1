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
	"encoding/json"
	"errors"
	"testing"

	"memorialcanvas/internal/domain"
	"memorialcanvas/internal/storage"
	"memorialcanvas/internal/undo"
	"memorialcanvas/internal/vector"
)

func newTestCanvas(saver Saver) *Canvas {
	return New(testDoc(), Options{Saver: saver, Undo: undo.NewManager(undo.Config{})})
}

func TestFailedSaveKeepsLocalEdit(t *testing.T) {
	saver := &fakeSaver{err: errors.New("connection reset")}
	cv := newTestCanvas(saver)
	key := CollectionItem(domain.CollectionGallery, 2)

	commit, err := cv.SetStyle(context.Background(), key, domain.Style{domain.AttrOpacity: 50})
	if err != nil {
		t.Fatalf("set style: %v", err)
	}
	err = waitCommit(t, commit)
	if !errors.Is(err, storage.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	var pe *storage.PersistError
	if !errors.As(err, &pe) || pe.Target != "gallery-2" {
		t.Fatalf("error does not name the target: %v", err)
	}
	if errs := cv.Errors(); len(errs) != 1 {
		t.Fatalf("errors = %v", errs)
	}
	if !cv.Dirty() {
		t.Fatalf("optimistic edit was dropped")
	}
	if got := cv.Store().GetStyle(key, domain.AttrOpacity, nil); got != 50.0 {
		t.Fatalf("opacity = %v", got)
	}
	if n := len(saver.saved()); n != 1 {
		t.Fatalf("failed save was retried: %d calls", n)
	}

	saver.setErr(nil)
	commit, _ = cv.SetStyle(context.Background(), key, domain.Style{domain.AttrOpacity: 60})
	if err := waitCommit(t, commit); err != nil {
		t.Fatalf("second save: %v", err)
	}
	if errs := cv.Errors(); len(errs) != 0 {
		t.Fatalf("failure not cleared: %v", errs)
	}
	if cv.Dirty() {
		t.Fatalf("overlay not acknowledged")
	}
}

func TestAddFieldAndItem(t *testing.T) {
	saver := &fakeSaver{}
	cv := newTestCanvas(saver)
	ctx := context.Background()

	commit, err := cv.AddField(ctx, "dates", domain.KindText)
	if err != nil {
		t.Fatalf("add field: %v", err)
	}
	_ = waitCommit(t, commit)
	if commit, err := cv.AddField(ctx, "dates", domain.KindText); err != nil || commit != nil {
		t.Fatalf("re-adding a field = %v, %v", commit, err)
	}
	if _, err := cv.AddField(ctx, "symbol-3", domain.KindIcon); err == nil {
		t.Fatalf("collection key accepted as field name")
	}

	key, commit, err := cv.AddItem(ctx, domain.CollectionSymbols, domain.KindIcon)
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	_ = waitCommit(t, commit)
	if key != CollectionItem(domain.CollectionSymbols, 3) {
		t.Fatalf("key = %s", key)
	}
	el, err := cv.Element(key)
	if err != nil {
		t.Fatalf("element: %v", err)
	}
	if el.Bounds.Size() != DefaultSize(domain.KindIcon) {
		t.Fatalf("default size not applied: %+v", el.Bounds)
	}

	calls := saver.saved()
	if len(calls) != 2 || calls[0].target != "dates" || calls[1].target != domain.CollectionSymbols {
		t.Fatalf("saves = %+v", calls)
	}
	var items []domain.Item
	if err := json.Unmarshal(calls[1].value, &items); err != nil || len(items) != 4 {
		t.Fatalf("collection payload = %s (%v)", calls[1].value, err)
	}
}

func TestDeletePersistsCollection(t *testing.T) {
	saver := &fakeSaver{}
	cv := newTestCanvas(saver)
	commit, err := cv.Delete(context.Background(), CollectionItem(domain.CollectionSymbols, 1))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	_ = waitCommit(t, commit)
	calls := saver.saved()
	if len(calls) != 1 || calls[0].target != domain.CollectionSymbols {
		t.Fatalf("saves = %+v", calls)
	}
	var items []domain.Item
	_ = json.Unmarshal(calls[0].value, &items)
	if len(items) != 2 || items[0].ID != "s0" || items[1].ID != "s2" {
		t.Fatalf("payload = %s", calls[0].value)
	}
	if _, err := cv.Delete(context.Background(), CollectionItem(domain.CollectionSymbols, 5)); !errors.Is(err, ErrOrphanedStyleReference) {
		t.Fatalf("expected ErrOrphanedStyleReference, got %v", err)
	}
	if !cv.CanUndo() {
		t.Fatalf("delete should be undoable")
	}
}

func TestUndoRedoStyleChange(t *testing.T) {
	saver := &fakeSaver{}
	cv := newTestCanvas(saver)
	ctx := context.Background()
	key := CollectionItem(domain.CollectionGallery, 0)

	if cv.CanUndo() {
		t.Fatalf("fresh canvas has undo history")
	}
	commit, _ := cv.SetStyle(ctx, key, domain.Style{domain.AttrOpacity: 40})
	_ = waitCommit(t, commit)

	ok, commits, err := cv.Undo(ctx)
	if !ok || err != nil || len(commits) != 1 {
		t.Fatalf("undo = %v %v %v", ok, commits, err)
	}
	_ = waitCommit(t, commits[0])
	if got := cv.Store().GetStyle(key, domain.AttrOpacity, nil); got != 100.0 {
		t.Fatalf("after undo opacity = %v", got)
	}
	if commits[0].Target != "gallery-0" {
		t.Fatalf("undo saved %s", commits[0].Target)
	}

	ok, commits, err = cv.Redo(ctx)
	if !ok || err != nil {
		t.Fatalf("redo = %v %v", ok, err)
	}
	for _, c := range commits {
		_ = waitCommit(t, c)
	}
	if got := cv.Store().GetStyle(key, domain.AttrOpacity, nil); got != 40.0 {
		t.Fatalf("after redo opacity = %v", got)
	}
	if ok, _, _ := cv.Redo(ctx); ok {
		t.Fatalf("redo past the end")
	}
}

func TestUndoAddItemRewritesCollection(t *testing.T) {
	saver := &fakeSaver{}
	cv := newTestCanvas(saver)
	ctx := context.Background()

	_, commit, _ := cv.AddItem(ctx, domain.CollectionGallery, domain.KindImage)
	_ = waitCommit(t, commit)
	if n := cv.Store().Len(domain.CollectionGallery); n != 6 {
		t.Fatalf("len = %d", n)
	}
	ok, commits, err := cv.Undo(ctx)
	if !ok || err != nil || len(commits) != 1 {
		t.Fatalf("undo = %v %v %v", ok, commits, err)
	}
	_ = waitCommit(t, commits[0])
	if commits[0].Target != domain.CollectionGallery {
		t.Fatalf("undo saved %s", commits[0].Target)
	}
	if n := cv.Store().Len(domain.CollectionGallery); n != 5 {
		t.Fatalf("len after undo = %d", n)
	}
}

func TestGestureIsUndoable(t *testing.T) {
	cv := newTestCanvas(nil)
	ctx := context.Background()
	key := Singleton("fullname")

	if err := cv.Controller().BeginDrag(key, vector.Pt{}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	cv.Controller().Move(vector.Pt{X: 200, Y: 200})
	if _, err := cv.Controller().End(ctx); err != nil {
		t.Fatalf("end: %v", err)
	}
	if x := cv.Store().GetStyle(key, domain.AttrX, nil); x == 40.0 {
		t.Fatalf("drag had no effect")
	}
	if ok, _, err := cv.Undo(ctx); !ok || err != nil {
		t.Fatalf("undo = %v %v", ok, err)
	}
	if x, y := cv.Store().GetStyle(key, domain.AttrX, nil), cv.Store().GetStyle(key, domain.AttrY, nil); x != 40.0 || y != 40.0 {
		t.Fatalf("position after undo = %v,%v", x, y)
	}
	if err := cv.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestFailedEditIsNotUndoable(t *testing.T) {
	cv := newTestCanvas(nil)
	_, err := cv.SetStyle(context.Background(), Singleton("fullname"), domain.Style{domain.AttrAlign: "justify"})
	if !errors.Is(err, ErrInvalidAttribute) {
		t.Fatalf("expected ErrInvalidAttribute, got %v", err)
	}
	if cv.CanUndo() {
		t.Fatalf("rejected edit pushed an undo step")
	}
}
