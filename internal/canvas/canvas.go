/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package canvas is the layout core of a memorial canvas: field keys, the element model, the two-layer style
// store and the drag/resize controller. Presentation layers feed pointer events in and render the frames and
// elements that come out; persistence happens through a Saver.
package canvas

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"memorialcanvas/internal/domain"
	applog "memorialcanvas/internal/log"
	"memorialcanvas/internal/undo"
	"memorialcanvas/internal/vector"
)

// Options configure a Canvas. Zero values select defaults.
type Options struct {
	Saver  Saver
	Fitter Fitter
	Snap   vector.SnapOptions
	// Undo is shared between canvases; nil creates a private manager.
	Undo *undo.Manager
}

// Canvas is one editable memorial canvas. Every user action goes through it so that each change is staged,
// persisted and undoable in the same way.
type Canvas struct {
	id      string
	store   *Store
	persist *persister
	ctrl    *Controller
	undo    *undo.Manager
	log     *slog.Logger
}

// New returns a canvas over doc.
func New(doc domain.Document, opts Options) *Canvas {
	store := NewStore(doc)
	p := newPersister(store, opts.Saver)
	um := opts.Undo
	if um == nil {
		um = undo.NewManager(undo.Config{MaxPerCanvas: 100, MinInterval: 250 * time.Millisecond})
	}
	c := &Canvas{
		id:      doc.ID,
		store:   store,
		persist: p,
		undo:    um,
		log:     applog.WithComponent("canvas").With(slog.String("canvas", doc.ID)),
	}
	c.ctrl = newController(store, p, ControllerOptions{Snap: opts.Snap, Fitter: opts.Fitter})
	c.ctrl.beforeCommit = c.pushUndo
	return c
}

func (c *Canvas) ID() string              { return c.id }
func (c *Canvas) Store() *Store           { return c.store }
func (c *Canvas) Controller() *Controller { return c.ctrl }
func (c *Canvas) View() domain.Document   { return c.store.View() }
func (c *Canvas) Elements() []Element     { return c.store.Elements() }
func (c *Canvas) CanUndo() bool           { return c.undo.CanUndo(c.id) }
func (c *Canvas) CanRedo() bool           { return c.undo.CanRedo(c.id) }

// Element returns the resolved element at key.
func (c *Canvas) Element(key FieldKey) (Element, error) { return c.store.Element(key) }

// AddField creates the singleton field name with the defaults of kind. Adding an existing field is a no-op that
// returns a nil Commit.
func (c *Canvas) AddField(ctx context.Context, name string, kind domain.Kind) (*Commit, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("add field %s: %w: kind %q", name, ErrInvalidAttribute, kind)
	}
	key, err := ParseFieldKey(name)
	if err != nil || key.IsCollection() {
		return nil, fmt.Errorf("add field: invalid name %q", name)
	}
	before := c.snapshot("add " + name)
	pend, ok, err := c.store.ensureDefault(key, c.countFields(), kind)
	if err != nil || !ok {
		return nil, err
	}
	c.remember(before)
	return c.persist.persist(ctx, pend)
}

func (c *Canvas) countFields() int {
	return len(c.store.View().Fields)
}

// AddItem appends an item of kind to collection.
func (c *Canvas) AddItem(ctx context.Context, collection string, kind domain.Kind) (FieldKey, *Commit, error) {
	before := c.snapshot("add " + collection)
	key, pend, err := c.store.AddItem(collection, kind)
	if err != nil {
		return FieldKey{}, nil, err
	}
	c.remember(before)
	commit, err := c.persist.persist(ctx, pend)
	return key, commit, err
}

// SetStyle stages attrs on key and saves the field.
func (c *Canvas) SetStyle(ctx context.Context, key FieldKey, attrs domain.Style) (*Commit, error) {
	before := c.snapshot("style " + key.String())
	pend, err := c.store.Stage(key, attrs)
	if err != nil {
		return nil, err
	}
	c.remember(before)
	return c.persist.persist(ctx, pend)
}

// Delete removes the field at key. Later items of the same collection shift down by one.
func (c *Canvas) Delete(ctx context.Context, key FieldKey) (*Commit, error) {
	before := c.snapshot("delete " + key.String())
	pend, err := c.store.DeleteField(key)
	if err != nil {
		return nil, err
	}
	c.remember(before)
	return c.persist.persist(ctx, pend)
}

// Undo restores the state before the last change and saves every target that differs. It reports false when
// there is nothing to undo.
func (c *Canvas) Undo(ctx context.Context) (bool, []*Commit, error) {
	cur, err := c.capture("redo")
	if err != nil {
		return false, nil, err
	}
	snap, ok := c.undo.Undo(c.id, cur)
	if !ok {
		return false, nil, nil
	}
	commits, err := c.apply(ctx, snap)
	return true, commits, err
}

// Redo re-applies the last undone change.
func (c *Canvas) Redo(ctx context.Context) (bool, []*Commit, error) {
	cur, err := c.capture("undo")
	if err != nil {
		return false, nil, err
	}
	snap, ok := c.undo.Redo(c.id, cur)
	if !ok {
		return false, nil, nil
	}
	commits, err := c.apply(ctx, snap)
	return true, commits, err
}

func (c *Canvas) apply(ctx context.Context, snap undo.Snapshot) ([]*Commit, error) {
	var doc domain.Document
	if err := json.Unmarshal(snap.Blob, &doc); err != nil {
		return nil, fmt.Errorf("decode undo snapshot: %w", err)
	}
	var commits []*Commit
	for _, pend := range c.store.restore(doc) {
		commit, err := c.persist.persist(ctx, pend)
		if err != nil {
			return commits, err
		}
		commits = append(commits, commit)
	}
	c.log.Debug("state restored", slog.String("label", snap.Label), slog.Int("targets", len(commits)))
	return commits, nil
}

func (c *Canvas) capture(label string) (undo.Snapshot, error) {
	b, err := json.Marshal(c.store.View())
	if err != nil {
		return undo.Snapshot{}, fmt.Errorf("encode undo snapshot: %w", err)
	}
	return undo.Snapshot{CanvasID: c.id, Label: label, Blob: b, TS: time.Now()}, nil
}

// snapshot captures the current view for the undo stack; remember pushes it once the change went through.
func (c *Canvas) snapshot(label string) *undo.Snapshot {
	s, err := c.capture(label)
	if err != nil {
		c.log.Warn("undo snapshot skipped", slog.Any("err", err))
		return nil
	}
	return &s
}

func (c *Canvas) remember(s *undo.Snapshot) {
	if s != nil {
		c.undo.PushSnapshot(*s)
	}
}

func (c *Canvas) pushUndo(label string) { c.remember(c.snapshot(label)) }

// Errors returns the outstanding save failures, one per target. A later successful save of a target clears its
// failure.
func (c *Canvas) Errors() []error { return c.persist.failures() }

// Dirty reports whether local edits are still waiting for acknowledgement.
func (c *Canvas) Dirty() bool { return c.store.Dirty() }

// Wait blocks until every save issued so far resolved.
func (c *Canvas) Wait(ctx context.Context) error { return c.persist.wait(ctx) }
