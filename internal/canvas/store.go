/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package canvas

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"

	"memorialcanvas/internal/domain"
	applog "memorialcanvas/internal/log"
	"memorialcanvas/internal/textlayout"
	"memorialcanvas/internal/vector"
)

// slot is the stable identity behind a FieldKey. Collection items are
// tracked by item ID so a renumbering delete never redirects a pending edit.
type slot struct {
	collection string
	name       string
	itemID     string
}

type pendingAttr struct {
	value any
	rev   int64
}

// Pending identifies a staged local edit that awaits acknowledgement from
// the persistence layer.
type Pending struct {
	Key FieldKey
	Rev int64

	slot  slot
	whole bool // the edit rewrote the whole collection
}

// Store is the two-layer style store: an acknowledged snapshot plus a local
// overlay of pending edits. Reads see the overlay first. It is safe for
// concurrent use.
type Store struct {
	mu      sync.RWMutex
	snap    domain.Document
	overlay map[slot]map[domain.Attr]pendingAttr
	rev     int64
	log     *slog.Logger
}

// NewStore returns a store whose snapshot is a copy of doc.
func NewStore(doc domain.Document) *Store {
	return &Store{
		snap:    normalizeDoc(doc),
		overlay: make(map[slot]map[domain.Attr]pendingAttr),
		log:     applog.WithComponent("canvas.store"),
	}
}

func normalizeDoc(doc domain.Document) domain.Document {
	doc = doc.Clone()
	for name, st := range doc.Fields {
		if st == nil {
			doc.Fields[name] = domain.Style{}
		}
	}
	for c, items := range doc.Collections {
		for i := range items {
			if items[i].Style == nil {
				items[i].Style = domain.Style{}
			}
			if items[i].ID == "" {
				items[i].ID = uuid.NewString()
			}
		}
		doc.Collections[c] = items
	}
	return doc
}

// CanvasSize returns the containment region.
func (s *Store) CanvasSize() vector.Size {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.canvasSizeLocked()
}

func (s *Store) canvasSizeLocked() vector.Size {
	return vector.Size{W: float32(s.snap.Width), H: float32(s.snap.Height)}
}

// Len returns the number of live items in collection.
func (s *Store) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snap.Collections[collection])
}

// GetStyle returns attr of the field at key. Resolution order is overlay,
// snapshot, kind default, fallback. A key that does not resolve yields
// fallback. GetStyle never mutates the store.
func (s *Store) GetStyle(key FieldKey, attr domain.Attr, fallback any) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, kind, ok := s.resolveLocked(key)
	if !ok {
		return fallback
	}
	if pa, ok := s.overlay[sl][attr]; ok {
		return pa.value
	}
	if v, ok := s.snapStyleLocked(sl)[attr]; ok {
		return v
	}
	if v, ok := DefaultStyle(kind)[attr]; ok {
		return v
	}
	return fallback
}

// SetStyle writes one attribute into the overlay, preserving all others.
// Collection keys route into the item of the backing collection; singleton
// keys into the flat field map, creating the field when needed.
func (s *Store) SetStyle(key FieldKey, attr domain.Attr, value any) error {
	_, err := s.Stage(key, domain.Style{attr: value})
	return err
}

// Stage writes several attributes under a single local revision.
func (s *Store) Stage(key FieldKey, attrs domain.Style) (Pending, error) {
	if key.IsZero() {
		return Pending{}, fmt.Errorf("stage: %w", ErrMissingElement)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, kind, ok := s.resolveLocked(key)
	if !ok {
		if key.IsCollection() {
			return Pending{}, fmt.Errorf("stage %s: %w", key, ErrOrphanedStyleReference)
		}
		sl = slot{name: key.Name()}
		kind = domain.KindText
		if k, ok := attrs[domain.AttrKind].(string); ok && domain.Kind(k).Valid() {
			kind = domain.Kind(k)
		}
	}
	return s.stageResolvedLocked(key, sl, kind, attrs)
}

// stageAt stages attrs on the field identified by sl, wherever it currently sits in its collection.
func (s *Store) stageAt(sl slot, attrs domain.Style) (Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, kind, ok := s.keyOfSlotLocked(sl)
	if !ok {
		return Pending{}, ErrMissingElement
	}
	return s.stageResolvedLocked(key, sl, kind, attrs)
}

func (s *Store) stageResolvedLocked(key FieldKey, sl slot, kind domain.Kind, attrs domain.Style) (Pending, error) {
	clean := make(domain.Style, len(attrs))
	for a, v := range attrs {
		nv, err := sanitize(a, v)
		if err != nil {
			return Pending{}, fmt.Errorf("stage %s: %w", key, err)
		}
		clean[a] = nv
	}
	if touchesGeometry(clean) {
		merged := s.mergedLocked(sl)
		for a, v := range clean {
			merged[a] = v
		}
		el := elementFromStyle(key, kind, merged)
		canvas := s.canvasSizeLocked()
		if err := CheckGeometry(el.Bounds, kind, canvas); err != nil {
			s.log.Debug("clamping geometry", slog.String("key", key.String()), slog.Any("err", err))
		}
		for a, v := range geometryStyle(ClampRect(el.Bounds, kind, canvas)) {
			clean[a] = v
		}
	}
	return s.stageLocked(key, sl, clean), nil
}

func (s *Store) stageLocked(key FieldKey, sl slot, attrs domain.Style) Pending {
	s.rev++
	ov := s.overlay[sl]
	if ov == nil {
		ov = make(map[domain.Attr]pendingAttr, len(attrs))
		s.overlay[sl] = ov
	}
	for a, v := range attrs {
		ov[a] = pendingAttr{value: v, rev: s.rev}
	}
	return Pending{Key: key, Rev: s.rev, slot: sl}
}

// EnsureDefaultStyle assigns the initial position, size and opacity of a
// field that has no position yet. It reports whether anything was written.
func (s *Store) EnsureDefaultStyle(key FieldKey, index int, kind domain.Kind) bool {
	_, ok, _ := s.ensureDefault(key, index, kind)
	return ok
}

func (s *Store) ensureDefault(key FieldKey, index int, kind domain.Kind) (Pending, bool, error) {
	if key.IsZero() {
		return Pending{}, false, ErrMissingElement
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, resolved, ok := s.resolveLocked(key)
	switch {
	case !ok && key.IsCollection():
		return Pending{}, false, fmt.Errorf("ensure default %s: %w", key, ErrOrphanedStyleReference)
	case !ok:
		sl = slot{name: key.Name()}
	case key.IsCollection():
		kind = resolved
	}
	if !kind.Valid() {
		kind = domain.KindText
	}
	merged := s.mergedLocked(sl)
	if _, has := merged[domain.AttrX]; has {
		return Pending{}, false, nil
	}
	init := initialStyle(kind, index)
	r := vector.R(0, 0, 0, 0)
	for a, dst := range map[domain.Attr]*float32{domain.AttrX: &r.X, domain.AttrY: &r.Y, domain.AttrWidth: &r.W, domain.AttrHeight: &r.H} {
		v, ok := merged.Float(a)
		if !ok {
			v, _ = init.Float(a)
		}
		*dst = float32(v)
	}
	for a, v := range geometryStyle(ClampRect(r, kind, s.canvasSizeLocked())) {
		init[a] = v
	}
	if !key.IsCollection() {
		init[domain.AttrKind] = string(kind)
	}
	write := domain.Style{}
	for a, v := range init {
		if _, has := merged[a]; !has || isGeometry(a) {
			write[a] = v
		}
	}
	return s.stageLocked(key, sl, write), true, nil
}

// AddItem appends a new item of kind to collection, assigns its default
// style and returns its key. The returned Pending covers the whole
// collection.
func (s *Store) AddItem(collection string, kind domain.Kind) (FieldKey, Pending, error) {
	if !IsCollectionName(collection) {
		return FieldKey{}, Pending{}, fmt.Errorf("add item: invalid collection %q", collection)
	}
	if !kind.Valid() {
		return FieldKey{}, Pending{}, fmt.Errorf("add item: %w: kind %q", ErrInvalidAttribute, kind)
	}
	s.mu.Lock()
	item := domain.Item{ID: uuid.NewString(), Kind: kind, Style: domain.Style{}}
	items := s.snap.Collections[collection]
	idx := len(items)
	s.snap.Collections[collection] = append(items[:idx:idx], item)
	s.mu.Unlock()

	key := CollectionItem(collection, idx)
	if _, _, err := s.ensureDefault(key, idx, kind); err != nil {
		return FieldKey{}, Pending{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return key, Pending{Key: key, Rev: s.rev, slot: slot{collection: collection}, whole: true}, nil
}

// DeleteField removes the field at key from both layers. Deleting a
// collection item shifts every later item down by one; the style of the
// deleted item is gone with it. The returned Pending covers the singleton or
// the whole collection.
func (s *Store) DeleteField(key FieldKey) (Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, _, ok := s.resolveLocked(key)
	if !ok {
		if key.IsCollection() {
			return Pending{}, fmt.Errorf("delete %s: %w", key, ErrOrphanedStyleReference)
		}
		return Pending{}, fmt.Errorf("delete %s: %w", key, ErrMissingElement)
	}
	delete(s.overlay, sl)
	s.rev++
	if !key.IsCollection() {
		delete(s.snap.Fields, sl.name)
		return Pending{Key: key, Rev: s.rev, slot: sl}, nil
	}
	items := s.snap.Collections[sl.collection]
	i := key.Index()
	s.snap.Collections[sl.collection] = append(items[:i:i], items[i+1:]...)
	return Pending{Key: key, Rev: s.rev, slot: slot{collection: sl.collection}, whole: true}, nil
}

// Commit merges every overlay attribute of p's slot staged at or before
// p.Rev into the snapshot. Newer local edits stay pending.
func (s *Store) Commit(p Pending) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !p.whole {
		s.commitSlotLocked(p.slot, p.Rev)
		return
	}
	for sl := range s.overlay {
		if sl.collection == p.slot.collection {
			s.commitSlotLocked(sl, p.Rev)
		}
	}
}

func (s *Store) commitSlotLocked(sl slot, rev int64) {
	ov := s.overlay[sl]
	if len(ov) == 0 {
		delete(s.overlay, sl)
		return
	}
	dst := s.snapStyleForWriteLocked(sl)
	if dst == nil {
		// item deleted meanwhile
		delete(s.overlay, sl)
		return
	}
	for a, pa := range ov {
		if pa.rev <= rev {
			dst[a] = pa.value
			delete(ov, a)
		}
	}
	if len(ov) == 0 {
		delete(s.overlay, sl)
	}
}

// Dirty reports whether any local edit is still pending.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.overlay) > 0
}

// Snapshot returns a copy of the acknowledged layer only.
func (s *Store) Snapshot() domain.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone()
}

// View returns the merged document: snapshot with the overlay applied.
func (s *Store) View() domain.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewLocked()
}

func (s *Store) viewLocked() domain.Document {
	doc := s.snap.Clone()
	for sl, ov := range s.overlay {
		var dst domain.Style
		if sl.collection == "" {
			dst = doc.Fields[sl.name]
			if dst == nil {
				dst = domain.Style{}
				doc.Fields[sl.name] = dst
			}
		} else if it := findItem(doc.Collections[sl.collection], sl.itemID); it != nil {
			if it.Style == nil {
				it.Style = domain.Style{}
			}
			dst = it.Style
		}
		if dst == nil {
			continue
		}
		for a, pa := range ov {
			dst[a] = pa.value
		}
	}
	return doc
}

// Replace installs a freshly loaded remote snapshot. Pending edits are kept
// unless their item no longer exists.
func (s *Store) Replace(doc domain.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = normalizeDoc(doc)
	for sl := range s.overlay {
		if sl.collection != "" && findItem(s.snap.Collections[sl.collection], sl.itemID) == nil {
			delete(s.overlay, sl)
		}
	}
}

// Element returns the resolved element at key.
func (s *Store) Element(key FieldKey) (Element, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, kind, ok := s.resolveLocked(key)
	if !ok {
		return Element{}, fmt.Errorf("element %s: %w", key, ErrMissingElement)
	}
	return s.elementLocked(key, sl, kind), nil
}

// slotOf returns the identity behind key.
func (s *Store) slotOf(key FieldKey) (slot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, _, ok := s.resolveLocked(key)
	return sl, ok
}

// elementAt resolves the field identified by sl under its current key.
func (s *Store) elementAt(sl slot) (Element, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, kind, ok := s.keyOfSlotLocked(sl)
	if !ok {
		return Element{}, false
	}
	return s.elementLocked(key, sl, kind), true
}

// siblingsOf returns the bounds of every element other than sl, in paint order.
func (s *Store) siblingsOf(sl slot) []vector.Rect {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []vector.Rect
	s.eachLocked(func(k FieldKey, other slot, kind domain.Kind) {
		if other == sl {
			return
		}
		out = append(out, s.elementLocked(k, other, kind).Bounds)
	})
	return out
}

func (s *Store) elementLocked(key FieldKey, sl slot, kind domain.Kind) Element {
	el := elementFromStyle(key, kind, s.mergedLocked(sl))
	el.Clamp(s.canvasSizeLocked())
	return el
}

// Elements returns every element in paint order: singleton fields by name,
// then collections by name with items in index order.
func (s *Store) Elements() []Element {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Element
	s.eachLocked(func(key FieldKey, sl slot, kind domain.Kind) {
		out = append(out, s.elementLocked(key, sl, kind))
	})
	return out
}

// SiblingBounds returns the bounds of every element except key, in paint
// order. The slice is a fresh copy taken once per call.
func (s *Store) SiblingBounds(key FieldKey) []vector.Rect {
	sl, _ := s.slotOf(key)
	return s.siblingsOf(sl)
}

func (s *Store) eachLocked(fn func(FieldKey, slot, domain.Kind)) {
	names := make(map[string]struct{}, len(s.snap.Fields))
	for n := range s.snap.Fields {
		names[n] = struct{}{}
	}
	for sl := range s.overlay {
		if sl.collection == "" {
			names[sl.name] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)
	for _, n := range sorted {
		sl := slot{name: n}
		fn(Singleton(n), sl, s.singletonKindLocked(sl))
	}
	cols := make([]string, 0, len(s.snap.Collections))
	for c := range s.snap.Collections {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	for _, c := range cols {
		for i, it := range s.snap.Collections[c] {
			fn(CollectionItem(c, i), slot{collection: c, itemID: it.ID}, itemKind(it))
		}
	}
}

// encode returns the persistence target and value for p. A nil value means
// the target was deleted.
func (s *Store) encode(p Pending) (string, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p.whole {
		doc := s.viewLocked()
		items := doc.Collections[p.slot.collection]
		if items == nil {
			items = []domain.Item{}
		}
		b, err := json.Marshal(items)
		return p.slot.collection, b, err
	}
	if p.slot.collection == "" {
		if !s.existsLocked(p.slot) {
			return p.slot.name, nil, nil
		}
		b, err := json.Marshal(s.mergedLocked(p.slot))
		return p.slot.name, b, err
	}
	items := s.snap.Collections[p.slot.collection]
	for i := range items {
		if items[i].ID == p.slot.itemID {
			it := domain.Item{ID: items[i].ID, Kind: items[i].Kind, Style: s.mergedLocked(p.slot)}
			b, err := json.Marshal(it)
			return CollectionItem(p.slot.collection, i).String(), b, err
		}
	}
	return "", nil, fmt.Errorf("encode %s: %w", p.Key, ErrMissingElement)
}

// resolveLocked maps key to its slot and kind. ok is false when the key
// does not name a live field.
func (s *Store) resolveLocked(key FieldKey) (slot, domain.Kind, bool) {
	if key.IsZero() {
		return slot{}, "", false
	}
	if !key.IsCollection() {
		sl := slot{name: key.Name()}
		if !s.existsLocked(sl) {
			return sl, "", false
		}
		return sl, s.singletonKindLocked(sl), true
	}
	items := s.snap.Collections[key.Collection()]
	if key.Index() < 0 || key.Index() >= len(items) {
		return slot{}, "", false
	}
	it := items[key.Index()]
	return slot{collection: key.Collection(), itemID: it.ID}, itemKind(it), true
}

// keyOfSlotLocked returns the current key of sl.
func (s *Store) keyOfSlotLocked(sl slot) (FieldKey, domain.Kind, bool) {
	if sl.collection == "" {
		if !s.existsLocked(sl) {
			return FieldKey{}, "", false
		}
		return Singleton(sl.name), s.singletonKindLocked(sl), true
	}
	for i, it := range s.snap.Collections[sl.collection] {
		if it.ID == sl.itemID {
			return CollectionItem(sl.collection, i), itemKind(it), true
		}
	}
	return FieldKey{}, "", false
}

func (s *Store) existsLocked(sl slot) bool {
	if sl.collection != "" {
		return findItem(s.snap.Collections[sl.collection], sl.itemID) != nil
	}
	if _, ok := s.snap.Fields[sl.name]; ok {
		return true
	}
	_, ok := s.overlay[sl]
	return ok
}

func (s *Store) singletonKindLocked(sl slot) domain.Kind {
	if pa, ok := s.overlay[sl][domain.AttrKind]; ok {
		if k, ok := pa.value.(string); ok && domain.Kind(k).Valid() {
			return domain.Kind(k)
		}
	}
	if k, ok := s.snap.Fields[sl.name].Str(domain.AttrKind); ok && domain.Kind(k).Valid() {
		return domain.Kind(k)
	}
	return domain.KindText
}

func itemKind(it domain.Item) domain.Kind {
	if it.Kind.Valid() {
		return it.Kind
	}
	return domain.KindShape
}

// snapStyleLocked returns the snapshot style of sl without copying; callers
// must not mutate it.
func (s *Store) snapStyleLocked(sl slot) domain.Style {
	if sl.collection == "" {
		return s.snap.Fields[sl.name]
	}
	if it := findItem(s.snap.Collections[sl.collection], sl.itemID); it != nil {
		return it.Style
	}
	return nil
}

func (s *Store) snapStyleForWriteLocked(sl slot) domain.Style {
	if sl.collection == "" {
		st := s.snap.Fields[sl.name]
		if st == nil {
			st = domain.Style{}
			s.snap.Fields[sl.name] = st
		}
		return st
	}
	it := findItem(s.snap.Collections[sl.collection], sl.itemID)
	if it == nil {
		return nil
	}
	if it.Style == nil {
		it.Style = domain.Style{}
	}
	return it.Style
}

// mergedLocked returns a fresh style with the overlay applied over the
// snapshot.
func (s *Store) mergedLocked(sl slot) domain.Style {
	out := s.snapStyleLocked(sl).Clone()
	if out == nil {
		out = domain.Style{}
	}
	for a, pa := range s.overlay[sl] {
		out[a] = pa.value
	}
	return out
}

func findItem(items []domain.Item, id string) *domain.Item {
	for i := range items {
		if items[i].ID == id {
			return &items[i]
		}
	}
	return nil
}

func isGeometry(a domain.Attr) bool {
	switch a {
	case domain.AttrX, domain.AttrY, domain.AttrWidth, domain.AttrHeight:
		return true
	}
	return false
}

func touchesGeometry(st domain.Style) bool {
	for a := range st {
		if isGeometry(a) {
			return true
		}
	}
	return false
}

// sanitize normalises a single attribute value.
func sanitize(a domain.Attr, v any) (any, error) {
	v = domain.Normalize(v)
	bad := func(want string) error {
		return fmt.Errorf("%w: %s must be %s, got %T", ErrInvalidAttribute, a, want, v)
	}
	switch a {
	case domain.AttrX, domain.AttrY, domain.AttrWidth, domain.AttrHeight:
		f, ok := v.(float64)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, bad("a finite number")
		}
		return f, nil
	case domain.AttrOpacity:
		f, ok := v.(float64)
		if !ok || math.IsNaN(f) {
			return nil, bad("a number")
		}
		return float64(clampOpacity(int(math.Round(f)))), nil
	case domain.AttrFontSize:
		f, ok := v.(float64)
		if !ok || math.IsNaN(f) {
			return nil, bad("a number")
		}
		return math.Max(f, float64(textlayout.MinFontSize)), nil
	case domain.AttrFontFamily:
		str, ok := v.(string)
		if !ok {
			return nil, bad("a string")
		}
		return textlayout.ResolveFamily(str), nil
	case domain.AttrColor:
		str, ok := v.(string)
		if !ok {
			return nil, bad("a string")
		}
		c, err := vector.ParseHex(str)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAttribute, err)
		}
		return c.Hex(), nil
	case domain.AttrAlign:
		str, ok := v.(string)
		if !ok {
			return nil, bad("a string")
		}
		switch domain.Align(str) {
		case domain.AlignLeft, domain.AlignCenter, domain.AlignRight:
			return str, nil
		}
		return nil, bad("left, center or right")
	case domain.AttrBold, domain.AttrItalic, domain.AttrUnderline, domain.AttrAutoHeight:
		if _, ok := v.(bool); !ok {
			return nil, bad("a bool")
		}
		return v, nil
	case domain.AttrContent, domain.AttrSourceRef:
		if _, ok := v.(string); !ok {
			return nil, bad("a string")
		}
		return v, nil
	case domain.AttrKind:
		str, ok := v.(string)
		if !ok || !domain.Kind(str).Valid() {
			return nil, bad("a known kind")
		}
		return str, nil
	}
	return v, nil
}

// restore stages whatever differs between the merged view and doc so that the view equals doc afterwards.
// Collections whose item ids changed are rewritten as a whole. It returns one Pending per changed target.
func (s *Store) restore(doc domain.Document) []Pending {
	doc = normalizeDoc(doc)
	s.mu.Lock()
	defer s.mu.Unlock()
	view := s.viewLocked()
	var out []Pending

	names := map[string]struct{}{}
	for n := range view.Fields {
		names[n] = struct{}{}
	}
	for n := range doc.Fields {
		names[n] = struct{}{}
	}
	for _, n := range sortedKeys(names) {
		sl := slot{name: n}
		want, keep := doc.Fields[n]
		if !keep {
			delete(s.snap.Fields, n)
			delete(s.overlay, sl)
			s.rev++
			out = append(out, Pending{Key: Singleton(n), Rev: s.rev, slot: sl})
			continue
		}
		if reflect.DeepEqual(view.Fields[n], want) {
			continue
		}
		out = append(out, s.stageLocked(Singleton(n), sl, normalizeStyle(want.Clone())))
	}

	cols := map[string]struct{}{}
	for c := range view.Collections {
		cols[c] = struct{}{}
	}
	for c := range doc.Collections {
		cols[c] = struct{}{}
	}
	for _, c := range sortedKeys(cols) {
		have, want := view.Collections[c], doc.Collections[c]
		if !sameIDs(have, want) {
			for sl := range s.overlay {
				if sl.collection == c {
					delete(s.overlay, sl)
				}
			}
			if want == nil {
				delete(s.snap.Collections, c)
			} else {
				s.snap.Collections[c] = want
			}
			s.rev++
			out = append(out, Pending{Key: CollectionItem(c, 0), Rev: s.rev, slot: slot{collection: c}, whole: true})
			continue
		}
		for i := range want {
			if reflect.DeepEqual(have[i].Style, want[i].Style) {
				continue
			}
			sl := slot{collection: c, itemID: want[i].ID}
			out = append(out, s.stageLocked(CollectionItem(c, i), sl, normalizeStyle(want[i].Style.Clone())))
		}
	}
	return out
}

func sameIDs(a, b []domain.Item) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Kind != b[i].Kind {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
