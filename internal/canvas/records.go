/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package canvas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"memorialcanvas/internal/domain"
	applog "memorialcanvas/internal/log"
	"memorialcanvas/internal/storage"
)

// Meta is the value of the storage.MetaTarget record.
type Meta struct {
	Title  string  `json:"title,omitempty"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Assemble rebuilds a document from base and the persisted records of one canvas. Collection records apply first;
// an item record applies to the item with the same id, and only when it is newer than its collection record.
// Records that no longer match anything are skipped. It also returns the highest revision seen.
func Assemble(base domain.Document, recs []storage.Record) (domain.Document, int64, error) {
	l := applog.WithComponent("canvas.records")
	doc := base.Clone()
	var (
		maxRev  int64
		colRev  = map[string]int64{}
		items   []storage.Record
		singles []storage.Record
	)
	for _, r := range recs {
		if r.Revision > maxRev {
			maxRev = r.Revision
		}
		if r.CanvasID != "" && doc.ID == "" {
			doc.ID = r.CanvasID
		}
		switch {
		case r.Target == storage.MetaTarget:
			var m Meta
			if err := json.Unmarshal(r.Value, &m); err != nil {
				return domain.Document{}, 0, fmt.Errorf("decode %s: %w", r.Target, err)
			}
			doc.Title = m.Title
			if m.Width > 0 && m.Height > 0 {
				doc.Width, doc.Height = m.Width, m.Height
			}
		case isArray(r.Value):
			var list []domain.Item
			if err := json.Unmarshal(r.Value, &list); err != nil {
				return domain.Document{}, 0, fmt.Errorf("decode collection %s: %w", r.Target, err)
			}
			for i := range list {
				list[i].Style = normalizeStyle(list[i].Style)
			}
			doc.Collections[r.Target] = list
			colRev[r.Target] = r.Revision
		default:
			key, err := ParseFieldKey(r.Target)
			if err != nil {
				l.Warn("skipping record with invalid target", slog.String("target", r.Target))
				continue
			}
			if key.IsCollection() {
				items = append(items, r)
			} else {
				singles = append(singles, r)
			}
		}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Revision < items[j].Revision })
	for _, r := range items {
		key, _ := ParseFieldKey(r.Target)
		if r.Revision <= colRev[key.Collection()] {
			continue
		}
		var it domain.Item
		if err := json.Unmarshal(r.Value, &it); err != nil {
			return domain.Document{}, 0, fmt.Errorf("decode item %s: %w", r.Target, err)
		}
		dst := findItem(doc.Collections[key.Collection()], it.ID)
		if dst == nil {
			l.Debug("skipping item record without live item", slog.String("target", r.Target), slog.String("id", it.ID))
			continue
		}
		dst.Style = normalizeStyle(it.Style)
		if it.Kind.Valid() {
			dst.Kind = it.Kind
		}
	}
	for _, r := range singles {
		var st domain.Style
		if err := json.Unmarshal(r.Value, &st); err != nil {
			return domain.Document{}, 0, fmt.Errorf("decode field %s: %w", r.Target, err)
		}
		doc.Fields[r.Target] = normalizeStyle(st)
	}
	if rev := doc.Revision; rev > maxRev {
		maxRev = rev
	}
	doc.Revision = maxRev
	return doc, maxRev, nil
}

// Load reads the records of canvasID from b and assembles them over base.
func Load(ctx context.Context, b storage.Backend, canvasID string, base domain.Document) (domain.Document, int64, error) {
	recs, err := b.Load(ctx, canvasID)
	if err != nil {
		return domain.Document{}, 0, fmt.Errorf("load canvas %s: %w", canvasID, err)
	}
	if base.ID == "" {
		base.ID = canvasID
	}
	return Assemble(base, recs)
}

// Target is one persistence target with its encoded value.
type Target struct {
	Name  string
	Value []byte
}

// DocumentTargets encodes every target of doc: meta, each singleton field and each collection as a whole. Writing
// all of them reproduces doc through Assemble.
func DocumentTargets(doc domain.Document) ([]Target, error) {
	meta, err := json.Marshal(Meta{Title: doc.Title, Width: doc.Width, Height: doc.Height})
	if err != nil {
		return nil, err
	}
	out := []Target{{Name: storage.MetaTarget, Value: meta}}
	names := make([]string, 0, len(doc.Fields))
	for n := range doc.Fields {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		b, err := json.Marshal(doc.Fields[n])
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", n, err)
		}
		out = append(out, Target{Name: n, Value: b})
	}
	cols := make([]string, 0, len(doc.Collections))
	for c := range doc.Collections {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	for _, c := range cols {
		items := doc.Collections[c]
		if items == nil {
			items = []domain.Item{}
		}
		b, err := json.Marshal(items)
		if err != nil {
			return nil, fmt.Errorf("encode collection %s: %w", c, err)
		}
		out = append(out, Target{Name: c, Value: b})
	}
	return out, nil
}

func isArray(v json.RawMessage) bool {
	v = bytes.TrimLeft(v, " \t\r\n")
	return len(v) > 0 && v[0] == '['
}

func normalizeStyle(st domain.Style) domain.Style {
	if st == nil {
		return domain.Style{}
	}
	for a, v := range st {
		st[a] = domain.Normalize(v)
	}
	return st
}
