/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */
package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"memorialcanvas/internal/canvas"
	"memorialcanvas/internal/domain"
	"memorialcanvas/internal/storage"
)

func TestClientIsABackend(t *testing.T) {
	ts := newTestServer(t, Options{})
	c := NewClient(ts.URL)
	ctx := context.Background()

	rec := storage.Record{CanvasID: "c1", Target: "fullname", Revision: 2, Value: []byte(`{"content":"Erika"}`)}
	if err := c.Put(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	rec.Revision = 1
	if err := c.Put(ctx, rec); !errors.Is(err, storage.ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
	recs, err := c.Load(ctx, "c1")
	if err != nil || len(recs) != 1 || recs[0].Revision != 2 {
		t.Fatalf("load = %+v %v", recs, err)
	}
	if err := c.Delete(ctx, "c1", "fullname"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if recs, _ := c.Load(ctx, "c1"); len(recs) != 0 {
		t.Fatalf("records after delete = %+v", recs)
	}
}

func TestRemoteCanvasRoundTrip(t *testing.T) {
	ts := newTestServer(t, Options{})
	c := NewClient(ts.URL)
	ctx := context.Background()

	doc := domain.NewDocument("remote-1", 800, 600)
	doc.Collections["gallery"] = []domain.Item{
		{ID: "g0", Kind: domain.KindImage, Style: domain.Style{}},
		{ID: "g1", Kind: domain.KindImage, Style: domain.Style{}},
	}
	if err := c.ImportDocument(ctx, doc); err != nil {
		t.Fatalf("import: %v", err)
	}

	w := storage.NewWriter(c, doc.ID, storage.WriterOptions{Debounce: 5 * time.Millisecond})
	cv := canvas.New(doc, canvas.Options{Saver: w})
	commit, err := cv.SetStyle(ctx, canvas.CollectionItem("gallery", 1), domain.Style{domain.AttrOpacity: 30})
	if err != nil {
		t.Fatalf("set style: %v", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := commit.Wait(waitCtx); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, _, err := canvas.Load(ctx, c, doc.ID, domain.Document{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if o, _ := got.Collections["gallery"][1].Style.Float(domain.AttrOpacity); o != 30 {
		t.Fatalf("remote opacity = %v", o)
	}
	if got.Width != 800 {
		t.Fatalf("meta lost: %+v", got)
	}
	if err := c.ValidateDocument(ctx, got); err != nil {
		t.Fatalf("reloaded document invalid: %v", err)
	}
}
