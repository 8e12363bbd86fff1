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
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"memorialcanvas/internal/canvas"
	"memorialcanvas/internal/domain"
	"memorialcanvas/internal/storage"
)

// TestE2E_PostgresBackedServer runs the API over a live database when MCV_TEST_PG_DSN is set.
func TestE2E_PostgresBackedServer(t *testing.T) {
	dsn := os.Getenv("MCV_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("MCV_TEST_PG_DSN not set; skipping Postgres e2e test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	pg, err := storage.OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	defer func() { _ = pg.Close() }()

	ts := newTestServer(t, Options{Backend: pg, Ready: pg.Ping})
	if code, _ := request(t, "GET", ts.URL+"/readyz", ""); code != 200 {
		t.Fatalf("readyz = %d", code)
	}
	c := NewClient(ts.URL)
	doc := domain.NewDocument("e2e-"+uuid.NewString()[:8], 794, 1123)
	doc.Fields["fullname"] = domain.Style{domain.AttrContent: "Erika Mustermann"}
	if err := c.ImportDocument(ctx, doc); err != nil {
		t.Fatalf("import: %v", err)
	}
	got, rev, err := canvas.Load(ctx, c, doc.ID, domain.Document{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rev == 0 || got.Height != 1123 {
		t.Fatalf("reloaded = %+v rev=%d", got, rev)
	}
	if s, _ := got.Fields["fullname"].Str(domain.AttrContent); s != "Erika Mustermann" {
		t.Fatalf("fullname = %q", s)
	}
}
