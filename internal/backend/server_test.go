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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"memorialcanvas/internal/domain"
	"memorialcanvas/internal/media"
	"memorialcanvas/internal/storage"
	"memorialcanvas/internal/version"
)

type fakeUploader struct {
	filename string
	data     []byte
	err      error
}

func (f *fakeUploader) Upload(_ context.Context, canvasID, filename string, r io.Reader, _ int64, contentType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.filename = filename
	f.data, _ = io.ReadAll(r)
	return "canvases/" + canvasID + "/0b0d6a8c-4a43-4d7c-9c55-7a7a3e3a9b1e.png", nil
}

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(NewRouter(opts))
	t.Cleanup(ts.Close)
	return ts
}

func request(t *testing.T, method, url, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestHealthVersionReady(t *testing.T) {
	ready := errors.New("db down")
	ts := newTestServer(t, Options{Ready: func(context.Context) error { return ready }})

	if code, body := request(t, http.MethodGet, ts.URL+"/healthz", ""); code != http.StatusOK || body != "ok" {
		t.Fatalf("healthz = %d %q", code, body)
	}
	if code, body := request(t, http.MethodGet, ts.URL+"/version", ""); code != http.StatusOK || body != version.String() {
		t.Fatalf("version = %d %q", code, body)
	}
	if code, _ := request(t, http.MethodGet, ts.URL+"/readyz", ""); code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with failing dependency = %d", code)
	}
	ready = nil
	if code, _ := request(t, http.MethodGet, ts.URL+"/readyz", ""); code != http.StatusOK {
		t.Fatalf("readyz = %d", code)
	}
}

func TestPutLoadAndStaleRecords(t *testing.T) {
	ts := newTestServer(t, Options{})
	base := ts.URL + "/api/canvases/c1"

	if code, body := request(t, http.MethodPut, base+"/records/gallery-2", `{"revision":5,"value":{"opacity":50}}`); code != http.StatusNoContent {
		t.Fatalf("put = %d %s", code, body)
	}
	if code, _ := request(t, http.MethodPut, base+"/records/gallery-2", `{"revision":4,"value":{"opacity":10}}`); code != http.StatusConflict {
		t.Fatalf("older revision = %d, want 409", code)
	}
	code, body := request(t, http.MethodGet, base, "")
	if code != http.StatusOK {
		t.Fatalf("get = %d", code)
	}
	var recs []storage.Record
	if err := json.Unmarshal([]byte(body), &recs); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	if len(recs) != 1 || recs[0].Revision != 5 || string(recs[0].Value) != `{"opacity":50}` {
		t.Fatalf("records = %+v", recs)
	}

	if code, _ := request(t, http.MethodDelete, base+"/records/gallery-2", ""); code != http.StatusNoContent {
		t.Fatalf("delete = %d", code)
	}
	if _, body := request(t, http.MethodGet, base, ""); strings.TrimSpace(body) != "[]" {
		t.Fatalf("after delete = %s", body)
	}
}

func TestRejectsInvalidInput(t *testing.T) {
	ts := newTestServer(t, Options{})
	cases := []struct {
		method, path, body string
	}{
		{http.MethodPut, "/api/canvases/c1/records/Bad-", `{"revision":1,"value":{}}`},
		{http.MethodPut, "/api/canvases/-c1/records/fullname", `{"revision":1,"value":{}}`},
		{http.MethodPut, "/api/canvases/c1/records/fullname", `{"revision":0,"value":{}}`},
		{http.MethodPut, "/api/canvases/c1/records/fullname", `{"revision":1}`},
		{http.MethodPut, "/api/canvases/c1/records/fullname", `not json`},
		{http.MethodDelete, "/api/canvases/c1/records/Bad-", ""},
	}
	for _, c := range cases {
		if code, body := request(t, c.method, ts.URL+c.path, c.body); code != http.StatusBadRequest {
			t.Fatalf("%s %s %s = %d %s", c.method, c.path, c.body, code, body)
		}
	}
}

func TestDocumentValidationAndImport(t *testing.T) {
	b := storage.NewMemoryBackend()
	ts := newTestServer(t, Options{Backend: b})

	if code, body := request(t, http.MethodPost, ts.URL+"/api/canvases/c1/document", `{"id":"c1","width":-1}`); code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid document = %d %s", code, body)
	}
	doc := domain.NewDocument("c1", 794, 1123)
	doc.Fields["fullname"] = domain.Style{domain.AttrX: 40.0, domain.AttrContent: "Erika"}
	doc.Collections["gallery"] = []domain.Item{{ID: "g0", Kind: domain.KindImage}}
	raw, _ := json.Marshal(doc)

	if code, body := request(t, http.MethodPost, ts.URL+"/api/canvases/c1/document", string(raw)); code != http.StatusOK {
		t.Fatalf("valid document = %d %s", code, body)
	}
	if recs, _ := b.Load(context.Background(), "c1"); len(recs) != 0 {
		t.Fatalf("validation alone wrote %d records", len(recs))
	}
	if code, body := request(t, http.MethodPost, ts.URL+"/api/canvases/c1/document?import=1", string(raw)); code != http.StatusOK {
		t.Fatalf("import = %d %s", code, body)
	}
	recs, _ := b.Load(context.Background(), "c1")
	if len(recs) != 3 {
		t.Fatalf("imported records = %+v", recs)
	}
}

func TestMediaUpload(t *testing.T) {
	up := &fakeUploader{}
	ts := newTestServer(t, Options{Media: up})
	c := NewClient(ts.URL + "/")

	ref, err := c.Upload(context.Background(), "c1", "oma.png", bytes.NewReader([]byte("png-bytes")), 9, "image/png")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := media.CheckRef(ref); err != nil {
		t.Fatalf("ref %q: %v", ref, err)
	}
	if up.filename != "oma.png" || string(up.data) != "png-bytes" {
		t.Fatalf("uploader saw %q %q", up.filename, up.data)
	}

	up.err = fmt.Errorf("sniff: %w", media.ErrUnsupportedType)
	_, err = c.Upload(context.Background(), "c1", "notes.txt", strings.NewReader("hi"), 2, "text/plain")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("unsupported type = %v", err)
	}

	bare := NewClient(newTestServer(t, Options{}).URL)
	_, err = bare.Upload(context.Background(), "c1", "oma.png", strings.NewReader("x"), 1, "image/png")
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable {
		t.Fatalf("upload without media = %v", err)
	}
}

func TestRateLimitPerClient(t *testing.T) {
	ts := newTestServer(t, Options{RatePerSec: 0.001, RateBurst: 2})
	for i := 0; i < 2; i++ {
		if code, _ := request(t, http.MethodGet, ts.URL+"/api/canvases/c1", ""); code != http.StatusOK {
			t.Fatalf("request %d = %d", i, code)
		}
	}
	if code, _ := request(t, http.MethodGet, ts.URL+"/api/canvases/c1", ""); code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", code)
	}
	if code, _ := request(t, http.MethodGet, ts.URL+"/healthz", ""); code != http.StatusOK {
		t.Fatalf("health checks must not be limited: %d", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, Options{})
	request(t, http.MethodGet, ts.URL+"/api/canvases/c1", "")
	code, body := request(t, http.MethodGet, ts.URL+"/metrics", "")
	if code != http.StatusOK {
		t.Fatalf("metrics = %d", code)
	}
	if !strings.Contains(body, `memorialcanvas_http_requests_total{method="GET",route="/api/canvases/{id}`) {
		t.Fatalf("request counter missing:\n%s", body)
	}
}

func TestMetricsPerRegistry(t *testing.T) {
	for i := 0; i < 2; i++ {
		reg := prometheus.NewRegistry()
		ts := newTestServer(t, Options{Registerer: reg, Gatherer: reg})
		registerMetrics(reg)
		request(t, http.MethodGet, ts.URL+"/api/canvases/c1", "")

		families, err := reg.Gather()
		if err != nil {
			t.Fatalf("gather: %v", err)
		}
		seen := map[string]bool{}
		for _, mf := range families {
			seen[mf.GetName()] = true
		}
		for _, name := range []string{"memorialcanvas_http_requests_total", "memorialcanvas_storage_coalesced_saves_total"} {
			if !seen[name] {
				t.Fatalf("router %d: %s missing from its registry", i, name)
			}
		}
	}
}

func TestClientLimiterSweepsIdleClients(t *testing.T) {
	l := newClientLimiter(1, 1)
	now := l.now()
	l.now = func() time.Time { return now }
	l.get("a")
	l.get("b")
	now = now.Add(10 * time.Minute)
	l.get("c")
	if n := len(l.visitors); n != 1 {
		t.Fatalf("visitors = %d, want 1", n)
	}
}
