/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package telemetry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type sink struct {
	mu      sync.Mutex
	batches [][]Event
	crashes [][]byte
}

func (s *sink) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		var batch []Event
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.batches = append(s.batches, batch)
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/crash", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.crashes = append(s.crashes, b)
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func (s *sink) events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func TestClient_EventAndUploadCrash(t *testing.T) {
	var s sink
	srv := s.server(t)
	c := New(Config{OptIn: true, EventsURL: srv.URL + "/events", CrashURL: srv.URL + "/crash", Timeout: 2 * time.Second, Interval: time.Hour})
	defer c.Close()

	if !c.Enabled() {
		t.Fatalf("expected client to be enabled")
	}
	c.Event("canvas_exported", map[string]any{"format": "pdf", "elements": 4})
	c.Flush(context.Background())

	evs := s.events()
	if len(evs) != 1 {
		t.Fatalf("expected one event, got %d", len(evs))
	}
	if evs[0].Name != "canvas_exported" || evs[0].TS == "" || evs[0].Version == "" {
		t.Fatalf("unexpected event %+v", evs[0])
	}
	if evs[0].Props["format"] != "pdf" || evs[0].Props["elements"] != float64(4) {
		t.Fatalf("props not sent: %+v", evs[0].Props)
	}
	if c.Sent() != 1 {
		t.Fatalf("sent = %d", c.Sent())
	}

	c.UploadCrash([]byte("STACKTRACE"))
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.crashes) != 1 || string(s.crashes[0]) != "STACKTRACE" {
		t.Fatalf("crash upload missing: %q", s.crashes)
	}
}

func TestClient_BatchesEvents(t *testing.T) {
	var s sink
	srv := s.server(t)
	c := New(Config{OptIn: true, EventsURL: srv.URL + "/events", BatchSize: 3, Interval: time.Hour})
	for i := 0; i < 7; i++ {
		c.Event("tick", nil)
	}
	c.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.batches) != 3 {
		t.Fatalf("expected 3 batches for 7 events of size 3, got %d", len(s.batches))
	}
	if len(s.batches[0]) != 3 || len(s.batches[2]) != 1 {
		t.Fatalf("unexpected batch sizes: %d, %d", len(s.batches[0]), len(s.batches[2]))
	}
}

func TestClient_DropsPersonalData(t *testing.T) {
	var s sink
	srv := s.server(t)
	c := New(Config{OptIn: true, EventsURL: srv.URL + "/events", Interval: time.Hour})
	defer c.Close()

	c.Event("field_added", map[string]any{
		"kind":    "text",
		"content": "Erika Mustermann, geb. Muster",
		"Title":   "x",
		"count":   2,
	})
	c.Event("Erika Mustermann", nil)
	c.Flush(context.Background())

	evs := s.events()
	if len(evs) != 1 {
		t.Fatalf("expected only the tokenized event, got %d", len(evs))
	}
	props := evs[0].Props
	if _, ok := props["content"]; ok {
		t.Fatalf("free text leaked: %+v", props)
	}
	if _, ok := props["Title"]; ok {
		t.Fatalf("non-token key kept: %+v", props)
	}
	if props["kind"] != "text" || props["count"] != float64(2) {
		t.Fatalf("expected token props kept: %+v", props)
	}
}

func TestClient_RateLimitDrops(t *testing.T) {
	var s sink
	srv := s.server(t)
	c := New(Config{OptIn: true, EventsURL: srv.URL + "/events", RatePerSec: 0.001, Burst: 2, Interval: time.Hour})
	defer c.Close()
	for i := 0; i < 5; i++ {
		c.Event("burst", nil)
	}
	c.Flush(context.Background())
	if got := len(s.events()); got != 2 {
		t.Fatalf("expected burst of 2 to pass, got %d", got)
	}
	if c.Dropped() != 3 {
		t.Fatalf("dropped = %d", c.Dropped())
	}
}

func TestClient_DisabledAndEmptyEventName(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{OptIn: false, EventsURL: srv.URL + "/events", CrashURL: srv.URL + "/crash", Timeout: time.Second})
	if c.Enabled() {
		t.Fatalf("expected disabled client")
	}
	c.Event("ignored", nil)
	c.UploadCrash([]byte("ignored"))
	c.Close()

	c2 := New(Config{OptIn: true, EventsURL: srv.URL + "/events", Timeout: time.Second})
	c2.Event("", nil)
	c2.Flush(nil) //nolint:staticcheck // nil context is accepted
	c2.Close()
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("expected no requests, got %d", hits)
	}
}

func TestClient_SendErrorsAreCounted(t *testing.T) {
	c := New(Config{OptIn: true, EventsURL: "http://127.0.0.1:1/events", CrashURL: "http://127.0.0.1:1/crash", Timeout: 50 * time.Millisecond, DebugLogging: true})
	c.Event("err", map[string]any{"a": 1})
	c.Flush(context.Background())
	c.UploadCrash([]byte("oops"))
	c.Close()
	if c.Dropped() != 1 {
		t.Fatalf("dropped = %d", c.Dropped())
	}
}

func TestEnabled_DefaultClientAndFromEnv(t *testing.T) {
	t.Setenv(EnvOptIn, "true")
	t.Setenv(EnvEventsURL, "http://127.0.0.1:0")
	t.Setenv(EnvCrashURL, "")
	t.Setenv(EnvTimeoutMS, "100")

	cfg := FromEnv()
	if !cfg.OptIn || cfg.EventsURL == "" || cfg.Timeout != 100*time.Millisecond {
		t.Fatalf("FromEnv did not parse correctly: %+v", cfg)
	}
	c := NewDefault(cfg)
	t.Cleanup(func() { NewDefault(Config{}) })
	if !Enabled() || InitDefault() != c {
		t.Fatalf("default client not installed")
	}
}
