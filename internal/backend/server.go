/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */
// Package backend serves canvases to remote editors over HTTP and provides the matching client backend.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"memorialcanvas/internal/canvas"
	"memorialcanvas/internal/domain"
	applog "memorialcanvas/internal/log"
	"memorialcanvas/internal/media"
	"memorialcanvas/internal/storage"
	"memorialcanvas/internal/version"
)

const (
	defaultMaxBody   = 1 << 20
	defaultMaxUpload = 64 << 20
)

var canvasIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// Uploader stores media for a canvas and returns its sourceRef. *media.Store implements it.
type Uploader interface {
	Upload(ctx context.Context, canvasID, filename string, r io.Reader, size int64, contentType string) (string, error)
}

// Options configure the HTTP API. Zero values select defaults.
type Options struct {
	Backend storage.Backend
	// Media is optional; without it uploads answer 503.
	Media Uploader
	// Ready reports whether dependencies are reachable; nil means always ready.
	Ready      func(ctx context.Context) error
	RatePerSec float64
	RateBurst  int
	Timeout    time.Duration
	MaxUpload  int64
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

type server struct {
	opts    Options
	limiter *clientLimiter
	revs    storage.RevisionSource
	log     *slog.Logger
}

// NewRouter returns the HTTP handler of the API.
func NewRouter(opts Options) http.Handler {
	if opts.Backend == nil {
		opts.Backend = storage.NewMemoryBackend()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = defaultMaxUpload
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	registerMetrics(opts.Registerer)
	storage.RegisterMetrics(opts.Registerer)

	s := &server{
		opts:    opts,
		limiter: newClientLimiter(opts.RatePerSec, opts.RateBurst),
		revs:    storage.NewLocalRevisions(),
		log:     applog.WithComponent("backend"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.readyz)
	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(version.String()))
	})
	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/canvases/{id}", func(r chi.Router) {
		r.Use(s.limiter.middleware)
		r.Use(middleware.Timeout(opts.Timeout))
		r.Use(checkCanvasID)
		r.Get("/", s.getRecords)
		r.Put("/records/{target}", s.putRecord)
		r.Delete("/records/{target}", s.deleteRecord)
		r.Post("/media", s.uploadMedia)
		r.Post("/document", s.postDocument)
	})
	return r
}

func (s *server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Ready(ctx); err != nil {
			s.log.Warn("not ready", slog.Any("err", err))
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
	}
	_, _ = w.Write([]byte("ready"))
}

func checkCanvasID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !canvasIDRe.MatchString(chi.URLParam(r, "id")) {
			writeError(w, http.StatusBadRequest, errors.New("invalid canvas id"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// validTarget accepts field keys, collection names and the meta target.
func validTarget(t string) bool {
	if t == storage.MetaTarget || canvas.IsCollectionName(t) {
		return true
	}
	_, err := canvas.ParseFieldKey(t)
	return err == nil
}

func (s *server) getRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := s.opts.Backend.Load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if recs == nil {
		recs = []storage.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// putBody is the payload of PUT /records/{target}.
type putBody struct {
	Revision int64           `json:"revision"`
	Value    json.RawMessage `json:"value"`
}

func (s *server) putRecord(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")
	if !validTarget(target) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid target %q", target))
		return
	}
	var body putBody
	dec := json.NewDecoder(io.LimitReader(r.Body, defaultMaxBody))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if body.Revision <= 0 || len(body.Value) == 0 || !json.Valid(body.Value) {
		writeError(w, http.StatusBadRequest, errors.New("revision and a JSON value are required"))
		return
	}
	rec := storage.Record{
		CanvasID:  chi.URLParam(r, "id"),
		Target:    target,
		Revision:  body.Revision,
		Value:     body.Value,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.opts.Backend.Put(r.Context(), rec); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) deleteRecord(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")
	if !validTarget(target) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid target %q", target))
		return
	}
	if err := s.opts.Backend.Delete(r.Context(), chi.URLParam(r, "id"), target); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) uploadMedia(w http.ResponseWriter, r *http.Request) {
	if s.opts.Media == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("media storage is not configured"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUpload)
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read upload: %w", err))
		return
	}
	defer f.Close()
	ref, err := s.opts.Media.Upload(r.Context(), chi.URLParam(r, "id"), hdr.Filename, f, hdr.Size, hdr.Header.Get("Content-Type"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"sourceRef": ref})
}

// postDocument validates a full document. With ?import=1 a valid document also replaces every target of the
// canvas.
func (s *server) postDocument(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, 8*defaultMaxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := domain.ValidateJSON(data); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if r.URL.Query().Get("import") == "" {
		writeJSON(w, http.StatusOK, map[string]any{"valid": true})
		return
	}
	var doc domain.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := chi.URLParam(r, "id")
	targets, err := canvas.DocumentTargets(doc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	for _, t := range targets {
		rev, err := s.revs.Next(r.Context(), id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		rec := storage.Record{CanvasID: id, Target: t.Name, Revision: rev, Value: t.Value, UpdatedAt: time.Now().UTC()}
		if err := s.opts.Backend.Put(r.Context(), rec); err != nil && !errors.Is(err, storage.ErrStale) {
			s.fail(w, r, err)
			return
		}
	}
	s.log.Info("document imported", slog.String("canvas", id), slog.Int("targets", len(targets)))
	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "imported": len(targets)})
}

// fail maps domain errors to status codes.
func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrStale):
		status = http.StatusConflict
	case errors.Is(err, media.ErrUnsupportedType):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, media.ErrInvalidRef):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= 500 {
		applog.WithOperation(s.log, "request").Error("request failed",
			slog.String("path", r.URL.Path), slog.Any("err", err))
	}
	writeError(w, status, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

// Serve runs h on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	l := applog.WithComponent("backend")
	errc := make(chan error, 1)
	go func() {
		l.Info("listening", slog.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
