/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	applog "memorialcanvas/internal/log"
)

// DefaultDebounce is the quiet period before a pending target is written.
const DefaultDebounce = 300 * time.Millisecond

// WriterOptions tune a Writer. Zero values select defaults.
type WriterOptions struct {
	Debounce  time.Duration
	Revisions RevisionSource
	// Limiter paces backend writes across all targets; nil means unlimited.
	Limiter *rate.Limiter
	Now     func() time.Time
}

type pendingWrite struct {
	ctx     context.Context
	value   []byte
	waiters []chan error
	timer   *time.Timer
	// ready is set when the debounce elapsed while an earlier write of the target was still running.
	ready bool
	done  bool
	err   error
}

// Writer debounces and coalesces saves of one canvas per target. Writes of one target run one at a time and each
// draws a fresh revision, so a later save always lands after an earlier one. Failed writes are reported and never
// retried.
type Writer struct {
	backend  Backend
	canvasID string
	revs     RevisionSource
	debounce time.Duration
	limiter  *rate.Limiter
	now      func() time.Time
	log      *slog.Logger

	mu       sync.Mutex
	pending  map[string]*pendingWrite
	inflight map[string]bool
	closed   bool
	wg      sync.WaitGroup
}

// NewWriter returns a writer for canvasID.
func NewWriter(b Backend, canvasID string, opts WriterOptions) *Writer {
	if opts.Debounce < 0 {
		opts.Debounce = 0
	}
	if opts.Revisions == nil {
		opts.Revisions = NewLocalRevisions()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Writer{
		backend:  b,
		canvasID: canvasID,
		revs:     opts.Revisions,
		debounce: opts.Debounce,
		limiter:  opts.Limiter,
		now:      opts.Now,
		log:      applog.WithComponent("storage.writer").With(slog.String("canvas", canvasID)),
		pending:  make(map[string]*pendingWrite),
		inflight: make(map[string]bool),
	}
}

// CanvasID returns the canvas this writer persists.
func (w *Writer) CanvasID() string { return w.canvasID }

// Save schedules value for target. A nil value deletes the target. The returned channel receives exactly one
// result: nil on success, otherwise a *PersistError. A save superseded by a later save of the same target before
// it was flushed resolves with the outcome of that later write.
func (w *Writer) Save(ctx context.Context, target string, value []byte) <-chan error {
	ch := make(chan error, 1)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		ch <- &PersistError{CanvasID: w.canvasID, Target: target, Err: ErrClosed}
		return ch
	}
	if value != nil {
		value = append([]byte{}, value...)
	}
	if pw, ok := w.pending[target]; ok {
		pw.ctx = ctx
		pw.value = value
		pw.waiters = append(pw.waiters, ch)
		pw.timer.Reset(w.debounce)
		coalescedTotal.Inc()
		return ch
	}
	pw := &pendingWrite{ctx: ctx, value: value, waiters: []chan error{ch}}
	pw.timer = time.AfterFunc(w.debounce, func() { w.flushTarget(target, pw) })
	w.pending[target] = pw
	w.wg.Add(1)
	return ch
}

// flushTarget writes pw if it is still the pending write of target. While another write of target is in flight
// pw stays pending and is picked up by that write's goroutine once it finished.
func (w *Writer) flushTarget(target string, pw *pendingWrite) {
	w.mu.Lock()
	if w.pending[target] != pw {
		w.mu.Unlock()
		return
	}
	if w.inflight[target] {
		pw.ready = true
		w.mu.Unlock()
		return
	}
	delete(w.pending, target)
	w.inflight[target] = true
	for {
		ctx, value := pw.ctx, pw.value
		w.mu.Unlock()

		err := w.write(ctx, target, value)

		w.mu.Lock()
		pw.done, pw.err = true, err
		waiters := pw.waiters
		pw.waiters = nil
		next := w.pending[target]
		if next == nil || !next.ready {
			delete(w.inflight, target)
			next = nil
		} else {
			delete(w.pending, target)
		}
		w.mu.Unlock()
		for _, ch := range waiters {
			ch <- err
		}
		w.wg.Done()
		if next == nil {
			return
		}
		pw = next
		w.mu.Lock()
	}
}

func (w *Writer) write(ctx context.Context, target string, value []byte) error {
	l := applog.WithOperation(w.log, "write").With(slog.String("target", target))
	fail := func(rev int64, err error) error {
		writesTotal.WithLabelValues("error").Inc()
		l.Warn("write failed", slog.Int64("rev", rev), slog.Any("err", err))
		return &PersistError{CanvasID: w.canvasID, Target: target, Revision: rev, Err: err}
	}
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return fail(0, err)
		}
	}
	rev, err := w.revs.Next(ctx, w.canvasID)
	if err != nil {
		return fail(0, err)
	}
	start := time.Now()
	if value == nil {
		err = w.backend.Delete(ctx, w.canvasID, target)
	} else {
		err = w.backend.Put(ctx, Record{
			CanvasID:  w.canvasID,
			Target:    target,
			Revision:  rev,
			Value:     json.RawMessage(value),
			UpdatedAt: w.now().UTC(),
		})
	}
	flushSeconds.Observe(time.Since(start).Seconds())
	switch {
	case errors.Is(err, ErrStale):
		writesTotal.WithLabelValues("stale").Inc()
		l.Debug("newer revision already stored", slog.Int64("rev", rev))
		return nil
	case err != nil:
		return fail(rev, err)
	}
	writesTotal.WithLabelValues("ok").Inc()
	l.Debug("written", slog.Int64("rev", rev))
	return nil
}

// Pending returns the number of targets with a save that has not started writing yet.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Flush writes every pending target now and waits for all writes, including ones already in flight.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	type job struct {
		target string
		pw     *pendingWrite
	}
	jobs := make([]job, 0, len(w.pending))
	for target, pw := range w.pending {
		if pw.timer.Stop() {
			jobs = append(jobs, job{target, pw})
		}
	}
	w.mu.Unlock()

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for _, j := range jobs {
		wg.Add(1)
		go func(target string, pw *pendingWrite) {
			defer wg.Done()
			ch := make(chan error, 1)
			w.mu.Lock()
			if pw.done {
				ch <- pw.err
			} else {
				pw.waiters = append(pw.waiters, ch)
			}
			w.mu.Unlock()
			w.flushTarget(target, pw)
			if err := <-ch; err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(j.target, j.pw)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return errors.Join(errs...)
}

// Close rejects further saves and flushes what is pending.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return w.Flush(ctx)
}
