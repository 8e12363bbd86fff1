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
	"fmt"
	"sort"
	"sync"
	"time"
)

// MetaTarget holds the canvas title and size.
const MetaTarget = "_meta"

// Record is the persisted value of one target of a canvas.
type Record struct {
	CanvasID  string          `json:"canvasId"`
	Target    string          `json:"target"`
	Revision  int64           `json:"revision"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Backend stores records. Put is idempotent and must reject a record whose revision is not newer than the stored
// one with ErrStale.
type Backend interface {
	Put(ctx context.Context, rec Record) error
	Load(ctx context.Context, canvasID string) ([]Record, error)
	Delete(ctx context.Context, canvasID, target string) error
}

var (
	// ErrStale is returned by Put when a newer revision is already stored.
	ErrStale = errors.New("stale revision")
	// ErrPersistence matches every *PersistError.
	ErrPersistence = errors.New("persistence failed")
	// ErrClosed is reported for saves issued after the writer was closed.
	ErrClosed = errors.New("writer closed")
)

// PersistError reports a save that did not reach the backend.
type PersistError struct {
	CanvasID string
	Target   string
	Revision int64
	Err      error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s/%s rev %d: %v", e.CanvasID, e.Target, e.Revision, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

func (e *PersistError) Is(target error) bool { return target == ErrPersistence }

func validRecord(rec Record) error {
	if rec.CanvasID == "" {
		return errors.New("canvas id is required")
	}
	if rec.Target == "" {
		return errors.New("target is required")
	}
	return nil
}

// MemoryBackend keeps records in process memory.
type MemoryBackend struct {
	mu   sync.Mutex
	recs map[string]map[string]Record
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{recs: make(map[string]map[string]Record)}
}

func (m *MemoryBackend) Put(_ context.Context, rec Record) error {
	if err := validRecord(rec); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.recs[rec.CanvasID]
	if c == nil {
		c = make(map[string]Record)
		m.recs[rec.CanvasID] = c
	}
	if cur, ok := c[rec.Target]; ok && cur.Revision >= rec.Revision {
		return ErrStale
	}
	rec.Value = append(json.RawMessage(nil), rec.Value...)
	c[rec.Target] = rec
	return nil
}

func (m *MemoryBackend) Load(_ context.Context, canvasID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.recs[canvasID]))
	for _, r := range m.recs[canvasID] {
		r.Value = append(json.RawMessage(nil), r.Value...)
		out = append(out, r)
	}
	sortRecords(out)
	return out, nil
}

func (m *MemoryBackend) Delete(_ context.Context, canvasID, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs[canvasID], target)
	return nil
}

func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].Target < recs[j].Target })
}
