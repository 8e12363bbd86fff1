/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package undo

import (
	"sync"
	"time"
)

// Snapshot is a reversible state blob for a canvas, captured before a change.
// Blob content is opaque to the manager; size is estimated as len(Blob).
// TS is when the snapshot was captured.
type Snapshot struct {
	CanvasID string
	Label    string
	Blob     []byte
	TS       time.Time
}

// Config controls memory and depth caps and coalescing behavior.
type Config struct {
	// MaxBytes is a soft cap; older entries are pruned when exceeded.
	MaxBytes int
	// MaxPerCanvas limits the number of undo steps kept per canvas (0 means unlimited).
	MaxPerCanvas int
	// MinInterval coalesces snapshots captured within the interval for the same
	// canvas: the earlier pre-change state is kept so one undo reverts the burst.
	MinInterval time.Duration
}

// Manager provides an in-memory undo/redo stack per canvas.
// It is safe for concurrent use.
type Manager struct {
	cfg Config
	mu  sync.Mutex
	// per-canvas stacks
	undo map[string][]Snapshot
	redo map[string][]Snapshot
	// accounting covers undo and redo stacks
	totalBytes int
}

func NewManager(cfg Config) *Manager {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 16 * 1024 * 1024 // 16 MiB
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	return &Manager{cfg: cfg, undo: make(map[string][]Snapshot), redo: make(map[string][]Snapshot)}
}

// PushSnapshot records the state a canvas had before a change. Within
// MinInterval of the previous push the older state is kept and only its
// timestamp advances. Any push clears the redo stack of that canvas.
func (m *Manager) PushSnapshot(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropRedoLocked(s.CanvasID)
	stack := m.undo[s.CanvasID]
	if n := len(stack); n > 0 && m.cfg.MinInterval > 0 {
		if s.TS.Sub(stack[n-1].TS) < m.cfg.MinInterval {
			stack[n-1].TS = s.TS
			return
		}
	}
	m.undo[s.CanvasID] = append(stack, s)
	m.totalBytes += len(s.Blob)
	m.enforceCapsLocked(s.CanvasID)
}

// Undo pops the latest pre-change state and parks current on the redo stack.
func (m *Manager) Undo(canvasID string, current Snapshot) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stack := m.undo[canvasID]
	if len(stack) == 0 {
		return Snapshot{}, false
	}
	s := stack[len(stack)-1]
	m.undo[canvasID] = stack[:len(stack)-1]
	m.totalBytes -= len(s.Blob)
	current.CanvasID = canvasID
	m.redo[canvasID] = append(m.redo[canvasID], current)
	m.totalBytes += len(current.Blob)
	m.enforceCapsLocked(canvasID)
	return s, true
}

// Redo pops from redo and parks current back on the undo stack.
func (m *Manager) Redo(canvasID string, current Snapshot) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.redo[canvasID]
	if len(r) == 0 {
		return Snapshot{}, false
	}
	s := r[len(r)-1]
	m.redo[canvasID] = r[:len(r)-1]
	m.totalBytes -= len(s.Blob)
	current.CanvasID = canvasID
	m.undo[canvasID] = append(m.undo[canvasID], current)
	m.totalBytes += len(current.Blob)
	m.enforceCapsLocked(canvasID)
	return s, true
}

// CanUndo and CanRedo report stack availability.
func (m *Manager) CanUndo(canvasID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo[canvasID]) > 0
}

func (m *Manager) CanRedo(canvasID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.redo[canvasID]) > 0
}

// ClearCanvas clears undo/redo stacks for a canvas to free memory.
func (m *Manager) ClearCanvas(canvasID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.undo[canvasID] {
		m.totalBytes -= len(s.Blob)
	}
	m.dropRedoLocked(canvasID)
	delete(m.undo, canvasID)
	if m.totalBytes < 0 {
		m.totalBytes = 0
	}
}

// Stats returns current sizes for diagnostics.
func (m *Manager) Stats() (totalBytes int, canvases int, totalSnapshots int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	canvases = len(m.undo)
	for _, v := range m.undo {
		totalSnapshots += len(v)
	}
	return m.totalBytes, canvases, totalSnapshots
}

func (m *Manager) dropRedoLocked(canvasID string) {
	for _, s := range m.redo[canvasID] {
		m.totalBytes -= len(s.Blob)
	}
	delete(m.redo, canvasID)
}

func (m *Manager) enforceCapsLocked(canvasID string) {
	if m.cfg.MaxPerCanvas > 0 {
		stack := m.undo[canvasID]
		if len(stack) > m.cfg.MaxPerCanvas {
			toDrop := len(stack) - m.cfg.MaxPerCanvas
			for i := 0; i < toDrop; i++ {
				m.totalBytes -= len(stack[i].Blob)
			}
			m.undo[canvasID] = append([]Snapshot{}, stack[toDrop:]...)
		}
	}
	// Global memory cap: prune the oldest undo step across all canvases
	for m.cfg.MaxBytes > 0 && m.totalBytes > m.cfg.MaxBytes {
		oldest := ""
		found := false
		var oldestTS time.Time
		for id, stack := range m.undo {
			if len(stack) == 0 {
				continue
			}
			if !found || stack[0].TS.Before(oldestTS) {
				oldest, oldestTS, found = id, stack[0].TS, true
			}
		}
		if !found {
			break
		}
		stack := m.undo[oldest]
		m.totalBytes -= len(stack[0].Blob)
		m.undo[oldest] = stack[1:]
		if len(m.undo[oldest]) == 0 {
			delete(m.undo, oldest)
		}
	}
}
