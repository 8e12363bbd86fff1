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
	"testing"
	"time"
)

func TestUndoRedoBasic(t *testing.T) {
	m := NewManager(Config{MaxBytes: 1024 * 1024, MaxPerCanvas: 10, MinInterval: 10 * time.Millisecond})
	id := "c1"
	t0 := time.Now()
	m.PushSnapshot(Snapshot{CanvasID: id, Blob: []byte("a"), TS: t0})
	m.PushSnapshot(Snapshot{CanvasID: id, Blob: []byte("b"), TS: t0.Add(20 * time.Millisecond)})
	if _, canvases, total := m.Stats(); canvases != 1 || total != 2 {
		t.Fatalf("expected 1 canvas and 2 snapshots, got canvases=%d total=%d", canvases, total)
	}
	s, ok := m.Undo(id, Snapshot{Blob: []byte("c")})
	if !ok || string(s.Blob) != "b" {
		t.Fatalf("undo expected 'b', got ok=%v blob=%q", ok, string(s.Blob))
	}
	if !m.CanRedo(id) {
		t.Fatalf("expected redo to be available")
	}
	s, ok = m.Redo(id, Snapshot{Blob: []byte("b")})
	if !ok || string(s.Blob) != "c" {
		t.Fatalf("redo expected 'c', got ok=%v blob=%q", ok, string(s.Blob))
	}
	if m.CanRedo(id) {
		t.Fatalf("redo stack should be empty")
	}
}

func TestPushClearsRedo(t *testing.T) {
	m := NewManager(Config{})
	t0 := time.Now()
	m.PushSnapshot(Snapshot{CanvasID: "c", Blob: []byte("a"), TS: t0})
	m.Undo("c", Snapshot{Blob: []byte("b")})
	m.PushSnapshot(Snapshot{CanvasID: "c", Blob: []byte("x"), TS: t0.Add(time.Second)})
	if m.CanRedo("c") {
		t.Fatalf("new change must invalidate redo")
	}
	if tb, _, _ := m.Stats(); tb != 1 {
		t.Fatalf("expected only the pushed blob to be accounted, got %d bytes", tb)
	}
}

func TestCoalesceKeepsEarliestState(t *testing.T) {
	m := NewManager(Config{MaxBytes: 1024 * 1024, MaxPerCanvas: 10, MinInterval: 50 * time.Millisecond})
	id := "c2"
	t0 := time.Now()
	m.PushSnapshot(Snapshot{CanvasID: id, Blob: []byte("1"), TS: t0})
	m.PushSnapshot(Snapshot{CanvasID: id, Blob: []byte("2"), TS: t0.Add(10 * time.Millisecond)})
	m.PushSnapshot(Snapshot{CanvasID: id, Blob: []byte("3"), TS: t0.Add(55 * time.Millisecond)})
	_, _, total := m.Stats()
	if total != 1 {
		t.Fatalf("expected burst coalesced to 1 snapshot, got %d", total)
	}
	s, ok := m.Undo(id, Snapshot{})
	if !ok || string(s.Blob) != "1" {
		t.Fatalf("expected earliest state '1', got ok=%v blob=%q", ok, string(s.Blob))
	}
}

func TestCaps(t *testing.T) {
	m := NewManager(Config{MaxBytes: 20, MaxPerCanvas: 2, MinInterval: time.Millisecond})
	id := "c3"
	t0 := time.Now()
	for i := 0; i < 10; i++ {
		m.PushSnapshot(Snapshot{CanvasID: id, Blob: []byte("xxxxx"), TS: t0.Add(time.Duration(i) * time.Second)})
	}
	_, _, total := m.Stats()
	if total > 2 {
		t.Fatalf("expected MaxPerCanvas cap to limit to 2, got %d", total)
	}
}
