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
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	BackupsDirName = "backups"
	canvasFileExt  = ".canvas.json"

	// DefaultMaxBackups is how many timestamped backups per canvas FileBackend keeps.
	DefaultMaxBackups = 20
)

var canvasIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

type canvasFile struct {
	CanvasID string            `json:"canvasId"`
	Records  map[string]Record `json:"records"`
}

// FileBackend keeps each canvas as one JSON file under Root. Every write replaces the file transactionally
// (temp file then rename) after copying the previous version into Root/backups.
type FileBackend struct {
	Root       string
	MaxBackups int

	mu sync.Mutex
}

// NewFileBackend creates root and its backups directory.
func NewFileBackend(root string) (*FileBackend, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("root path is required")
	}
	if err := os.MkdirAll(filepath.Join(root, BackupsDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FileBackend{Root: root, MaxBackups: DefaultMaxBackups}, nil
}

func (f *FileBackend) path(canvasID string) (string, error) {
	if !canvasIDRe.MatchString(canvasID) {
		return "", fmt.Errorf("invalid canvas id %q", canvasID)
	}
	return filepath.Join(f.Root, canvasID+canvasFileExt), nil
}

func (f *FileBackend) Put(_ context.Context, rec Record) error {
	if err := validRecord(rec); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cf, err := f.read(rec.CanvasID)
	if err != nil {
		return err
	}
	if cur, ok := cf.Records[rec.Target]; ok && cur.Revision >= rec.Revision {
		return ErrStale
	}
	cf.Records[rec.Target] = rec
	return f.write(cf)
}

func (f *FileBackend) Load(_ context.Context, canvasID string) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cf, err := f.read(canvasID)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(cf.Records))
	for _, r := range cf.Records {
		out = append(out, r)
	}
	sortRecords(out)
	return out, nil
}

func (f *FileBackend) Delete(_ context.Context, canvasID, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cf, err := f.read(canvasID)
	if err != nil {
		return err
	}
	if _, ok := cf.Records[target]; !ok {
		return nil
	}
	delete(cf.Records, target)
	return f.write(cf)
}

// read loads the canvas file. A missing file is an empty canvas; an unreadable one falls back to the latest
// backup.
// Canvases lists the ids of every stored canvas, sorted.
func (f *FileBackend) Canvases(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.Root)
	if err != nil {
		return nil, fmt.Errorf("list canvases: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if id, ok := strings.CutSuffix(e.Name(), canvasFileExt); ok && !e.IsDir() && canvasIDRe.MatchString(id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *FileBackend) read(canvasID string) (canvasFile, error) {
	p, err := f.path(canvasID)
	if err != nil {
		return canvasFile{}, err
	}
	empty := canvasFile{CanvasID: canvasID, Records: map[string]Record{}}
	b, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return empty, nil
	}
	if err == nil {
		var cf canvasFile
		err = json.Unmarshal(b, &cf)
		if err == nil {
			if cf.Records == nil {
				cf.Records = map[string]Record{}
			}
			cf.CanvasID = canvasID
			return cf, nil
		}
	}
	cf, berr := f.openFromLatestBackup(canvasID)
	if berr != nil {
		return canvasFile{}, fmt.Errorf("read canvas %s: %w; backup attempt: %v", canvasID, err, berr)
	}
	return cf, nil
}

func (f *FileBackend) write(cf canvasFile) error {
	p, err := f.path(cf.CanvasID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal canvas: %w", err)
	}
	data = append(data, '\n')

	bdir := filepath.Join(f.Root, BackupsDirName)
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		return fmt.Errorf("ensure backups dir: %w", err)
	}
	if _, statErr := os.Stat(p); statErr == nil {
		stamp := time.Now().Format("20060102-150405.000")
		bpath := filepath.Join(bdir, fmt.Sprintf("%s.%s.bak", filepath.Base(p), stamp))
		if cerr := copyFile(p, bpath); cerr != nil {
			return fmt.Errorf("backup canvas: %w", cerr)
		}
		f.pruneBackups(filepath.Base(p))
	}

	temp := filepath.Join(f.Root, fmt.Sprintf(".%s.tmp-%d-%d", filepath.Base(p), os.Getpid(), rand.Int()))
	if werr := writeFileSync(temp, data); werr != nil {
		return fmt.Errorf("write temp canvas: %w", werr)
	}
	// Windows cannot rename over an existing file
	if _, err := os.Stat(p); err == nil {
		_ = os.Remove(p)
	}
	if rerr := os.Rename(temp, p); rerr != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("replace canvas: %w", rerr)
	}
	return nil
}

func (f *FileBackend) backups(base string) []string {
	bdir := filepath.Join(f.Root, BackupsDirName)
	ents, err := os.ReadDir(bdir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range ents {
		name := e.Name()
		if strings.HasPrefix(name, base+".") && strings.HasSuffix(name, ".bak") {
			out = append(out, filepath.Join(bdir, name))
		}
	}
	// the timestamp in the name sorts lexicographically
	sort.Strings(out)
	return out
}

func (f *FileBackend) pruneBackups(base string) {
	if f.MaxBackups <= 0 {
		return
	}
	list := f.backups(base)
	for len(list) > f.MaxBackups {
		_ = os.Remove(list[0])
		list = list[1:]
	}
}

func (f *FileBackend) openFromLatestBackup(canvasID string) (canvasFile, error) {
	list := f.backups(canvasID + canvasFileExt)
	if len(list) == 0 {
		return canvasFile{}, errors.New("no backups found")
	}
	b, err := os.ReadFile(list[len(list)-1])
	if err != nil {
		return canvasFile{}, fmt.Errorf("read latest backup: %w", err)
	}
	var cf canvasFile
	if err := json.Unmarshal(b, &cf); err != nil {
		return canvasFile{}, fmt.Errorf("parse latest backup: %w", err)
	}
	if cf.Records == nil {
		cf.Records = map[string]Record{}
	}
	cf.CanvasID = canvasID
	return cf, nil
}

// WriteCrashSnapshot writes doc next to the regular backups of dir as
// <canvasID>.crash-<stamp>.json and returns its path.
func WriteCrashSnapshot(dir, canvasID string, doc []byte) (string, error) {
	if !canvasIDRe.MatchString(canvasID) {
		return "", fmt.Errorf("invalid canvas id %q", canvasID)
	}
	bdir := filepath.Join(dir, BackupsDirName)
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		return "", fmt.Errorf("ensure backups dir: %w", err)
	}
	stamp := time.Now().Format("20060102-150405")
	path := filepath.Join(bdir, fmt.Sprintf("%s.crash-%s.json", canvasID, stamp))
	if err := writeFileSync(path, doc); err != nil {
		return "", fmt.Errorf("write crash snapshot: %w", err)
	}
	return path, nil
}

// writeFileSync writes data to a file and flushes it to disk.
func writeFileSync(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// copyFile copies a file from src to dst (overwrites dst if exists).
func copyFile(src, dst string) (err error) {
	sf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sf.Close(); err == nil {
			err = cerr
		}
	}()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	df, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := df.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := io.Copy(df, sf); err != nil {
		return err
	}
	return df.Sync()
}
