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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	applog "memorialcanvas/internal/log"
	"memorialcanvas/internal/version"

	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"
)

const (
	// schemaVersion tracks the SQLite schema. Bump it together with a new step in runMigrations.
	schemaVersion = 2

	// DefaultHistoryKeep is how many past revisions per target PruneHistory keeps by default.
	DefaultHistoryKeep = 50
)

// SQLite is the embedded single-user backend.
type SQLite struct {
	db   *sql.DB
	path string
	log  *slog.Logger
	// HistoryKeep bounds the history per target after each Put; 0 disables pruning.
	HistoryKeep int
}

// OpenSQLite opens or creates the database at path, enables WAL mode and runs migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "sqlite_open").With(slog.String("path", path))
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		l.Error("create db dir failed", slog.Any("err", err))
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", filepath.ToSlash(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		l.Error("sqlite open failed", slog.Any("err", err))
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		l.Error("enable WAL failed", slog.Any("err", err))
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := ensureMetaAndVersion(ctx, db); err != nil {
		_ = db.Close()
		l.Error("ensure meta/version failed", slog.Any("err", err))
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		l.Error("run migrations failed", slog.Any("err", err))
		return nil, err
	}
	l.Info("sqlite ready")
	return &SQLite{db: db, path: path, log: applog.WithComponent("storage.sqlite"), HistoryKeep: DefaultHistoryKeep}, nil
}

// DB exposes the underlying handle.
func (s *SQLite) DB() *sql.DB { return s.db }

func (s *SQLite) Close() error { return s.db.Close() }

// Ping checks the connection.
func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func ensureMetaAndVersion(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS version (
			id          INTEGER PRIMARY KEY CHECK(id=1),
			schema      INTEGER NOT NULL,
			app         TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	appv := version.String()
	var curSchema int
	err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&curSchema)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// a fresh database starts at 0 and is brought up by runMigrations
		if _, err := db.ExecContext(ctx, `INSERT INTO version (id, schema, app, created_at, updated_at) VALUES(1, 0, ?, ?, ?)`, appv, now, now); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	default:
		if _, err := db.ExecContext(ctx, `UPDATE version SET app=?, updated_at=? WHERE id=1`, appv, now); err != nil {
			return fmt.Errorf("update version: %w", err)
		}
	}
	return nil
}

var migrationSteps = map[int][]string{
	1: {
		`CREATE TABLE IF NOT EXISTS records (
			canvas_id  TEXT    NOT NULL,
			target     TEXT    NOT NULL,
			revision   INTEGER NOT NULL,
			value      BLOB    NOT NULL,
			updated_at TEXT    NOT NULL,
			PRIMARY KEY(canvas_id, target)
		);`,
	},
	2: {
		`CREATE TABLE IF NOT EXISTS record_history (
			id         INTEGER PRIMARY KEY,
			canvas_id  TEXT    NOT NULL,
			target     TEXT    NOT NULL,
			revision   INTEGER NOT NULL,
			value      BLOB,
			updated_at TEXT    NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_record_history_target ON record_history(canvas_id, target, revision);`,
	},
}

// runMigrations applies incremental schema migrations up to schemaVersion.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var cur int
	if err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if cur > schemaVersion {
		// never downgrade
		return nil
	}
	for cur < schemaVersion {
		next := cur + 1
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", next, err)
		}
		for _, q := range migrationSteps[next] {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d stmt failed: %w", next, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE version SET schema=?, updated_at=? WHERE id=1`, next, time.Now().UTC().Format(time.RFC3339)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d update version: %w", next, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d commit: %w", next, err)
		}
		cur = next
	}
	return nil
}

// language=SQL
// dialect=SQLite
const upsertRecordSQL = `INSERT INTO records(canvas_id, target, revision, value, updated_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(canvas_id, target) DO UPDATE SET revision = excluded.revision, value = excluded.value, updated_at = excluded.updated_at
WHERE excluded.revision > records.revision`

// language=SQL
// dialect=SQLite
const insertHistorySQL = `INSERT INTO record_history(canvas_id, target, revision, value, updated_at) VALUES (?, ?, ?, ?, ?)`

// language=SQL
// dialect=SQLite
const pruneHistorySQL = `DELETE FROM record_history WHERE canvas_id = ? AND target = ? AND id NOT IN (
	SELECT id FROM record_history WHERE canvas_id = ? AND target = ? ORDER BY revision DESC LIMIT ?
)`

// Put stores rec unless a newer revision exists, and appends it to the target history.
func (s *SQLite) Put(ctx context.Context, rec Record) error {
	if err := validRecord(rec); err != nil {
		return err
	}
	ts := rec.UpdatedAt.UTC().Format(time.RFC3339Nano)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	res, err := tx.ExecContext(ctx, upsertRecordSQL, rec.CanvasID, rec.Target, rec.Revision, []byte(rec.Value), ts)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("upsert record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_ = tx.Rollback()
		return ErrStale
	}
	if _, err := tx.ExecContext(ctx, insertHistorySQL, rec.CanvasID, rec.Target, rec.Revision, []byte(rec.Value), ts); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert history: %w", err)
	}
	if s.HistoryKeep > 0 {
		if _, err := tx.ExecContext(ctx, pruneHistorySQL, rec.CanvasID, rec.Target, rec.CanvasID, rec.Target, s.HistoryKeep); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("prune history: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Load returns every record of canvasID ordered by target.
func (s *SQLite) Load(ctx context.Context, canvasID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT target, revision, value, updated_at FROM records WHERE canvas_id = ? ORDER BY target`, canvasID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Record
	for rows.Next() {
		rec := Record{CanvasID: canvasID}
		var (
			value []byte
			ts    string
		)
		if err := rows.Scan(&rec.Target, &rec.Revision, &value, &ts); err != nil {
			return nil, err
		}
		rec.Value = json.RawMessage(value)
		rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes target and records the deletion in the history.
func (s *SQLite) Delete(ctx context.Context, canvasID, target string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	var rev int64
	err = tx.QueryRowContext(ctx, `SELECT revision FROM records WHERE canvas_id = ? AND target = ?`, canvasID, target).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return nil
	}
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("read record: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE canvas_id = ? AND target = ?`, canvasID, target); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete record: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insertHistorySQL, canvasID, target, rev, nil, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert history: %w", err)
	}
	return tx.Commit()
}

// History returns up to limit most recent entries of target, newest first. A deletion has a nil Value.
func (s *SQLite) History(ctx context.Context, canvasID, target string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultHistoryKeep
	}
	rows, err := s.db.QueryContext(ctx, `SELECT revision, value, updated_at FROM record_history WHERE canvas_id = ? AND target = ? ORDER BY id DESC LIMIT ?`, canvasID, target, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Record
	for rows.Next() {
		rec := Record{CanvasID: canvasID, Target: target}
		var (
			value []byte
			ts    string
		)
		if err := rows.Scan(&rec.Revision, &value, &ts); err != nil {
			return nil, err
		}
		if value != nil {
			rec.Value = json.RawMessage(value)
		}
		rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Canvases lists the ids of every stored canvas.
func (s *SQLite) Canvases(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT canvas_id FROM records ORDER BY canvas_id`)
	if err != nil {
		return nil, fmt.Errorf("query canvases: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Check runs PRAGMA quick_check and reports corruption.
func (s *SQLite) Check(ctx context.Context) error {
	var res string
	if err := s.db.QueryRowContext(ctx, `PRAGMA quick_check;`).Scan(&res); err != nil {
		return fmt.Errorf("quick_check: %w", err)
	}
	if !strings.Contains(strings.ToLower(res), "ok") {
		return fmt.Errorf("quick_check: %s", res)
	}
	return nil
}

// OpenSQLiteWithRecovery opens path; when the file is unreadable as a database it is moved into a timestamped
// backup next to it and a fresh database is created. recovered reports whether that happened.
func OpenSQLiteWithRecovery(ctx context.Context, path string) (db *SQLite, recovered bool, err error) {
	db, err = OpenSQLite(ctx, path)
	if err == nil {
		if cerr := db.Check(ctx); cerr == nil {
			return db, false, nil
		}
		_ = db.Close()
	}
	backupFile(path)
	_ = os.Remove(path)
	db, err = OpenSQLite(ctx, path)
	if err != nil {
		return nil, false, fmt.Errorf("reopen after recovery: %w", err)
	}
	return db, true, nil
}

// backupFile copies path into <dir>/backups/<name>.<stamp>.bak.
func backupFile(path string) {
	bdir := filepath.Join(filepath.Dir(path), BackupsDirName)
	_ = os.MkdirAll(bdir, 0o755)
	stamp := time.Now().Format("20060102-150405")
	bak := filepath.Join(bdir, fmt.Sprintf("%s.%s.bak", filepath.Base(path), stamp))
	if data, err := os.ReadFile(path); err == nil {
		_ = os.WriteFile(bak, data, 0o644)
	}
}
