/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	applog "memorialcanvas/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres is the shared multi-user backend.
type Postgres struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenPostgres connects to dsn, verifies the connection and applies pending migrations.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	p := &Postgres{db: db, log: applog.WithComponent("storage.postgres")}
	if err := p.applyMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return p, nil
}

func (p *Postgres) DB() *sql.DB  { return p.db }
func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// applyMigrations applies embedded SQL migrations in filename order and records each in schema_migrations.
func (p *Postgres) applyMigrations(ctx context.Context) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name := e.Name(); strings.HasSuffix(strings.ToLower(name), ".sql") {
			files = append(files, name)
		}
	}
	sort.Strings(files)

	// dialect=PostgreSQL
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	applied := map[int64]bool{}
	rows, err := p.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("select schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return err
		}
		applied[v] = true
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, fname := range files {
		version, err := parseVersion(fname)
		if err != nil {
			return err
		}
		if applied[version] {
			continue
		}
		b, err := migrationsFS.ReadFile(path.Join("migrations", fname))
		if err != nil {
			return err
		}
		sqlText := string(b)
		if strings.TrimSpace(sqlText) == "" {
			continue
		}
		p.log.Info("applying migration", slog.String("file", fname))
		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin %s: %w", fname, err)
		}
		if _, err := tx.ExecContext(ctx, sqlText); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply %s: %w", fname, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, name) VALUES ($1, $2)`, version, fname); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record %s: %w", fname, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", fname, err)
		}
	}
	return nil
}

func parseVersion(name string) (int64, error) {
	base := path.Base(name)
	parts := strings.SplitN(base, "_", 2)
	if len(parts) < 2 {
		return 0, errors.New("invalid migration filename: " + name)
	}
	v, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse version from %s: %w", name, err)
	}
	return v, nil
}

// dialect=PostgreSQL
const pgUpsertRecordSQL = `INSERT INTO canvas_records(canvas_id, target, revision, value, updated_at) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (canvas_id, target) DO UPDATE SET revision = EXCLUDED.revision, value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
WHERE canvas_records.revision < EXCLUDED.revision`

func (p *Postgres) Put(ctx context.Context, rec Record) error {
	if err := validRecord(rec); err != nil {
		return err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	res, err := tx.ExecContext(ctx, pgUpsertRecordSQL, rec.CanvasID, rec.Target, rec.Revision, string(rec.Value), rec.UpdatedAt.UTC())
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("upsert record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_ = tx.Rollback()
		return ErrStale
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO canvas_record_history(canvas_id, target, revision, value, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		rec.CanvasID, rec.Target, rec.Revision, string(rec.Value), rec.UpdatedAt.UTC()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert history: %w", err)
	}
	return tx.Commit()
}

func (p *Postgres) Load(ctx context.Context, canvasID string) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT target, revision, value, updated_at FROM canvas_records WHERE canvas_id = $1 ORDER BY target`, canvasID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			p.log.Warn("rows close", slog.Any("err", err))
		}
	}()
	var out []Record
	for rows.Next() {
		rec := Record{CanvasID: canvasID}
		var value []byte
		if err := rows.Scan(&rec.Target, &rec.Revision, &value, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Value = json.RawMessage(value)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) Delete(ctx context.Context, canvasID, target string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	var rev int64
	err = tx.QueryRowContext(ctx, `DELETE FROM canvas_records WHERE canvas_id = $1 AND target = $2 RETURNING revision`, canvasID, target).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return nil
	}
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete record: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO canvas_record_history(canvas_id, target, revision, value) VALUES ($1, $2, $3, NULL)`, canvasID, target, rev); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert history: %w", err)
	}
	return tx.Commit()
}

// History returns up to limit most recent entries of target, newest first.
func (p *Postgres) History(ctx context.Context, canvasID, target string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultHistoryKeep
	}
	rows, err := p.db.QueryContext(ctx, `SELECT revision, value, updated_at FROM canvas_record_history WHERE canvas_id = $1 AND target = $2 ORDER BY id DESC LIMIT $3`, canvasID, target, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Record
	for rows.Next() {
		rec := Record{CanvasID: canvasID, Target: target}
		var value []byte
		if err := rows.Scan(&rec.Revision, &value, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		if value != nil {
			rec.Value = json.RawMessage(value)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
