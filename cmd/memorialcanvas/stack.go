/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */


package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"

	"memorialcanvas/internal/backend"
	"memorialcanvas/internal/storage"
)

// stack is the storage selected by the configuration together with its revision source.
type stack struct {
	Backend   storage.Backend
	Revisions storage.RevisionSource
	// lister is set for drivers that can enumerate canvases.
	lister  interface{ Canvases(ctx context.Context) ([]string, error) }
	pingers []func(ctx context.Context) error
	closers []func() error
}

// Ready pings every dependency of the stack.
func (s *stack) Ready(ctx context.Context) error {
	for _, p := range s.pingers {
		if err := p(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

func (a *app) openStack(ctx context.Context) (*stack, error) {
	sc := a.cfg.Storage
	st := &stack{Revisions: storage.NewLocalRevisions()}
	switch sc.Driver {
	case "", "sqlite":
		path := sqlitePath(sc.Path, a.dataDir())
		db, recovered, err := storage.OpenSQLiteWithRecovery(ctx, path)
		if err != nil {
			return nil, err
		}
		if recovered {
			a.log.Warn("sqlite database was unreadable and has been recreated", slog.String("path", path))
		}
		if sc.HistoryKeep > 0 {
			db.HistoryKeep = sc.HistoryKeep
		}
		st.Backend, st.lister = db, db
		st.pingers = append(st.pingers, db.Ping)
		st.closers = append(st.closers, db.Close)
	case "postgres":
		if sc.PostgresDSN == "" {
			return nil, errors.New("postgres driver needs a DSN")
		}
		db, err := storage.OpenPostgres(ctx, dsnWithPassword(sc.PostgresDSN, a.sec.PostgresPassword))
		if err != nil {
			return nil, err
		}
		st.Backend = db
		st.pingers = append(st.pingers, db.Ping)
		st.closers = append(st.closers, db.Close)
	case "file":
		fb, err := storage.NewFileBackend(a.dataDir())
		if err != nil {
			return nil, err
		}
		st.Backend, st.lister = fb, fb
	case "remote":
		if sc.RemoteURL == "" {
			return nil, errors.New("remote driver needs a URL")
		}
		st.Backend = backend.NewClient(sc.RemoteURL)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", sc.Driver)
	}

	if sc.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: sc.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			a.log.Warn("redis unavailable, running without cache", slog.String("addr", sc.RedisAddr), slog.Any("err", err))
		} else {
			st.Backend = storage.NewCached(st.Backend, rdb, sc.CacheTTL(), "")
			st.Revisions = storage.NewRedisRevisions(rdb, "")
			st.pingers = append(st.pingers, func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
			st.closers = append(st.closers, rdb.Close)
		}
	}
	return st, nil
}

// sqlitePath accepts either a database file or the directory that holds canvases.db.
func sqlitePath(p, fallback string) string {
	if p == "" {
		p = fallback
	}
	switch strings.ToLower(filepath.Ext(p)) {
	case ".db", ".sqlite", ".sqlite3":
		return p
	}
	return filepath.Join(p, "canvases.db")
}

// dsnWithPassword adds the keychain password to dsn unless it already carries one.
func dsnWithPassword(dsn, password string) string {
	if password == "" {
		return dsn
	}
	if u, err := url.Parse(dsn); err == nil && (u.Scheme == "postgres" || u.Scheme == "postgresql") {
		if u.User == nil {
			return dsn
		}
		if _, set := u.User.Password(); !set {
			u.User = url.UserPassword(u.User.Username(), password)
		}
		return u.String()
	}
	if strings.Contains(dsn, "password=") {
		return dsn
	}
	return strings.TrimSpace(dsn) + " password='" + strings.NewReplacer(`\`, `\\`, "'", `\'`).Replace(password) + "'"
}
