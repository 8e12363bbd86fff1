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
	"time"

	"github.com/redis/go-redis/v9"

	applog "memorialcanvas/internal/log"
)

// DefaultCacheTTL bounds how long a cached canvas load is served.
const DefaultCacheTTL = 5 * time.Minute

// Cached is a read-through redis cache in front of another backend. Writes go to the inner backend first and then
// invalidate the cached load. Redis failures are logged and bypassed.
type Cached struct {
	next   Backend
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
	log    *slog.Logger
}

// NewCached wraps next. ttl <= 0 selects DefaultCacheTTL; an empty prefix defaults to "mcv:".
func NewCached(next Backend, rdb redis.UniversalClient, ttl time.Duration, prefix string) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if prefix == "" {
		prefix = "mcv:"
	}
	return &Cached{next: next, rdb: rdb, ttl: ttl, prefix: prefix, log: applog.WithComponent("storage.cache")}
}

func (c *Cached) key(canvasID string) string { return c.prefix + "records:" + canvasID }

func (c *Cached) Load(ctx context.Context, canvasID string) ([]Record, error) {
	b, err := c.rdb.Get(ctx, c.key(canvasID)).Bytes()
	switch {
	case err == nil:
		var recs []Record
		if uerr := json.Unmarshal(b, &recs); uerr == nil {
			cacheTotal.WithLabelValues("hit").Inc()
			return recs, nil
		}
		c.log.Warn("dropping undecodable cache entry", slog.String("canvas", canvasID))
		cacheTotal.WithLabelValues("error").Inc()
	case errors.Is(err, redis.Nil):
		cacheTotal.WithLabelValues("miss").Inc()
	default:
		cacheTotal.WithLabelValues("error").Inc()
		c.log.Warn("cache get failed", slog.String("canvas", canvasID), slog.Any("err", err))
	}
	recs, err := c.next.Load(ctx, canvasID)
	if err != nil {
		return nil, err
	}
	if b, merr := json.Marshal(recs); merr == nil {
		if serr := c.rdb.Set(ctx, c.key(canvasID), b, c.ttl).Err(); serr != nil {
			c.log.Warn("cache set failed", slog.String("canvas", canvasID), slog.Any("err", serr))
		}
	}
	return recs, nil
}

func (c *Cached) Put(ctx context.Context, rec Record) error {
	if err := c.next.Put(ctx, rec); err != nil {
		return err
	}
	c.invalidate(ctx, rec.CanvasID)
	return nil
}

func (c *Cached) Delete(ctx context.Context, canvasID, target string) error {
	if err := c.next.Delete(ctx, canvasID, target); err != nil {
		return err
	}
	c.invalidate(ctx, canvasID)
	return nil
}

func (c *Cached) invalidate(ctx context.Context, canvasID string) {
	if err := c.rdb.Del(ctx, c.key(canvasID)).Err(); err != nil {
		c.log.Warn("cache invalidate failed", slog.String("canvas", canvasID), slog.Any("err", err))
	}
}
