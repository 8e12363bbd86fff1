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
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevisionSource hands out strictly increasing revisions per canvas.
type RevisionSource interface {
	Next(ctx context.Context, canvasID string) (int64, error)
	// Observe raises the floor so that later revisions exceed rev.
	Observe(ctx context.Context, canvasID string, rev int64) error
}

// LocalRevisions is an in-process source. Revisions are seeded from the wall clock in microseconds so they keep
// increasing across restarts.
type LocalRevisions struct {
	mu   sync.Mutex
	last map[string]int64
	now  func() time.Time
}

func NewLocalRevisions() *LocalRevisions {
	return &LocalRevisions{last: make(map[string]int64), now: time.Now}
}

func (l *LocalRevisions) Next(_ context.Context, canvasID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rev := l.last[canvasID] + 1
	if ts := l.now().UnixMicro(); ts > rev {
		rev = ts
	}
	l.last[canvasID] = rev
	return rev, nil
}

func (l *LocalRevisions) Observe(_ context.Context, canvasID string, rev int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rev > l.last[canvasID] {
		l.last[canvasID] = rev
	}
	return nil
}

// RedisRevisions shares one counter per canvas between processes via INCR.
type RedisRevisions struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisRevisions uses keys "<prefix>rev:<canvasID>". An empty prefix defaults to "mcv:".
func NewRedisRevisions(rdb redis.UniversalClient, prefix string) *RedisRevisions {
	if prefix == "" {
		prefix = "mcv:"
	}
	return &RedisRevisions{rdb: rdb, prefix: prefix}
}

func (r *RedisRevisions) key(canvasID string) string { return r.prefix + "rev:" + canvasID }

func (r *RedisRevisions) Next(ctx context.Context, canvasID string) (int64, error) {
	rev, err := r.rdb.Incr(ctx, r.key(canvasID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr revision: %w", err)
	}
	return rev, nil
}

// raiseScript sets KEYS[1] to ARGV[1] when the stored counter is lower.
var raiseScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local want = tonumber(ARGV[1])
if cur < want then
  redis.call('SET', KEYS[1], want)
  return want
end
return cur
`)

func (r *RedisRevisions) Observe(ctx context.Context, canvasID string, rev int64) error {
	if err := raiseScript.Run(ctx, r.rdb, []string{r.key(canvasID)}, rev).Err(); err != nil {
		return fmt.Errorf("redis raise revision: %w", err)
	}
	return nil
}
