/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package canvas

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	applog "memorialcanvas/internal/log"
	"memorialcanvas/internal/storage"
)

// Saver persists the encoded value of one target. The returned channel yields exactly one result. A nil value
// deletes the target. *storage.Writer implements it.
type Saver interface {
	Save(ctx context.Context, target string, value []byte) <-chan error
}

// Commit tracks one save issued for a staged edit.
type Commit struct {
	Key    FieldKey
	Target string

	done chan struct{}
	err  error
}

// Done is closed once the save resolved.
func (c *Commit) Done() <-chan struct{} { return c.done }

// Err returns the save result. It is nil until Done is closed.
func (c *Commit) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Wait blocks until the save resolved or ctx is done.
func (c *Commit) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// persister hands staged edits to a Saver and acknowledges them in the store once saved. A failed save leaves
// the optimistic overlay in place and is recorded per target until the next successful save of that target.
type persister struct {
	store *Store
	saver Saver
	log   *slog.Logger

	mu       sync.Mutex
	errs     map[string]error
	inflight sync.WaitGroup
}

func newPersister(store *Store, saver Saver) *persister {
	return &persister{
		store: store,
		saver: saver,
		log:   applog.WithComponent("canvas.persist"),
		errs:  make(map[string]error),
	}
}

func (p *persister) persist(ctx context.Context, pend Pending) (*Commit, error) {
	target, value, err := p.store.encode(pend)
	if err != nil {
		return nil, err
	}
	c := &Commit{Key: pend.Key, Target: target, done: make(chan struct{})}
	if p.saver == nil {
		p.store.Commit(pend)
		close(c.done)
		return c, nil
	}
	p.inflight.Add(1)
	res := p.saver.Save(context.WithoutCancel(ctx), target, value)
	go func() {
		defer p.inflight.Done()
		defer close(c.done)
		err := <-res
		if err == nil {
			p.store.Commit(pend)
			p.mu.Lock()
			delete(p.errs, target)
			p.mu.Unlock()
			return
		}
		if !errors.Is(err, storage.ErrPersistence) {
			err = &storage.PersistError{Target: target, Err: err}
		}
		c.err = err
		p.mu.Lock()
		p.errs[target] = err
		p.mu.Unlock()
		p.log.Error("save failed; keeping local edit", slog.String("target", target), slog.Any("err", err))
	}()
	return c, nil
}

// failures returns the outstanding failure per target, sorted by target.
func (p *persister) failures() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	targets := make([]string, 0, len(p.errs))
	for t := range p.errs {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	out := make([]error, 0, len(targets))
	for _, t := range targets {
		out = append(out, p.errs[t])
	}
	return out
}

// wait blocks until every issued save resolved.
func (p *persister) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for saves: %w", ctx.Err())
	}
}
