/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package telemetry provides a small, privacy‑respecting, opt‑in event sender
// for anonymous usage metrics and optional crash uploads.
//
// Canvases hold personal data (names, dates, dedications), so event properties
// are restricted to booleans, numbers and short tokens; anything else is dropped
// before it leaves the process.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	applog "memorialcanvas/internal/log"
	"memorialcanvas/internal/version"
)

// Environment variables read by FromEnv.
const (
	EnvOptIn     = "MCV_TELEMETRY_OPT_IN"
	EnvEventsURL = "MCV_TELEMETRY_URL"
	EnvCrashURL  = "MCV_CRASH_UPLOAD_URL"
	EnvTimeoutMS = "MCV_TELEMETRY_TIMEOUT_MS"
	EnvDebug     = "MCV_TELEMETRY_DEBUG"
)

// Config holds runtime configuration for telemetry and crash uploads.
// All telemetry is strictly opt‑in and disabled by default. If no URLs are
// set, events are dropped even if opt‑in is true.
type Config struct {
	OptIn        bool
	EventsURL    string
	CrashURL     string
	Timeout      time.Duration
	DebugLogging bool
	// BatchSize is the number of events posted together; default 20.
	BatchSize int
	// Interval is the longest time an event waits for its batch; default 2s.
	Interval time.Duration
	// RatePerSec and Burst bound how many events are accepted; default 5/s, burst 20.
	RatePerSec float64
	Burst      int
}

func FromEnv() Config {
	cfg := Config{
		OptIn:        parseBool(os.Getenv(EnvOptIn)),
		EventsURL:    strings.TrimSpace(os.Getenv(EnvEventsURL)),
		CrashURL:     strings.TrimSpace(os.Getenv(EnvCrashURL)),
		Timeout:      1500 * time.Millisecond,
		DebugLogging: os.Getenv(EnvDebug) != "",
	}
	if ms := strings.TrimSpace(os.Getenv(EnvTimeoutMS)); ms != "" {
		if v, err := time.ParseDuration(ms + "ms"); err == nil {
			cfg.Timeout = v
		}
	}
	return cfg
}

func parseBool(v string) bool {
	s := strings.ToLower(strings.TrimSpace(v))
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 1500 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	if c.Burst <= 0 {
		c.Burst = 20
	}
	return c
}

// Event is one anonymous usage event.
type Event struct {
	Name    string         `json:"name"`
	TS      string         `json:"ts"`
	Version string         `json:"version"`
	OS      string         `json:"os"`
	Arch    string         `json:"arch"`
	Props   map[string]any `json:"props,omitempty"`
}

var tokenRe = regexp.MustCompile(`^[a-z0-9_.:-]{1,32}$`)

// sanitize keeps booleans, numbers and short lower-case tokens such as a kind
// or a format name.
func sanitize(props map[string]any) map[string]any {
	if len(props) == 0 {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		if !tokenRe.MatchString(k) {
			continue
		}
		switch x := v.(type) {
		case bool, int, int32, int64, uint, uint32, uint64, float32, float64:
			out[k] = x
		case string:
			if tokenRe.MatchString(x) {
				out[k] = x
			}
		case fmt.Stringer:
			if s := x.String(); tokenRe.MatchString(s) {
				out[k] = s
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Client is an async, batching sender; it drops events on errors or when the
// queue or the rate limit is exhausted. It never blocks the caller.
type Client struct {
	cfg     Config
	log     *slog.Logger
	cli     *http.Client
	limiter *rate.Limiter
	q       chan Event
	flushQ  chan chan struct{}
	once    sync.Once
	closed  chan struct{}
	done    chan struct{}
	dropped atomic.Int64
	sent    atomic.Int64
}

var (
	defaultMu     sync.Mutex
	defaultClient *Client
)

// InitDefault installs a default client from env unless one exists.
func InitDefault() *Client {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultClient == nil {
		defaultClient = New(FromEnv())
	}
	return defaultClient
}

// NewDefault creates and installs the default client with cfg, closing the
// previous one.
func NewDefault(cfg Config) *Client {
	c := New(cfg)
	defaultMu.Lock()
	prev := defaultClient
	defaultClient = c
	defaultMu.Unlock()
	if prev != nil {
		prev.Close()
	}
	return c
}

// New constructs a client and starts its sender.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:     cfg,
		log:     applog.WithComponent("telemetry"),
		cli:     &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		q:       make(chan Event, 64),
		flushQ:  make(chan chan struct{}),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.loop()
	return c
}

// Enabled reports whether anonymous telemetry is enabled and an endpoint is configured.
func (c *Client) Enabled() bool { return c != nil && c.cfg.OptIn && c.cfg.EventsURL != "" }

// Enabled reports whether anonymous telemetry is enabled using the default client.
func Enabled() bool { return InitDefault().Enabled() }

// Event queues an event if enabled. Safe to call from anywhere.
func (c *Client) Event(name string, props map[string]any) {
	if !c.Enabled() || !tokenRe.MatchString(name) {
		return
	}
	if !c.limiter.Allow() {
		c.dropped.Add(1)
		return
	}
	ev := Event{
		Name:    name,
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
		Version: version.String(),
		OS:      runtime.GOOS,
		Arch:    runtime.GOARCH,
		Props:   sanitize(props),
	}
	select {
	case c.q <- ev:
	case <-c.closed:
	default:
		c.dropped.Add(1)
	}
}

// Emit queues an event on the default client.
func Emit(name string, props map[string]any) { InitDefault().Event(name, props) }

// Dropped returns the number of events discarded so far.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

// Sent returns the number of events delivered so far.
func (c *Client) Sent() int64 { return c.sent.Load() }

// Flush sends everything queued so far and waits until it was posted or ctx
// is done.
func (c *Client) Flush(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	ack := make(chan struct{})
	select {
	case c.flushQ <- ack:
	case <-c.done:
		return
	case <-ctx.Done():
		return
	}
	select {
	case <-ack:
	case <-ctx.Done():
	}
}

// Close sends what is left and stops the sender.
func (c *Client) Close() {
	c.once.Do(func() { close(c.closed) })
	<-c.done
}

func (c *Client) loop() {
	defer close(c.done)
	tick := time.NewTicker(c.cfg.Interval)
	defer tick.Stop()
	var batch []Event
	send := func() {
		for len(batch) > 0 {
			n := min(len(batch), c.cfg.BatchSize)
			c.send(batch[:n])
			batch = batch[n:]
		}
		batch = nil
	}
	drain := func() {
		for {
			select {
			case ev := <-c.q:
				batch = append(batch, ev)
			default:
				return
			}
		}
	}
	for {
		select {
		case <-c.closed:
			drain()
			send()
			return
		case ev := <-c.q:
			batch = append(batch, ev)
			if len(batch) >= c.cfg.BatchSize {
				send()
			}
		case <-tick.C:
			send()
		case ack := <-c.flushQ:
			drain()
			send()
			close(ack)
		}
	}
}

func (c *Client) send(batch []Event) {
	buf, err := json.Marshal(batch)
	if err != nil {
		c.dropped.Add(int64(len(batch)))
		return
	}
	req, err := http.NewRequest(http.MethodPost, c.cfg.EventsURL, bytes.NewReader(buf))
	if err != nil {
		c.dropped.Add(int64(len(batch)))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.cli.Do(req)
	if err != nil {
		c.dropped.Add(int64(len(batch)))
		if c.cfg.DebugLogging {
			c.log.Debug("telemetry send failed", slog.Any("err", err), slog.Int("events", len(batch)))
		}
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		c.dropped.Add(int64(len(batch)))
		return
	}
	c.sent.Add(int64(len(batch)))
	if c.cfg.DebugLogging {
		c.log.Debug("telemetry events sent", slog.Int("events", len(batch)))
	}
}

// UploadCrash posts an already‑serialized crash report to the configured
// crash URL if opt‑in. It returns once the upload finished or timed out.
func (c *Client) UploadCrash(report []byte) {
	if c == nil || !c.cfg.OptIn || c.cfg.CrashURL == "" {
		return
	}
	req, err := http.NewRequest(http.MethodPost, c.cfg.CrashURL, bytes.NewReader(report))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp, err := c.cli.Do(req)
	if err != nil {
		if c.cfg.DebugLogging {
			c.log.Debug("crash upload failed", slog.Any("err", err))
		}
		return
	}
	_ = resp.Body.Close()
	if c.cfg.DebugLogging {
		c.log.Debug("crash report uploaded")
	}
}

// UploadCrash using default client.
func UploadCrash(report []byte) { InitDefault().UploadCrash(report) }
