/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"memorialcanvas/internal/domain"
	"memorialcanvas/internal/storage"
)

// Client talks to the canvas API. It implements storage.Backend so a local editor can persist to a remote server.
type Client struct {
	BaseURL string
	client  *http.Client
}

// NewClient creates a new backend client. baseURL may include a trailing slash; it will be normalized.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.client = hc
	return c
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method, Path string
	Code         int
	Message      string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server %s %s: %d %s", e.Method, e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("server %s %s: %d", e.Method, e.Path, e.Code)
}

func canvasPath(canvasID string, rest ...string) string {
	p := "/api/canvases/" + url.PathEscape(canvasID)
	for _, r := range rest {
		p += "/" + url.PathEscape(r)
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, dest any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var env struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&env)
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Message: env.Error}
	}
	if dest == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, dest any) error {
	var body io.Reader
	ct := ""
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body, ct = bytes.NewReader(b), "application/json"
	}
	return c.do(ctx, method, path, ct, body, dest)
}

// Put writes rec. A 409 answer maps to storage.ErrStale.
func (c *Client) Put(ctx context.Context, rec storage.Record) error {
	err := c.doJSON(ctx, http.MethodPut, canvasPath(rec.CanvasID, "records", rec.Target), putBody{Revision: rec.Revision, Value: rec.Value}, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusConflict {
		return storage.ErrStale
	}
	return err
}

// Load returns every record of canvasID.
func (c *Client) Load(ctx context.Context, canvasID string) ([]storage.Record, error) {
	var recs []storage.Record
	if err := c.doJSON(ctx, http.MethodGet, canvasPath(canvasID), nil, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// Delete removes one target of canvasID.
func (c *Client) Delete(ctx context.Context, canvasID, target string) error {
	return c.doJSON(ctx, http.MethodDelete, canvasPath(canvasID, "records", target), nil, nil)
}

// ValidateDocument asks the server to check doc against the canvas schema.
func (c *Client) ValidateDocument(ctx context.Context, doc domain.Document) error {
	return c.doJSON(ctx, http.MethodPost, canvasPath(doc.ID, "document"), doc, nil)
}

// ImportDocument replaces every target of doc.ID with the content of doc.
func (c *Client) ImportDocument(ctx context.Context, doc domain.Document) error {
	return c.doJSON(ctx, http.MethodPost, canvasPath(doc.ID, "document")+"?import=1", doc, nil)
}

// Upload sends media for canvasID and returns its sourceRef. The signature matches Uploader.
func (c *Client) Upload(ctx context.Context, canvasID, filename string, r io.Reader, _ int64, contentType string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("read media: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	var out struct {
		SourceRef string `json:"sourceRef"`
	}
	if err := c.do(ctx, http.MethodPost, canvasPath(canvasID, "media"), mw.FormDataContentType(), &buf, &out); err != nil {
		return "", err
	}
	return out.SourceRef, nil
}

var _ storage.Backend = (*Client)(nil)
