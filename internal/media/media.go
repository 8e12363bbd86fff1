/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package media keeps uploaded photos and videos of a canvas in an S3 compatible bucket. Elements only ever hold
// the opaque sourceRef returned by Upload.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"memorialcanvas/internal/config"
	applog "memorialcanvas/internal/log"
)

// RefPrefix starts every sourceRef issued by a Store.
const RefPrefix = "canvases/"

var (
	ErrInvalidRef      = errors.New("invalid media reference")
	ErrUnsupportedType = errors.New("unsupported media type")
)

var (
	canvasIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)
	refRe      = regexp.MustCompile(`^canvases/[A-Za-z0-9][A-Za-z0-9_-]{0,127}/[0-9a-f-]{36}(\.[a-z0-9]{1,8})?$`)
)

// Options configure a Store.
type Options struct {
	Endpoint         string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	Region           string
	UseSSL           bool
	AutoCreateBucket bool
}

// OptionsFromConfig maps the media section of the app config. The secret comes from config.Secrets.
func OptionsFromConfig(cfg config.MediaConfig, secretKey string) Options {
	return Options{
		Endpoint:         cfg.Endpoint,
		Bucket:           cfg.Bucket,
		AccessKeyID:      cfg.AccessKeyID,
		SecretAccessKey:  secretKey,
		Region:           cfg.Region,
		UseSSL:           cfg.UseSSL,
		AutoCreateBucket: true,
	}
}

// Store uploads and resolves media objects.
type Store struct {
	client *minio.Client
	bucket string
	log    *slog.Logger
}

// New connects to the bucket and creates it when allowed.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, errors.New("media: endpoint and bucket are required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", opts.Bucket, err)
	}
	if !exists {
		if !opts.AutoCreateBucket {
			return nil, fmt.Errorf("bucket %q does not exist", opts.Bucket)
		}
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("make bucket %q: %w", opts.Bucket, err)
		}
	}
	return &Store{client: client, bucket: opts.Bucket, log: applog.WithComponent("media")}, nil
}

// ObjectName returns a fresh object name for a file of canvasID: canvases/<id>/<uuid><ext>.
func ObjectName(canvasID, filename string) (string, error) {
	if !canvasIDRe.MatchString(canvasID) {
		return "", fmt.Errorf("%w: canvas id %q", ErrInvalidRef, canvasID)
	}
	return RefPrefix + canvasID + "/" + uuid.NewString() + extension(filename), nil
}

func extension(filename string) string {
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(filename, "\\", "/")))
	if len(ext) < 2 || len(ext) > 9 {
		return ""
	}
	for _, c := range ext[1:] {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return ""
		}
	}
	return ext
}

// CheckRef reports ErrInvalidRef unless ref was produced by ObjectName.
func CheckRef(ref string) error {
	if !refRe.MatchString(ref) {
		return fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return nil
}

// CanvasOf returns the canvas id encoded in ref.
func CanvasOf(ref string) (string, error) {
	if err := CheckRef(ref); err != nil {
		return "", err
	}
	return strings.SplitN(strings.TrimPrefix(ref, RefPrefix), "/", 2)[0], nil
}

// ContentType resolves the media type of an upload and rejects anything that is not an image or a video.
func ContentType(filename, declared string) (string, error) {
	ct := strings.TrimSpace(declared)
	if ct == "" || ct == "application/octet-stream" {
		ct = mime.TypeByExtension(extension(filename))
	}
	base, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, ct)
	}
	if !strings.HasPrefix(base, "image/") && !strings.HasPrefix(base, "video/") {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, base)
	}
	return base, nil
}

// Upload stores r under a new object of canvasID and returns its sourceRef.
func (s *Store) Upload(ctx context.Context, canvasID, filename string, r io.Reader, size int64, contentType string) (string, error) {
	ct, err := ContentType(filename, contentType)
	if err != nil {
		return "", err
	}
	name, err := ObjectName(canvasID, filename)
	if err != nil {
		return "", err
	}
	info, err := s.client.PutObject(ctx, s.bucket, name, r, size, minio.PutObjectOptions{ContentType: ct})
	if err != nil {
		return "", fmt.Errorf("put object %q: %w", name, err)
	}
	s.log.Info("media uploaded", slog.String("ref", name), slog.Int64("bytes", info.Size), slog.String("type", ct))
	return name, nil
}

// Open streams the object behind ref.
func (s *Store) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := CheckRef(ref); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %q: %w", ref, err)
	}
	return obj, nil
}

// Presign returns a time limited download URL for ref.
func (s *Store) Presign(ctx context.Context, ref string, ttl time.Duration) (string, error) {
	if err := CheckRef(ref); err != nil {
		return "", err
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, ref, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presign %q: %w", ref, err)
	}
	return u.String(), nil
}

// Delete removes the object behind ref. A missing object counts as deleted.
func (s *Store) Delete(ctx context.Context, ref string) error {
	if err := CheckRef(ref); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, ref, minio.RemoveObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("remove object %q: %w", ref, err)
	}
	return nil
}

// DeleteCanvas removes every object of canvasID.
func (s *Store) DeleteCanvas(ctx context.Context, canvasID string) error {
	if !canvasIDRe.MatchString(canvasID) {
		return fmt.Errorf("%w: canvas id %q", ErrInvalidRef, canvasID)
	}
	var errs []error
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: RefPrefix + canvasID + "/", Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("list objects of %s: %w", canvasID, obj.Err)
		}
		if err := s.Delete(ctx, obj.Key); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		s.log.Error("deleting canvas media failed", slog.String("canvas", canvasID), slog.Int("failed", len(errs)))
	}
	return errors.Join(errs...)
}
