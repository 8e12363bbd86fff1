/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * Licensed under the Apache License, Version 2.0.
 */

// Package fontpack moves font collections between installations as a single ZIP. Installed packs land in the
// editor's font directory where textlayout.FontLibrary.LoadDir picks them up.
package fontpack

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	applog "memorialcanvas/internal/log"
)

// ManifestName is the human readable entry at the root of every pack.
const ManifestName = "fontpack.manifest.txt"

// IsFontFile reports whether name has a font extension LoadDir understands.
func IsFontFile(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".ttf", ".otf":
		return true
	}
	return false
}

// Export zips every font file below fontDir into destZip. Sub directories are kept.
// It returns the number of fonts packed.
func Export(fontDir, destZip string) (n int, err error) {
	l := applog.WithOperation(applog.WithComponent("fontpack"), "export").With(slog.String("dir", fontDir))
	if strings.TrimSpace(fontDir) == "" {
		return 0, errors.New("font directory is required")
	}
	if strings.TrimSpace(destZip) == "" {
		return 0, errors.New("destination is required")
	}
	var files []string
	err = filepath.WalkDir(fontDir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsFontFile(d.Name()) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan fonts: %w", err)
	}
	sort.Strings(files)

	if err := os.MkdirAll(filepath.Dir(destZip), 0o755); err != nil {
		return 0, fmt.Errorf("ensure zip dir: %w", err)
	}
	zf, err := os.Create(destZip)
	if err != nil {
		return 0, fmt.Errorf("create zip: %w", err)
	}
	defer func() {
		if cerr := zf.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	zw := zip.NewWriter(zf)

	var manifest strings.Builder
	fmt.Fprintf(&manifest, "Memorial Canvas Font Pack\nCreated: %s\nFonts: %d\n\n", time.Now().Format(time.RFC3339), len(files))
	for _, f := range files {
		rel, err := filepath.Rel(fontDir, f)
		if err != nil {
			return n, err
		}
		name := filepath.ToSlash(rel)
		manifest.WriteString(name + "\n")
		if err := addFile(zw, name, f); err != nil {
			l.Error("zip build failed", slog.String("font", name), slog.Any("err", err))
			return n, fmt.Errorf("pack %s: %w", name, err)
		}
		n++
	}
	w, err := zw.Create(ManifestName)
	if err != nil {
		return n, fmt.Errorf("add manifest: %w", err)
	}
	if _, err := io.WriteString(w, manifest.String()); err != nil {
		return n, fmt.Errorf("write manifest: %w", err)
	}
	if err := zw.Close(); err != nil {
		return n, fmt.Errorf("close zip: %w", err)
	}
	l.Info("font pack exported", slog.Int("fonts", n), slog.String("zip", destZip))
	return n, nil
}

func addFile(zw *zip.Writer, name, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

// Install extracts the fonts of packZip directly into fontDir, dropping any directories of the entry names so that
// LoadDir finds them. Existing files are kept and entries that are not fonts are skipped. It returns the number of
// fonts installed.
func Install(fontDir, packZip string) (int, error) {
	l := applog.WithOperation(applog.WithComponent("fontpack"), "install").With(slog.String("dir", fontDir))
	if strings.TrimSpace(fontDir) == "" {
		return 0, errors.New("font directory is required")
	}
	if err := os.MkdirAll(fontDir, 0o755); err != nil {
		return 0, fmt.Errorf("ensure font dir: %w", err)
	}
	r, err := zip.OpenReader(packZip)
	if err != nil {
		return 0, fmt.Errorf("open pack: %w", err)
	}
	defer func() { _ = r.Close() }()

	installed := 0
	for _, f := range r.File {
		if f.FileInfo().IsDir() || !IsFontFile(f.Name) {
			continue
		}
		base := path.Base(strings.ReplaceAll(f.Name, `\`, "/"))
		if base == "." || base == "/" || strings.HasPrefix(base, ".") {
			continue
		}
		target := filepath.Join(fontDir, base)
		if _, err := os.Stat(target); err == nil {
			l.Debug("skip existing font", slog.String("path", target))
			continue
		}
		if err := extract(f, target); err != nil {
			return installed, fmt.Errorf("install %s: %w", f.Name, err)
		}
		installed++
	}
	l.Info("font pack installed", slog.Int("fonts", installed))
	return installed, nil
}

func extract(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		_ = os.Remove(target)
		return err
	}
	return out.Close()
}
