/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

// AppConfig is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables are treated as read-only overrides at runtime.
//
// config_version: bump when the structure changes in a backward-incompatible way.
// Secrets (database password, object storage secret key) are never written to the
// file; they live in the OS keychain and are returned separately by Load.

type GeneralConfig struct {
	TelemetryOptIn bool `yaml:"telemetry_opt_in"`
	EnableServer   bool `yaml:"enable_server"`
}

// EditorConfig holds the layout engine tunables.
type EditorConfig struct {
	CanvasWidth   int     `yaml:"canvas_width"`
	CanvasHeight  int     `yaml:"canvas_height"`
	SnapThreshold float64 `yaml:"snap_threshold"`
	Fitter        string  `yaml:"fitter"` // "heuristic" | "measured"
	FontDir       string  `yaml:"font_dir"`
	DebounceMs    int     `yaml:"debounce_ms"`
	UndoDepth     int     `yaml:"undo_depth"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver"` // "sqlite" | "postgres" | "file" | "remote"
	Path        string `yaml:"path"`   // sqlite database dir or file backend dir
	PostgresDSN string `yaml:"postgres_dsn"`
	RemoteURL   string `yaml:"remote_url"`
	RedisAddr   string `yaml:"redis_addr"`
	CacheTTLSec int    `yaml:"cache_ttl_sec"`
	HistoryKeep int    `yaml:"history_keep"`
}

type MediaConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Bucket        string `yaml:"bucket"`
	AccessKeyID   string `yaml:"access_key_id"`
	Region        string `yaml:"region"`
	UseSSL        bool   `yaml:"use_ssl"`
	PresignTTLSec int    `yaml:"presign_ttl_sec"`
}

type ServerConfig struct {
	Addr       string  `yaml:"addr"`
	RatePerSec float64 `yaml:"rate_per_sec"`
	RateBurst  int     `yaml:"rate_burst"`
	TimeoutMs  int     `yaml:"timeout_ms"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
	// MaxSizeMB and MaxBackups bound the rotated log file.
	MaxSizeMB  int `yaml:"max_size_mb,omitempty"`
	MaxBackups int `yaml:"max_backups,omitempty"`
}

type AppConfig struct {
	ConfigVersion int           `yaml:"config_version"`
	General       GeneralConfig `yaml:"general"`
	Editor        EditorConfig  `yaml:"editor"`
	Storage       StorageConfig `yaml:"storage"`
	Media         MediaConfig   `yaml:"media"`
	Server        ServerConfig  `yaml:"server"`
	Logging       LoggingConfig `yaml:"logging"`
}

// Secrets are resolved from the OS keychain, or from env for headless deployments.
type Secrets struct {
	PostgresPassword string
	MediaSecretKey   string
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		General:       GeneralConfig{TelemetryOptIn: false, EnableServer: false},
		Editor: EditorConfig{
			CanvasWidth:   794,
			CanvasHeight:  1123,
			SnapThreshold: 6,
			Fitter:        "heuristic",
			DebounceMs:    300,
			UndoDepth:     50,
		},
		Storage: StorageConfig{Driver: "sqlite", Path: "", CacheTTLSec: 60, HistoryKeep: 20},
		Media:   MediaConfig{Bucket: "memorial-media", Region: "us-east-1", PresignTTLSec: 3600},
		Server:  ServerConfig{Addr: ":8080", RatePerSec: 10, RateBurst: 40, TimeoutMs: 15000},
		Logging: LoggingConfig{Level: "info", Format: "console", Source: false, File: ""},
	}
}

// Env var names used as overrides.
const (
	EnvConfigPath     = "MCV_CONFIG"
	EnvTelemetryOptIn = "MCV_TELEMETRY_OPT_IN"
	EnvEnableServer   = "MCV_ENABLE_SERVER"
	EnvSnapThreshold  = "MCV_SNAP_THRESHOLD"
	EnvFitter         = "MCV_FITTER"
	EnvFontDir        = "MCV_FONT_DIR"
	EnvStorageDriver  = "MCV_STORAGE_DRIVER"
	EnvStoragePath    = "MCV_STORAGE_PATH"
	EnvPostgresDSN    = "MCV_PG_DSN"
	EnvRemoteURL      = "MCV_REMOTE_URL"
	EnvRedisAddr      = "MCV_REDIS_ADDR"
	EnvMediaEndpoint  = "MCV_MEDIA_ENDPOINT"
	EnvMediaBucket    = "MCV_MEDIA_BUCKET"
	EnvMediaAccessKey = "MCV_MEDIA_ACCESS_KEY"
	EnvMediaSecretKey = "MCV_MEDIA_SECRET_KEY"
	EnvPostgresPass   = "MCV_PG_PASSWORD"
	EnvServerAddr     = "MCV_SERVER_ADDR"
	// EnvLogLevel Logging envs
	EnvLogLevel  = "MCV_LOG_LEVEL"
	EnvLogFormat = "MCV_LOG_FORMAT"
	EnvLogSource = "MCV_LOG_SOURCE"
	EnvLogFile   = "MCV_LOG_FILE"
)

// Service/keys for OS keyring.
const (
	keyringService     = "MemorialCanvas"
	keyringPGPassword  = "postgres_password"
	keyringMediaSecret = "media_secret_key"
)

// tokenStore abstracts keyring, so we can stub in tests.
var tokenStore TokenStore = osKeyring{}

type TokenStore interface {
	Get(service, key string) (string, error)
	Set(service, key, value string) error
	Delete(service, key string) error
}

// osKeyring implements TokenStore using the OS keyring via github.com/zalando/go-keyring.
type osKeyring struct{}

func (osKeyring) Get(service, key string) (string, error) { return keyring.Get(service, key) }
func (osKeyring) Set(service, key, value string) error    { return keyring.Set(service, key, value) }
func (osKeyring) Delete(service, key string) error        { return keyring.Delete(service, key) }

// ConfigPath returns the per-user config file path. MCV_CONFIG overrides it.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p, nil
	}
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" { // fallback
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "MemorialCanvas")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "MemorialCanvas")
	default: // linux and others
		base = filepath.Join(os.Getenv("HOME"), ".config", "memorialcanvas")
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return filepath.Join(base, "config.yaml"), nil
}

// Load reads user config file (if present), applies defaults, and merges environment overrides.
// Secrets come from the keyring; MCV_PG_PASSWORD and MCV_MEDIA_SECRET_KEY take precedence.
func Load() (AppConfig, Secrets, error) {
	cfg := Defaults()
	path, err := ConfigPath()
	if err != nil {
		return cfg, Secrets{}, err
	}
	if data, err := os.ReadFile(path); err == nil {
		var fileCfg AppConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return cfg, Secrets{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		mergeInto(&cfg, &fileCfg)
	}
	applyEnvOverrides(&cfg)
	return cfg, loadSecrets(), nil
}

func loadSecrets() Secrets {
	var s Secrets
	s.PostgresPassword, _ = tokenStore.Get(keyringService, keyringPGPassword)
	s.MediaSecretKey, _ = tokenStore.Get(keyringService, keyringMediaSecret)
	if v := os.Getenv(EnvPostgresPass); v != "" {
		s.PostgresPassword = v
	}
	if v := os.Getenv(EnvMediaSecretKey); v != "" {
		s.MediaSecretKey = v
	}
	return s
}

// Save writes the user config YAML and persists non-empty secrets into the OS keyring.
func Save(cfg AppConfig, sec Secrets) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	if sec.PostgresPassword != "" {
		if err := tokenStore.Set(keyringService, keyringPGPassword, sec.PostgresPassword); err != nil {
			return fmt.Errorf("store postgres password: %w", err)
		}
	}
	if sec.MediaSecretKey != "" {
		if err := tokenStore.Set(keyringService, keyringMediaSecret, sec.MediaSecretKey); err != nil {
			return fmt.Errorf("store media secret: %w", err)
		}
	}
	return nil
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	// booleans: copy directly from src (file) so user preferences persist
	dst.General.TelemetryOptIn = src.General.TelemetryOptIn
	dst.General.EnableServer = src.General.EnableServer

	e := src.Editor
	if e.CanvasWidth > 0 {
		dst.Editor.CanvasWidth = e.CanvasWidth
	}
	if e.CanvasHeight > 0 {
		dst.Editor.CanvasHeight = e.CanvasHeight
	}
	if e.SnapThreshold > 0 {
		dst.Editor.SnapThreshold = e.SnapThreshold
	}
	if v := strings.TrimSpace(e.Fitter); v != "" {
		dst.Editor.Fitter = strings.ToLower(v)
	}
	if v := strings.TrimSpace(e.FontDir); v != "" {
		dst.Editor.FontDir = v
	}
	if e.DebounceMs > 0 {
		dst.Editor.DebounceMs = e.DebounceMs
	}
	if e.UndoDepth > 0 {
		dst.Editor.UndoDepth = e.UndoDepth
	}

	s := src.Storage
	if v := strings.TrimSpace(s.Driver); v != "" {
		dst.Storage.Driver = strings.ToLower(v)
	}
	if v := strings.TrimSpace(s.Path); v != "" {
		dst.Storage.Path = v
	}
	if v := strings.TrimSpace(s.PostgresDSN); v != "" {
		dst.Storage.PostgresDSN = v
	}
	if v := strings.TrimSpace(s.RemoteURL); v != "" {
		dst.Storage.RemoteURL = v
	}
	if v := strings.TrimSpace(s.RedisAddr); v != "" {
		dst.Storage.RedisAddr = v
	}
	if s.CacheTTLSec > 0 {
		dst.Storage.CacheTTLSec = s.CacheTTLSec
	}
	if s.HistoryKeep > 0 {
		dst.Storage.HistoryKeep = s.HistoryKeep
	}

	m := src.Media
	if v := strings.TrimSpace(m.Endpoint); v != "" {
		dst.Media.Endpoint = v
	}
	if v := strings.TrimSpace(m.Bucket); v != "" {
		dst.Media.Bucket = v
	}
	if v := strings.TrimSpace(m.AccessKeyID); v != "" {
		dst.Media.AccessKeyID = v
	}
	if v := strings.TrimSpace(m.Region); v != "" {
		dst.Media.Region = v
	}
	dst.Media.UseSSL = m.UseSSL
	if m.PresignTTLSec > 0 {
		dst.Media.PresignTTLSec = m.PresignTTLSec
	}

	if v := strings.TrimSpace(src.Server.Addr); v != "" {
		dst.Server.Addr = v
	}
	if src.Server.RatePerSec > 0 {
		dst.Server.RatePerSec = src.Server.RatePerSec
	}
	if src.Server.RateBurst > 0 {
		dst.Server.RateBurst = src.Server.RateBurst
	}
	if src.Server.TimeoutMs > 0 {
		dst.Server.TimeoutMs = src.Server.TimeoutMs
	}

	// logging
	if strings.TrimSpace(src.Logging.Level) != "" {
		dst.Logging.Level = strings.ToLower(strings.TrimSpace(src.Logging.Level))
	}
	if strings.TrimSpace(src.Logging.Format) != "" {
		dst.Logging.Format = strings.ToLower(strings.TrimSpace(src.Logging.Format))
	}
	dst.Logging.Source = src.Logging.Source
	if strings.TrimSpace(src.Logging.File) != "" {
		dst.Logging.File = strings.TrimSpace(src.Logging.File)
	}
	if src.Logging.MaxSizeMB > 0 {
		dst.Logging.MaxSizeMB = src.Logging.MaxSizeMB
	}
	if src.Logging.MaxBackups > 0 {
		dst.Logging.MaxBackups = src.Logging.MaxBackups
	}
}

func parseBool(v string) bool {
	lv := strings.ToLower(strings.TrimSpace(v))
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

func applyEnvOverrides(cfg *AppConfig) {
	str := func(env string, dst *string, lower bool) {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			if lower {
				v = strings.ToLower(v)
			}
			*dst = v
		}
	}
	boolean := func(env string, dst *bool) {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*dst = parseBool(v)
		}
	}

	boolean(EnvTelemetryOptIn, &cfg.General.TelemetryOptIn)
	boolean(EnvEnableServer, &cfg.General.EnableServer)
	if v := strings.TrimSpace(os.Getenv(EnvSnapThreshold)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Editor.SnapThreshold = f
		}
	}
	str(EnvFitter, &cfg.Editor.Fitter, true)
	str(EnvFontDir, &cfg.Editor.FontDir, false)
	str(EnvStorageDriver, &cfg.Storage.Driver, true)
	str(EnvStoragePath, &cfg.Storage.Path, false)
	str(EnvPostgresDSN, &cfg.Storage.PostgresDSN, false)
	str(EnvRemoteURL, &cfg.Storage.RemoteURL, false)
	str(EnvRedisAddr, &cfg.Storage.RedisAddr, false)
	str(EnvMediaEndpoint, &cfg.Media.Endpoint, false)
	str(EnvMediaBucket, &cfg.Media.Bucket, false)
	str(EnvMediaAccessKey, &cfg.Media.AccessKeyID, false)
	str(EnvServerAddr, &cfg.Server.Addr, false)
	// logging overrides
	str(EnvLogLevel, &cfg.Logging.Level, true)
	str(EnvLogFormat, &cfg.Logging.Format, true)
	boolean(EnvLogSource, &cfg.Logging.Source)
	str(EnvLogFile, &cfg.Logging.File, false)
}

var overrideEnv = map[string]string{
	"general.telemetry_opt_in": EnvTelemetryOptIn,
	"general.enable_server":    EnvEnableServer,
	"editor.snap_threshold":    EnvSnapThreshold,
	"editor.fitter":            EnvFitter,
	"editor.font_dir":          EnvFontDir,
	"storage.driver":           EnvStorageDriver,
	"storage.path":             EnvStoragePath,
	"storage.postgres_dsn":     EnvPostgresDSN,
	"storage.remote_url":       EnvRemoteURL,
	"storage.redis_addr":       EnvRedisAddr,
	"media.endpoint":           EnvMediaEndpoint,
	"media.bucket":             EnvMediaBucket,
	"media.access_key_id":      EnvMediaAccessKey,
	"server.addr":              EnvServerAddr,
	"logging.level":            EnvLogLevel,
	"logging.format":           EnvLogFormat,
	"logging.source":           EnvLogSource,
	"logging.file":             EnvLogFile,
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	env, ok := overrideEnv[key]
	if !ok || os.Getenv(env) == "" {
		return "", false
	}
	return env, true
}

// Debounce returns the persistence debounce interval.
func (e EditorConfig) Debounce() time.Duration {
	if e.DebounceMs <= 0 {
		return time.Duration(Defaults().Editor.DebounceMs) * time.Millisecond
	}
	return time.Duration(e.DebounceMs) * time.Millisecond
}

// Timeout returns the server request timeout.
func (s ServerConfig) Timeout() time.Duration {
	if s.TimeoutMs <= 0 {
		return time.Duration(Defaults().Server.TimeoutMs) * time.Millisecond
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// CacheTTL returns the redis cache entry lifetime.
func (s StorageConfig) CacheTTL() time.Duration {
	if s.CacheTTLSec <= 0 {
		return time.Duration(Defaults().Storage.CacheTTLSec) * time.Second
	}
	return time.Duration(s.CacheTTLSec) * time.Second
}
