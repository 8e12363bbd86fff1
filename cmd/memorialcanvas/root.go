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
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"memorialcanvas/internal/config"
	"memorialcanvas/internal/crash"
	applog "memorialcanvas/internal/log"
	"memorialcanvas/internal/telemetry"
	"memorialcanvas/internal/version"
)

// app carries what every subcommand shares once the root has loaded the configuration.
type app struct {
	out   io.Writer
	crash *crash.Session
	cfg   config.AppConfig
	sec   config.Secrets
	tel   *telemetry.Client
	log   *slog.Logger

	driver  string
	path    string
	verbose bool
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "memorialcanvas",
		Short:        "Memorial Canvas editor backend and tooling",
		Long:         `memorialcanvas serves the canvas HTTP API and edits, inspects and exports stored memorial canvases.`,
		Version:      version.String(),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a.tel == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			a.tel.Flush(ctx)
		},
	}
	root.SetOut(a.out)
	root.SetVersionTemplate("memorialcanvas {{.Version}}\n")
	root.PersistentFlags().StringVar(&a.driver, "driver", "", "storage driver: sqlite, postgres, file or remote")
	root.PersistentFlags().StringVar(&a.path, "store", "", "storage path, DSN or URL for the selected driver")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(a.versionCommand())
	root.AddCommand(a.serveCommand())
	root.AddCommand(a.inspectCommand())
	root.AddCommand(a.importCommand())
	root.AddCommand(a.exportCommand())
	root.AddCommand(a.placeCommand())
	root.AddCommand(a.addCommand())
	root.AddCommand(a.editCommand())
	root.AddCommand(a.moveCommand())
	root.AddCommand(a.resizeCommand())
	root.AddCommand(a.fontsCommand())
	return root
}

// setup loads the configuration, applies flag overrides and starts logging and telemetry.
func (a *app) setup() error {
	cfg, sec, err := config.Load()
	if err != nil {
		return err
	}
	if a.driver != "" {
		cfg.Storage.Driver = a.driver
	}
	if a.path != "" {
		switch cfg.Storage.Driver {
		case "postgres":
			cfg.Storage.PostgresDSN = a.path
		case "remote":
			cfg.Storage.RemoteURL = a.path
		default:
			cfg.Storage.Path = a.path
		}
	}
	a.cfg, a.sec = cfg, sec

	lo := applog.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		AddSource:  cfg.Logging.Source,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	}
	if a.verbose {
		lo.Level = "debug"
	}
	applog.Init(lo)
	a.log = applog.WithComponent("cli")

	tc := telemetry.FromEnv()
	tc.OptIn = tc.OptIn || cfg.General.TelemetryOptIn
	a.tel = telemetry.NewDefault(tc)

	if a.crash != nil {
		a.crash.Dir = a.dataDir()
	}
	a.log.Debug("configured", slog.String("driver", cfg.Storage.Driver), slog.String("version", version.String()))
	return nil
}

// dataDir is where local databases, files and crash backups live.
func (a *app) dataDir() string {
	if a.cfg.Storage.Path != "" && a.cfg.Storage.Driver != "postgres" && a.cfg.Storage.Driver != "remote" {
		return a.cfg.Storage.Path
	}
	if p, err := config.ConfigPath(); err == nil {
		return filepath.Join(filepath.Dir(p), "data")
	}
	return filepath.Join(os.TempDir(), "memorialcanvas")
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := io.WriteString(cmd.OutOrStdout(), "memorialcanvas "+version.String()+"\n")
			return err
		},
	}
}
