/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */


package main

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"memorialcanvas/internal/backend"
	"memorialcanvas/internal/media"
	"memorialcanvas/internal/telemetry"
)

func (a *app) serveCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the canvas HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			st, err := a.openStack(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := st.Close(); err != nil {
					a.log.Warn("close storage", slog.Any("err", err))
				}
			}()

			var up backend.Uploader
			if a.cfg.Media.Endpoint != "" {
				ms, err := media.New(ctx, media.OptionsFromConfig(a.cfg.Media, a.sec.MediaSecretKey))
				if err != nil {
					return err
				}
				up = ms
			} else {
				a.log.Info("no media endpoint configured, uploads are disabled")
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			h := backend.NewRouter(backend.Options{
				Backend:    st.Backend,
				Media:      up,
				Ready:      st.Ready,
				RatePerSec: a.cfg.Server.RatePerSec,
				RateBurst:  a.cfg.Server.RateBurst,
				Timeout:    a.cfg.Server.Timeout(),
				Registerer: reg,
				Gatherer:   reg,
			})
			telemetry.Emit("server_started", map[string]any{"driver": a.cfg.Storage.Driver, "media": up != nil})
			return backend.Serve(ctx, addr, h)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
