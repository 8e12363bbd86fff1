/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */


package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"memorialcanvas/internal/fontpack"
)

func (a *app) fontsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fonts",
		Short: "Share and install font packs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "export <pack.zip>",
		Short: "Pack the font directory into a ZIP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := fontpack.Export(a.fontDir(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "packed %d fonts into %s\n", n, args[0])
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "install <pack.zip>",
		Short: "Install the fonts of a pack into the font directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := fontpack.Install(a.fontDir(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "installed %d fonts into %s\n", n, a.fontDir())
			return nil
		},
	})
	return cmd
}
