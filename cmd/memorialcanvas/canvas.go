/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */


package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"memorialcanvas/internal/backend"
	"memorialcanvas/internal/canvas"
	"memorialcanvas/internal/domain"
	"memorialcanvas/internal/export"
	"memorialcanvas/internal/telemetry"
	"memorialcanvas/internal/vector"
)

func (a *app) inspectCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect [canvas]",
		Short: "List stored canvases or show the elements of one canvas",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStack(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				if st.lister == nil {
					return fmt.Errorf("driver %q cannot list canvases", a.cfg.Storage.Driver)
				}
				ids, err := st.lister.Canvases(ctx)
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(out, id)
				}
				return nil
			}

			doc, err := a.loadDocument(ctx, st, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				b, err := json.MarshalIndent(doc, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(b))
				return err
			}
			fmt.Fprintf(out, "canvas %s %q %gx%g revision %d\n", doc.ID, doc.Title, doc.Width, doc.Height, doc.Revision)
			if err := domain.Validate(doc); err != nil {
				fmt.Fprintf(out, "invalid: %v\n", err)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tKIND\tBOUNDS\tOPACITY\tDETAIL")
			for _, el := range canvas.NewStore(doc).Elements() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", el.Key, el.Kind, formatRect(el.Bounds), el.Opacity, detail(el))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the assembled document as JSON")
	return cmd
}

func detail(el canvas.Element) string {
	switch {
	case el.Text != nil:
		s := el.Text.Content
		if r := []rune(s); len(r) > 32 {
			s = string(r[:32]) + "…"
		}
		return fmt.Sprintf("%q %gpt", s, el.Text.FontSize)
	case el.Media != nil:
		return el.Media.SourceRef
	}
	return ""
}

func (a *app) importCommand() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "import <document.json>",
		Short: "Validate a canvas document and store all of its targets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if err := domain.ValidateJSON(raw); err != nil {
				return err
			}
			var doc domain.Document
			if err := json.Unmarshal(raw, &doc); err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}
			if id != "" {
				doc.ID = id
			}
			if err := domain.Validate(doc); err != nil {
				return err
			}
			st, err := a.openStack(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if rc, ok := st.Backend.(*backend.Client); ok {
				if err := rc.ImportDocument(ctx, doc); err != nil {
					return err
				}
			} else if err := a.writeDocument(ctx, st, doc); err != nil {
				return err
			}
			a.log.Info("canvas imported", slog.String("canvas", doc.ID))
			fmt.Fprintf(cmd.OutOrStdout(), "imported %s\n", doc.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "store under this canvas id instead of the document's")
	return cmd
}

func (a *app) exportCommand() *cobra.Command {
	var (
		out     string
		preset  string
		formats []string
		scale   float64
		guides  bool
	)
	cmd := &cobra.Command{
		Use:   "export <canvas>...",
		Short: "Render canvases to PDF, SVG, PNG or a ZIP archive",
		Long: `With a single canvas and an output file the format follows the file extension.
Otherwise every canvas is written to <out>/<format>/<canvas>.<format> using the preset.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStack(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			_, provider, err := a.textEngine()
			if err != nil {
				return err
			}

			docs := make([]domain.Document, 0, len(args))
			for _, id := range args {
				doc, err := a.loadDocument(ctx, st, id)
				if err != nil {
					return err
				}
				docs = append(docs, doc)
			}

			single := len(docs) == 1 && preset == "" && len(formats) == 0 && filepath.Ext(out) != ""
			if single {
				opts := export.Options{IncludeGuides: guides, Scale: scale, Provider: provider}
				if err := export.WriteFile(out, docs[0], opts); err != nil {
					return err
				}
				telemetry.Emit("canvas_exported", map[string]any{"format": strings.TrimPrefix(filepath.Ext(out), "."), "canvases": 1})
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			}

			bo := export.BatchOptions{Preset: export.PresetName(preset), Formats: formats, Scale: scale, OutDir: out}
			if bo.Preset == "" {
				bo.Preset = export.PresetWeb
			}
			if cmd.Flags().Changed("guides") {
				bo.IncludeGuides = &guides
			}
			written, err := export.BatchExport(docs, bo)
			for _, p := range written {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			if err != nil {
				return err
			}
			telemetry.Emit("canvas_exported", map[string]any{"preset": string(bo.Preset), "canvases": len(docs), "files": len(written)})
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file, or directory for batch exports")
	cmd.Flags().StringVar(&preset, "preset", "", "batch preset: web or print")
	cmd.Flags().StringSliceVar(&formats, "format", nil, "batch formats: pdf, svg, png, zip")
	cmd.Flags().Float64Var(&scale, "scale", 0, "raster scale factor")
	cmd.Flags().BoolVar(&guides, "guides", false, "draw element outlines")
	return cmd
}

type placeFlags struct {
	at     string
	margin float64
	grid   float64
}

func (f *placeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.at, "at", "", "preferred centre as x,y")
	cmd.Flags().Float64Var(&f.margin, "margin", 16, "clearance to the canvas edges")
	cmd.Flags().Float64Var(&f.grid, "grid", 8, "search grid step")
}

func (f *placeFlags) options() (vector.PlaceOptions, error) {
	po := vector.PlaceOptions{Margin: float32(f.margin), GridStep: float32(f.grid)}
	if f.at == "" {
		return po, nil
	}
	xs, ys, ok := strings.Cut(f.at, ",")
	x, errX := strconv.ParseFloat(strings.TrimSpace(xs), 32)
	y, errY := strconv.ParseFloat(strings.TrimSpace(ys), 32)
	if !ok || errX != nil || errY != nil {
		return po, fmt.Errorf("invalid --at %q, want x,y", f.at)
	}
	po.Anchor, po.HasAnchor = vector.Pt{X: float32(x), Y: float32(y)}, true
	return po, nil
}

// suggest finds a free slot of size on doc, ignoring the element at skip.
func suggest(doc domain.Document, size vector.Size, skip canvas.FieldKey, po vector.PlaceOptions) (vector.Rect, int) {
	var obstacles []vector.Rect
	for _, el := range canvas.NewStore(doc).Elements() {
		if el.Key != skip {
			obstacles = append(obstacles, el.Bounds)
		}
	}
	area := vector.R(0, 0, float32(doc.Width), float32(doc.Height))
	return vector.SuggestPlacement(area, size, obstacles, po)
}

func (a *app) placeCommand() *cobra.Command {
	var pf placeFlags
	cmd := &cobra.Command{
		Use:   "place <canvas> <kind>",
		Short: "Suggest a free position for a new element",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			kind := domain.Kind(args[1])
			if !kind.Valid() {
				return fmt.Errorf("unknown kind %q", args[1])
			}
			po, err := pf.options()
			if err != nil {
				return err
			}
			st, err := a.openStack(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			doc, err := a.loadDocument(ctx, st, args[0])
			if err != nil {
				return err
			}
			r, n := suggest(doc, canvas.DefaultSize(kind), canvas.FieldKey{}, po)
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d candidates)\n", formatRect(r), n)
			return nil
		},
	}
	pf.register(cmd)
	return cmd
}

func (a *app) addCommand() *cobra.Command {
	var (
		pf         placeFlags
		field      string
		collection string
		set        []string
	)
	cmd := &cobra.Command{
		Use:   "add <canvas> <kind>",
		Short: "Add a field or collection item at a free position",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			kind := domain.Kind(args[1])
			if (field == "") == (collection == "") {
				return errors.New("exactly one of --field or --collection is required")
			}
			po, err := pf.options()
			if err != nil {
				return err
			}
			extra, err := parseStyle(set)
			if err != nil {
				return err
			}
			st, err := a.openStack(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			s, err := a.openCanvas(ctx, st, args[0])
			if err != nil {
				return err
			}

			var key canvas.FieldKey
			if field != "" {
				if _, err := s.cv.AddField(ctx, field, kind); err != nil {
					return errors.Join(err, s.close(ctx))
				}
				key = canvas.Singleton(field)
			} else if key, _, err = s.cv.AddItem(ctx, collection, kind); err != nil {
				return errors.Join(err, s.close(ctx))
			}
			el, err := s.cv.Element(key)
			if err != nil {
				return errors.Join(err, s.close(ctx))
			}
			r, _ := suggest(s.cv.View(), el.Bounds.Size(), key, po)
			style := geometry(r)
			for k, v := range extra {
				style[k] = v
			}
			if _, err := s.cv.SetStyle(ctx, key, style); err != nil {
				return errors.Join(err, s.close(ctx))
			}
			if err := s.close(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", key, formatRect(r))
			return nil
		},
	}
	pf.register(cmd)
	cmd.Flags().StringVar(&field, "field", "", "singleton field name")
	cmd.Flags().StringVar(&collection, "collection", "", "collection to append to")
	cmd.Flags().StringArrayVar(&set, "set", nil, "extra attribute as attr=value (repeatable)")
	return cmd
}

func (a *app) editCommand() *cobra.Command {
	var (
		set    []string
		remove bool
	)
	cmd := &cobra.Command{
		Use:   "edit <canvas> <key>",
		Short: "Change attributes of an element or delete it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			key, err := canvas.ParseFieldKey(args[1])
			if err != nil {
				return err
			}
			style, err := parseStyle(set)
			if err != nil {
				return err
			}
			if !remove && len(style) == 0 {
				return errors.New("nothing to do: pass --set or --delete")
			}
			st, err := a.openStack(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			s, err := a.openCanvas(ctx, st, args[0])
			if err != nil {
				return err
			}
			if remove {
				_, err = s.cv.Delete(ctx, key)
			} else {
				_, err = s.cv.SetStyle(ctx, key, style)
			}
			if err != nil {
				return errors.Join(err, s.close(ctx))
			}
			if err := s.close(ctx); err != nil {
				return err
			}
			if remove {
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", key)
				return nil
			}
			el, err := s.cv.Element(key)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", key, formatRect(el.Bounds))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&set, "set", nil, "attribute as attr=value (repeatable)")
	cmd.Flags().BoolVar(&remove, "delete", false, "delete the element")
	return cmd
}

// gesture runs one drag or resize from the origin to (dx, dy) through the canvas controller.
func (a *app) gesture(cmd *cobra.Command, args []string, handle canvas.Handle, dx, dy float64) error {
	ctx := cmd.Context()
	key, err := canvas.ParseFieldKey(args[1])
	if err != nil {
		return err
	}
	st, err := a.openStack(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	s, err := a.openCanvas(ctx, st, args[0])
	if err != nil {
		return err
	}
	ctrl := s.cv.Controller()
	if handle == "" {
		err = ctrl.BeginDrag(key, vector.Pt{})
	} else {
		err = ctrl.BeginResize(key, handle, vector.Pt{})
	}
	if err != nil {
		return errors.Join(err, s.close(ctx))
	}
	frame := ctrl.Move(vector.Pt{X: float32(dx), Y: float32(dy)})
	if frame.Aborted {
		return errors.Join(fmt.Errorf("%s: %w", key, canvas.ErrMissingElement), s.close(ctx))
	}
	if _, err := ctrl.End(ctx); err != nil {
		return errors.Join(err, s.close(ctx))
	}
	if err := s.close(ctx); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", key, formatRect(frame.Bounds))
	if frame.FontSize > 0 {
		fmt.Fprintf(out, "font size %g\n", frame.FontSize)
	}
	for _, g := range frame.Guides {
		fmt.Fprintf(out, "guide %s %s at %g\n", g.Orientation, g.Kind, g.Position)
	}
	return nil
}

func (a *app) moveCommand() *cobra.Command {
	var dx, dy float64
	cmd := &cobra.Command{
		Use:   "move <canvas> <key>",
		Short: "Drag an element by an offset, snapping to its siblings",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.gesture(cmd, args, "", dx, dy)
		},
	}
	cmd.Flags().Float64Var(&dx, "dx", 0, "horizontal offset")
	cmd.Flags().Float64Var(&dy, "dy", 0, "vertical offset")
	return cmd
}

func (a *app) resizeCommand() *cobra.Command {
	var (
		dx, dy float64
		handle string
	)
	cmd := &cobra.Command{
		Use:   "resize <canvas> <key>",
		Short: "Resize an element by dragging one of its handles",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h := canvas.Handle(handle)
			if !h.Valid() {
				return fmt.Errorf("unknown handle %q", handle)
			}
			return a.gesture(cmd, args, h, dx, dy)
		},
	}
	cmd.Flags().StringVar(&handle, "handle", string(canvas.HandleSE), "resize handle: n, ne, e, se, s, sw, w, nw")
	cmd.Flags().Float64Var(&dx, "dx", 0, "horizontal offset")
	cmd.Flags().Float64Var(&dy, "dy", 0, "vertical offset")
	return cmd
}
