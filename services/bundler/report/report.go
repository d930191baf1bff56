// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report renders build results for the terminal.
//
// Output is styled with lipgloss when the writer is a terminal and plain
// otherwise, so piped output and tests see stable text.
package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/AleutianPack/services/bundler/build"
	"github.com/AleutianAI/AleutianPack/services/bundler/compiler"
	"github.com/AleutianAI/AleutianPack/services/bundler/graph"
	"github.com/AleutianAI/AleutianPack/services/bundler/transform"
)

var (
	colorOK      = lipgloss.Color("#2CD7C7")
	colorAccent  = lipgloss.Color("#20B9B4")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#2C4A54")
)

const (
	iconOK    = "✓"
	iconError = "✗"
	iconArrow = "→"
)

// Options configures a Printer.
type Options struct {
	// Root shortens module paths to root-relative form.
	Root string

	// NoColor disables styling even on a terminal.
	NoColor bool
}

type styles struct {
	title, ok, warn, err, muted, path lipgloss.Style
}

// Printer writes reports to one writer.
type Printer struct {
	w     io.Writer
	root  string
	color bool
	st    styles
}

// New creates a Printer.
func New(w io.Writer, opts Options) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:     w,
		root:  opts.Root,
		color: !opts.NoColor && IsTerminal(w),
		st: styles{
			title: r.NewStyle().Bold(true).Foreground(colorOK),
			ok:    r.NewStyle().Foreground(colorOK),
			warn:  r.NewStyle().Foreground(colorWarning),
			err:   r.NewStyle().Foreground(colorError).Bold(true),
			muted: r.NewStyle().Foreground(colorMuted),
			path:  r.NewStyle().Foreground(colorAccent),
		},
	}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *Printer) paint(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

// rel shortens an id for display. Queries are kept.
func (p *Printer) rel(id graph.ModuleId) string {
	if p.root == "" {
		return string(id)
	}
	path := id.Path()
	r, err := filepath.Rel(p.root, filepath.FromSlash(path))
	if err != nil || strings.HasPrefix(r, "..") {
		return string(id)
	}
	out := filepath.ToSlash(r)
	if q := id.Query(); q != "" {
		out += "?" + q
	}
	return out
}

// Location formats where a module error happened as path:line:col with a
// 1-based column. Lowering errors carry their own position.
func (p *Printer) Location(e *build.ModuleError) string {
	loc := p.rel(e.ModuleId)
	line, col := e.Span.Line, e.Span.Column+1
	var lerr *transform.LoweringError
	if line == 0 && errors.As(e.Err, &lerr) && lerr.Line > 0 {
		line, col = lerr.Line, lerr.Column+1
	}
	if line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", loc, line, col)
	}
	return loc
}

// Message is the human text of a module error.
func Message(e *build.ModuleError) string {
	if e.Kind == build.ResolveError && e.Source != "" {
		msg := build.MissingMessage(e.Source)
		if errors.Is(e.Err, build.ErrLoaderSyntax) {
			return msg + ": " + e.Err.Error()
		}
		return msg
	}
	var lerr *transform.LoweringError
	if errors.As(e.Err, &lerr) {
		return strings.Join(lerr.Messages, "; ")
	}
	if e.Err == nil {
		return e.Kind.String() + " failed"
	}
	return e.Err.Error()
}

// Errors prints every module error, sorted by location.
func (p *Printer) Errors(errs []*build.ModuleError) {
	sorted := append([]*build.ModuleError(nil), errs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.ModuleId != b.ModuleId {
			return a.ModuleId < b.ModuleId
		}
		return a.Span.Start < b.Span.Start
	})
	for _, e := range sorted {
		fmt.Fprintf(p.w, "%s %s %s\n  %s\n",
			p.paint(p.st.err, iconError),
			p.paint(p.st.err, fmt.Sprintf("%-9s", e.Kind.String())),
			p.paint(p.st.path, p.Location(e)),
			Message(e),
		)
	}
}

// Failure prints an error returned by the compiler. Aggregates are
// expanded into their module errors.
func (p *Printer) Failure(err error) {
	var agg *build.BuildAggregateError
	if errors.As(err, &agg) {
		mods := agg.ModuleErrors()
		p.Errors(mods)
		fmt.Fprintln(p.w, p.paint(p.st.err, fmt.Sprintf("Build failed with %d %s.", len(mods), plural(len(mods), "error", "errors"))))
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.paint(p.st.err, iconError), err.Error())
}

// Summary prints the outcome of a compilation.
func (p *Printer) Summary(res *compiler.Result) {
	if res.Unchanged {
		fmt.Fprintln(p.w, p.paint(p.st.muted, "No tracked modules changed."))
		return
	}
	if errs := res.Errors(); len(errs) > 0 {
		p.Errors(errs)
	}

	modules := 0
	if res.Graph != nil {
		modules = res.Graph.Stats().Modules
	}
	head := iconOK
	style := p.st.ok
	if len(res.Errors()) > 0 {
		head = iconError
		style = p.st.warn
	}
	fmt.Fprintf(p.w, "%s %s %s\n",
		p.paint(style, head),
		p.paint(p.st.title, fmt.Sprintf("%d %s", modules, plural(modules, "module", "modules"))),
		p.paint(p.st.muted, fmt.Sprintf("in %s", res.Duration.Round(time.Millisecond))),
	)

	details := []string{
		fmt.Sprintf("built %d", len(res.Wave.Built)),
		fmt.Sprintf("shaken %d", len(res.Shake.Removed)),
		fmt.Sprintf("rewritten %d", len(res.Shake.Rewritten)),
		fmt.Sprintf("concatenated %d", len(res.Concat.Removed)),
	}
	if len(res.Pruned) > 0 {
		details = append(details, fmt.Sprintf("pruned %d", len(res.Pruned)))
	}
	if n := len(res.Errors()); n > 0 {
		details = append(details, fmt.Sprintf("%d %s", n, plural(n, "error", "errors")))
	}
	fmt.Fprintf(p.w, "  %s\n", p.paint(p.st.muted, strings.Join(details, " · ")))
}

// Graph prints every module with its dependencies, then the cycle groups.
func (p *Printer) Graph(g *graph.ModuleGraph, cycles [][]graph.ModuleId) {
	for _, m := range g.GetModules() {
		marker := " "
		if m.IsEntry {
			marker = "*"
		}
		flags := []string{m.Kind.String()}
		if m.SideEffects {
			flags = append(flags, "side-effects")
		}
		if m.Info != nil && m.Info.IsErrorModule {
			flags = append(flags, "error")
		}
		fmt.Fprintf(p.w, "%s %s %s\n", marker, p.paint(p.st.path, p.rel(m.Id)), p.paint(p.st.muted, "("+strings.Join(flags, ", ")+")"))
		for _, ref := range g.GetDependencies(m.Id) {
			fmt.Fprintf(p.w, "    %s %s %s\n",
				p.paint(p.st.muted, iconArrow),
				p.rel(ref.Id),
				p.paint(p.st.muted, fmt.Sprintf("[%s %q]", ref.Dependency.ResolveType, ref.Dependency.Source)),
			)
		}
		if m.Info != nil {
			missing := make([]string, 0, len(m.Info.Missing))
			for src := range m.Info.Missing {
				missing = append(missing, src)
			}
			sort.Strings(missing)
			for _, src := range missing {
				fmt.Fprintf(p.w, "    %s %s\n", p.paint(p.st.warn, iconError), p.paint(p.st.warn, m.Info.Missing[src]))
			}
		}
	}

	if len(cycles) == 0 {
		return
	}
	fmt.Fprintln(p.w, p.paint(p.st.warn, fmt.Sprintf("%d %s:", len(cycles), plural(len(cycles), "cycle", "cycles"))))
	for _, c := range cycles {
		names := make([]string, len(c))
		for i, id := range c {
			names[i] = p.rel(id)
		}
		fmt.Fprintf(p.w, "  %s\n", strings.Join(names, " "+iconArrow+" "))
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
