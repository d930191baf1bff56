// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolve maps import specifiers to module ids.
//
// Resolution order for a specifier:
//  1. externals (exact match) produce an External resolution,
//  2. ignore patterns produce an Ignored resolution,
//  3. aliases rewrite the specifier prefix,
//  4. relative and absolute specifiers are probed against the file system
//     with the configured extensions and index files,
//  5. bare specifiers walk node_modules directories upward from the
//     importer and read the package entry from package.json.
//
// Every resolved file also carries the "sideEffects" verdict of its
// nearest package.json when one is declared.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianPack/services/bundler/graph"
)

// Kind is the outcome of a resolution.
type Kind int

const (
	// KindResolved names a file on disk.
	KindResolved Kind = iota

	// KindExternal names a runtime global provided outside the bundle.
	KindExternal

	// KindIgnored maps the specifier to an empty module.
	KindIgnored
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindResolved:
		return "resolved"
	case KindExternal:
		return "external"
	case KindIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// External configures one externalized specifier.
type External struct {
	// Global is the runtime expression the module evaluates to.
	Global string `yaml:"global" validate:"required"`

	// ScriptURL, when set, is loaded before the global is read.
	ScriptURL string `yaml:"script,omitempty" validate:"omitempty,url"`
}

// Resolution is where a specifier points.
type Resolution struct {
	Kind Kind

	// Id is the module id: the file path plus query for resolved files,
	// a virtual id for externals and ignored specifiers.
	Id graph.ModuleId

	// Path is the resolved file. Empty unless Kind is KindResolved.
	Path string

	// Query is the virtual query without "?".
	Query string

	// External is set when Kind is KindExternal.
	External *graph.ExternalInfo

	// SideEffects is the package.json verdict, nil when undeclared.
	SideEffects *bool
}

// Resolver maps a specifier seen in importer to a module.
type Resolver interface {
	Resolve(ctx context.Context, importer, specifier string) (Resolution, error)
}

// Options configures a NodeResolver.
type Options struct {
	// Root is the project root. package.json lookups stop here.
	Root string

	Externals map[string]External

	// Alias maps a specifier prefix to its replacement.
	Alias map[string]string

	// Ignores are matched against the raw specifier.
	Ignores []*regexp.Regexp

	// Extensions are probed in order for extensionless paths.
	Extensions []string

	Logger *slog.Logger
}

// DefaultExtensions is the probe order used when Options.Extensions is empty.
var DefaultExtensions = []string{".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs", ".json"}

// NodeResolver resolves with node_modules semantics.
//
// Thread Safety: Safe for concurrent use. package.json reads are cached
// and concurrent reads of the same file are collapsed.
type NodeResolver struct {
	opts    Options
	aliases []string

	pkgs   sync.Map // dir -> *packageJSON (nil stored as (*packageJSON)(nil))
	flight singleflight.Group
	logger *slog.Logger
}

// New creates a NodeResolver.
func New(opts Options) *NodeResolver {
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	if opts.Root != "" {
		opts.Root = filepath.Clean(opts.Root)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	aliases := make([]string, 0, len(opts.Alias))
	for k := range opts.Alias {
		aliases = append(aliases, k)
	}
	// Longest prefix wins; ties broken lexically.
	sort.Slice(aliases, func(i, j int) bool {
		if len(aliases[i]) != len(aliases[j]) {
			return len(aliases[i]) > len(aliases[j])
		}
		return aliases[i] < aliases[j]
	})

	return &NodeResolver{opts: opts, aliases: aliases, logger: logger.With(slog.String("component", "resolver"))}
}

// ExternalId returns the virtual id of an external specifier.
func ExternalId(specifier string) graph.ModuleId {
	return graph.ModuleId("external:" + specifier)
}

// IgnoredId returns the virtual id of an ignored specifier.
func IgnoredId(specifier string) graph.ModuleId {
	return graph.ModuleId("ignored:" + specifier)
}

// Resolve maps specifier, as written in importer, to a module.
//
// # Inputs
//
//   - ctx: Checked before file system probing.
//   - importer: Absolute path of the importing file.
//   - specifier: The import source, possibly with a "?query".
//
// # Outputs
//
//   - Resolution: The target.
//   - error: ErrNotFound (wrapped with the specifier) when nothing matches,
//     ErrEmptySpecifier, or a package.json error.
func (r *NodeResolver) Resolve(ctx context.Context, importer, specifier string) (Resolution, error) {
	if specifier == "" {
		return Resolution{}, ErrEmptySpecifier
	}
	if err := ctx.Err(); err != nil {
		return Resolution{}, err
	}

	if ext, ok := r.opts.Externals[specifier]; ok {
		return Resolution{
			Kind:     KindExternal,
			Id:       ExternalId(specifier),
			External: &graph.ExternalInfo{Global: ext.Global, ScriptURL: ext.ScriptURL},
		}, nil
	}
	for _, re := range r.opts.Ignores {
		if re.MatchString(specifier) {
			return Resolution{Kind: KindIgnored, Id: IgnoredId(specifier)}, nil
		}
	}

	request, query := splitQuery(specifier)
	request = r.applyAlias(request)

	var (
		path string
		err  error
	)
	switch {
	case isRelative(request):
		path, err = r.resolvePath(filepath.Join(filepath.Dir(importer), request))
	case filepath.IsAbs(request):
		path, err = r.resolvePath(request)
	default:
		path, err = r.resolveBare(filepath.Dir(importer), request)
	}
	if err != nil {
		return Resolution{}, err
	}
	if path == "" {
		return Resolution{}, fmt.Errorf("%w '%s' in '%s'", ErrNotFound, specifier, importer)
	}

	sideEffects, err := r.describedSideEffects(path)
	if err != nil {
		return Resolution{}, err
	}

	return Resolution{
		Kind:        KindResolved,
		Id:          graph.NewModuleId(path, query),
		Path:        path,
		Query:       query,
		SideEffects: sideEffects,
	}, nil
}

func (r *NodeResolver) applyAlias(request string) string {
	for _, key := range r.aliases {
		if request == key {
			return r.opts.Alias[key]
		}
		if strings.HasPrefix(request, key+"/") {
			return r.opts.Alias[key] + request[len(key):]
		}
	}
	return request
}

// resolvePath probes a file, then extensions, then a directory.
func (r *NodeResolver) resolvePath(p string) (string, error) {
	if isFile(p) {
		return p, nil
	}
	for _, ext := range r.opts.Extensions {
		if isFile(p + ext) {
			return p + ext, nil
		}
	}
	if !isDir(p) {
		return "", nil
	}

	pkg, err := r.packageAt(p)
	if err != nil {
		return "", err
	}
	if pkg != nil {
		if entry := pkg.entryField(); entry != "" {
			target := filepath.Join(p, entry)
			if isFile(target) {
				return target, nil
			}
			for _, ext := range r.opts.Extensions {
				if isFile(target + ext) {
					return target + ext, nil
				}
			}
			if found := r.resolveIndex(target); found != "" {
				return found, nil
			}
		}
	}
	return r.resolveIndex(p), nil
}

func (r *NodeResolver) resolveIndex(dir string) string {
	for _, ext := range r.opts.Extensions {
		candidate := filepath.Join(dir, "index"+ext)
		if isFile(candidate) {
			return candidate
		}
	}
	return ""
}

// resolveBare walks node_modules directories from dir to the file system
// root.
func (r *NodeResolver) resolveBare(dir, request string) (string, error) {
	name, subpath := splitPackage(request)
	for {
		pkgDir := filepath.Join(dir, "node_modules", name)
		if isDir(pkgDir) {
			if subpath != "" {
				return r.resolvePath(filepath.Join(pkgDir, subpath))
			}
			return r.resolvePath(pkgDir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// describedSideEffects finds the nearest package.json of file and returns
// its sideEffects verdict. The walk does not go above Root when file is
// inside Root.
func (r *NodeResolver) describedSideEffects(file string) (*bool, error) {
	dir := filepath.Dir(file)
	stopAtRoot := r.opts.Root != "" && within(r.opts.Root, file)
	for {
		pkg, err := r.packageAt(dir)
		if err != nil {
			return nil, err
		}
		if pkg != nil {
			return pkg.sideEffectsFor(file), nil
		}
		if stopAtRoot && dir == r.opts.Root {
			return nil, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// packageAt returns the cached package.json of dir, or nil.
func (r *NodeResolver) packageAt(dir string) (*packageJSON, error) {
	if v, ok := r.pkgs.Load(dir); ok {
		return v.(*packageJSON), nil
	}
	v, err, _ := r.flight.Do(dir, func() (interface{}, error) {
		pkg, err := readPackageJSON(dir)
		if err != nil {
			return nil, err
		}
		r.pkgs.Store(dir, pkg)
		return pkg, nil
	})
	if err != nil {
		r.logger.Warn("package.json unreadable", slog.String("dir", dir), slog.String("error", err.Error()))
		return nil, err
	}
	return v.(*packageJSON), nil
}

// splitQuery separates "./a.txt?raw" into "./a.txt" and "raw".
func splitQuery(specifier string) (string, string) {
	if i := strings.IndexByte(specifier, '?'); i >= 0 {
		return specifier[:i], specifier[i+1:]
	}
	return specifier, ""
}

// splitPackage separates a bare request into package name and subpath,
// keeping scoped names ("@scope/name") whole.
func splitPackage(request string) (string, string) {
	parts := strings.SplitN(request, "/", 3)
	if strings.HasPrefix(request, "@") && len(parts) >= 2 {
		name := parts[0] + "/" + parts[1]
		if len(parts) == 3 {
			return name, parts[2]
		}
		return name, ""
	}
	name, sub, _ := strings.Cut(request, "/")
	return name, sub
}

func isRelative(request string) bool {
	return request == "." || request == ".." ||
		strings.HasPrefix(request, "./") || strings.HasPrefix(request, "../")
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
