// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/AleutianPack/services/bundler/ast"
)

// ModuleId is the canonical identity of a module: the normalized absolute
// path plus any virtual query such as "?raw".
type ModuleId string

// NewModuleId builds an id from a path and an optional query. The query
// may be given with or without its leading "?".
func NewModuleId(path, query string) ModuleId {
	path = filepath.ToSlash(filepath.Clean(path))
	query = strings.TrimPrefix(query, "?")
	if query == "" {
		return ModuleId(path)
	}
	return ModuleId(path + "?" + query)
}

// Path returns the file path portion of the id.
func (id ModuleId) Path() string {
	s := string(id)
	if i := strings.IndexByte(s, '?'); i >= 0 {
		return s[:i]
	}
	return s
}

// Query returns the query portion without "?", or "".
func (id ModuleId) Query() string {
	s := string(id)
	if i := strings.IndexByte(s, '?'); i >= 0 {
		return s[i+1:]
	}
	return ""
}

// String implements fmt.Stringer.
func (id ModuleId) String() string {
	return string(id)
}

// ModuleKind discriminates module content.
type ModuleKind int

const (
	// KindScript is JavaScript (after lowering).
	KindScript ModuleKind = iota

	// KindStyle is a stylesheet.
	KindStyle

	// KindOther is a raw asset.
	KindOther
)

// String returns the kind name.
func (k ModuleKind) String() string {
	switch k {
	case KindScript:
		return "script"
	case KindStyle:
		return "style"
	case KindOther:
		return "other"
	default:
		return "unknown"
	}
}

// ResolveType is how a dependency was referenced.
type ResolveType int

const (
	ResolveImport ResolveType = iota
	ResolveRequire
	ResolveDynamicImport
	ResolveExportNamed
	ResolveExportAll
	ResolveWorker
	ResolveCssImport
	ResolveCssUrl
)

// String returns the resolve type name.
func (r ResolveType) String() string {
	switch r {
	case ResolveImport:
		return "import"
	case ResolveRequire:
		return "require"
	case ResolveDynamicImport:
		return "dynamic_import"
	case ResolveExportNamed:
		return "export_named"
	case ResolveExportAll:
		return "export_all"
	case ResolveWorker:
		return "worker"
	case ResolveCssImport:
		return "css_import"
	case ResolveCssUrl:
		return "css_url"
	default:
		return "unknown"
	}
}

// IsESM reports whether the reference is a static ES module reference.
func (r ResolveType) IsESM() bool {
	return r == ResolveImport || r == ResolveExportNamed || r == ResolveExportAll
}

// Span is a source position.
type Span struct {
	// Line is 1-indexed.
	Line int

	// Column is 0-indexed.
	Column int

	// Start and End are byte offsets.
	Start uint32
	End   uint32
}

// String formats the span as line:column.
func (s Span) String() string {
	return fmt.Sprintf("%d:%d", s.Line, s.Column)
}

// Dependency is one reference from a module to a specifier.
type Dependency struct {
	// Source is the specifier as written.
	Source string

	ResolveType ResolveType

	Span Span

	// Order is the 1-based ordinal in document order. Zero is reserved for
	// injected runtime helpers.
	Order int
}

// ResolvedTarget is where a specifier resolved to.
type ResolvedTarget struct {
	// Id is the target module.
	Id ModuleId

	// External is true when the specifier maps to a runtime global.
	External bool

	// Ignored is true when the specifier maps to an empty module.
	Ignored bool
}

// ExternalInfo describes a synthesized external module.
type ExternalInfo struct {
	// Global is the runtime global expression.
	Global string

	// ScriptURL is an optional remote script that provides the global.
	ScriptURL string
}

// ModuleInfo is the build result of a module. It is replaced wholesale on
// rebuild and never mutated after being attached to a Module in the graph.
type ModuleInfo struct {
	// AST is owned by the parser collaborator.
	AST ast.Handle

	// Deps is the ordered dependency list.
	Deps []Dependency

	// Resolved maps specifiers to targets.
	Resolved map[string]ResolvedTarget

	// Missing maps unresolved specifiers to the failure reason.
	Missing map[string]string

	// RawHash is the xxhash64 of the loaded content.
	RawHash uint64

	// External is set for synthesized external modules.
	External *ExternalInfo

	// DescribedSideEffects is the package.json "sideEffects" verdict for
	// this file, when the package declares one.
	DescribedSideEffects *bool

	// IsErrorModule marks a synthetic module that throws a build failure.
	IsErrorModule bool

	// IsIgnored marks a synthetic empty module.
	IsIgnored bool
}

// Program returns the script AST, or nil for non-script modules.
func (i *ModuleInfo) Program() *ast.Program {
	if i == nil || i.AST == nil {
		return nil
	}
	p, _ := i.AST.(*ast.Program)
	return p
}

// Module is a node of the module graph.
type Module struct {
	Id ModuleId

	// IsEntry marks a seeded root.
	IsEntry bool

	// SideEffects is the conservative "never remove" marker. Defaults to
	// true until analysis proves otherwise.
	SideEffects bool

	// Info is nil while the module is only a placeholder.
	Info *ModuleInfo

	Kind ModuleKind
}

// NewPlaceholder returns an unbuilt module with conservative defaults.
func NewPlaceholder(id ModuleId) *Module {
	return &Module{Id: id, SideEffects: true}
}

// IsPlaceholder reports whether the module has not been built yet.
func (m *Module) IsPlaceholder() bool {
	return m.Info == nil
}

// IsExternal reports whether the module was synthesized for an external.
func (m *Module) IsExternal() bool {
	return m.Info != nil && m.Info.External != nil
}

// Clone returns a shallow copy sharing the same ModuleInfo.
func (m *Module) Clone() *Module {
	c := *m
	return &c
}

// DependencyRef pairs a neighbor with one dependency reference.
type DependencyRef struct {
	// Id is the dependency target (for GetDependencies) or the dependent
	// module (for GetDependents).
	Id ModuleId

	Dependency Dependency
}

// Stats holds graph size counters.
type Stats struct {
	Modules      int
	Edges        int
	Entries      int
	Placeholders int
}
