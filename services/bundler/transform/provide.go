// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transform

import (
	"context"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianPack/services/bundler/ast"
)

// Provided is a module binding injected for a free identifier.
type Provided struct {
	// Source is the module specifier.
	Source string `yaml:"source" validate:"required"`

	// Property selects a named export. Empty binds the whole module.
	Property string `yaml:"property,omitempty"`
}

// ProvidePass shims globals such as `Buffer` or `process` by importing
// them from a module when a file uses them without declaring them.
type ProvidePass struct {
	Provides map[string]Provided
}

// Name implements Pass.
func (p *ProvidePass) Name() string {
	return "provide"
}

// Run implements Pass. ES modules get an import declaration; other scripts
// get a require binding.
func (p *ProvidePass) Run(ctx context.Context, u *Unit) error {
	if len(p.Provides) == 0 {
		return nil
	}
	prog, err := u.Program(ctx)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(p.Provides))
	for name := range p.Provides {
		if prog.Scope.FreeNames[name] && ast.IsIdentifierName(name) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)

	esm := prog.HasModuleSyntax()
	var lines []string
	for _, name := range names {
		prov := p.Provides[name]
		lines = append(lines, shimLine(name, prov, esm))
	}

	next, err := prog.Rewrite(ctx, []ast.Edit{{Start: 0, End: 0, Text: strings.Join(lines, "\n") + "\n"}})
	if err != nil {
		return err
	}
	u.SetProgram(next)
	return nil
}

func shimLine(name string, prov Provided, esm bool) string {
	src := ast.QuoteString(prov.Source)
	if esm {
		if prov.Property == "" {
			return "import " + name + " from " + src + ";"
		}
		return ast.RenderImport(&ast.ImportInfo{
			Source:     prov.Source,
			Specifiers: []ast.ImportSpecifier{{Kind: ast.SpecNamed, Imported: prov.Property, Local: name}},
		})
	}
	if prov.Property == "" {
		return "var " + name + " = require(" + src + ");"
	}
	if ast.IsIdentifierName(prov.Property) {
		return "var " + name + " = require(" + src + ")." + prov.Property + ";"
	}
	return "var " + name + " = require(" + src + ")[" + ast.QuoteString(prov.Property) + "];"
}
