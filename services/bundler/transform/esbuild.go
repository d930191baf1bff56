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
	"errors"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/AleutianAI/AleutianPack/services/bundler/ast"
)

// ErrLowering is returned when esbuild rejects TS/JSX input.
var ErrLowering = errors.New("ts/jsx lowering failed")

// LoweringError carries esbuild diagnostics.
type LoweringError struct {
	Path     string
	Line     int
	Column   int
	Messages []string
}

func (e *LoweringError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.Path, e.Line, e.Column, strings.Join(e.Messages, "; "))
}

func (e *LoweringError) Unwrap() error {
	return ErrLowering
}

// Store caches lowered code across builds.
type Store interface {
	GetTransform(key string) ([]byte, bool)
	PutTransform(key string, code []byte)
}

// EsbuildPass erases TypeScript types and lowers JSX with esbuild.
// ES module syntax is preserved for the bundler's own analysis.
type EsbuildPass struct {
	// JSXFactory and JSXFragment override React.createElement defaults.
	JSXFactory  string
	JSXFragment string

	// Store is optional.
	Store Store
}

// Name implements Pass.
func (p *EsbuildPass) Name() string {
	return "esbuild"
}

// Run implements Pass. Plain JS is left untouched.
func (p *EsbuildPass) Run(ctx context.Context, u *Unit) error {
	if !u.Syntax.NeedsLowering() {
		return nil
	}

	key := p.cacheKey(u)
	if p.Store != nil {
		if code, ok := p.Store.GetTransform(key); ok {
			u.SetCode(code, ast.SyntaxJS)
			return nil
		}
	}

	result := api.Transform(string(u.Code()), api.TransformOptions{
		Loader:      loaderFor(u.Syntax),
		Format:      api.FormatDefault,
		Target:      api.ESNext,
		Sourcefile:  u.Path,
		JSX:         api.JSXTransform,
		JSXFactory:  p.JSXFactory,
		JSXFragment: p.JSXFragment,
		LogLevel:    api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		lerr := &LoweringError{Path: u.Path}
		for _, m := range result.Errors {
			lerr.Messages = append(lerr.Messages, m.Text)
		}
		if loc := result.Errors[0].Location; loc != nil {
			lerr.Line, lerr.Column = loc.Line, loc.Column
		}
		return lerr
	}

	if p.Store != nil {
		p.Store.PutTransform(key, result.Code)
	}
	u.SetCode(result.Code, ast.SyntaxJS)
	return nil
}

func (p *EsbuildPass) cacheKey(u *Unit) string {
	return fmt.Sprintf("esbuild:%s:%016x:%d:%s:%s", u.Path, u.Hash, u.Syntax, p.JSXFactory, p.JSXFragment)
}

func loaderFor(s ast.Syntax) api.Loader {
	switch s {
	case ast.SyntaxTS:
		return api.LoaderTS
	case ast.SyntaxTSX:
		return api.LoaderTSX
	case ast.SyntaxJSX:
		return api.LoaderJSX
	default:
		return api.LoaderJS
	}
}
