// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transform runs ordered source passes over a script module
// before dependency analysis.
//
// Passes work on a Unit that holds the current code and a lazily parsed
// Program. A pass either reads the Program and rewrites the code through
// text edits, or replaces the code outright (TS/JSX lowering). Replacing the
// code invalidates the Program; the next reader reparses.
package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianPack/services/bundler/ast"
)

var tracer = otel.Tracer("aleutian.bundler.transform")

// ErrPassFailed wraps the error of a failing pass.
var ErrPassFailed = errors.New("transform pass failed")

// Unit is one module moving through the pipeline.
type Unit struct {
	Path string

	// Syntax is the dialect of Code. Lowering sets it to SyntaxJS.
	Syntax ast.Syntax

	// Origin is the dialect of the file as loaded.
	Origin ast.Syntax

	// Hash is the content hash of the loaded file.
	Hash uint64

	code    []byte
	program *ast.Program
}

// NewUnit creates a unit from loaded code.
func NewUnit(path string, syntax ast.Syntax, hash uint64, code []byte) *Unit {
	return &Unit{Path: path, Syntax: syntax, Origin: syntax, Hash: hash, code: code}
}

// NewUnitFromProgram creates a unit around an already parsed program.
func NewUnitFromProgram(p *ast.Program, hash uint64) *Unit {
	return &Unit{Path: p.Path, Syntax: p.Syntax, Origin: p.Syntax, Hash: hash, code: p.Source, program: p}
}

// Code returns the current code.
func (u *Unit) Code() []byte {
	return u.code
}

// SetCode replaces the code and drops the parsed program.
func (u *Unit) SetCode(code []byte, syntax ast.Syntax) {
	u.code = code
	u.Syntax = syntax
	u.program = nil
}

// SetProgram replaces both code and program with an edited program.
func (u *Unit) SetProgram(p *ast.Program) {
	u.code = p.Source
	u.program = p
}

// Program parses the current code if needed.
func (u *Unit) Program(ctx context.Context) (*ast.Program, error) {
	if u.program != nil {
		return u.program, nil
	}
	p, err := ast.ParseScript(ctx, u.Path, u.code, u.Syntax)
	if err != nil {
		return nil, err
	}
	u.program = p
	return p, nil
}

// Pass is one source transformation.
type Pass interface {
	// Name identifies the pass in logs, spans and errors.
	Name() string

	// Run transforms u in place.
	Run(ctx context.Context, u *Unit) error
}

// Pipeline runs passes in order.
//
// Thread Safety: Safe for concurrent use if every pass is.
type Pipeline struct {
	passes []Pass
	logger *slog.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPipeline creates a pipeline. Nil passes are skipped.
func NewPipeline(passes []Pass, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	for _, pass := range passes {
		if pass != nil {
			p.passes = append(p.passes, pass)
		}
	}
	return p
}

// Passes returns the pass names in run order.
func (p *Pipeline) Passes() []string {
	names := make([]string, len(p.passes))
	for i, pass := range p.passes {
		names[i] = pass.Name()
	}
	return names
}

// Run applies every pass to u.
//
// # Description
//
// Lowering passes run regardless of parse state. Passes that read the
// program are skipped once the current code has a syntax error; the
// caller reports that error after the pipeline.
//
// # Outputs
//
//   - error: The first failing pass, wrapped with ErrPassFailed and the
//     pass name.
func (p *Pipeline) Run(ctx context.Context, u *Unit) error {
	for _, pass := range p.passes {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, lowering := pass.(*EsbuildPass); !lowering {
			prog, err := u.Program(ctx)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrPassFailed, pass.Name(), err)
			}
			if prog.Err() != nil {
				p.logger.Debug("skipping pass on unparsable module",
					slog.String("pass", pass.Name()),
					slog.String("path", u.Path))
				continue
			}
		}

		spanCtx, span := tracer.Start(ctx, "transform."+pass.Name())
		span.SetAttributes(attribute.String("transform.path", u.Path))
		err := pass.Run(spanCtx, u)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return fmt.Errorf("%w: %s: %w", ErrPassFailed, pass.Name(), err)
		}
		span.End()
	}
	return nil
}
