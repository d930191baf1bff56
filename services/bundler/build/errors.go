// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package build

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianPack/services/bundler/graph"
)

// Sentinel errors, one per failure stage. A *ModuleError matches the
// sentinel of its Kind with errors.Is.
var (
	ErrLoad      = errors.New("load error")
	ErrParse     = errors.New("parse error")
	ErrResolve   = errors.New("resolve error")
	ErrTransform = errors.New("transform error")

	// ErrLoaderSyntax is returned for webpack-style "x-loader!./file"
	// specifiers.
	ErrLoaderSyntax = errors.New("webpack loader syntax is not supported")

	// ErrNoEntries is returned when a build is started without entries.
	ErrNoEntries = errors.New("no entries")

	// ErrWorker is returned by a wave in which a task panicked.
	ErrWorker = errors.New("build worker failed")
)

// ErrorKind is the stage a module failed in.
type ErrorKind int

const (
	LoadError ErrorKind = iota
	ParseError
	ResolveError
	TransformError
)

// String returns the stage name.
func (k ErrorKind) String() string {
	switch k {
	case LoadError:
		return "load"
	case ParseError:
		return "parse"
	case ResolveError:
		return "resolve"
	case TransformError:
		return "transform"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case LoadError:
		return ErrLoad
	case ParseError:
		return ErrParse
	case ResolveError:
		return ErrResolve
	case TransformError:
		return ErrTransform
	default:
		return nil
	}
}

// ModuleError is a failure attributed to one module.
type ModuleError struct {
	Kind ErrorKind

	ModuleId graph.ModuleId

	// Source is the specifier involved, for resolve errors.
	Source string

	// Span locates the failure when known.
	Span graph.Span

	Err error
}

// Error formats the failure with its location.
func (e *ModuleError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(" error in ")
	b.WriteString(string(e.ModuleId))
	if e.Span.Line > 0 {
		fmt.Fprintf(&b, ":%d:%d", e.Span.Line, e.Span.Column+1)
	}
	b.WriteString(": ")
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *ModuleError) Unwrap() error {
	return e.Err
}

// Is matches the stage sentinel.
func (e *ModuleError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// BuildAggregateError collects every module failure of a wave.
type BuildAggregateError struct {
	Errors []error
}

// Error summarizes the failures.
func (e *BuildAggregateError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d build errors:\n%s", len(e.Errors), strings.Join(msgs, "\n"))
}

// Unwrap exposes every member to errors.Is and errors.As.
func (e *BuildAggregateError) Unwrap() []error {
	return e.Errors
}

// ModuleErrors returns the typed members.
func (e *BuildAggregateError) ModuleErrors() []*ModuleError {
	var out []*ModuleError
	for _, err := range e.Errors {
		var me *ModuleError
		if errors.As(err, &me) {
			out = append(out, me)
		}
	}
	return out
}

// MissingMessage is the text recorded for an unresolvable specifier.
func MissingMessage(source string) string {
	return fmt.Sprintf("Module not found: Can't resolve '%s'", source)
}
