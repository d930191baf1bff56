// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"errors"
	"fmt"
)

// Sentinel errors for parse and print failures.
//
// These errors can be checked using errors.Is() to determine the
// category of failure without inspecting error messages.
var (
	// ErrParseFailed indicates that the source contains syntax the parser
	// could not recover from.
	ErrParseFailed = errors.New("parse failed")

	// ErrInvalidContent indicates the content is not valid UTF-8.
	ErrInvalidContent = errors.New("invalid content")

	// ErrInvalidEdit indicates overlapping or out-of-range rewrite edits.
	ErrInvalidEdit = errors.New("invalid edit")
)

// SyntaxError describes the first syntax error found in a source file.
//
// It wraps ErrParseFailed so callers can use errors.Is.
type SyntaxError struct {
	// Path is the file that failed to parse.
	Path string

	// Line is the 1-indexed line of the error.
	Line int

	// Column is the 0-indexed column of the error.
	Column int

	// Snippet is the source text covered by the error node, truncated.
	Snippet string
}

// Error implements the error interface.
func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s:%d:%d: syntax error near %q", e.Path, e.Line, e.Column, e.Snippet)
}

// Unwrap returns ErrParseFailed.
func (e *SyntaxError) Unwrap() error {
	return ErrParseFailed
}
