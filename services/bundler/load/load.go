// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package load reads module content for the build pipeline.
//
// The loader maps a module path and virtual query to a Content value whose
// Kind tells the parser how to read it. JSON files and `?raw` queries are
// turned into CommonJS script bodies here so that the rest of the pipeline
// only sees scripts, stylesheets and opaque assets.
package load

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/AleutianAI/AleutianPack/services/bundler/ast"
)

// Sentinel errors for loading.
var (
	// ErrNotFound is returned when the file does not exist.
	ErrNotFound = errors.New("file not found")

	// ErrInvalidJSON is returned when a .json module does not parse.
	ErrInvalidJSON = errors.New("invalid json module")

	// ErrIsDirectory is returned when the path names a directory.
	ErrIsDirectory = errors.New("path is a directory")
)

// QueryRaw loads any file as a string export.
const QueryRaw = "raw"

// Kind classifies loaded content.
type Kind int

const (
	KindJS Kind = iota
	KindJSX
	KindTS
	KindTSX
	KindCSS
	KindAsset
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindJS:
		return "js"
	case KindJSX:
		return "jsx"
	case KindTS:
		return "ts"
	case KindTSX:
		return "tsx"
	case KindCSS:
		return "css"
	case KindAsset:
		return "asset"
	default:
		return "unknown"
	}
}

// IsScript reports whether the content is parsed as a script.
func (k Kind) IsScript() bool {
	return k <= KindTSX
}

// Syntax returns the parser dialect for script kinds.
func (k Kind) Syntax() ast.Syntax {
	switch k {
	case KindJSX:
		return ast.SyntaxJSX
	case KindTS:
		return ast.SyntaxTS
	case KindTSX:
		return ast.SyntaxTSX
	default:
		return ast.SyntaxJS
	}
}

// Request names what to load.
type Request struct {
	// Path is the absolute file path.
	Path string

	// Query is the virtual query without "?".
	Query string
}

// Content is loaded module content.
type Content struct {
	Path  string
	Query string
	Kind  Kind

	// Data is the text handed to the parser. For JSON and raw modules it is
	// the synthesized script, not the file bytes.
	Data []byte

	// Hash is the xxhash64 of the file bytes as read from disk.
	Hash uint64
}

// Loader reads module content.
type Loader interface {
	Load(ctx context.Context, req Request) (*Content, error)
}

// FileLoader loads from the local file system.
//
// Thread Safety: Safe for concurrent use.
type FileLoader struct {
	readFile func(name string) ([]byte, error)
}

// NewFileLoader creates a loader backed by os.ReadFile.
func NewFileLoader() *FileLoader {
	return &FileLoader{readFile: os.ReadFile}
}

// Load reads req.Path and classifies it by extension.
//
// # Outputs
//
//   - *Content: The content with Data ready for parsing.
//   - error: ErrNotFound, ErrIsDirectory or ErrInvalidJSON (wrapped with
//     the path), or the underlying read error.
func (l *FileLoader) Load(ctx context.Context, req Request) (*Content, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := l.readFile(req.Path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("%s: %w", req.Path, ErrNotFound)
		case isDirErr(req.Path):
			return nil, fmt.Errorf("%s: %w", req.Path, ErrIsDirectory)
		}
		return nil, fmt.Errorf("read %s: %w", req.Path, err)
	}

	return FromBytes(req, raw)
}

// FromBytes classifies already-read bytes. Exposed so callers with an
// in-memory source (tests, virtual files) share the same rules.
func FromBytes(req Request, raw []byte) (*Content, error) {
	c := &Content{
		Path:  req.Path,
		Query: req.Query,
		Hash:  xxhash.Sum64(raw),
	}

	if req.Query == QueryRaw {
		c.Kind = KindJS
		c.Data = []byte("module.exports = " + ast.QuoteString(string(raw)) + ";")
		return c, nil
	}

	ext := strings.ToLower(filepath.Ext(req.Path))
	switch ext {
	case ".js", ".mjs", ".cjs":
		c.Kind = KindJS
	case ".jsx":
		c.Kind = KindJSX
	case ".ts", ".mts", ".cts":
		c.Kind = KindTS
	case ".tsx":
		c.Kind = KindTSX
	case ".css":
		c.Kind = KindCSS
	case ".json":
		if !json.Valid(raw) {
			return nil, fmt.Errorf("%s: %w", req.Path, ErrInvalidJSON)
		}
		c.Kind = KindJS
		c.Data = []byte("module.exports = " + strings.TrimSpace(string(raw)) + ";")
		return c, nil
	default:
		c.Kind = KindAsset
	}
	c.Data = raw
	return c, nil
}

func isDirErr(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
