// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// packageJSON holds the fields of package.json the resolver reads.
type packageJSON struct {
	Dir string

	Name    string
	Main    string
	Module  string
	Browser string

	// sideEffects is nil when the package does not declare it.
	sideEffects *sideEffectsField
}

// sideEffectsField is the decoded "sideEffects" value: a boolean, one glob
// or a list of globs.
type sideEffectsField struct {
	all      *bool
	patterns []string
}

type rawPackageJSON struct {
	Name        string          `json:"name"`
	Main        string          `json:"main"`
	Module      string          `json:"module"`
	Browser     json.RawMessage `json:"browser"`
	SideEffects json.RawMessage `json:"sideEffects"`
}

// readPackageJSON parses dir/package.json. A missing file yields nil, nil.
func readPackageJSON(dir string) (*packageJSON, error) {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s/package.json: %w", dir, err)
	}

	var raw rawPackageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%s/package.json: %w: %v", dir, ErrInvalidPackageJSON, err)
	}

	pkg := &packageJSON{
		Dir:    dir,
		Name:   raw.Name,
		Main:   raw.Main,
		Module: raw.Module,
	}

	// Only the string form of "browser" replaces the entry point; the
	// object form remaps individual files and is not supported.
	var browser string
	if len(raw.Browser) > 0 && json.Unmarshal(raw.Browser, &browser) == nil {
		pkg.Browser = browser
	}

	if len(raw.SideEffects) > 0 {
		field, err := decodeSideEffects(raw.SideEffects)
		if err != nil {
			return nil, fmt.Errorf("%s/package.json sideEffects: %w", dir, err)
		}
		pkg.sideEffects = field
	}
	return pkg, nil
}

func decodeSideEffects(msg json.RawMessage) (*sideEffectsField, error) {
	var b bool
	if err := json.Unmarshal(msg, &b); err == nil {
		return &sideEffectsField{all: &b}, nil
	}
	var one string
	if err := json.Unmarshal(msg, &one); err == nil {
		return &sideEffectsField{patterns: []string{normalizePattern(one)}}, nil
	}
	var many []string
	if err := json.Unmarshal(msg, &many); err != nil {
		return nil, ErrInvalidPackageJSON
	}
	field := &sideEffectsField{patterns: make([]string, 0, len(many))}
	for _, p := range many {
		field.patterns = append(field.patterns, normalizePattern(p))
	}
	return field, nil
}

// normalizePattern strips a leading "./" and anchors bare file patterns
// anywhere in the package.
func normalizePattern(p string) string {
	p = strings.TrimPrefix(p, "./")
	if !strings.Contains(p, "/") {
		p = "**/" + p
	}
	return p
}

// sideEffectsFor reports the package's verdict for a file inside it.
func (p *packageJSON) sideEffectsFor(file string) *bool {
	if p == nil || p.sideEffects == nil {
		return nil
	}
	if p.sideEffects.all != nil {
		v := *p.sideEffects.all
		return &v
	}

	rel, err := filepath.Rel(p.Dir, file)
	if err != nil {
		return nil
	}
	rel = filepath.ToSlash(rel)

	matched := false
	for _, pattern := range p.sideEffects.patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			matched = true
			break
		}
	}
	return &matched
}

// entryField returns the package entry in browser, module, main order.
func (p *packageJSON) entryField() string {
	switch {
	case p.Browser != "":
		return p.Browser
	case p.Module != "":
		return p.Module
	default:
		return p.Main
	}
}
