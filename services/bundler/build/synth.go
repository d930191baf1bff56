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
	"strings"

	"github.com/AleutianAI/AleutianPack/services/bundler/ast"
	"github.com/AleutianAI/AleutianPack/services/bundler/graph"
)

// RuntimeRequire is the runtime object exposing loadScript.
const RuntimeRequire = "__aleutian_require__"

// ExternalSource renders the body of an external module.
func ExternalSource(ext *graph.ExternalInfo) string {
	if ext.ScriptURL == "" {
		return "module.exports = " + ext.Global + ";"
	}
	return "module.exports = new Promise((resolve, reject) => { " +
		RuntimeRequire + ".loadScript(" + ast.QuoteString(ext.ScriptURL) +
		", (e) => e.type === 'load' ? resolve() : reject(e)); }).then(() => " + ext.Global + ");"
}

// IgnoredSource is the body of an ignored module.
const IgnoredSource = "export {};"

// ErrorModuleSource renders a module that rethrows a build failure when
// evaluated.
func ErrorModuleSource(err error) string {
	return "throw new Error(`Module build failed:\n" + escapeTemplate(err.Error()) + "`);"
}

// escapeTemplate makes s safe inside a template literal.
func escapeTemplate(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "`", "\\`", "${", "\\${")
	return r.Replace(s)
}

// IsLoaderSyntax reports webpack inline loader specifiers such as
// "style-loader!./a.css".
func IsLoaderSyntax(source string) bool {
	i := strings.IndexByte(source, '!')
	return i >= 0 && strings.Contains(source[:i], "-loader")
}
