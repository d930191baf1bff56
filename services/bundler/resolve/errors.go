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

import "errors"

var (
	// ErrNotFound is returned when a specifier cannot be mapped to a file.
	ErrNotFound = errors.New("can't resolve")

	// ErrInvalidPackageJSON is returned when a package.json is not valid JSON.
	ErrInvalidPackageJSON = errors.New("invalid package.json")

	// ErrEmptySpecifier is returned for an empty specifier.
	ErrEmptySpecifier = errors.New("empty specifier")
)
