// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compiler

import "errors"

var (
	// ErrNilConfig is returned by New without a configuration.
	ErrNilConfig = errors.New("compiler requires a configuration")

	// ErrNotCompiled is returned by Rebuild before the first Compile.
	ErrNotCompiled = errors.New("rebuild requested before the initial compile")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("compiler is closed")
)
