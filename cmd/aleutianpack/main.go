// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command aleutianpack builds JavaScript module graphs.
//
// Usage:
//
//	aleutianpack build
//	aleutianpack watch --metrics-addr :9464
//	aleutianpack graph --raw
//	aleutianpack --config web/aleutianpack.yaml --trace build
package main

import (
	"errors"
	"fmt"
	"os"
)

// version is set at link time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Build failures were already printed by the reporter.
		if !errors.Is(err, errBuildFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
