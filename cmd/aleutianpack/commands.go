// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianPack/services/bundler/config"
)

var (
	configPath  string
	logLevel    string
	logJSON     bool
	logDir      string
	traceSpans  bool
	noColor     bool
	rawGraph    bool
	metricsAddr string

	rootCmd = &cobra.Command{
		Use:   "aleutianpack",
		Short: "Build, tree-shake and concatenate JavaScript module graphs",
		Long: `aleutianpack resolves a project's entry modules into a module graph,
removes unused exports and merges single-use modules into their importers.

The project is described by an aleutianpack.yaml file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	buildCmd = &cobra.Command{
		Use:   "build",
		Short: "Run a one-shot build and report the result",
		Args:  cobra.NoArgs,
		RunE:  runBuildCommand,
	}

	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Build, then rebuild whenever project files change",
		Args:  cobra.NoArgs,
		RunE:  runWatchCommand,
	}

	graphCmd = &cobra.Command{
		Use:   "graph",
		Short: "Print the module graph with dependencies and cycles",
		Args:  cobra.NoArgs,
		RunE:  runGraphCommand,
	}
)

func init() {
	rootCmd.Version = version

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.FileName, "Path to the project config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write logs as JSON")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Also write JSON logs to a dated file in this directory")
	rootCmd.PersistentFlags().BoolVar(&traceSpans, "trace", false, "Print OpenTelemetry spans to stderr")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(buildCmd)

	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9464")

	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().BoolVar(&rawGraph, "raw", false, "Print the graph before tree shaking and concatenation")
}
