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
	"time"

	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath   string
	basePath     string
	traceEnabled bool
	printMetrics bool
	logLevel     string

	saveName string
	saveJobs int

	demoInterval time.Duration
	demoCount    int
	demoWatch    bool

	rootCmd = &cobra.Command{
		Use:   "speecharchive",
		Short: "Archive speech clips to disk with retries and a memory fallback",
		Long: `speecharchive writes speech clips into a bounded on-disk archive.
Failed writes are retried and, when every attempt fails, kept in an
in-memory backup buffer for the life of the process.`,
		SilenceUsage: true,
	}

	saveCmd = &cobra.Command{
		Use:   "save [file...]",
		Short: "Archive one or more clip files (use - for stdin)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSave,
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show the archive file count and size",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}

	listCmd = &cobra.Command{
		Use:     "list",
		Short:   "List archived clips, oldest first",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE:    runList,
	}

	demoCmd = &cobra.Command{
		Use:   "demo",
		Short: "Archive random test clips and show notices live",
		Args:  cobra.NoArgs,
		RunE:  runDemo,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default ~/.speecharchive/speecharchive.yaml)")
	rootCmd.PersistentFlags().StringVar(&basePath, "base-path", "",
		"override archive.base_path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"override logging.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&traceEnabled, "trace", false,
		"write persist spans to stderr")
	rootCmd.PersistentFlags().BoolVar(&printMetrics, "metrics", false,
		"print Prometheus metrics to stderr on exit")

	saveCmd.Flags().StringVar(&saveName, "name", "",
		"archive name (single input only, default: input file name)")
	saveCmd.Flags().IntVarP(&saveJobs, "jobs", "j", 4,
		"maximum concurrent writes")

	demoCmd.Flags().DurationVar(&demoInterval, "interval", time.Second,
		"time between test clips")
	demoCmd.Flags().IntVar(&demoCount, "count", 0,
		"number of test clips (0 runs until interrupted)")
	demoCmd.Flags().BoolVar(&demoWatch, "watch", false,
		"also report changes to the archive folder")

	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(configCmd)
}
