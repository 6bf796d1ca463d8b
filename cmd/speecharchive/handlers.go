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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/SpeechArchive/cmd/speecharchive/config"
	"github.com/AleutianAI/SpeechArchive/cmd/speecharchive/internal/presenter"
	"github.com/AleutianAI/SpeechArchive/pkg/archive"
	"github.com/AleutianAI/SpeechArchive/pkg/archive/coordinator"
)

// stdinPath names standard input as a save source.
const stdinPath = "-"

// setup loads config and wires an app for cmd.
func setup(cmd *cobra.Command, opts appOptions) (*app, error) {
	cfg, err := loadConfig(configPath, basePath, logLevel)
	if err != nil {
		return nil, err
	}
	return setupWith(cmd, cfg, opts)
}

// setupWith wires an app from an already loaded config.
func setupWith(cmd *cobra.Command, cfg config.Config, opts appOptions) (*app, error) {
	opts.trace = opts.trace || traceEnabled
	opts.metrics = opts.metrics || printMetrics
	if opts.stderr == nil {
		opts.stderr = cmd.ErrOrStderr()
	}
	return newApp(cmd.Context(), cfg, opts)
}

// =============================================================================
// save
// =============================================================================

// saveInput is one clip to archive.
type saveInput struct {
	path string
	name string
}

// persister is the part of the coordinator used by save.
type persister interface {
	PersistDetailed(ctx context.Context, payload []byte, name string) coordinator.Result
}

var _ persister = (*coordinator.Coordinator)(nil)

// buildInputs pairs each path with its archive name. An explicit name is
// only allowed for a single input; stdin may appear once.
func buildInputs(paths []string, name string) ([]saveInput, error) {
	if name != "" && len(paths) != 1 {
		return nil, errors.New("--name needs exactly one input")
	}

	inputs := make([]saveInput, 0, len(paths))
	sawStdin := false
	for _, p := range paths {
		in := saveInput{path: p, name: name}
		if p == stdinPath {
			if sawStdin {
				return nil, errors.New("stdin may only be read once")
			}
			sawStdin = true
		} else if in.name == "" {
			in.name = filepath.Base(p)
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

// saveInputs reads and persists every input with at most jobs in flight.
//
// # Description
//
// Results are returned in input order. A read failure stops the batch
// and is returned; persist outcomes other than saved are not errors here.
func saveInputs(ctx context.Context, p persister, inputs []saveInput, jobs int, stdin io.Reader) ([]coordinator.Result, error) {
	if jobs < 1 {
		jobs = 1
	}
	results := make([]coordinator.Result, len(inputs))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)

	for i, in := range inputs {
		g.Go(func() error {
			payload, err := readInput(in.path, stdin)
			if err != nil {
				return err
			}
			results[i] = p.PersistDetailed(gCtx, payload, in.name)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == stdinPath {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// reportResults prints rejected clips (which post no notice) and returns
// an error when anything failed to reach disk.
func reportResults(w io.Writer, inputs []saveInput, results []coordinator.Result) error {
	failed := 0
	for i, res := range results {
		if res.Outcome == coordinator.OutcomeSaved {
			continue
		}
		failed++
		if res.Outcome == coordinator.OutcomeRejected {
			fmt.Fprintf(w, "Rejected: %s: %v\n", inputs[i].path, res.Err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d clips were not archived", failed, len(results))
	}
	return nil
}

func runSave(cmd *cobra.Command, args []string) error {
	inputs, err := buildInputs(args, saveName)
	if err != nil {
		return err
	}

	a, err := setup(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	results, err := saveInputs(cmd.Context(), a.coord, inputs, saveJobs, cmd.InOrStdin())
	out := cmd.OutOrStdout()
	presenter.NewLinePrinter(a.sink, out).Flush()
	if err != nil {
		return err
	}
	return reportResults(out, inputs, results)
}

// =============================================================================
// stats / list / config
// =============================================================================

func runStats(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	fmt.Fprintln(cmd.OutOrStdout(), a.coord.Stats(cmd.Context()))
	return nil
}

func runList(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	files, err := a.store.List(cmd.Context())
	if err != nil {
		return err
	}
	writeList(cmd.OutOrStdout(), files)
	return nil
}

// writeList prints one line per clip followed by a total.
func writeList(w io.Writer, files []archive.FileInfo) {
	var total int64
	for _, f := range files {
		total += f.Size
		fmt.Fprintf(w, "%-19s  %10s  %s\n", f.CreatedAt.Format("2006-01-02 15:04:05"), formatBytes(f.Size), f.Name)
	}
	fmt.Fprintf(w, "%d file(s), %s\n", len(files), formatBytes(total))
}

func formatBytes(n int64) string {
	const (
		kib = 1024
		mib = 1024 * kib
	)
	switch {
	case n >= mib:
		return fmt.Sprintf("%.2fMB", float64(n)/mib)
	case n >= kib:
		return fmt.Sprintf("%.1fKB", float64(n)/kib)
	default:
		return fmt.Sprintf("%dB", n)
	}
}

func runConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath, basePath, logLevel)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

// =============================================================================
// demo
// =============================================================================

func runDemo(cmd *cobra.Command, _ []string) error {
	out, isFile := cmd.OutOrStdout().(*os.File)
	if !isFile {
		out = os.Stdout
	}
	interactive := presenter.IsTerminal(out)

	cfg, err := loadConfig(configPath, basePath, logLevel)
	if err != nil {
		return err
	}
	a, err := setupWith(cmd, cfg, appOptions{quietConsole: interactive, watch: demoWatch || cfg.Watch.Enabled})
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	go func() {
		generateClips(ctx, a.coord, demoInterval, demoCount)
		if !interactive {
			// Give the last persist time to post before the printer stops.
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
				cancel()
			}
		}
	}()

	return presenter.Run(ctx, a.sink, a.progress(ctx), out)
}

// clipSubmitter is the part of the coordinator used by the demo.
type clipSubmitter interface {
	TestSave() error
}

var _ clipSubmitter = (*coordinator.Coordinator)(nil)

// generateClips submits a test clip every interval until ctx ends or
// count clips were submitted. count <= 0 means no limit.
func generateClips(ctx context.Context, c clipSubmitter, interval time.Duration, count int) int {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	submitted := 0
	for count <= 0 || submitted < count {
		if err := c.TestSave(); err != nil {
			return submitted
		}
		submitted++
		if count > 0 && submitted >= count {
			break
		}
		select {
		case <-ctx.Done():
			return submitted
		case <-ticker.C:
		}
	}
	return submitted
}
