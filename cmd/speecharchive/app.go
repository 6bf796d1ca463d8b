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
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/AleutianAI/SpeechArchive/cmd/speecharchive/config"
	"github.com/AleutianAI/SpeechArchive/cmd/speecharchive/internal/presenter"
	"github.com/AleutianAI/SpeechArchive/pkg/archive"
	"github.com/AleutianAI/SpeechArchive/pkg/archive/backup"
	"github.com/AleutianAI/SpeechArchive/pkg/archive/coordinator"
	"github.com/AleutianAI/SpeechArchive/pkg/archive/metrics"
	"github.com/AleutianAI/SpeechArchive/pkg/archive/notify"
	"github.com/AleutianAI/SpeechArchive/pkg/archive/watcher"
	"github.com/AleutianAI/SpeechArchive/pkg/logging"
)

// shutdownTimeout bounds how long in-flight persists may run at exit.
const shutdownTimeout = 5 * time.Second

// appOptions are the per-command switches that are not part of Config.
type appOptions struct {
	trace        bool
	metrics      bool
	quietConsole bool
	watch        bool
	stderr       io.Writer
}

// app is one fully wired archive for the life of a command.
type app struct {
	cfg      config.Config
	logger   *logging.Logger
	store    *archive.Store
	sink     *notify.Sink
	coord    *coordinator.Coordinator
	registry *prometheus.Registry
	watcher  *watcher.Watcher
	root     string
	initErr  error

	printMetrics    bool
	stderr          io.Writer
	shutdownTracing func(context.Context) error
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(path, basePathOverride, levelOverride string) (config.Config, error) {
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return config.Config{}, err
		}
		path = p
	}

	cfg, _, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	if basePathOverride != "" {
		cfg.Archive.BasePath, err = config.ExpandHome(basePathOverride)
		if err != nil {
			return config.Config{}, err
		}
	}
	if levelOverride != "" {
		cfg.Logging.Level = levelOverride
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

// newApp wires the archive from cfg.
//
// # Description
//
// Builds the logger, optional tracer provider, metrics recorder, store,
// backup buffer, sink and coordinator, then initializes the archive root.
// An init failure is recorded in initErr but is not returned: the archive
// stays usable and every persist is rejected.
//
// # Outputs
//
//   - *app: Wired archive; always call close
//   - error: Logger, tracing, metrics or watcher setup failed
func newApp(ctx context.Context, cfg config.Config, opts appOptions) (*app, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: serviceName,
		JSON:    cfg.Logging.JSON,
		Quiet:   opts.quietConsole,
		Output:  opts.stderr,
	})

	a := &app{
		cfg:          cfg,
		logger:       logger,
		printMetrics: opts.metrics,
		stderr:       opts.stderr,
		registry:     prometheus.NewRegistry(),
	}

	if opts.trace || cfg.Tracing.Enabled {
		shutdown, err := initTracing(opts.stderr, cfg.Meta.Version)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		a.shutdownTracing = shutdown
	}

	recorder := metrics.New(cfg.Metrics.Enabled || opts.metrics)
	if err := recorder.Register(a.registry); err != nil {
		a.close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	a.store = archive.NewStore(logger.Slog())
	a.sink = notify.NewSink(notify.DefaultCapacity)
	a.coord, err = coordinator.New(cfg.CoordinatorOptions(), coordinator.Deps{
		Store:   a.store,
		Backup:  backup.New(cfg.Archive.BackupEntries, cfg.BackupBudgetBytes()),
		Sink:    a.sink,
		Metrics: recorder,
		Logger:  logger.Slog(),
	})
	if err != nil {
		a.close()
		return nil, err
	}

	a.root, a.initErr = a.coord.Initialize(cfg.Archive.BasePath)

	if opts.watch && a.initErr == nil {
		w, err := watcher.New(a.root, a.sink, logger.Slog(), &watcher.Options{
			Debounce:       cfg.Watch.Debounce,
			NoticeInterval: cfg.Watch.NoticeInterval,
		})
		if err != nil {
			a.close()
			return nil, err
		}
		if err := w.Start(ctx); err != nil {
			w.Stop()
			a.close()
			return nil, err
		}
		a.watcher = w
	}

	return a, nil
}

// progress reports the archive fill level for the terminal view.
func (a *app) progress(ctx context.Context) presenter.ProgressFunc {
	return func() presenter.Progress {
		st, err := a.store.Stats(ctx)
		if err != nil {
			return presenter.Progress{Max: a.cfg.Archive.MaxArchivedFiles, Summary: fmt.Sprintf("Error: %v", err)}
		}
		return presenter.Progress{
			Files:   st.FileCount,
			Max:     a.cfg.Archive.MaxArchivedFiles,
			Summary: fmt.Sprintf("Files: %d/%d\nSize: %.2fMB", st.FileCount, a.cfg.Archive.MaxArchivedFiles, st.TotalMB()),
		}
	}
}

// close stops the watcher and coordinator, flushes spans, prints metrics
// when asked and closes the log file. It is safe on a partially built app.
func (a *app) close() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.coord != nil {
		a.coord.Shutdown(shutdownTimeout)
	}
	if a.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.shutdownTracing(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", "error", err)
		}
		cancel()
	}
	if a.printMetrics && a.stderr != nil {
		if err := writeMetrics(a.stderr, a.registry); err != nil {
			a.logger.Warn("metrics dump failed", "error", err)
		}
	}
	if err := a.logger.Close(); err != nil && a.stderr != nil {
		fmt.Fprintf(a.stderr, "Warning: failed to close log file: %v\n", err)
	}
}

// writeMetrics writes every gathered family in the Prometheus text format.
func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
