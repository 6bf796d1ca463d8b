// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/SpeechArchive/pkg/archive/coordinator"
	"github.com/AleutianAI/SpeechArchive/pkg/logging"
)

// CurrentConfigVersion is written into new config files.
const CurrentConfigVersion = "1"

// configValidate checks struct tags. Initialized in init() with the
// loglevel rule and the archive budget check.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	_ = configValidate.RegisterValidation("loglevel", validateLogLevel)
	configValidate.RegisterStructValidation(validateArchiveBudget, ArchiveConfig{})
}

// validateLogLevel accepts anything logging.ParseLevel accepts.
func validateLogLevel(fl validator.FieldLevel) bool {
	_, err := logging.ParseLevel(fl.Field().String())
	return err == nil
}

// validateArchiveBudget rejects a file size cap the backup buffer could
// never hold, since every spill of such a clip would be lost.
func validateArchiveBudget(sl validator.StructLevel) {
	a, ok := sl.Current().Interface().(ArchiveConfig)
	if !ok {
		return
	}
	if a.MaxFileSizeMB > float64(a.BackupBudgetMB) {
		sl.ReportError(a.MaxFileSizeMB, "MaxFileSizeMB", "MaxFileSizeMB", "ltebudget", "")
	}
}

// Config is the on-disk host configuration.
type Config struct {
	Meta    MetaConfig    `yaml:"meta"`
	Archive ArchiveConfig `yaml:"archive"`
	Retry   RetryConfig   `yaml:"retry"`

	// Workers bounds concurrent fire-and-forget saves.
	Workers int `yaml:"workers" validate:"gte=1,lte=64"`

	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
	Watch   WatchConfig   `yaml:"watch"`
}

// MetaConfig records the config file format version.
type MetaConfig struct {
	Version string `yaml:"version"`
}

// ArchiveConfig locates the archive and bounds its disk and memory tiers.
// MaxFileSizeMB may not exceed BackupBudgetMB.
type ArchiveConfig struct {
	// BasePath is the parent of the SpeechArchive directory. A leading ~
	// expands to the home directory.
	BasePath           string  `yaml:"base_path" validate:"required"`
	MaxArchivedFiles   int     `yaml:"max_archived_files" validate:"gte=1"`
	MaxFileSizeMB      float64 `yaml:"max_file_size_mb" validate:"gt=0,lte=1024"`
	EnableFileRotation bool    `yaml:"enable_file_rotation"`
	BackupEntries      int     `yaml:"backup_entries" validate:"gte=1"`
	BackupBudgetMB     int     `yaml:"backup_budget_mb" validate:"gte=1"`
}

// RetryConfig controls the write retry loop; attempt n waits BaseDelay*n.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"gte=1,lte=10"`
	BaseDelay   time.Duration `yaml:"base_delay" validate:"gt=0"`
}

// LoggingConfig selects the log level and the optional log file directory.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"loglevel"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// MetricsConfig toggles Prometheus metrics.
type MetricsConfig struct {
	// Enabled swaps the in-memory recorder for the Prometheus one.
	Enabled bool `yaml:"enabled"`
}

// TracingConfig toggles OpenTelemetry spans.
type TracingConfig struct {
	// Enabled writes spans to stderr.
	Enabled bool `yaml:"enabled"`
}

// WatchConfig controls the archive directory watcher.
type WatchConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Debounce       time.Duration `yaml:"debounce" validate:"gte=0"`
	NoticeInterval time.Duration `yaml:"notice_interval" validate:"gte=0"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() Config {
	opts := coordinator.DefaultOptions()
	return Config{
		Meta: MetaConfig{Version: CurrentConfigVersion},
		Archive: ArchiveConfig{
			BasePath:           "~/.speecharchive",
			MaxArchivedFiles:   opts.MaxArchivedFiles,
			MaxFileSizeMB:      opts.MaxFileSizeMB,
			EnableFileRotation: opts.EnableFileRotation,
			BackupEntries:      50,
			BackupBudgetMB:     100,
		},
		Retry: RetryConfig{
			MaxAttempts: opts.MaxAttempts,
			BaseDelay:   opts.RetryBaseDelay,
		},
		Workers: opts.Workers,
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "~/.speecharchive/logs",
		},
		Watch: WatchConfig{
			Debounce:       250 * time.Millisecond,
			NoticeInterval: 2 * time.Second,
		},
	}
}

// Validate checks the struct tags.
func (c *Config) Validate() error {
	return configValidate.Struct(c)
}

// CoordinatorOptions maps the archive, retry and worker sections.
func (c *Config) CoordinatorOptions() coordinator.Options {
	return coordinator.Options{
		MaxArchivedFiles:   c.Archive.MaxArchivedFiles,
		MaxFileSizeMB:      c.Archive.MaxFileSizeMB,
		EnableFileRotation: c.Archive.EnableFileRotation,
		RetryBaseDelay:     c.Retry.BaseDelay,
		MaxAttempts:        c.Retry.MaxAttempts,
		Workers:            c.Workers,
	}
}

// BackupBudgetBytes converts BackupBudgetMB to bytes.
func (c *Config) BackupBudgetBytes() int64 {
	return int64(c.Archive.BackupBudgetMB) * 1024 * 1024
}
