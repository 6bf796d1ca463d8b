// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package coordinator

import "time"

// Defaults for Options.
const (
	DefaultMaxArchivedFiles = 100
	DefaultMaxFileSizeMB    = 10.0
	DefaultRetryBaseDelay   = 500 * time.Millisecond
	DefaultMaxAttempts      = 3
	DefaultWorkers          = 4
)

const bytesPerMB = 1024 * 1024

// Options configures a Coordinator.
type Options struct {
	// MaxArchivedFiles is the rotation ceiling.
	MaxArchivedFiles int

	// MaxFileSizeMB is the per-payload admission ceiling in MiB.
	MaxFileSizeMB float64

	// EnableFileRotation runs Rotate after every successful write.
	EnableFileRotation bool

	// RetryBaseDelay is multiplied by the attempt number between attempts.
	RetryBaseDelay time.Duration

	// MaxAttempts is the write attempt ceiling.
	MaxAttempts int

	// Workers bounds concurrent Submit tasks.
	Workers int
}

// DefaultOptions returns the stock configuration with rotation enabled.
func DefaultOptions() Options {
	return Options{
		MaxArchivedFiles:   DefaultMaxArchivedFiles,
		MaxFileSizeMB:      DefaultMaxFileSizeMB,
		EnableFileRotation: true,
		RetryBaseDelay:     DefaultRetryBaseDelay,
		MaxAttempts:        DefaultMaxAttempts,
		Workers:            DefaultWorkers,
	}
}

// withDefaults fills non-positive numeric fields. EnableFileRotation is
// left as given.
func (o Options) withDefaults() Options {
	if o.MaxArchivedFiles <= 0 {
		o.MaxArchivedFiles = DefaultMaxArchivedFiles
	}
	if o.MaxFileSizeMB <= 0 {
		o.MaxFileSizeMB = DefaultMaxFileSizeMB
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	return o
}

// sizeMB converts a byte count to MiB.
func sizeMB(n int) float64 {
	return float64(n) / bytesPerMB
}
