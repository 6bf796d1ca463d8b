// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metrics records archive outcomes.
//
// Two recorders are provided: NoOp keeps counters in memory for tests and
// hosts without Prometheus, and Prometheus exports the same values to a
// registry chosen by the host.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "speecharchive"
	metricsSubsystem = "archive"
)

// Outcome labels. They match coordinator.Outcome.String().
const (
	OutcomeSaved     = "saved"
	OutcomeRejected  = "rejected"
	OutcomeCancelled = "cancelled"
	OutcomeSpilled   = "spilled"
)

// =============================================================================
// Interface
// =============================================================================

// Recorder receives archive events.
//
// # Description
//
// Implementations must be cheap and non-blocking; they are called on the
// persist path.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Recorder interface {
	// RecordOutcome counts one finished persist call.
	RecordOutcome(outcome string, elapsed time.Duration)

	// RecordAttemptFailure counts one failed write attempt.
	RecordAttemptFailure()

	// RecordRotated counts files deleted by rotation.
	RecordRotated(count int)

	// RecordBackup publishes the backup buffer's current size.
	RecordBackup(entries int, bytes int64)

	// Register attaches the recorder's collectors to reg. A nil reg
	// means prometheus.DefaultRegisterer.
	Register(reg prometheus.Registerer) error
}

// =============================================================================
// NoOp
// =============================================================================

// NoOp tracks totals in memory without exporting them.
type NoOp struct {
	saved          atomic.Int64
	rejected       atomic.Int64
	cancelled      atomic.Int64
	spilled        atomic.Int64
	attemptFailure atomic.Int64
	rotated        atomic.Int64
	backupEntries  atomic.Int64
	backupBytes    atomic.Int64
}

// NewNoOp creates an in-memory recorder.
func NewNoOp() *NoOp {
	return &NoOp{}
}

func (m *NoOp) RecordOutcome(outcome string, _ time.Duration) {
	switch outcome {
	case OutcomeSaved:
		m.saved.Add(1)
	case OutcomeRejected:
		m.rejected.Add(1)
	case OutcomeCancelled:
		m.cancelled.Add(1)
	case OutcomeSpilled:
		m.spilled.Add(1)
	}
}

func (m *NoOp) RecordAttemptFailure() { m.attemptFailure.Add(1) }

func (m *NoOp) RecordRotated(count int) { m.rotated.Add(int64(count)) }

func (m *NoOp) RecordBackup(entries int, bytes int64) {
	m.backupEntries.Store(int64(entries))
	m.backupBytes.Store(bytes)
}

// Register is a no-op.
func (m *NoOp) Register(prometheus.Registerer) error { return nil }

// Outcomes returns the per-outcome totals.
func (m *NoOp) Outcomes() map[string]int64 {
	return map[string]int64{
		OutcomeSaved:     m.saved.Load(),
		OutcomeRejected:  m.rejected.Load(),
		OutcomeCancelled: m.cancelled.Load(),
		OutcomeSpilled:   m.spilled.Load(),
	}
}

// AttemptFailures returns the failed-attempt total.
func (m *NoOp) AttemptFailures() int64 { return m.attemptFailure.Load() }

// Rotated returns the rotated-file total.
func (m *NoOp) Rotated() int64 { return m.rotated.Load() }

// Backup returns the last published backup size.
func (m *NoOp) Backup() (entries int64, bytes int64) {
	return m.backupEntries.Load(), m.backupBytes.Load()
}

// =============================================================================
// Prometheus
// =============================================================================

// Prometheus exports archive events as Prometheus collectors.
//
// # Description
//
// Exposes:
//
//   - speecharchive_archive_persist_total{outcome}
//   - speecharchive_archive_persist_duration_seconds{outcome}
//   - speecharchive_archive_write_failures_total
//   - speecharchive_archive_rotated_files_total
//   - speecharchive_archive_backup_entries
//   - speecharchive_archive_backup_bytes
//
// # Limitations
//
//   - Register must be called once before the values are visible
type Prometheus struct {
	persistTotal    *prometheus.CounterVec
	persistDuration *prometheus.HistogramVec
	writeFailures   prometheus.Counter
	rotated         prometheus.Counter
	backupEntries   prometheus.Gauge
	backupBytes     prometheus.Gauge

	mu         sync.Mutex
	registered bool
}

// NewPrometheus creates an unregistered Prometheus recorder.
func NewPrometheus() *Prometheus {
	return &Prometheus{
		persistTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "persist_total",
				Help:      "Finished persist calls by outcome",
			},
			[]string{"outcome"},
		),
		persistDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "persist_duration_seconds",
				Help:      "Persist call latency including retry waits",
				Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 1.5, 2, 5},
			},
			[]string{"outcome"},
		),
		writeFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "write_failures_total",
				Help:      "Failed write attempts, including ones later retried",
			},
		),
		rotated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "rotated_files_total",
				Help:      "Archive files deleted by rotation",
			},
		),
		backupEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "backup_entries",
				Help:      "Payloads currently held in the memory backup",
			},
		),
		backupBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "backup_bytes",
				Help:      "Bytes currently held in the memory backup",
			},
		),
	}
}

func (m *Prometheus) RecordOutcome(outcome string, elapsed time.Duration) {
	m.persistTotal.WithLabelValues(outcome).Inc()
	m.persistDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *Prometheus) RecordAttemptFailure() { m.writeFailures.Inc() }

func (m *Prometheus) RecordRotated(count int) {
	if count > 0 {
		m.rotated.Add(float64(count))
	}
}

func (m *Prometheus) RecordBackup(entries int, bytes int64) {
	m.backupEntries.Set(float64(entries))
	m.backupBytes.Set(float64(bytes))
}

// Register attaches all collectors to reg. Calling it again is a no-op.
func (m *Prometheus) Register(reg prometheus.Registerer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	collectors := []prometheus.Collector{
		m.persistTotal,
		m.persistDuration,
		m.writeFailures,
		m.rotated,
		m.backupEntries,
		m.backupBytes,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}

	m.registered = true
	return nil
}

// New returns a Prometheus recorder when enabled, otherwise NoOp.
func New(enablePrometheus bool) Recorder {
	if enablePrometheus {
		return NewPrometheus()
	}
	return NewNoOp()
}

// Compile-time interface compliance checks.
var _ Recorder = (*NoOp)(nil)
var _ Recorder = (*Prometheus)(nil)
