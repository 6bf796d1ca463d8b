// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package coordinator is the single entry point for archiving clips.
//
// A persist call validates the payload, sanitizes the name, writes with
// retries and linear backoff, rotates on success and spills to the memory
// backup when every attempt fails. Cancellation withdraws the request: it
// never spills.
package coordinator

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/SpeechArchive/pkg/archive"
	"github.com/AleutianAI/SpeechArchive/pkg/archive/backup"
	"github.com/AleutianAI/SpeechArchive/pkg/archive/metrics"
	"github.com/AleutianAI/SpeechArchive/pkg/archive/notify"
)

var tracer = otel.Tracer("speecharchive.coordinator")

// testClipSize is the payload size used by TestSave.
const testClipSize = 1024

// -----------------------------------------------------------------------------
// Collaborators
// -----------------------------------------------------------------------------

// Store is the disk tier. *archive.Store implements it.
type Store interface {
	Initialize(basePath string) (string, error)
	Write(ctx context.Context, name string, payload []byte) (string, error)
	Rotate(ctx context.Context, maxFiles int, keep ...string) (int, error)
	Stats(ctx context.Context) (archive.Stats, error)
}

var _ Store = (*archive.Store)(nil)

// Deps are the collaborators of a Coordinator. Only Store is required.
type Deps struct {
	Store   Store
	Backup  *backup.Buffer
	Sink    notify.Poster
	Metrics metrics.Recorder
	Logger  *slog.Logger
}

// -----------------------------------------------------------------------------
// Outcome
// -----------------------------------------------------------------------------

// Outcome is the terminal state of one persist call.
type Outcome int

const (
	// OutcomeRejected means admission failed; nothing was written or spilled.
	OutcomeRejected Outcome = iota

	// OutcomeSaved means the payload is on disk.
	OutcomeSaved

	// OutcomeCancelled means the context ended first; nothing was spilled.
	OutcomeCancelled

	// OutcomeSpilled means every attempt failed and the payload went to
	// the backup buffer.
	OutcomeSpilled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSaved:
		return metrics.OutcomeSaved
	case OutcomeCancelled:
		return metrics.OutcomeCancelled
	case OutcomeSpilled:
		return metrics.OutcomeSpilled
	default:
		return metrics.OutcomeRejected
	}
}

// Result describes a finished persist call.
type Result struct {
	Outcome Outcome

	// RequestID correlates logs, spans and backup entries for the call.
	RequestID string

	// Name is the sanitized file name, empty when admission failed first.
	// For OutcomeSaved it is the name actually written, which carries a
	// numeric suffix when the sanitized name was taken.
	Name string

	// Attempts is the number of write attempts made.
	Attempts int

	// Rotated is the number of files deleted by the post-write rotation.
	Rotated int

	// Err is nil for OutcomeSaved. For the other outcomes it wraps the
	// admission sentinel, the context error or ErrRetriesExhausted.
	Err error
}

// -----------------------------------------------------------------------------
// Coordinator
// -----------------------------------------------------------------------------

// Coordinator orchestrates sanitize, write, rotate and spill.
//
// # Description
//
// Persist is the awaitable primitive. Submit is fire-and-forget over a
// supervised Pool bound to the coordinator's process-wide context, which
// Shutdown cancels. Every step posts a status line to the sink.
//
// # Thread Safety
//
// Coordinator is safe for concurrent use. Concurrent persist calls share
// only the store, the backup buffer and the sink, each of which guards
// its own state.
//
// # Limitations
//
//   - A payload cancelled mid-retry is dropped, not spilled
//   - Spilled payloads are never written back to disk
type Coordinator struct {
	opts    Options
	store   Store
	backup  *backup.Buffer
	sink    notify.Poster
	metrics metrics.Recorder
	logger  *slog.Logger
	pool    *Pool

	ctx      context.Context
	cancel   context.CancelFunc
	shutdown sync.Once

	// after is time.After unless a test replaces it.
	after func(time.Duration) <-chan time.Time
	now   func() time.Time
}

// New creates a Coordinator.
//
// # Description
//
// Missing collaborators get defaults: a default-sized backup buffer, a
// default-capacity sink, a NoOp recorder and slog.Default(). Non-positive
// numeric options are replaced with their defaults.
//
// # Inputs
//
//   - opts: Archive options, usually DefaultOptions() adjusted by config
//   - deps: Collaborators; Store is required
//
// # Outputs
//
//   - *Coordinator: Ready to use once the store is initialized
//   - error: ErrNilStore when deps.Store is nil
//
// # Examples
//
//	store := archive.NewStore(logger)
//	sink := notify.NewSink(0)
//	c, err := coordinator.New(coordinator.DefaultOptions(), coordinator.Deps{
//	    Store: store, Sink: sink, Logger: logger,
//	})
//	if err != nil {
//	    return err
//	}
//	defer c.Shutdown(5 * time.Second)
//	c.Initialize(home)
//	c.Submit(clip, "")
func New(opts Options, deps Deps) (*Coordinator, error) {
	if deps.Store == nil {
		return nil, ErrNilStore
	}
	opts = opts.withDefaults()

	if deps.Backup == nil {
		deps.Backup = backup.New(0, 0)
	}
	if deps.Sink == nil {
		deps.Sink = notify.NewSink(0)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoOp()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		opts:    opts,
		store:   deps.Store,
		backup:  deps.Backup,
		sink:    deps.Sink,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		ctx:     ctx,
		cancel:  cancel,
		after:   time.After,
		now:     time.Now,
	}
	c.pool = NewPool(opts.Workers, c.onTaskPanic)
	return c, nil
}

// Options returns the effective options.
func (c *Coordinator) Options() Options {
	return c.opts
}

// Backup returns the backup buffer.
func (c *Coordinator) Backup() *backup.Buffer {
	return c.backup
}

// Initialize creates the archive root and announces it.
//
// Failure is not fatal: the coordinator stays usable, persist calls are
// rejected and Stats reports the error.
func (c *Coordinator) Initialize(basePath string) (string, error) {
	root, err := c.store.Initialize(basePath)
	if err != nil {
		c.sink.Postf("Archive init failed: %v", err)
		return "", err
	}
	c.sink.Postf("Archive Ready!\nPath: %s", root)
	return root, nil
}

// Persist archives payload and reports whether it reached disk.
//
// false covers rejection, cancellation and spill alike; use
// PersistDetailed to tell them apart.
func (c *Coordinator) Persist(ctx context.Context, payload []byte, name string) bool {
	return c.PersistDetailed(ctx, payload, name).Outcome == OutcomeSaved
}

// PersistDetailed archives payload and returns the full Result.
//
// # Description
//
// Runs admission, sanitization, up to MaxAttempts writes separated by
// RetryBaseDelay*attempt waits, and then either rotation (on success) or a
// spill to the backup buffer (on exhaustion). The call observes both ctx
// and the coordinator's process-wide context.
//
// # Inputs
//
//   - ctx: Caller cancellation; checked during writes and backoff waits
//   - payload: Clip bytes, 0 < len <= MaxFileSizeMB
//   - name: Suggested file name; empty generates a timestamped one
//
// # Outputs
//
//   - Result: Terminal outcome with attempts, file name and cause
//
// # Examples
//
//	res := c.PersistDetailed(ctx, clip, "greeting")
//	switch res.Outcome {
//	case coordinator.OutcomeSpilled:
//	    logger.Warn("clip kept in memory only", "request_id", res.RequestID)
//	}
//
// # Limitations
//
//   - Rotation failures are reported through the sink and logs only
func (c *Coordinator) PersistDetailed(ctx context.Context, payload []byte, name string) Result {
	start := c.now()
	requestID := uuid.NewString()

	ctx, stop := c.bind(ctx)
	defer stop()

	ctx, span := tracer.Start(ctx, "coordinator.Persist",
		trace.WithAttributes(
			attribute.String("request_id", requestID),
			attribute.Int("payload_bytes", len(payload)),
		),
	)
	defer span.End()

	res := c.persist(ctx, requestID, payload, name)
	res.RequestID = requestID

	span.SetAttributes(
		attribute.String("outcome", res.Outcome.String()),
		attribute.Int("attempts", res.Attempts),
		attribute.String("file", res.Name),
	)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Outcome.String())
	}

	c.metrics.RecordOutcome(res.Outcome.String(), c.now().Sub(start))
	return res
}

// bind derives a context that also ends when the coordinator shuts down.
func (c *Coordinator) bind(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stopAfter := context.AfterFunc(c.ctx, cancel)
	return ctx, func() {
		stopAfter()
		cancel()
	}
}

func (c *Coordinator) persist(ctx context.Context, requestID string, payload []byte, rawName string) Result {
	logger := c.logger.With("request_id", requestID)

	if err := c.admit(payload); err != nil {
		logger.Debug("payload rejected", "bytes", len(payload), "error", err)
		return Result{Outcome: OutcomeRejected, Err: err}
	}

	name := archive.SanitizeAt(rawName, c.now())
	if name == "" {
		logger.Debug("payload rejected", "raw_name", rawName)
		return Result{Outcome: OutcomeRejected, Err: ErrInvalidName}
	}
	res := Result{Name: name}

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		res.Attempts = attempt

		written, err := c.writeAttempt(ctx, name, payload, attempt)
		if err == nil {
			res.Outcome = OutcomeSaved
			res.Name = written
			c.sink.Postf("Saved: %s\nSize: %.2fMB", written, sizeMB(len(payload)))
			logger.Info("clip archived", "file", written, "bytes", len(payload), "attempt", attempt)
			if c.opts.EnableFileRotation {
				res.Rotated = c.rotate(ctx, written, logger)
			}
			return res
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return c.cancelled(res, name, ctxErr, logger)
		}
		if errors.Is(err, archive.ErrNotInitialized) || errors.Is(err, archive.ErrInvalidName) {
			logger.Warn("payload rejected by store", "file", name, "error", err)
			res.Outcome = OutcomeRejected
			res.Err = err
			return res
		}

		lastErr = err
		c.metrics.RecordAttemptFailure()
		logger.Warn("archive write failed",
			"file", name,
			"attempt", attempt,
			"max_attempts", c.opts.MaxAttempts,
			"error", err,
		)

		if attempt == c.opts.MaxAttempts {
			break
		}

		delay := c.opts.RetryBaseDelay * time.Duration(attempt)
		select {
		case <-ctx.Done():
			return c.cancelled(res, name, ctx.Err(), logger)
		case <-c.after(delay):
		}
	}

	return c.spill(res, payload, lastErr, logger)
}

// admit applies the synchronous size checks.
func (c *Coordinator) admit(payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if mb := sizeMB(len(payload)); mb > c.opts.MaxFileSizeMB {
		return fmt.Errorf("%w: %.2fMB > %.2fMB", ErrPayloadTooLarge, mb, c.opts.MaxFileSizeMB)
	}
	return nil
}

func (c *Coordinator) writeAttempt(ctx context.Context, name string, payload []byte, attempt int) (string, error) {
	ctx, span := tracer.Start(ctx, "coordinator.writeAttempt",
		trace.WithAttributes(
			attribute.String("file", name),
			attribute.Int("attempt", attempt),
		),
	)
	defer span.End()

	written, err := c.store.Write(ctx, name, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return "", err
	}
	if written != name {
		span.SetAttributes(attribute.String("written", written))
	}
	return written, nil
}

// rotate trims the archive after a successful write of written, which is
// never a candidate. Errors never fail the triggering call.
func (c *Coordinator) rotate(ctx context.Context, written string, logger *slog.Logger) int {
	deleted, err := c.store.Rotate(ctx, c.opts.MaxArchivedFiles, written)
	c.metrics.RecordRotated(deleted)
	if deleted > 0 {
		logger.Info("archive rotated", "deleted", deleted, "max_files", c.opts.MaxArchivedFiles)
		c.sink.Postf("Rotated %d old file(s)", deleted)
	}
	if err != nil {
		logger.Warn("file rotation error", "error", err)
		c.sink.Postf("File rotation error: %v", err)
	}
	return deleted
}

func (c *Coordinator) cancelled(res Result, name string, cause error, logger *slog.Logger) Result {
	logger.Info("persist cancelled", "file", name, "attempts", res.Attempts, "error", cause)
	c.sink.Postf("Cancelled: %s", name)
	res.Outcome = OutcomeCancelled
	res.Err = cause
	return res
}

func (c *Coordinator) spill(res Result, payload []byte, lastErr error, logger *slog.Logger) Result {
	res.Outcome = OutcomeSpilled
	res.Err = fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, res.Attempts, lastErr)

	entry, err := c.backup.Append(payload)
	c.metrics.RecordBackup(c.backup.Len(), c.backup.TotalBytes())
	if err != nil {
		logger.Error("backup spill refused", "file", res.Name, "error", err)
		c.sink.Postf("Lost: %s (%v)", res.Name, err)
		res.Err = errors.Join(res.Err, err)
		return res
	}

	logger.Error("clip spilled to memory backup",
		"file", res.Name,
		"attempts", res.Attempts,
		"backup_id", entry.ID,
		"backup_entries", c.backup.Len(),
		"error", lastErr,
	)
	c.sink.Postf("Write failed, kept in memory: %s", res.Name)
	return res
}

// Submit schedules a persist call and returns immediately.
//
// The task is bound to the coordinator's process-wide context. It returns
// ErrShutdown after Shutdown.
func (c *Coordinator) Submit(payload []byte, name string) error {
	return c.pool.Go(c.ctx, func(ctx context.Context) {
		c.PersistDetailed(ctx, payload, name)
	})
}

// TestSave submits a 1024-byte random clip named test_<timestamp>.dat.
func (c *Coordinator) TestSave() error {
	clip := make([]byte, testClipSize)
	if _, err := rand.Read(clip); err != nil {
		return fmt.Errorf("generate test clip: %w", err)
	}
	name := fmt.Sprintf("test_%s%s", c.now().Format("20060102_150405"), archive.Extension)
	return c.Submit(clip, name)
}

// Stats returns the archive summary "Files: N/Max\nSize: X.XXMB", or
// "Error: <cause>" when the root cannot be scanned.
func (c *Coordinator) Stats(ctx context.Context) string {
	st, err := c.store.Stats(ctx)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return fmt.Sprintf("Files: %d/%d\nSize: %.2fMB", st.FileCount, c.opts.MaxArchivedFiles, st.TotalMB())
}

// Shutdown cancels the process-wide context, stops accepting tasks and
// waits up to timeout for in-flight ones. It reports whether they all
// finished. Calls after the first return true immediately.
func (c *Coordinator) Shutdown(timeout time.Duration) bool {
	drained := true
	c.shutdown.Do(func() {
		c.cancel()
		drained = c.pool.Close(timeout)
		if !drained {
			c.logger.Warn("shutdown timed out with tasks in flight", "timeout", timeout)
		}
	})
	return drained
}

// onTaskPanic routes a recovered Submit panic to the sink and the log.
func (c *Coordinator) onTaskPanic(p PanicInfo) {
	c.logger.Error("archive task panicked", "panic", p.Value, "stack", p.Stack)
	c.sink.Postf("Archive task failed: %v", p.Value)
}
