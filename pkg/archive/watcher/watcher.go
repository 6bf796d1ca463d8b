// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watcher reports changes to the archive root directory.
//
// Only managed clip files count. Hidden files (the store's temp files) and
// other extensions are ignored, matching what rotation and stats see.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/SpeechArchive/pkg/archive"
	"github.com/AleutianAI/SpeechArchive/pkg/archive/notify"
)

// Op is the kind of change to a clip file.
type Op int

const (
	// OpCreate means a clip appeared (created or renamed into the root).
	OpCreate Op = iota

	// OpRemove means a clip disappeared (deleted or renamed away).
	OpRemove
)

func (op Op) String() string {
	if op == OpCreate {
		return "create"
	}
	return "remove"
}

// Change is one observed clip event.
type Change struct {
	Name string
	Op   Op
	Time time.Time
}

// Summary is the net effect of one or more debounced batches.
type Summary struct {
	Added   int
	Removed int
}

func (s Summary) empty() bool {
	return s.Added == 0 && s.Removed == 0
}

// String renders the summary for the notification sink.
func (s Summary) String() string {
	return fmt.Sprintf("Archive changed: %d added, %d removed", s.Added, s.Removed)
}

// Options configures a Watcher.
type Options struct {
	// Debounce is how long to wait for more events before summarizing.
	// Default: 250ms
	Debounce time.Duration

	// NoticeInterval is the minimum spacing between change notices.
	// Summaries that arrive sooner are merged into the next notice.
	// Default: 2s
	NoticeInterval time.Duration

	// BufferSize is the event channel size. Default: 256
	BufferSize int
}

// DefaultOptions returns the stock watcher settings.
func DefaultOptions() Options {
	return Options{
		Debounce:       250 * time.Millisecond,
		NoticeInterval: 2 * time.Second,
		BufferSize:     256,
	}
}

// Watcher turns fsnotify events on the archive root into sink notices.
//
// # Description
//
// Events are debounced into batches; each batch becomes a Summary. Notices
// are throttled by a token bucket so a burst of saves and rotations
// produces one line rather than dozens. Removal of the root itself is
// always posted immediately because every later write will fail.
//
// # Thread Safety
//
// Start and Stop are safe to call from any goroutine. The sink must be
// safe for concurrent use; notify.Sink is.
//
// # Limitations
//
//   - Changes made by this process are reported like any other
//   - A recreated root is not re-watched
type Watcher struct {
	root    string
	fsw     *fsnotify.Watcher
	sink    notify.Poster
	logger  *slog.Logger
	limiter *rate.Limiter
	opts    Options

	changes  chan Change
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu       sync.Mutex
	watching bool
}

// New creates a Watcher for root. Call Start to begin watching.
//
// # Inputs
//
//   - root: Archive root, usually the result of Store.Initialize
//   - sink: Receives change notices
//   - logger: nil uses slog.Default()
//   - opts: nil uses DefaultOptions()
//
// # Outputs
//
//   - *Watcher: Idle watcher
//   - error: fsnotify could not be initialized
func New(root string, sink notify.Poster, logger *slog.Logger, opts *Options) (*Watcher, error) {
	o := DefaultOptions()
	if opts != nil {
		if opts.Debounce > 0 {
			o.Debounce = opts.Debounce
		}
		if opts.NoticeInterval > 0 {
			o.NoticeInterval = opts.NoticeInterval
		}
		if opts.BufferSize > 0 {
			o.BufferSize = opts.BufferSize
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		root:    filepath.Clean(root),
		fsw:     fsw,
		sink:    sink,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(o.NoticeInterval), 1),
		opts:    o,
		changes: make(chan Change, o.BufferSize),
		done:    make(chan struct{}),
	}, nil
}

// Start watches the root until ctx ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watching {
		return nil
	}

	if err := w.fsw.Add(w.root); err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}
	w.watching = true

	w.wg.Add(2)
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)

	w.logger.Debug("archive watcher started", "root", w.root)
	return nil
}

// Stop ends watching and flushes any pending summary.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.fsw.Close()
		w.wg.Wait()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching reports whether Start succeeded and Stop has not run.
func (w *Watcher) IsWatching() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watching
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("archive watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	name := filepath.Clean(event.Name)
	if name == w.root {
		if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
			w.logger.Error("archive root removed", "root", w.root)
			w.sink.Postf("Archive folder removed: %s", w.root)
		}
		return
	}

	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || !archive.HasExtension(base) {
		return
	}

	var op Op
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpRemove
	default:
		return
	}

	select {
	case w.changes <- Change{Name: base, Op: op, Time: time.Now()}:
	default:
		w.logger.Debug("archive watcher buffer full, change dropped", "file", base)
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()

	var pending Summary
	var timer *time.Timer
	var timerC <-chan time.Time

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			stopTimer()
			w.post(pending)
			return
		case <-w.done:
			stopTimer()
			w.post(pending)
			return
		case change := <-w.changes:
			if change.Op == OpCreate {
				pending.Added++
			} else {
				pending.Removed++
			}
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.opts.Debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			if w.limiter.Allow() {
				w.post(pending)
				pending = Summary{}
				continue
			}
			timer = time.NewTimer(w.opts.NoticeInterval)
			timerC = timer.C
		}
	}
}

func (w *Watcher) post(s Summary) {
	if s.empty() {
		return
	}
	w.logger.Debug("archive changed", "added", s.Added, "removed", s.Removed)
	w.sink.Post(s.String())
}
