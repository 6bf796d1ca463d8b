// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DirName is the archive root directory created under the base path.
const DirName = "SpeechArchive"

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// FileInfo describes one archived clip.
type FileInfo struct {
	// Name is the file name inside the root.
	Name string

	// Path is the absolute path.
	Path string

	// Size is the length in bytes.
	Size int64

	// CreatedAt is the rotation key (see package docs for the source).
	CreatedAt time.Time

	// ModifiedAt orders files whose CreatedAt ties. Write stamps it with a
	// strictly increasing time.
	ModifiedAt time.Time
}

// Stats is the aggregate view of the archive root.
type Stats struct {
	FileCount  int
	TotalBytes int64
}

// TotalMB returns TotalBytes in mebibytes.
func (s Stats) TotalMB() float64 {
	return float64(s.TotalBytes) / (1024 * 1024)
}

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

// Store owns the archive root directory.
//
// # Description
//
// Store resolves and creates the root once, writes clips into it, rotates
// the oldest clips away and reports aggregate stats. A Store whose
// initialization failed stays usable but inert: writes return
// ErrNotInitialized and stats return an error.
//
// # Capabilities
//
//   - One-time root creation (Initialize)
//   - Atomic single-file writes via temp file + rename
//   - Oldest-first rotation, best-effort per file
//   - Stats over managed files, with concurrent scans coalesced
//
// # Thread Safety
//
// Store is safe for concurrent use. root is guarded by mu; rotations are
// serialized by rotateMu. Writes run concurrently with each other; name
// claims are atomic so two writes never share a file.
type Store struct {
	// mu guards root and initErr.
	mu sync.RWMutex

	// root is the absolute archive directory, "" until Initialize succeeds.
	root string

	initOnce sync.Once
	initErr  error

	// rotateMu serializes list+delete passes.
	rotateMu sync.Mutex

	// scans coalesces concurrent Stats calls.
	scans singleflight.Group

	// stampMu guards lastStamp, the newest mtime handed out by Write.
	stampMu   sync.Mutex
	lastStamp time.Time

	logger *slog.Logger
}

// NewStore creates an uninitialized Store. A nil logger uses slog.Default().
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{logger: logger}
}

// Initialize resolves and creates the archive root.
//
// # Description
//
// Creates "<basePath>/SpeechArchive" with 0750 permissions. Runs exactly
// once per Store: later calls return the first call's result regardless
// of their argument.
//
// # Inputs
//
//   - basePath: Parent directory, must be non-empty
//
// # Outputs
//
//   - string: Absolute root path
//   - error: Wraps ErrInit when the path is empty or cannot be created
//
// # Examples
//
//	store := archive.NewStore(logger)
//	root, err := store.Initialize(os.Getenv("HOME"))
//	if err != nil {
//	    // Store stays inert; the host keeps running.
//	}
//
// # Limitations
//
//   - Root removal after initialization is not repaired
func (s *Store) Initialize(basePath string) (string, error) {
	s.initOnce.Do(func() {
		root, err := resolveRoot(basePath)
		if err != nil {
			s.mu.Lock()
			s.initErr = err
			s.mu.Unlock()
			s.logger.Error("archive init failed", "base_path", basePath, "error", err)
			return
		}
		s.mu.Lock()
		s.root = root
		s.mu.Unlock()
		s.logger.Info("archive ready", "root", root)
	})

	return s.state()
}

// state returns root and the initialization error under the read lock.
func (s *Store) state() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root, s.initErr
}

func resolveRoot(basePath string) (string, error) {
	if strings.TrimSpace(basePath) == "" {
		return "", fmt.Errorf("%w: empty base path", ErrInit)
	}
	abs, err := filepath.Abs(filepath.Join(basePath, DirName))
	if err != nil {
		return "", fmt.Errorf("%w: resolve %s: %w", ErrInit, basePath, err)
	}
	if err := os.MkdirAll(abs, 0750); err != nil {
		return "", fmt.Errorf("%w: create %s: %w", ErrInit, abs, err)
	}
	return abs, nil
}

// Root returns the archive root and whether initialization succeeded.
func (s *Store) Root() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root, s.root != ""
}

// maxNameClaims bounds the suffixes Write tries for one name.
const maxNameClaims = 1000

// Write persists payload under name, or under a numbered variant of it
// when name is taken.
//
// # Description
//
// Writes to a hidden temp file in the root, stamps it with a modification
// time later than any earlier write, then hard-links it to the first free
// name of name, name_1, name_2, ... An existing clip is never replaced.
// Readers and rotation only ever see complete files. The context is
// checked before the write and again before the name is claimed; a
// cancellation between the two removes the temp file and leaves no trace.
//
// # Inputs
//
//   - ctx: Cancellation
//   - name: Sanitized file name (see Sanitize)
//   - payload: Clip bytes
//
// # Outputs
//
//   - string: The file name actually written
//   - error: ctx.Err(), ErrNotInitialized, ErrInvalidName, or wraps ErrWrite
//
// # Limitations
//
//   - The root must be on a filesystem with hard-link support
func (s *Store) Write(ctx context.Context, name string, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	root, ok := s.Root()
	if !ok {
		return "", ErrNotInitialized
	}
	if name == "" || name != filepath.Base(name) || !HasExtension(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	tmp, err := os.CreateTemp(root, "."+name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: create temp for %s: %w", ErrWrite, name, err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("%w: write %s: %w", ErrWrite, name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: close %s: %w", ErrWrite, name, err)
	}

	stamp := s.nextStamp()
	if err := os.Chtimes(tmpPath, stamp, stamp); err != nil {
		return "", fmt.Errorf("%w: stamp %s: %w", ErrWrite, name, err)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	return claim(root, tmpPath, name)
}

// claim links tmpPath to the first free numbered variant of name.
func claim(root, tmpPath, name string) (string, error) {
	for n := 0; n < maxNameClaims; n++ {
		candidate := Numbered(name, n)
		err := os.Link(tmpPath, filepath.Join(root, candidate))
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: finalize %s: %w", ErrWrite, candidate, err)
		}
	}
	return "", fmt.Errorf("%w: no free name for %s after %d tries", ErrWrite, name, maxNameClaims)
}

// nextStamp returns the current time, bumped past the previous stamp so
// back-to-back writes stay ordered on coarse clocks.
func (s *Store) nextStamp() time.Time {
	s.stampMu.Lock()
	defer s.stampMu.Unlock()

	now := time.Now().Round(0)
	if !now.After(s.lastStamp) {
		now = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = now
	return now
}

// List returns the managed files, oldest first.
//
// Unreadable entries are skipped. The result is a fresh snapshot of the
// directory taken at call time.
func (s *Store) List(ctx context.Context) ([]FileInfo, error) {
	root, ok := s.Root()
	if !ok {
		return nil, ErrNotInitialized
	}
	return scan(ctx, root)
}

// Rotate deletes the oldest files until at most maxFiles remain.
//
// # Description
//
// Takes a fresh snapshot, orders it oldest first and deletes the first
// count-maxFiles entries, skipping any name in keep. A failed delete is
// logged and the pass continues with the next file. Files that vanished
// before their turn are not counted and are not errors.
//
// # Inputs
//
//   - ctx: Checked before every delete
//   - maxFiles: Live-file ceiling, must be positive
//   - keep: Names never deleted by this call, typically the file just written
//
// # Outputs
//
//   - int: Number of files deleted by this call
//   - error: Wraps ErrRotate with every delete failure joined, or
//     ErrNotInitialized / ctx.Err()
//
// # Examples
//
//	written, _ := store.Write(ctx, name, payload)
//	deleted, err := store.Rotate(ctx, 100, written)
//	if err != nil {
//	    logger.Warn("rotation incomplete", "deleted", deleted, "error", err)
//	}
func (s *Store) Rotate(ctx context.Context, maxFiles int, keep ...string) (int, error) {
	if maxFiles <= 0 {
		return 0, fmt.Errorf("%w: max files must be positive, got %d", ErrRotate, maxFiles)
	}
	root, ok := s.Root()
	if !ok {
		return 0, ErrNotInitialized
	}

	s.rotateMu.Lock()
	defer s.rotateMu.Unlock()

	files, err := scan(ctx, root)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRotate, err)
	}
	if len(files) <= maxFiles {
		return 0, nil
	}

	excess := len(files) - maxFiles
	var deleted int
	var errs []error
	for _, f := range files {
		if excess == 0 {
			break
		}
		if slices.Contains(keep, f.Name) {
			continue
		}
		excess--
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := os.Remove(f.Path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			s.logger.Warn("rotation delete failed", "file", f.Name, "error", err)
			errs = append(errs, fmt.Errorf("delete %s: %w", f.Name, err))
			continue
		}
		deleted++
		s.logger.Debug("rotated archive file", "file", f.Name, "created_at", f.CreatedAt)
	}

	if len(errs) > 0 {
		return deleted, fmt.Errorf("%w: %w", ErrRotate, errors.Join(errs...))
	}
	return deleted, nil
}

// Stats counts managed files and their total size.
//
// Concurrent calls share one directory scan.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	root, initErr := s.state()
	if root == "" {
		if initErr != nil {
			return Stats{}, fmt.Errorf("%w: %w", ErrNotInitialized, initErr)
		}
		return Stats{}, ErrNotInitialized
	}

	v, err, _ := s.scans.Do(root, func() (interface{}, error) {
		files, err := scan(ctx, root)
		if err != nil {
			return Stats{}, err
		}
		var st Stats
		for _, f := range files {
			st.FileCount++
			st.TotalBytes += f.Size
		}
		return st, nil
	})
	if err != nil {
		return Stats{}, err
	}
	st, ok := v.(Stats)
	if !ok {
		return Stats{}, fmt.Errorf("unexpected type from stats scan: got %T", v)
	}
	return st, nil
}

// scan lists managed files under root, oldest first.
func scan(ctx context.Context, root string) ([]FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", ErrScan, root, err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if !HasExtension(name) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue // removed between ReadDir and Info
		}

		path := filepath.Join(root, name)
		files = append(files, FileInfo{
			Name:       name,
			Path:       path,
			Size:       info.Size(),
			CreatedAt:  creationTime(path, info),
			ModifiedAt: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		a, b := files[i], files[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if !a.ModifiedAt.Equal(b.ModifiedAt) {
			return a.ModifiedAt.Before(b.ModifiedAt)
		}
		return a.Name < b.Name
	})

	return files, nil
}
