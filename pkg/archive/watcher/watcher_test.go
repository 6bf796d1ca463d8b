// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/SpeechArchive/pkg/archive/notify"
	"github.com/AleutianAI/SpeechArchive/pkg/logging"
)

func startWatcher(t *testing.T, opts *Options) (*Watcher, *notify.Sink, string) {
	t.Helper()
	root := t.TempDir()
	sink := notify.NewSink(0)

	w, err := New(root, sink, logging.Discard(), opts)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w, sink, root
}

func pendingTexts(s *notify.Sink) []string {
	var out []string
	for _, m := range s.Pending() {
		out = append(out, m.Text)
	}
	return out
}

func hasText(s *notify.Sink, prefix string) bool {
	for _, text := range pendingTexts(s) {
		if strings.HasPrefix(text, prefix) {
			return true
		}
	}
	return false
}

func TestSummary_String(t *testing.T) {
	assert.Equal(t, "Archive changed: 2 added, 1 removed", Summary{Added: 2, Removed: 1}.String())
}

func TestOp_String(t *testing.T) {
	assert.Equal(t, "create", OpCreate.String())
	assert.Equal(t, "remove", OpRemove.String())
}

func TestWatcher_ReportsClipChanges(t *testing.T) {
	_, sink, root := startWatcher(t, &Options{Debounce: 30 * time.Millisecond, NoticeInterval: time.Millisecond})

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.dat"), []byte("a"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.dat"), []byte("b"), 0600))

	assert.Eventually(t, func() bool {
		return hasText(sink, "Archive changed: 2 added, 0 removed")
	}, 3*time.Second, 10*time.Millisecond, "got %v", pendingTexts(sink))

	require.NoError(t, os.Remove(filepath.Join(root, "a.dat")))
	assert.Eventually(t, func() bool {
		return hasText(sink, "Archive changed: 0 added, 1 removed")
	}, 3*time.Second, 10*time.Millisecond, "got %v", pendingTexts(sink))
}

func TestWatcher_IgnoresUnmanagedFiles(t *testing.T) {
	w, sink, root := startWatcher(t, &Options{Debounce: 20 * time.Millisecond, NoticeInterval: time.Millisecond})

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".clip.dat.123.tmp"), []byte("x"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".hidden.dat"), []byte("x"), 0600))

	time.Sleep(150 * time.Millisecond)
	w.Stop()
	assert.Empty(t, pendingTexts(sink))
}

func TestWatcher_ThrottledSummariesMerge(t *testing.T) {
	w, sink, root := startWatcher(t, &Options{Debounce: 20 * time.Millisecond, NoticeInterval: time.Hour})

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.dat"), []byte("a"), 0600))
	assert.Eventually(t, func() bool {
		return hasText(sink, "Archive changed: 1 added")
	}, 3*time.Second, 10*time.Millisecond)

	// The bucket is now empty; later batches wait and merge.
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.dat"), []byte("b"), 0600))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "c.dat"), []byte("c"), 0600))
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, pendingTexts(sink), 1, "second notice must be throttled")

	w.Stop()
	assert.Equal(t, []string{
		"Archive changed: 1 added, 0 removed",
		"Archive changed: 2 added, 0 removed",
	}, pendingTexts(sink))
}

func TestWatcher_RootRemoved(t *testing.T) {
	_, sink, root := startWatcher(t, &Options{Debounce: 20 * time.Millisecond})

	require.NoError(t, os.RemoveAll(root))
	assert.Eventually(t, func() bool {
		return hasText(sink, "Archive folder removed: "+root)
	}, 3*time.Second, 10*time.Millisecond)
}

func TestWatcher_StartMissingRoot(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "missing"), notify.NewSink(0), logging.Discard(), nil)
	require.NoError(t, err)
	defer w.Stop()

	assert.Error(t, w.Start(context.Background()))
	assert.False(t, w.IsWatching())
}

func TestWatcher_StartStop(t *testing.T) {
	w, _, _ := startWatcher(t, nil)
	assert.True(t, w.IsWatching())
	require.NoError(t, w.Start(context.Background()), "second Start is a no-op")

	w.Stop()
	w.Stop()
	assert.False(t, w.IsWatching())
}
