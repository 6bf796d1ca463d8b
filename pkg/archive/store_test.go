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
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/SpeechArchive/pkg/logging"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	store := NewStore(logging.Discard())
	root, err := store.Initialize(t.TempDir())
	require.NoError(t, err)
	return store, root
}

func writeSequence(t *testing.T, store *Store, names ...string) {
	t.Helper()
	for _, name := range names {
		written, err := store.Write(context.Background(), name, []byte(name))
		require.NoError(t, err)
		require.Equal(t, name, written)
	}
}

// =============================================================================
// Initialize
// =============================================================================

func TestStore_Initialize(t *testing.T) {
	base := t.TempDir()
	store := NewStore(logging.Discard())

	root, err := store.Initialize(base)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, DirName), root)
	assert.True(t, filepath.IsAbs(root))

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	got, ok := store.Root()
	assert.True(t, ok)
	assert.Equal(t, root, got)
}

func TestStore_InitializeRunsOnce(t *testing.T) {
	store := NewStore(logging.Discard())
	first, err := store.Initialize(t.TempDir())
	require.NoError(t, err)

	second, err := store.Initialize(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, first, second, "second Initialize must not move the root")
}

func TestStore_InitializeFailureLeavesStoreInert(t *testing.T) {
	tests := []struct {
		name string
		base func(t *testing.T) string
	}{
		{"empty base path", func(t *testing.T) string { return "" }},
		{"base is a regular file", func(t *testing.T) string {
			p := filepath.Join(t.TempDir(), "blocker")
			require.NoError(t, os.WriteFile(p, []byte("x"), 0600))
			return p
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStore(logging.Discard())
			root, err := store.Initialize(tt.base(t))
			require.ErrorIs(t, err, ErrInit)
			assert.Empty(t, root)

			_, ok := store.Root()
			assert.False(t, ok)

			_, err = store.Write(context.Background(), "a.dat", []byte("x"))
			assert.ErrorIs(t, err, ErrNotInitialized)

			_, err = store.Stats(context.Background())
			assert.ErrorIs(t, err, ErrNotInitialized)
			assert.ErrorIs(t, err, ErrInit)

			_, err = store.Rotate(context.Background(), 1)
			assert.ErrorIs(t, err, ErrNotInitialized)
		})
	}
}

// =============================================================================
// Write
// =============================================================================

func TestStore_Write(t *testing.T) {
	store, root := newTestStore(t)
	payload := make([]byte, 1024)

	written, err := store.Write(context.Background(), "clip.dat", payload)
	require.NoError(t, err)
	assert.Equal(t, "clip.dat", written)

	data, err := os.ReadFile(filepath.Join(root, "clip.dat"))
	require.NoError(t, err)
	assert.Len(t, data, 1024)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestStore_WriteNeverReplacesExistingClip(t *testing.T) {
	store, root := newTestStore(t)

	var written []string
	for _, payload := range []string{"first", "second", "third"} {
		name, err := store.Write(context.Background(), "speech_20250105_100000.dat", []byte(payload))
		require.NoError(t, err)
		written = append(written, name)
	}

	assert.Equal(t, []string{
		"speech_20250105_100000.dat",
		"speech_20250105_100000_1.dat",
		"speech_20250105_100000_2.dat",
	}, written)

	data, err := os.ReadFile(filepath.Join(root, written[0]))
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestStore_ConcurrentWritesOfOneNameAllKept(t *testing.T) {
	store, _ := newTestStore(t)
	const writers = 20

	var wg sync.WaitGroup
	names := make([]string, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name, err := store.Write(context.Background(), "clip.dat", []byte{byte(i)})
			if err != nil {
				t.Errorf("Write: %v", err)
				return
			}
			names[i] = name
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, writers)
	for _, name := range names {
		assert.False(t, seen[name], "name %s handed out twice", name)
		seen[name] = true
	}

	st, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, writers, st.FileCount)
}

func TestStore_WriteRejectsUnmanagedNames(t *testing.T) {
	store, _ := newTestStore(t)

	for _, name := range []string{"", "x.txt", "../escape.dat", "sub/dir.dat"} {
		_, err := store.Write(context.Background(), name, []byte("x"))
		assert.ErrorIs(t, err, ErrInvalidName, "name %q", name)
	}
}

func TestStore_WriteCancelledLeavesNoFile(t *testing.T) {
	store, root := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Write(ctx, "clip.dat", []byte("x"))
	require.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_WriteFailsWhenRootRemoved(t *testing.T) {
	store, root := newTestStore(t)
	require.NoError(t, os.RemoveAll(root))

	_, err := store.Write(context.Background(), "clip.dat", []byte("x"))
	assert.ErrorIs(t, err, ErrWrite)
}

// =============================================================================
// Rotate
// =============================================================================

func TestStore_RotateDeletesOldestFirst(t *testing.T) {
	store, _ := newTestStore(t)
	writeSequence(t, store, "c1.dat", "c2.dat", "c3.dat", "c4.dat", "c5.dat")

	deleted, err := store.Rotate(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	files, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "c4.dat", files[0].Name)
	assert.Equal(t, "c5.dat", files[1].Name)
}

func TestStore_RotateFollowsWriteOrderNotName(t *testing.T) {
	store, _ := newTestStore(t)
	names := make([]string, 0, 26)
	for r := 'z'; r >= 'a'; r-- {
		names = append(names, string(r)+".dat")
	}
	writeSequence(t, store, names...)

	files, err := store.List(context.Background())
	require.NoError(t, err)
	listed := make([]string, len(files))
	for i, f := range files {
		listed[i] = f.Name
	}
	assert.Equal(t, names, listed)

	deleted, err := store.Rotate(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 24, deleted)

	files, err = store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "b.dat", files[0].Name)
	assert.Equal(t, "a.dat", files[1].Name)
}

func TestStore_RotateSkipsKeptNames(t *testing.T) {
	store, root := newTestStore(t)
	writeSequence(t, store, "old.dat", "mid.dat", "new.dat")

	deleted, err := store.Rotate(context.Background(), 1, "old.dat")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	_, err = os.Stat(filepath.Join(root, "old.dat"))
	assert.NoError(t, err, "kept name must survive even when oldest")
	files, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func TestStore_RotateUnderCeilingIsNoOp(t *testing.T) {
	store, _ := newTestStore(t)
	writeSequence(t, store, "a.dat", "b.dat")

	deleted, err := store.Rotate(context.Background(), 2)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	st, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.FileCount)
}

func TestStore_RotateIgnoresUnmanagedFiles(t *testing.T) {
	store, root := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("keep"), 0600))
	require.NoError(t, os.Mkdir(filepath.Join(root, "nested.dat"), 0750))
	writeSequence(t, store, "a.dat", "b.dat", "c.dat")

	deleted, err := store.Rotate(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	_, err = os.Stat(filepath.Join(root, "notes.txt"))
	assert.NoError(t, err, "non-matching files are invisible to rotation")
	_, err = os.Stat(filepath.Join(root, "nested.dat"))
	assert.NoError(t, err, "directories are invisible to rotation")
	_, err = os.Stat(filepath.Join(root, "c.dat"))
	assert.NoError(t, err)
}

func TestStore_RotateRejectsNonPositiveCeiling(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Rotate(context.Background(), 0)
	assert.ErrorIs(t, err, ErrRotate)
}

func TestStore_ConcurrentWritesAndRotations(t *testing.T) {
	store, _ := newTestStore(t)
	const maxFiles = 5

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("clip-%02d.dat", i)
			written, err := store.Write(context.Background(), name, []byte(name))
			if err != nil {
				t.Errorf("Write(%s): %v", name, err)
				return
			}
			if _, err := store.Rotate(context.Background(), maxFiles, written); err != nil {
				t.Errorf("Rotate: %v", err)
			}
		}(i)
	}
	wg.Wait()

	st, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, st.FileCount, maxFiles)
	assert.Positive(t, st.FileCount)
}

// =============================================================================
// Stats
// =============================================================================

func TestStore_Stats(t *testing.T) {
	store, root := newTestStore(t)
	_, err := store.Write(context.Background(), "a.dat", make([]byte, 100))
	require.NoError(t, err)
	_, err = store.Write(context.Background(), "b.DAT", make([]byte, 50))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "ignored.wav"), make([]byte, 1000), 0600))

	st, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.FileCount)
	assert.EqualValues(t, 150, st.TotalBytes)
}

func TestStore_StatsScanFailure(t *testing.T) {
	store, root := newTestStore(t)
	require.NoError(t, os.RemoveAll(root))

	_, err := store.Stats(context.Background())
	assert.True(t, errors.Is(err, ErrScan), "got %v", err)
}

func TestStats_TotalMB(t *testing.T) {
	assert.InDelta(t, 1.5, Stats{TotalBytes: 3 * 512 * 1024}.TotalMB(), 1e-9)
}
