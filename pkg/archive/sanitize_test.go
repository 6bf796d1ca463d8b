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
	"math/rand"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	now := time.Date(2025, 1, 5, 10, 0, 0, 0, time.Local)

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty generates timestamp", "", "speech_20250105_100000.dat"},
		{"plain name gets extension", "greeting", "greeting.dat"},
		{"existing extension kept", "clip.dat", "clip.dat"},
		{"extension match ignores case", "clip.DAT", "clip.DAT"},
		{"separators replaced", "a/b\\c", "a_b_c.dat"},
		{"windows illegal replaced", `x<y>z:"q"|?*`, "x_y_z__q____.dat"},
		{"control characters replaced", "tab\there\n", "tab_here_.dat"},
		{"other extension gets suffix", "clip.wav", "clip.wav.dat"},
		{"dot dot is harmless", "..", "...dat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeAt(tt.raw, now))
		})
	}
}

func TestSanitize_TruncatesBaseKeepsExtension(t *testing.T) {
	raw := strings.Repeat("a", 500)
	got := Sanitize(raw)

	assert.Len(t, got, MaxFilenameLength)
	assert.True(t, strings.HasSuffix(got, Extension))
	assert.Equal(t, strings.Repeat("a", MaxFilenameLength-len(Extension)), strings.TrimSuffix(got, Extension))
}

func TestSanitize_TruncationKeepsExistingExtensionCase(t *testing.T) {
	raw := strings.Repeat("b", 300) + ".DAT"
	got := Sanitize(raw)

	assert.Len(t, got, MaxFilenameLength)
	assert.True(t, strings.HasSuffix(got, ".DAT"))
}

func TestSanitize_TruncationDoesNotSplitRunes(t *testing.T) {
	raw := strings.Repeat("é", 150) // 300 bytes
	got := Sanitize(raw)

	assert.True(t, utf8.ValidString(got), "sanitized name must stay valid UTF-8")
	assert.LessOrEqual(t, len(got), MaxFilenameLength)
	assert.True(t, strings.HasSuffix(got, Extension))
}

func TestSanitize_Idempotent(t *testing.T) {
	now := time.Date(2025, 1, 5, 10, 0, 0, 0, time.Local)
	fixed := []string{
		"", ".dat", "x.DaT", "////", "\x00", strings.Repeat("z", 199),
		strings.Repeat("z", 200), strings.Repeat("日本", 80), "a.dat.dat", "\xff\xfe",
	}

	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("ab./\\:*?\"<>|\x01 .datDAT日")
	for i := 0; i < 500; i++ {
		n := rng.Intn(260)
		var b strings.Builder
		for j := 0; j < n; j++ {
			b.WriteRune(alphabet[rng.Intn(len(alphabet))])
		}
		fixed = append(fixed, b.String())
	}

	for _, raw := range fixed {
		once := SanitizeAt(raw, now)
		twice := SanitizeAt(once, now)
		require.Equal(t, once, twice, "Sanitize not idempotent for %q", raw)
		require.NotEmpty(t, once)
		require.LessOrEqual(t, len(once), MaxFilenameLength)
		require.True(t, HasExtension(once))
		require.NotContains(t, once, "/")
		require.NotContains(t, once, "\\")
	}
}

func TestHasExtension(t *testing.T) {
	assert.True(t, HasExtension("a.dat"))
	assert.True(t, HasExtension("A.Dat"))
	assert.False(t, HasExtension("a.data"))
	assert.False(t, HasExtension("dat"))
	assert.False(t, HasExtension(""))
}

func TestNumbered(t *testing.T) {
	assert.Equal(t, "clip.dat", Numbered("clip.dat", 0))
	assert.Equal(t, "clip_1.dat", Numbered("clip.dat", 1))
	assert.Equal(t, "clip_12.DAT", Numbered("clip.DAT", 12))

	long := Sanitize(strings.Repeat("é", 150))
	require.Len(t, long, MaxFilenameLength)
	got := Numbered(long, 7)
	assert.LessOrEqual(t, len(got), MaxFilenameLength)
	assert.True(t, strings.HasSuffix(got, "_7.dat"))
	assert.True(t, utf8.ValidString(got))
}
