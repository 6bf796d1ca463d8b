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
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	// Extension is the single extension shared by every managed file.
	Extension = ".dat"

	// MaxFilenameLength is the byte ceiling for a sanitized name,
	// extension included.
	MaxFilenameLength = 200

	// GeneratedPrefix starts names generated for empty input.
	GeneratedPrefix = "speech_"

	// placeholder replaces every illegal character.
	placeholder = '_'

	// timestampLayout gives second precision: 20250105_100000.
	timestampLayout = "20060102_150405"
)

// illegalChars is the union of characters rejected in a path component by
// the platforms we run on. ASCII control characters are handled separately.
const illegalChars = `<>:"/\|?*`

// -----------------------------------------------------------------------------
// Sanitizer
// -----------------------------------------------------------------------------

// Sanitize converts a caller-suggested name into a safe archive file name.
//
// # Description
//
// Applies, in order:
//
//  1. Empty input becomes "speech_<yyyyMMdd_HHmmss>.dat" (local time)
//  2. Illegal characters and ASCII control characters become '_'
//  3. ".dat" is appended unless already present (case-insensitive)
//  4. Names over MaxFilenameLength bytes lose bytes from the end of the
//     base so the extension still fits; a UTF-8 sequence is never split
//
// # Inputs
//
//   - raw: Suggested name, may be empty or contain path separators
//
// # Outputs
//
//   - string: Non-empty name with no separators, ending in Extension
//
// # Examples
//
//	Sanitize("greeting")        // "greeting.dat"
//	Sanitize("a/b:c.DAT")       // "a_b_c.DAT"
//	Sanitize("")                // "speech_20250105_100000.dat"
//
// # Limitations
//
//   - Reserved device names (CON, NUL, ...) are not rewritten
//
// # Assumptions
//
//   - Sanitize(Sanitize(x)) == Sanitize(x) for every x
func Sanitize(raw string) string {
	return SanitizeAt(raw, time.Now())
}

// SanitizeAt is Sanitize with an explicit clock for generated names.
func SanitizeAt(raw string, now time.Time) string {
	name := raw
	if name == "" {
		name = GeneratedPrefix + now.Format(timestampLayout) + Extension
	}

	name = replaceIllegal(name)

	if !HasExtension(name) {
		name += Extension
	}

	if len(name) > MaxFilenameLength {
		ext := name[len(name)-len(Extension):]
		base := truncateUTF8(name[:len(name)-len(ext)], MaxFilenameLength-len(ext))
		name = base + ext
	}

	return name
}

// Numbered returns the n-th alternative of a sanitized name: name itself
// for n == 0, otherwise "<base>_<n><ext>". The base is shortened when
// needed so the result stays within MaxFilenameLength.
func Numbered(name string, n int) string {
	if n <= 0 {
		return name
	}
	ext := name[len(name)-len(Extension):]
	suffix := "_" + strconv.Itoa(n)
	base := truncateUTF8(name[:len(name)-len(ext)], MaxFilenameLength-len(ext)-len(suffix))
	return base + suffix + ext
}

// HasExtension reports whether name ends in Extension, ignoring case.
func HasExtension(name string) bool {
	return len(name) >= len(Extension) &&
		strings.EqualFold(name[len(name)-len(Extension):], Extension)
}

func replaceIllegal(name string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(illegalChars, r) {
			return placeholder
		}
		return r
	}, name)
}

// truncateUTF8 cuts s to at most max bytes without splitting a rune.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
