// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package archive owns the on-disk speech archive.
//
// The archive is a single root directory that holds one file per speech
// clip. Every managed file carries the fixed [Extension]; anything else
// placed in the root is invisible to rotation and stats.
//
// # Overview
//
// The package provides two pieces:
//
//   - [Sanitize]: a pure, total function that turns any caller-suggested
//     name into a safe file name ending in [Extension]
//   - [Store]: directory lifecycle, single-file writes, oldest-first
//     rotation and aggregate stats
//
// # Layout
//
//	<base>/SpeechArchive/
//	    speech_20250105_100000.dat
//	    speech_20250105_100000_1.dat   (second clip in the same second)
//	    clip-0001.dat
//	    notes.txt            (ignored: wrong extension)
//
// # Thread Safety
//
// [Store] is safe for concurrent use. Writes go through a temp file that is
// hard-linked to its final name, so a concurrent rotation never observes a
// half-written clip and two writes never share a name. Rotations are
// serialized with each other.
//
// # Ordering
//
// Rotation orders files by creation time. On Linux the birth time is read
// with statx(2) when the filesystem records it; elsewhere, and on
// filesystems without birth times, the modification time is used. Birth
// times are coarse, so ties are broken by the modification time, which
// [Store.Write] stamps strictly increasing within a process, and last by
// file name.
package archive
