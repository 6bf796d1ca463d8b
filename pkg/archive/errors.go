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

import "errors"

var (
	// ErrInit is returned when the archive root cannot be resolved or created.
	ErrInit = errors.New("archive: initialization failed")

	// ErrNotInitialized is returned by operations on a store without a root.
	ErrNotInitialized = errors.New("archive: root not initialized")

	// ErrWrite wraps any I/O failure while persisting a payload.
	ErrWrite = errors.New("archive: write failed")

	// ErrRotate wraps list or delete failures during rotation.
	ErrRotate = errors.New("archive: rotation failed")

	// ErrScan wraps directory listing failures for stats and list.
	ErrScan = errors.New("archive: scan failed")

	// ErrInvalidName is returned by Write for names that are not a single
	// managed path component.
	ErrInvalidName = errors.New("archive: invalid file name")
)
