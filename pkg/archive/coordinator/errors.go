// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package coordinator

import "errors"

// Admission errors. Returned before any I/O; never retried.
var (
	ErrEmptyPayload    = errors.New("payload is empty")
	ErrPayloadTooLarge = errors.New("payload exceeds size limit")
	ErrInvalidName     = errors.New("file name could not be sanitized")
)

var (
	// ErrRetriesExhausted marks a payload that was spilled to the backup
	// buffer after every write attempt failed.
	ErrRetriesExhausted = errors.New("write retries exhausted")

	// ErrNilStore is returned by New without a store.
	ErrNilStore = errors.New("coordinator requires a store")

	// ErrShutdown is returned by Submit after Shutdown.
	ErrShutdown = errors.New("coordinator is shut down")
)
