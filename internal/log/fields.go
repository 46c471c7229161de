// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldVideoID   = "video_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Provider fields
	FieldPool     = "pool"
	FieldEndpoint = "endpoint"
	FieldKind     = "provider_kind"
	FieldAttempt  = "attempt"
	FieldReason   = "reason"

	// Media fields
	FieldResolution = "resolution"
	FieldBitrate    = "bitrate"
	FieldMimeType   = "mime_type"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldStrategy = "strategy"
)
