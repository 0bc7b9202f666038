// Package domain defines the canonical types shared across the adapter
// pipeline: the vendor-normalized RecordingEvent, the transient
// AudioArtifact, and the persisted TrackerEntry used for idempotent
// processing.
package domain

import "time"

// NoOriginator is the OriginatorIndex value used when the vendor payload
// does not identify which party initiated the call.
const NoOriginator = -1

// RecordingEvent is the canonical, vendor-neutral description of one
// completed call recording. Every vendor extractor produces this shape;
// everything downstream of extraction is vendor-agnostic.
//
// Invariant: RecordingID uniquely identifies the recording within its
// vendor namespace and is stable across vendor retries of the same
// notification.
type RecordingEvent struct {
	// RecordingID is the vendor-unique recording identifier
	// (RecordingSid, call UUID, recordingId, ...).
	RecordingID string

	// CallID is the vendor call/session identifier, when distinct from
	// the recording identifier.
	CallID string

	// StartTime is the recording start, normalized to UTC.
	StartTime time.Time

	// DurationSeconds is the recording length; always >= 0.
	DurationSeconds float64

	// Parties holds phone-number-like identifiers in vendor order
	// (caller first). Always at least one entry.
	Parties []string

	// OriginatorIndex is the index into Parties of the initiating party,
	// or NoOriginator when the vendor did not say.
	OriginatorIndex int

	// RecordingLocator is the opaque vendor reference (URL or path)
	// needed to fetch the audio bytes.
	RecordingLocator string

	// VendorTags carries vendor-specific metadata verbatim. Values keep
	// the exact textual form the vendor sent so re-extraction of the
	// same payload is byte-stable.
	VendorTags map[string]string
}

// AudioArtifact is a fetched recording payload. It is transient and
// owned exclusively by the pipeline invocation that produced it; it is
// never persisted on its own.
type AudioArtifact struct {
	Bytes    []byte
	Mimetype string
}
