// Package vcon defines the canonical conversation record produced for
// every recording and the deterministic builder that assembles it from a
// vendor-normalized event. The wire shape follows the vCon draft used by
// the downstream conserver: a version string, a fresh UUID, a party list,
// a single "recording" dialog, and a "tags" attachment.
package vcon

import (
	"encoding/base64"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vconbridge/telephony-adapters/internal/domain"
)

// Version is the vCon format version stamped on every record.
const Version = "0.0.1"

// MimeType maps a recording format to its MIME type. Unknown formats fall
// back to audio/wav.
func MimeType(format string) string {
	switch format {
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	default:
		return "audio/wav"
	}
}

// Party is one conversation participant, minimally a tel identifier.
type Party struct {
	Tel string `json:"tel"`
}

// Dialog is one conversation segment. The adapter always produces exactly
// one dialog of type "recording". Body and Encoding are present only when
// audio was fetched and embedded; URL is set instead when audio download
// is disabled but a locator exists.
type Dialog struct {
	Type       string  `json:"type"`
	Start      string  `json:"start"`
	Duration   float64 `json:"duration"`
	Parties    []int   `json:"parties"`
	Originator *int    `json:"originator,omitempty"`
	Mimetype   string  `json:"mimetype"`
	Filename   string  `json:"filename,omitempty"`
	Body       string  `json:"body,omitempty"`
	Encoding   string  `json:"encoding,omitempty"`
	URL        string  `json:"url,omitempty"`
}

// Attachment carries auxiliary data on a record. The adapter emits one
// attachment of type "tags" whose body is a list of "name:value" strings.
type Attachment struct {
	Type     string   `json:"type"`
	Body     []string `json:"body"`
	Encoding string   `json:"encoding"`
}

// Record is the canonical output document posted downstream.
//
// Invariants: every index in Dialog[0].Parties is a valid index into
// Parties; Dialog[0].Duration >= 0; UUID is globally unique and never
// derived from vendor data.
type Record struct {
	Vcon        string       `json:"vcon"`
	UUID        string       `json:"uuid"`
	CreatedAt   string       `json:"created_at"`
	Parties     []Party      `json:"parties"`
	Dialog      []Dialog     `json:"dialog"`
	Attachments []Attachment `json:"attachments"`
}

// Builder assembles Records from recording events. It is vendor-agnostic:
// vendor specificity lives upstream in extraction and fetching, and only
// the Source tag identifies which adapter produced a record.
type Builder struct {
	// Source is written as the "source" tag, e.g. "twilio_adapter".
	Source string
	// Format is the preferred recording format, used for the dialog
	// mimetype and filename extension.
	Format string
	// NewUUID overrides record UUID generation in tests; nil means a
	// random UUIDv4 per record.
	NewUUID func() string
}

// NewBuilder returns a Builder for the given adapter source and format.
func NewBuilder(source, format string) *Builder {
	return &Builder{Source: source, Format: format}
}

// Build assembles the canonical record for ev, embedding audio when
// present. audio may be nil: the dialog then omits body and encoding, and
// keeps a URL reference when the event has a locator.
func (b *Builder) Build(ev *domain.RecordingEvent, audio *domain.AudioArtifact) *Record {
	newUUID := b.NewUUID
	if newUUID == nil {
		newUUID = uuid.NewString
	}

	parties := make([]Party, len(ev.Parties))
	indices := make([]int, len(ev.Parties))
	for i, tel := range ev.Parties {
		parties[i] = Party{Tel: tel}
		indices[i] = i
	}

	dialog := Dialog{
		Type:     "recording",
		Start:    ev.StartTime.UTC().Format(time.RFC3339),
		Duration: ev.DurationSeconds,
		Parties:  indices,
		Mimetype: MimeType(b.Format),
	}
	if ev.OriginatorIndex >= 0 && ev.OriginatorIndex < len(ev.Parties) {
		o := ev.OriginatorIndex
		dialog.Originator = &o
	}

	if audio != nil {
		dialog.Body = base64.StdEncoding.EncodeToString(audio.Bytes)
		dialog.Encoding = "base64"
		if audio.Mimetype != "" {
			dialog.Mimetype = audio.Mimetype
		}
		dialog.Filename = fmt.Sprintf("%s.%s", ev.RecordingID, b.Format)
	} else if ev.RecordingLocator != "" {
		dialog.URL = ev.RecordingLocator
	}

	// Tags: source first, then vendor tags in sorted key order so the
	// output is deterministic for a given event.
	tags := make([]string, 0, len(ev.VendorTags)+1)
	tags = append(tags, "source:"+b.Source)
	keys := make([]string, 0, len(ev.VendorTags))
	for k := range ev.VendorTags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		tags = append(tags, k+":"+ev.VendorTags[k])
	}

	return &Record{
		Vcon:      Version,
		UUID:      newUUID(),
		CreatedAt: ev.StartTime.UTC().Format(time.RFC3339),
		Parties:   parties,
		Dialog:    []Dialog{dialog},
		Attachments: []Attachment{{
			Type:     "tags",
			Body:     tags,
			Encoding: "json",
		}},
	}
}
