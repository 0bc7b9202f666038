package vcon

import (
	"encoding/base64"
	"reflect"
	"testing"
	"time"

	"github.com/vconbridge/telephony-adapters/internal/domain"
)

func sampleEvent() *domain.RecordingEvent {
	return &domain.RecordingEvent{
		RecordingID:      "RE1234",
		CallID:           "CA5678",
		StartTime:        time.Date(2025, 6, 12, 10, 30, 0, 0, time.UTC),
		DurationSeconds:  42.5,
		Parties:          []string{"+15551230001", "+15551230002"},
		OriginatorIndex:  0,
		RecordingLocator: "https://media.example.com/RE1234",
		VendorTags: map[string]string{
			"direction": "outbound",
			"account":   "AC99",
		},
	}
}

func TestBuild_WithAudio(t *testing.T) {
	b := NewBuilder("twilio_adapter", "wav")
	b.NewUUID = func() string { return "fixed-uuid" }

	audio := &domain.AudioArtifact{Bytes: []byte("RIFFdata"), Mimetype: "audio/x-wav"}
	rec := b.Build(sampleEvent(), audio)

	if rec.Vcon != Version {
		t.Errorf("vcon version = %q, want %q", rec.Vcon, Version)
	}
	if rec.UUID != "fixed-uuid" {
		t.Errorf("uuid = %q, want fixed-uuid", rec.UUID)
	}
	if rec.CreatedAt != "2025-06-12T10:30:00Z" {
		t.Errorf("created_at = %q", rec.CreatedAt)
	}
	wantParties := []Party{{Tel: "+15551230001"}, {Tel: "+15551230002"}}
	if !reflect.DeepEqual(rec.Parties, wantParties) {
		t.Errorf("parties = %+v, want %+v", rec.Parties, wantParties)
	}
	if len(rec.Dialog) != 1 {
		t.Fatalf("dialog count = %d, want 1", len(rec.Dialog))
	}
	d := rec.Dialog[0]
	if d.Type != "recording" {
		t.Errorf("dialog type = %q", d.Type)
	}
	if d.Start != "2025-06-12T10:30:00Z" {
		t.Errorf("dialog start = %q", d.Start)
	}
	if d.Duration != 42.5 {
		t.Errorf("duration = %v, want 42.5", d.Duration)
	}
	if !reflect.DeepEqual(d.Parties, []int{0, 1}) {
		t.Errorf("dialog parties = %v, want [0 1]", d.Parties)
	}
	if d.Originator == nil || *d.Originator != 0 {
		t.Errorf("originator = %v, want pointer to 0", d.Originator)
	}
	if d.Mimetype != "audio/x-wav" {
		t.Errorf("mimetype = %q, want fetched audio/x-wav", d.Mimetype)
	}
	if d.Filename != "RE1234.wav" {
		t.Errorf("filename = %q", d.Filename)
	}
	wantBody := base64.StdEncoding.EncodeToString([]byte("RIFFdata"))
	if d.Body != wantBody {
		t.Errorf("body = %q, want %q", d.Body, wantBody)
	}
	if d.Encoding != "base64" {
		t.Errorf("encoding = %q, want base64", d.Encoding)
	}
	if d.URL != "" {
		t.Errorf("url = %q, want empty when audio embedded", d.URL)
	}
}

func TestBuild_WithoutAudioKeepsURLReference(t *testing.T) {
	b := NewBuilder("telnyx_adapter", "mp3")
	rec := b.Build(sampleEvent(), nil)

	d := rec.Dialog[0]
	if d.Body != "" || d.Encoding != "" {
		t.Errorf("body/encoding set without audio: %q %q", d.Body, d.Encoding)
	}
	if d.URL != "https://media.example.com/RE1234" {
		t.Errorf("url = %q, want locator", d.URL)
	}
	if d.Mimetype != "audio/mpeg" {
		t.Errorf("mimetype = %q, want audio/mpeg for mp3", d.Mimetype)
	}
	if d.Filename != "" {
		t.Errorf("filename = %q, want empty without audio", d.Filename)
	}
	if rec.UUID == "" {
		t.Error("uuid empty, want random v4 when NewUUID is nil")
	}
}

func TestBuild_NoOriginator(t *testing.T) {
	ev := sampleEvent()
	ev.OriginatorIndex = domain.NoOriginator

	rec := NewBuilder("asterisk_adapter", "wav").Build(ev, nil)
	if rec.Dialog[0].Originator != nil {
		t.Errorf("originator = %v, want nil", rec.Dialog[0].Originator)
	}
}

func TestBuild_OriginatorOutOfRangeDropped(t *testing.T) {
	ev := sampleEvent()
	ev.OriginatorIndex = 5

	rec := NewBuilder("asterisk_adapter", "wav").Build(ev, nil)
	if rec.Dialog[0].Originator != nil {
		t.Errorf("originator = %v, want nil for out-of-range index", rec.Dialog[0].Originator)
	}
}

func TestBuild_TagsSourceFirstThenSorted(t *testing.T) {
	rec := NewBuilder("twilio_adapter", "wav").Build(sampleEvent(), nil)

	if len(rec.Attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(rec.Attachments))
	}
	a := rec.Attachments[0]
	if a.Type != "tags" || a.Encoding != "json" {
		t.Errorf("attachment type/encoding = %q/%q", a.Type, a.Encoding)
	}
	want := []string{"source:twilio_adapter", "account:AC99", "direction:outbound"}
	if !reflect.DeepEqual(a.Body, want) {
		t.Errorf("tags = %v, want %v", a.Body, want)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	b := NewBuilder("twilio_adapter", "wav")
	b.NewUUID = func() string { return "u" }

	a := b.Build(sampleEvent(), nil)
	c := b.Build(sampleEvent(), nil)
	if !reflect.DeepEqual(a, c) {
		t.Error("two builds of the same event differ")
	}
}

func TestBuild_NonUTCStartNormalized(t *testing.T) {
	ev := sampleEvent()
	loc := time.FixedZone("EST", -5*3600)
	ev.StartTime = time.Date(2025, 6, 12, 5, 30, 0, 0, loc)

	rec := NewBuilder("twilio_adapter", "wav").Build(ev, nil)
	if rec.Dialog[0].Start != "2025-06-12T10:30:00Z" {
		t.Errorf("start = %q, want UTC-normalized", rec.Dialog[0].Start)
	}
}

func TestMimeType(t *testing.T) {
	cases := map[string]string{
		"wav": "audio/wav",
		"mp3": "audio/mpeg",
		"ogg": "audio/wav",
		"":    "audio/wav",
	}
	for format, want := range cases {
		if got := MimeType(format); got != want {
			t.Errorf("MimeType(%q) = %q, want %q", format, got, want)
		}
	}
}
