package vendors

import (
	"fmt"
	"time"

	"github.com/vconbridge/telephony-adapters/internal/config"
	"github.com/vconbridge/telephony-adapters/internal/domain"
	"github.com/vconbridge/telephony-adapters/internal/fetch"
)

// Telnyx normalizes Telnyx call recording webhooks. Telnyx wraps every
// webhook in a {"data": {"event_type": ..., "payload": {...}}} envelope;
// only call.recording.saved events carry a finished recording.
type Telnyx struct {
	cfg    config.TelnyxConfig
	format string
}

// Name implements Adapter.
func (a *Telnyx) Name() string { return "telnyx" }

var telnyxKnown = map[string]bool{
	"recording_id":          true,
	"call_session_id":       true,
	"call_leg_id":           true,
	"recording_urls":        true,
	"public_recording_urls": true,
	"duration_millis":       true,
	"recording_started_at":  true,
	"from":                  true,
	"to":                    true,
	"direction":             true,
}

// Extract implements Adapter.
func (a *Telnyx) Extract(body []byte, _ string) (*domain.RecordingEvent, error) {
	envelope, err := decodeJSON(body)
	if err != nil {
		return nil, &ExtractionError{Vendor: a.Name(), Field: "body", Reason: "not a JSON object"}
	}
	data, ok := envelope["data"].(map[string]any)
	if !ok {
		return nil, &ExtractionError{Vendor: a.Name(), Field: "data", Reason: "missing"}
	}
	if et := str(data, "event_type"); et != "call.recording.saved" {
		return nil, fmt.Errorf("%w: event type %q", ErrIgnored, et)
	}
	payload, ok := data["payload"].(map[string]any)
	if !ok {
		return nil, &ExtractionError{Vendor: a.Name(), Field: "data.payload", Reason: "missing"}
	}

	id := str(payload, "recording_id", "call_session_id", "call_leg_id")
	if id == "" {
		return nil, &ExtractionError{Vendor: a.Name(), Field: "recording_id", Reason: "missing"}
	}
	locator := a.pickURL(payload)
	if locator == "" {
		return nil, &ExtractionError{Vendor: a.Name(), Field: "recording_urls", Reason: "no usable url"}
	}
	from := str(payload, "from")
	to := str(payload, "to")
	if from == "" && to == "" {
		return nil, &ExtractionError{Vendor: a.Name(), Field: "from", Reason: "no parties"}
	}
	millis, ok := parseFloat(str(payload, "duration_millis"))
	if !ok {
		return nil, &ExtractionError{Vendor: a.Name(), Field: "duration_millis", Reason: "not a number"}
	}

	start := time.Now().UTC()
	if raw := str(payload, "recording_started_at"); raw != "" {
		t, ok := parseISO(raw)
		if !ok {
			return nil, &ExtractionError{Vendor: a.Name(), Field: "recording_started_at", Reason: "not RFC 3339"}
		}
		start = t
	}

	// Telnyx reports incoming/outgoing where everyone else says
	// inbound/outbound.
	direction := str(payload, "direction")
	switch direction {
	case "incoming":
		direction = "inbound"
	case "outgoing":
		direction = "outbound"
	}

	tags := map[string]string{"recording_id": id}
	if v := str(payload, "call_session_id"); v != "" {
		tags["call_session_id"] = v
	}
	if v := str(payload, "call_leg_id"); v != "" {
		tags["call_leg_id"] = v
	}
	if direction != "" {
		tags["direction"] = direction
	}
	foldScalars(payload, telnyxKnown, tags)

	parties := make([]string, 0, 2)
	if from != "" {
		parties = append(parties, from)
	}
	if to != "" {
		parties = append(parties, to)
	}
	orig := originatorFor(direction)
	if orig >= len(parties) {
		orig = domain.NoOriginator
	}

	return &domain.RecordingEvent{
		RecordingID:      id,
		CallID:           str(payload, "call_session_id", "call_leg_id"),
		StartTime:        start,
		DurationSeconds:  millis / 1000,
		Parties:          parties,
		OriginatorIndex:  orig,
		RecordingLocator: locator,
		VendorTags:       tags,
	}, nil
}

// pickURL chooses the recording URL matching the configured audio
// format, falling back to whichever format Telnyx provided.
func (a *Telnyx) pickURL(payload map[string]any) string {
	for _, key := range []string{"recording_urls", "public_recording_urls"} {
		urls, ok := payload[key].(map[string]any)
		if !ok {
			continue
		}
		if u := str(urls, a.format); u != "" {
			return u
		}
		if u := str(urls, "wav", "mp3"); u != "" {
			return u
		}
	}
	return ""
}

// AudioRequest implements Adapter. Recording URLs are pre-signed but
// short lived; the API key covers the case where the link has expired
// and the request falls through to the REST endpoint.
func (a *Telnyx) AudioRequest(ev *domain.RecordingEvent) (fetch.Request, bool) {
	if ev.RecordingLocator == "" {
		return fetch.Request{}, false
	}
	req := fetch.Request{URL: ev.RecordingLocator}
	if a.cfg.APIKey != "" {
		req.Auth = fetch.AuthBearer
		req.Token = a.cfg.APIKey
	}
	return req, true
}
