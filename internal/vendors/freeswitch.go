package vendors

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/vconbridge/telephony-adapters/internal/config"
	"github.com/vconbridge/telephony-adapters/internal/domain"
	"github.com/vconbridge/telephony-adapters/internal/fetch"
)

// FreeSwitch normalizes recording notifications emitted by a FreeSWITCH
// event socket hook. Payloads are JSON with snake_case channel variable
// names; recordings live on local disk or behind a static file server.
type FreeSwitch struct {
	cfg config.FreeSwitchConfig
}

// Name implements Adapter.
func (a *FreeSwitch) Name() string { return "freeswitch" }

var freeswitchKnown = map[string]bool{
	"uuid":               true,
	"call_uuid":          true,
	"recording_url":      true,
	"recording_file":     true,
	"recording_path":     true,
	"caller_id_number":   true,
	"destination_number": true,
	"start_epoch":        true,
	"duration":           true,
	"record_seconds":     true,
	"direction":          true,
}

// Extract implements Adapter.
func (a *FreeSwitch) Extract(body []byte, _ string) (*domain.RecordingEvent, error) {
	m, err := decodeJSON(body)
	if err != nil {
		return nil, &ExtractionError{Vendor: a.Name(), Field: "body", Reason: "not a JSON object"}
	}
	id := str(m, "uuid", "call_uuid")
	if id == "" {
		return nil, &ExtractionError{Vendor: a.Name(), Field: "uuid", Reason: "missing"}
	}
	file := str(m, "recording_url", "recording_file", "recording_path")
	if file == "" {
		return nil, &ExtractionError{Vendor: a.Name(), Field: "recording_file", Reason: "missing"}
	}
	caller := str(m, "caller_id_number")
	callee := str(m, "destination_number")
	if caller == "" && callee == "" {
		return nil, &ExtractionError{Vendor: a.Name(), Field: "caller_id_number", Reason: "no parties"}
	}
	dur, ok := parseFloat(str(m, "duration", "record_seconds"))
	if !ok {
		return nil, &ExtractionError{Vendor: a.Name(), Field: "duration", Reason: "not a number"}
	}

	start := time.Now().UTC()
	if raw := str(m, "start_epoch"); raw != "" {
		if t, ok := parseEpoch(raw); ok {
			start = t
		} else {
			return nil, &ExtractionError{Vendor: a.Name(), Field: "start_epoch", Reason: "not a unix timestamp"}
		}
	}

	direction := str(m, "direction")
	tags := map[string]string{"call_uuid": id}
	if direction != "" {
		tags["direction"] = direction
	}
	foldScalars(m, freeswitchKnown, tags)

	parties := make([]string, 0, 2)
	if caller != "" {
		parties = append(parties, caller)
	}
	if callee != "" {
		parties = append(parties, callee)
	}
	orig := originatorFor(direction)
	if orig >= len(parties) {
		orig = domain.NoOriginator
	}

	return &domain.RecordingEvent{
		RecordingID:      id,
		CallID:           id,
		StartTime:        start,
		DurationSeconds:  dur,
		Parties:          parties,
		OriginatorIndex:  orig,
		RecordingLocator: file,
		VendorTags:       tags,
	}, nil
}

// AudioRequest implements Adapter. Absolute URLs are fetched directly;
// bare file paths resolve against the configured recordings directory,
// with an optional HTTP mirror tried first when one is configured.
func (a *FreeSwitch) AudioRequest(ev *domain.RecordingEvent) (fetch.Request, bool) {
	loc := ev.RecordingLocator
	if loc == "" {
		return fetch.Request{}, false
	}
	if strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://") {
		return fetch.Request{URL: loc}, true
	}
	req := fetch.Request{LocalPath: loc}
	if base := a.cfg.RecordingsURLBase; base != "" {
		req.URL = strings.TrimRight(base, "/") + "/" + filepath.Base(loc)
	}
	return req, true
}
