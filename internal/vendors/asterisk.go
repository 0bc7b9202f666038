package vendors

import (
	"strings"
	"time"

	"github.com/vconbridge/telephony-adapters/internal/config"
	"github.com/vconbridge/telephony-adapters/internal/domain"
	"github.com/vconbridge/telephony-adapters/internal/fetch"
)

// Asterisk normalizes recording-finished notifications posted by an
// Asterisk dialplan or ARI application. Field names vary across
// dialplan versions, so several aliases are accepted for each field.
type Asterisk struct {
	cfg config.AsteriskConfig
}

// Name implements Adapter.
func (a *Asterisk) Name() string { return "asterisk" }

var asteriskKnown = map[string]bool{
	"recording_name":     true,
	"name":               true,
	"Uniqueid":           true,
	"uniqueid":           true,
	"target_uri":         true,
	"caller_id":          true,
	"callerid":           true,
	"caller_id_num":      true,
	"exten":              true,
	"extension":          true,
	"connected_line_num": true,
	"start_time":         true,
	"duration":           true,
	"context":            true,
}

// Extract implements Adapter.
func (a *Asterisk) Extract(body []byte, _ string) (*domain.RecordingEvent, error) {
	m, err := decodeJSON(body)
	if err != nil {
		return nil, &ExtractionError{Vendor: a.Name(), Field: "body", Reason: "not a JSON object"}
	}
	name := str(m, "recording_name", "name", "Uniqueid", "uniqueid")
	if name == "" {
		return nil, &ExtractionError{Vendor: a.Name(), Field: "recording_name", Reason: "missing"}
	}
	caller := str(m, "caller_id", "callerid", "caller_id_num")
	callee := str(m, "exten", "extension", "connected_line_num")
	if caller == "" && callee == "" {
		return nil, &ExtractionError{Vendor: a.Name(), Field: "caller_id", Reason: "no parties"}
	}
	dur, ok := parseFloat(str(m, "duration"))
	if !ok {
		return nil, &ExtractionError{Vendor: a.Name(), Field: "duration", Reason: "not a number"}
	}

	start := time.Now().UTC()
	if raw := str(m, "start_time"); raw != "" {
		if t, ok := parseISO(raw); ok {
			start = t
		} else if t, ok := parseEpoch(raw); ok {
			start = t
		} else {
			return nil, &ExtractionError{Vendor: a.Name(), Field: "start_time", Reason: "unrecognized timestamp"}
		}
	}

	// Dialplan context hints at direction: from-internal means the
	// caller dialed out, from-trunk or from-pstn means the call came in.
	direction := ""
	switch ctx := strings.ToLower(str(m, "context")); {
	case strings.Contains(ctx, "internal"):
		direction = "outbound"
	case strings.Contains(ctx, "trunk"), strings.Contains(ctx, "pstn"), strings.Contains(ctx, "external"):
		direction = "inbound"
	}

	locator := str(m, "target_uri")
	locator = strings.TrimPrefix(locator, "file:")
	if locator == "" {
		locator = name
	}

	tags := map[string]string{"recording_name": name}
	if v := str(m, "context"); v != "" {
		tags["context"] = v
	}
	if direction != "" {
		tags["direction"] = direction
	}
	foldScalars(m, asteriskKnown, tags)

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
		RecordingID:      name,
		CallID:           str(m, "Uniqueid", "uniqueid"),
		StartTime:        start,
		DurationSeconds:  dur,
		Parties:          parties,
		OriginatorIndex:  orig,
		RecordingLocator: locator,
		VendorTags:       tags,
	}, nil
}

// AudioRequest implements Adapter. When an ARI endpoint is configured
// the stored recording is downloaded through it; otherwise the locator
// resolves against the local recordings directory.
func (a *Asterisk) AudioRequest(ev *domain.RecordingEvent) (fetch.Request, bool) {
	req := fetch.Request{LocalPath: ev.RecordingLocator}
	if a.cfg.ARIURL != "" {
		req.URL = strings.TrimRight(a.cfg.ARIURL, "/") + "/recordings/stored/" + ev.RecordingID + "/file"
		req.Auth = fetch.AuthBasic
		req.Username = a.cfg.ARIUsername
		req.Password = a.cfg.ARIPassword
	}
	if req.URL == "" && req.LocalPath == "" {
		return fetch.Request{}, false
	}
	return req, true
}
