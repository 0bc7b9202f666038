package vendors

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/vconbridge/telephony-adapters/internal/config"
	"github.com/vconbridge/telephony-adapters/internal/domain"
	"github.com/vconbridge/telephony-adapters/internal/fetch"
)

// Bandwidth normalizes Bandwidth Voice recording callbacks. Bandwidth
// reports durations as ISO 8601 strings (PT1M30S) and authenticates its
// media endpoints with basic credentials.
type Bandwidth struct {
	cfg config.BandwidthConfig
}

// Name implements Adapter.
func (a *Bandwidth) Name() string { return "bandwidth" }

var bandwidthKnown = map[string]bool{
	"eventType":   true,
	"recordingId": true,
	"callId":      true,
	"mediaUrl":    true,
	"duration":    true,
	"startTime":   true,
	"from":        true,
	"to":          true,
	"direction":   true,
}

// Extract implements Adapter.
func (a *Bandwidth) Extract(body []byte, _ string) (*domain.RecordingEvent, error) {
	m, err := decodeJSON(body)
	if err != nil {
		return nil, &ExtractionError{Vendor: a.Name(), Field: "body", Reason: "not a JSON object"}
	}
	if et := str(m, "eventType"); et != "recordingComplete" {
		return nil, fmt.Errorf("%w: event type %q", ErrIgnored, et)
	}
	id := str(m, "recordingId")
	if id == "" {
		return nil, &ExtractionError{Vendor: a.Name(), Field: "recordingId", Reason: "missing"}
	}
	mediaURL := str(m, "mediaUrl")
	if mediaURL == "" {
		// Older callback formats omit mediaUrl; the media location is
		// derivable from the account and recording ids.
		if a.cfg.AccountID == "" {
			return nil, &ExtractionError{Vendor: a.Name(), Field: "mediaUrl", Reason: "missing"}
		}
		mediaURL = fmt.Sprintf("https://voice.bandwidth.com/api/v2/accounts/%s/recordings/%s/media",
			a.cfg.AccountID, id)
	}
	from := str(m, "from")
	to := str(m, "to")
	if from == "" && to == "" {
		return nil, &ExtractionError{Vendor: a.Name(), Field: "from", Reason: "no parties"}
	}
	dur, ok := parseISODuration(str(m, "duration"))
	if !ok {
		return nil, &ExtractionError{Vendor: a.Name(), Field: "duration", Reason: "not an ISO 8601 duration"}
	}

	start := time.Now().UTC()
	if raw := str(m, "startTime"); raw != "" {
		t, ok := parseISO(raw)
		if !ok {
			return nil, &ExtractionError{Vendor: a.Name(), Field: "startTime", Reason: "not RFC 3339"}
		}
		start = t
	}

	direction := str(m, "direction")
	tags := map[string]string{"recording_id": id}
	if v := str(m, "callId"); v != "" {
		tags["call_id"] = v
	}
	if direction != "" {
		tags["direction"] = direction
	}
	foldScalars(m, bandwidthKnown, tags)

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
		CallID:           str(m, "callId"),
		StartTime:        start,
		DurationSeconds:  dur,
		Parties:          parties,
		OriginatorIndex:  orig,
		RecordingLocator: mediaURL,
		VendorTags:       tags,
	}, nil
}

// AudioRequest implements Adapter.
func (a *Bandwidth) AudioRequest(ev *domain.RecordingEvent) (fetch.Request, bool) {
	if ev.RecordingLocator == "" {
		return fetch.Request{}, false
	}
	req := fetch.Request{URL: ev.RecordingLocator}
	if a.cfg.APIUsername != "" {
		req.Auth = fetch.AuthBasic
		req.Username = a.cfg.APIUsername
		req.Password = a.cfg.APIPassword
	}
	return req, true
}

var isoDurationRe = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?$`)

// parseISODuration converts a time-only ISO 8601 duration (PT1M30S) to
// seconds. Empty is (0, true); malformed is (0, false).
func parseISODuration(s string) (float64, bool) {
	if s == "" {
		return 0, true
	}
	m := isoDurationRe.FindStringSubmatch(s)
	if m == nil || (m[1] == "" && m[2] == "" && m[3] == "") {
		return 0, false
	}
	var total float64
	if m[1] != "" {
		h, _ := strconv.ParseFloat(m[1], 64)
		total += h * 3600
	}
	if m[2] != "" {
		min, _ := strconv.ParseFloat(m[2], 64)
		total += min * 60
	}
	if m[3] != "" {
		sec, _ := strconv.ParseFloat(m[3], 64)
		total += sec
	}
	return total, true
}
