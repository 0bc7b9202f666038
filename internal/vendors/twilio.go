package vendors

import (
	"fmt"
	"net/mail"
	"net/url"
	"time"

	"github.com/vconbridge/telephony-adapters/internal/config"
	"github.com/vconbridge/telephony-adapters/internal/domain"
	"github.com/vconbridge/telephony-adapters/internal/fetch"
	"github.com/vconbridge/telephony-adapters/internal/sysutil"
)

// Twilio normalizes Twilio recording status callbacks. The callback body
// is form encoded; only RecordingStatus=completed events produce an
// event, everything else is ignored.
type Twilio struct {
	cfg    config.TwilioConfig
	format string
}

// Name implements Adapter.
func (a *Twilio) Name() string { return "twilio" }

// twilioKnown lists form fields lifted into first-class event fields;
// everything else scalar is folded into VendorTags verbatim.
var twilioKnown = map[string]bool{
	"RecordingSid":       true,
	"RecordingStatus":    true,
	"RecordingUrl":       true,
	"RecordingDuration":  true,
	"RecordingStartTime": true,
	"CallSid":            true,
	"From":               true,
	"To":                 true,
	"Caller":             true,
	"Called":             true,
	"Direction":          true,
}

// Extract implements Adapter.
func (a *Twilio) Extract(body []byte, _ string) (*domain.RecordingEvent, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, &ExtractionError{Vendor: a.Name(), Field: "body", Reason: "not form encoded"}
	}
	if s := form.Get("RecordingStatus"); s != "completed" {
		return nil, fmt.Errorf("%w: recording status %q", ErrIgnored, s)
	}
	sid := form.Get("RecordingSid")
	if sid == "" {
		return nil, &ExtractionError{Vendor: a.Name(), Field: "RecordingSid", Reason: "missing"}
	}
	recURL := form.Get("RecordingUrl")
	if recURL == "" {
		return nil, &ExtractionError{Vendor: a.Name(), Field: "RecordingUrl", Reason: "missing"}
	}
	from := sysutil.FirstNonEmpty(form.Get("From"), form.Get("Caller"))
	to := sysutil.FirstNonEmpty(form.Get("To"), form.Get("Called"))
	if from == "" && to == "" {
		return nil, &ExtractionError{Vendor: a.Name(), Field: "From", Reason: "no parties"}
	}
	dur, ok := parseFloat(form.Get("RecordingDuration"))
	if !ok {
		return nil, &ExtractionError{Vendor: a.Name(), Field: "RecordingDuration", Reason: "not a number"}
	}

	start := time.Now().UTC()
	if raw := form.Get("RecordingStartTime"); raw != "" {
		// Twilio sends RFC 2822, e.g. "Thu, 12 Jun 2025 10:30:00 +0000".
		if t, err := mail.ParseDate(raw); err == nil {
			start = t.UTC()
		}
	}

	direction := form.Get("Direction")
	tags := map[string]string{
		"recording_sid": sid,
	}
	if v := form.Get("CallSid"); v != "" {
		tags["call_sid"] = v
	}
	if direction != "" {
		tags["direction"] = direction
	}
	for k, vs := range form {
		if twilioKnown[k] || len(vs) == 0 || vs[0] == "" {
			continue
		}
		tags[k] = vs[0]
	}

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
		RecordingID:      sid,
		CallID:           form.Get("CallSid"),
		StartTime:        start,
		DurationSeconds:  dur,
		Parties:          parties,
		OriginatorIndex:  orig,
		RecordingLocator: recURL,
		VendorTags:       tags,
	}, nil
}

// AudioRequest implements Adapter. Twilio media URLs omit the file
// extension; the desired format is appended at fetch time and the
// request authenticates with the account credentials.
func (a *Twilio) AudioRequest(ev *domain.RecordingEvent) (fetch.Request, bool) {
	if ev.RecordingLocator == "" {
		return fetch.Request{}, false
	}
	return fetch.Request{
		URL:             ev.RecordingLocator,
		Auth:            fetch.AuthBasic,
		Username:        a.cfg.AccountSID,
		Password:        a.cfg.AuthToken,
		AppendExtension: true,
	}, true
}
