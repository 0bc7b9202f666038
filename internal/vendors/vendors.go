// Package vendors maps each telephony control plane's notification payload
// into the canonical domain.RecordingEvent and describes how to reach its
// recording audio. One Adapter exists per vendor; the active one is chosen
// by configuration at process start, never by runtime type inspection.
//
// Extraction is pure: the same raw payload always yields the same event.
// Unknown scalar fields are folded into VendorTags instead of rejecting
// the payload, so vendors can add fields without breaking the adapter.
package vendors

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vconbridge/telephony-adapters/internal/config"
	"github.com/vconbridge/telephony-adapters/internal/domain"
	"github.com/vconbridge/telephony-adapters/internal/fetch"
	"github.com/vconbridge/telephony-adapters/internal/verify"
)

// ErrIgnored reports a well-formed notification the adapter deliberately
// skips (wrong event type, recording not yet complete). It is not a
// failure; callers acknowledge and drop the notification.
var ErrIgnored = errors.New("event ignored")

// ExtractionError reports a payload that cannot be mapped to a
// RecordingEvent: a required field is missing or malformed.
type ExtractionError struct {
	Vendor string
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s extraction: field %q: %s", e.Vendor, e.Field, e.Reason)
}

// Adapter is the per-vendor capability set: pure payload extraction plus
// an audio access plan. Implementations hold only immutable configuration
// and are safe for concurrent use.
type Adapter interface {
	// Name returns the vendor identifier, e.g. "twilio".
	Name() string
	// Extract maps a raw notification body to a canonical event.
	// Returns ErrIgnored for event types the adapter skips and
	// *ExtractionError for malformed payloads.
	Extract(body []byte, contentType string) (*domain.RecordingEvent, error)
	// AudioRequest describes how to fetch audio for ev. The second
	// return is false when the event carries nothing fetchable.
	AudioRequest(ev *domain.RecordingEvent) (fetch.Request, bool)
}

// New constructs the Adapter and Verifier for the configured vendor.
//
// When a vendor's validation flag is on but its secret material is absent,
// verification degrades to Disabled, matching the long-standing behavior
// operators rely on during initial rollout; the caller logs the downgrade.
func New(cfg config.Config) (Adapter, verify.Verifier, error) {
	switch cfg.Vendor {
	case config.VendorTwilio:
		a := &Twilio{cfg: cfg.Twilio, format: cfg.RecordingFormat}
		if !cfg.Twilio.ValidateSignature || cfg.Twilio.AuthToken == "" {
			return a, verify.Disabled{}, nil
		}
		return a, verify.FormHMAC{Secret: cfg.Twilio.AuthToken}, nil

	case config.VendorFreeSwitch:
		a := &FreeSwitch{cfg: cfg.FreeSwitch}
		if !cfg.FreeSwitch.Validate || cfg.FreeSwitch.WebhookSecret == "" {
			return a, verify.Disabled{}, nil
		}
		return a, verify.BodyHMAC{
			Secret:          cfg.FreeSwitch.WebhookSecret,
			SignatureHeader: "X-FreeSwitch-Signature",
		}, nil

	case config.VendorAsterisk:
		a := &Asterisk{cfg: cfg.Asterisk}
		if !cfg.Asterisk.Validate || cfg.Asterisk.WebhookSecret == "" {
			return a, verify.Disabled{}, nil
		}
		return a, verify.BodyHMAC{
			Secret:          cfg.Asterisk.WebhookSecret,
			SignatureHeader: "X-Asterisk-Signature",
		}, nil

	case config.VendorTelnyx:
		a := &Telnyx{cfg: cfg.Telnyx, format: cfg.RecordingFormat}
		if !cfg.Telnyx.Validate || cfg.Telnyx.PublicKey == "" {
			return a, verify.Disabled{}, nil
		}
		keyBytes, err := base64.StdEncoding.DecodeString(cfg.Telnyx.PublicKey)
		if err != nil || len(keyBytes) != ed25519.PublicKeySize {
			return nil, nil, fmt.Errorf("vendors: TELNYX_PUBLIC_KEY is not a base64 ed25519 key")
		}
		return a, verify.Ed25519{
			PublicKey: ed25519.PublicKey(keyBytes),
			Skew:      cfg.Telnyx.Skew,
		}, nil

	case config.VendorBandwidth:
		a := &Bandwidth{cfg: cfg.Bandwidth}
		if !cfg.Bandwidth.Validate || cfg.Bandwidth.WebhookUsername == "" || cfg.Bandwidth.WebhookPassword == "" {
			return a, verify.Disabled{}, nil
		}
		return a, verify.BasicAuth{
			Username: cfg.Bandwidth.WebhookUsername,
			Password: cfg.Bandwidth.WebhookPassword,
		}, nil
	}
	return nil, nil, fmt.Errorf("vendors: unknown vendor %q", cfg.Vendor)
}

// ---- shared payload helpers ----

// decodeJSON parses a JSON object preserving numeric literals verbatim,
// so folded tags keep the exact text the vendor sent.
func decodeJSON(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// str returns the first non-empty string-convertible value among keys.
func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

// foldScalars copies every scalar field of m not listed in known into
// tags, using the JSON literal text for numbers and booleans. Nested
// objects and arrays are skipped; they are not tag material.
func foldScalars(m map[string]any, known map[string]bool, tags map[string]string) {
	for k, v := range m {
		if known[k] {
			continue
		}
		switch vv := v.(type) {
		case string:
			if vv != "" {
				tags[k] = vv
			}
		case json.Number:
			tags[k] = vv.String()
		case bool:
			tags[k] = strconv.FormatBool(vv)
		}
	}
}

// parseFloat parses a duration-like field. Empty is (0, true); malformed
// is (0, false).
func parseFloat(s string) (float64, bool) {
	if s == "" {
		return 0, true
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return f, true
}

// parseEpoch interprets a unix timestamp in seconds, tolerating the
// microsecond-resolution values some PBX builds emit.
func parseEpoch(s string) (time.Time, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	if n > 1e12 { // microseconds
		n /= 1e6
	}
	return time.Unix(n, 0).UTC(), true
}

// parseISO parses an RFC 3339 timestamp, tolerating a bare "Z" suffix.
func parseISO(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// originatorFor maps a normalized call direction to a party index:
// outbound calls originate from party 0 (the from number), inbound from
// party 1. Unknown directions leave the originator unset.
func originatorFor(direction string) int {
	switch strings.ToLower(direction) {
	case "outbound", "outbound-api", "outbound-dial", "outgoing":
		return 0
	case "inbound", "incoming":
		return 1
	default:
		return domain.NoOriginator
	}
}
