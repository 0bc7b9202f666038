// Package verify implements the authenticity check applied to every inbound
// vendor notification before any processing happens. Each supported vendor
// scheme is a Verifier; the active one is selected by configuration at
// startup.
//
// All comparisons of caller-supplied material against expected values use
// constant-time primitives. A Verifier never mutates state and never panics;
// a failed check is reported as an error wrapping ErrAuthenticity so callers
// can map it to a rejection without inspecting strategy internals.
package verify

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"
)

// ErrAuthenticity is the sentinel wrapped by every verification failure.
var ErrAuthenticity = errors.New("authenticity verification failed")

// Request is the transport-neutral view of an inbound notification handed
// to a Verifier: the raw body, headers, the public callback URL the vendor
// signed, the decoded form parameters (form-encoded vendors only), and any
// HTTP basic credentials the caller supplied.
type Request struct {
	Body      []byte
	Header    http.Header
	URL       string
	Form      url.Values
	BasicUser string
	BasicPass string
}

// Verifier is the capability implemented once per vendor auth scheme.
type Verifier interface {
	// Verify returns nil when the request is authentic, or an error
	// wrapping ErrAuthenticity otherwise.
	Verify(r Request) error
}

func reject(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuthenticity, fmt.Sprintf(format, args...))
}

// FormHMAC validates the HMAC-over-composed-string scheme used by Twilio:
// HMAC-SHA1 over the callback URL concatenated with the form parameters
// sorted by key (key then value, no separators), base64-encoded, carried
// in a request header.
type FormHMAC struct {
	// Secret is the shared signing secret (Twilio auth token).
	Secret string
	// SignatureHeader names the header carrying the signature.
	// Defaults to "X-Twilio-Signature".
	SignatureHeader string
}

// Verify implements Verifier.
func (v FormHMAC) Verify(r Request) error {
	header := v.SignatureHeader
	if header == "" {
		header = "X-Twilio-Signature"
	}
	sig := r.Header.Get(header)
	if sig == "" {
		return reject("missing %s header", header)
	}

	keys := make([]string, 0, len(r.Form))
	for k := range r.Form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mac := hmac.New(sha1.New, []byte(v.Secret))
	mac.Write([]byte(r.URL))
	for _, k := range keys {
		mac.Write([]byte(k))
		mac.Write([]byte(r.Form.Get(k)))
	}
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) != 1 {
		return reject("signature mismatch for %s", r.URL)
	}
	return nil
}

// BodyHMAC validates a plain HMAC-SHA256 hex digest of the raw request
// body, the scheme used by the FreeSWITCH and Asterisk event scripts.
type BodyHMAC struct {
	// Secret is the shared webhook secret.
	Secret string
	// SignatureHeader names the header carrying the hex digest,
	// e.g. "X-FreeSwitch-Signature".
	SignatureHeader string
}

// Verify implements Verifier.
func (v BodyHMAC) Verify(r Request) error {
	sig := r.Header.Get(v.SignatureHeader)
	if sig == "" {
		return reject("missing %s header", v.SignatureHeader)
	}
	mac := hmac.New(sha256.New, []byte(v.Secret))
	mac.Write(r.Body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) != 1 {
		return reject("body digest mismatch")
	}
	return nil
}

// Ed25519 validates a detached asymmetric signature over
// timestamp + "|" + body, the scheme used by Telnyx. The timestamp header
// (unix seconds) must fall within the configured skew window, which bounds
// replay of captured notifications.
type Ed25519 struct {
	// PublicKey is the vendor's Ed25519 verification key.
	PublicKey ed25519.PublicKey
	// SignatureHeader carries the base64 signature.
	// Defaults to "Telnyx-Signature-Ed25519".
	SignatureHeader string
	// TimestampHeader carries the unix-seconds timestamp.
	// Defaults to "Telnyx-Timestamp".
	TimestampHeader string
	// Skew is the maximum allowed distance between the signed timestamp
	// and the current time.
	Skew time.Duration
	// Now is a clock override for tests; nil means time.Now.
	Now func() time.Time
}

// Verify implements Verifier.
func (v Ed25519) Verify(r Request) error {
	sigHeader := v.SignatureHeader
	if sigHeader == "" {
		sigHeader = "Telnyx-Signature-Ed25519"
	}
	tsHeader := v.TimestampHeader
	if tsHeader == "" {
		tsHeader = "Telnyx-Timestamp"
	}

	sigB64 := r.Header.Get(sigHeader)
	tsStr := r.Header.Get(tsHeader)
	if sigB64 == "" || tsStr == "" {
		return reject("missing signature or timestamp header")
	}

	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return reject("malformed timestamp %q", tsStr)
	}
	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	if d := now.Sub(time.Unix(ts, 0)); d > v.Skew || d < -v.Skew {
		return reject("timestamp outside allowed window")
	}

	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return reject("signature is not valid base64")
	}

	signed := make([]byte, 0, len(tsStr)+1+len(r.Body))
	signed = append(signed, tsStr...)
	signed = append(signed, '|')
	signed = append(signed, r.Body...)

	if !ed25519.Verify(v.PublicKey, signed, sig) {
		return reject("ed25519 signature mismatch")
	}
	return nil
}

// BasicAuth validates caller-supplied HTTP basic credentials against
// configured values, the scheme used for Bandwidth callbacks.
type BasicAuth struct {
	Username string
	Password string
}

// Verify implements Verifier.
func (v BasicAuth) Verify(r Request) error {
	if r.BasicUser == "" && r.BasicPass == "" {
		return reject("missing basic credentials")
	}
	userOK := subtle.ConstantTimeCompare([]byte(r.BasicUser), []byte(v.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(r.BasicPass), []byte(v.Password)) == 1
	if !userOK || !passOK {
		return reject("basic credentials mismatch")
	}
	return nil
}

// Disabled accepts every request. It exists for trusted network paths
// where the operator has explicitly opted out of verification; selecting
// it is a statement that the network, not this process, authenticates
// callers.
type Disabled struct{}

// Verify implements Verifier.
func (Disabled) Verify(Request) error { return nil }
