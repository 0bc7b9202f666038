// Package fetch retrieves recording audio from vendor storage. Cloud
// vendors expose HTTP media URLs guarded by basic or bearer credentials;
// PBX vendors (FreeSWITCH, Asterisk) may instead reference files on a
// shared volume. The adapter for each vendor describes how to reach its
// audio via a Request; the Client executes it with an explicit timeout.
//
// Fetch failures are expected operational events (expired media URLs,
// unmounted volumes) and are surfaced as ordinary errors; callers treat
// them as non-fatal and continue without embedded audio.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vconbridge/telephony-adapters/internal/domain"
	"github.com/vconbridge/telephony-adapters/internal/vcon"
)

// ErrNoSource indicates the request carried neither a URL nor a local path.
var ErrNoSource = errors.New("fetch: no audio source in request")

// maxAudioBytes caps a single downloaded recording. Telephony audio is
// minutes of 8 kHz mono; anything past this is a misdirected URL.
const maxAudioBytes = 256 << 20

// Auth selects how a media download authenticates to the vendor.
type Auth int

const (
	// AuthNone sends no credentials.
	AuthNone Auth = iota
	// AuthBasic sends HTTP basic credentials (Twilio, Bandwidth, ARI).
	AuthBasic
	// AuthBearer sends a bearer token (Telnyx).
	AuthBearer
)

// Request describes where a recording lives and how to reach it. Adapters
// build one per event; unset fields are simply unused.
type Request struct {
	// URL is the HTTP media location, when the vendor exposes one.
	URL string
	// LocalPath is a filesystem location, relative paths resolved
	// against the Client's recordings root.
	LocalPath string
	// Auth selects the credential scheme for URL downloads.
	Auth Auth
	// Username and Password are used with AuthBasic.
	Username string
	Password string
	// Token is used with AuthBearer.
	Token string
	// AppendExtension requests the target format as a URL suffix
	// (Twilio exposes format negotiation that way).
	AppendExtension bool
}

// Client downloads or reads recording audio.
type Client struct {
	httpClient *http.Client
	// format is the preferred recording format (wav|mp3).
	format string
	// recordingsRoot resolves relative local paths.
	recordingsRoot string
}

// NewClient returns a Client with the given preferred format, timeout for
// HTTP downloads, and root directory for relative local paths.
func NewClient(format string, timeout time.Duration, recordingsRoot string) *Client {
	return &Client{
		httpClient:     &http.Client{Timeout: timeout},
		format:         format,
		recordingsRoot: recordingsRoot,
	}
}

// Fetch retrieves the audio described by req. URL sources are tried
// before local paths; the first success wins. The returned artifact's
// mimetype reflects the server's content type when it is an audio type,
// otherwise the client's preferred format.
func (c *Client) Fetch(ctx context.Context, req Request) (*domain.AudioArtifact, error) {
	var firstErr error

	if req.URL != "" {
		art, err := c.fetchHTTP(ctx, req)
		if err == nil {
			return art, nil
		}
		firstErr = err
	}

	if req.LocalPath != "" {
		art, err := c.readLocal(req.LocalPath)
		if err == nil {
			return art, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	if firstErr == nil {
		firstErr = ErrNoSource
	}
	return nil, firstErr
}

func (c *Client) fetchHTTP(ctx context.Context, req Request) (*domain.AudioArtifact, error) {
	url := req.URL
	if req.AppendExtension && !strings.HasSuffix(url, "."+c.format) {
		url = url + "." + c.format
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: build request: %w", err)
	}
	switch req.Auth {
	case AuthBasic:
		httpReq.SetBasicAuth(req.Username, req.Password)
	case AuthBearer:
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch: download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch: download %s: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}

	mimetype := vcon.MimeType(c.format)
	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "audio/") {
		mimetype = ct
	}
	return &domain.AudioArtifact{Bytes: data, Mimetype: mimetype}, nil
}

func (c *Client) readLocal(path string) (*domain.AudioArtifact, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.recordingsRoot, path)
	}
	// Prefer the configured format when the referenced extension differs.
	if ext := filepath.Ext(path); ext != "."+c.format {
		path = strings.TrimSuffix(path, ext) + "." + c.format
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fetch: read file: %w", err)
	}
	return &domain.AudioArtifact{Bytes: data, Mimetype: vcon.MimeType(c.format)}, nil
}
