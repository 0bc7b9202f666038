// Package poster relays finished conversation records to the conserver
// ingest endpoint, retrying transient failures with bounded exponential
// backoff. Rejections (4xx other than 408 and 429) are never retried.
package poster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/vconbridge/telephony-adapters/internal/config"
	"github.com/vconbridge/telephony-adapters/internal/vcon"
)

// Result classifies the final outcome of a delivery attempt series.
type Result int

const (
	// Delivered means the conserver acknowledged the record with a 2xx.
	Delivered Result = iota
	// Rejected means the conserver refused the record; retrying the
	// same payload cannot succeed.
	Rejected
	// TransientFailure means every attempt failed with a retryable
	// error; the notification should be failed back to the ledger.
	TransientFailure
)

// Poster posts vcon records to a single conserver endpoint.
type Poster struct {
	client      *http.Client
	endpoint    string
	apiToken    string
	headerName  string
	ingress     []string
	maxAttempts int
	initialWait time.Duration
}

// New builds a Poster from the conserver configuration.
func New(cfg config.ConserverConfig) *Poster {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Poster{
		client:      &http.Client{Timeout: cfg.Timeout},
		endpoint:    cfg.URL,
		apiToken:    cfg.APIToken,
		headerName:  cfg.HeaderName,
		ingress:     cfg.IngressLists,
		maxAttempts: cfg.MaxAttempts,
		initialWait: cfg.InitialBackoff,
	}
}

// Deliver posts rec, retrying transient failures up to the configured
// attempt budget. The returned error carries the last failure detail
// for Rejected and TransientFailure results.
func (p *Poster) Deliver(ctx context.Context, rec *vcon.Record) (Result, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return Rejected, fmt.Errorf("poster: encode vcon: %w", err)
	}

	target := p.endpoint
	if len(p.ingress) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + "ingress_lists=" + url.QueryEscape(strings.Join(p.ingress, ","))
	}

	log := zerolog.Ctx(ctx)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.initialWait
	bo.MaxElapsedTime = 0 // bounded by attempt count, not wall clock
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(p.maxAttempts-1)), ctx)

	var result Result
	attempt := 0
	op := func() error {
		attempt++
		res, err := p.post(ctx, target, body)
		result = res
		switch res {
		case Delivered:
			return nil
		case Rejected:
			return backoff.Permanent(err)
		default:
			log.Warn().Err(err).Int("attempt", attempt).Str("vcon_uuid", rec.UUID).
				Msg("conserver post failed")
			return err
		}
	}

	err = backoff.Retry(op, policy)
	if err == nil {
		return Delivered, nil
	}
	return result, err
}

// post performs one POST and classifies the response. A nil error with
// Rejected stops the retry loop; transport errors are always retryable.
func (p *Poster) post(ctx context.Context, target string, body []byte) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return TransientFailure, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiToken != "" {
		req.Header.Set(p.headerName, p.apiToken)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return TransientFailure, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Delivered, nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return TransientFailure, fmt.Errorf("poster: conserver returned status %d", resp.StatusCode)
	default:
		return Rejected, fmt.Errorf("poster: conserver rejected record: status %d", resp.StatusCode)
	}
}
