package handlers

import (
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/vconbridge/telephony-adapters/internal/pipeline"
	"github.com/vconbridge/telephony-adapters/internal/tracker"
	"github.com/vconbridge/telephony-adapters/internal/vendors"
	"github.com/vconbridge/telephony-adapters/internal/verify"
)

// Handler bundles the webhook receiver's dependencies.
type Handler struct {
	pipeline   *pipeline.Pipeline
	tracker    *tracker.Tracker
	webhookURL string
}

// New constructs the handler set. webhookURL is the externally visible
// webhook address used for URL-bound signature schemes; when empty the
// URL is reconstructed from the incoming request.
func New(p *pipeline.Pipeline, tr *tracker.Tracker, webhookURL string) *Handler {
	return &Handler{pipeline: p, tracker: tr, webhookURL: webhookURL}
}

// webhookResponse acknowledges a notification.
type webhookResponse struct {
	Status   string `json:"status"`
	VconUUID string `json:"vcon_uuid,omitempty"`
}

// ReceiveRecording handles POST /webhook/recording. It acknowledges
// every notification the vendor should not redeliver with a 2xx, and
// reserves non-2xx codes for forgeries (403), malformed payloads (400),
// and conditions where redelivery can succeed (503).
func (h *Handler) ReceiveRecording(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable request body")
		return
	}

	contentType := c.ContentType()
	req := verify.Request{
		Body:   body,
		Header: c.Request.Header,
		URL:    h.signatureURL(c),
	}
	if contentType == "application/x-www-form-urlencoded" {
		if form, err := url.ParseQuery(string(body)); err == nil {
			req.Form = form
		}
	}
	req.BasicUser, req.BasicPass, _ = c.Request.BasicAuth()

	out, err := h.pipeline.Submit(c.Request.Context(), req, contentType)
	if err != nil {
		switch {
		case errors.Is(err, verify.ErrAuthenticity):
			fail(c, http.StatusForbidden, ErrCodeForbidden, "signature verification failed")
		case isExtractionError(err):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		case errors.Is(err, pipeline.ErrQueueFull):
			c.Header("Retry-After", "5")
			fail(c, http.StatusServiceUnavailable, ErrCodeOverloaded, "processing queue full, retry later")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "notification could not be recorded")
		}
		return
	}

	switch out.Verdict {
	case pipeline.Duplicate:
		ok(c, http.StatusOK, webhookResponse{Status: "duplicate", VconUUID: out.VconUUID})
	case pipeline.Ignored:
		ok(c, http.StatusOK, webhookResponse{Status: "ignored"})
	default:
		ok(c, http.StatusAccepted, webhookResponse{Status: "accepted"})
	}
}

// signatureURL returns the URL the vendor signed. A configured external
// address wins over reconstruction, which matters behind proxies that
// rewrite Host or terminate TLS.
func (h *Handler) signatureURL(c *gin.Context) string {
	if h.webhookURL != "" {
		return h.webhookURL
	}
	scheme := "http"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.RequestURI()
}

func isExtractionError(err error) bool {
	var xe *vendors.ExtractionError
	return errors.As(err, &xe)
}
