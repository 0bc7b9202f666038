package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vconbridge/telephony-adapters/internal/tracker"
)

// statusResponse describes a ledger entry for operators.
type statusResponse struct {
	RecordingID   string     `json:"recording_id"`
	Status        string     `json:"status"`
	VconUUID      string     `json:"vcon_uuid,omitempty"`
	AttemptCount  int        `json:"attempt_count"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// RecordingStatus handles GET /status/:recording_id and reports the
// processing state of a vendor recording id.
func (h *Handler) RecordingStatus(c *gin.Context) {
	id := c.Param("recording_id")
	entry, err := h.tracker.Lookup(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, tracker.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "unknown recording id")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "status lookup failed")
		return
	}

	resp := statusResponse{
		RecordingID:  entry.RecordingID,
		Status:       string(entry.Status),
		VconUUID:     entry.VconUUID,
		AttemptCount: entry.AttemptCount,
		UpdatedAt:    entry.UpdatedAt,
	}
	if !entry.LastAttemptAt.IsZero() {
		resp.LastAttemptAt = &entry.LastAttemptAt
	}
	ok(c, http.StatusOK, resp)
}
