package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/scan-attendance/internal/middleware"
	"github.com/noah-isme/scan-attendance/internal/models"
	"github.com/noah-isme/scan-attendance/pkg/response"
)

type dailySummaryService interface {
	DailySummary(ctx context.Context, date string, active bool) (*models.DailySummary, bool, error)
}

// SessionHandler serves per-day views.
type SessionHandler struct {
	summaries dailySummaryService
}

// NewSessionHandler constructs SessionHandler.
func NewSessionHandler(summaries dailySummaryService) *SessionHandler {
	return &SessionHandler{summaries: summaries}
}

// DailySummary godoc
// @Summary Daily attendance summary
// @Description Present or absent for every active student on the date
// @Tags Sessions
// @Produce json
// @Param date path string true "Session date (YYYY-MM-DD)"
// @Param active query bool false "Treat the date as an active session even without events"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{date}/summary [get]
func (h *SessionHandler) DailySummary(c *gin.Context) {
	active, err := queryBool(c, "active")
	if err != nil {
		response.Error(c, err)
		return
	}
	summary, hit, err := h.summaries.DailySummary(c.Request.Context(), c.Param("date"), active != nil && *active)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	respondWithMeta(c, summary, nil)
}
