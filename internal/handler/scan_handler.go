package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/scan-attendance/internal/models"
	"github.com/noah-isme/scan-attendance/pkg/response"
)

type scanService interface {
	Submit(ctx context.Context, req models.ScanRequest) (*models.ScanOutcome, error)
}

// ScanHandler accepts decoded codes from cameras and the email collaborator.
type ScanHandler struct {
	scans scanService
}

// NewScanHandler constructs ScanHandler.
func NewScanHandler(scans scanService) *ScanHandler {
	return &ScanHandler{scans: scans}
}

// Submit godoc
// @Summary Submit a scan
// @Description Records one attendance event and returns its outcome: accepted, duplicate or unknown-code
// @Tags Scans
// @Accept json
// @Produce json
// @Param payload body models.ScanRequest true "Scan payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /scans [post]
func (h *ScanHandler) Submit(c *gin.Context) {
	var req models.ScanRequest
	if !bindJSON(c, &req, "invalid scan payload") {
		return
	}
	outcome, err := h.scans.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, outcome, nil)
}
