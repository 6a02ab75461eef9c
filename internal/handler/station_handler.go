package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/scan-attendance/internal/models"
	"github.com/noah-isme/scan-attendance/pkg/response"
)

type mergeService interface {
	Merge(ctx context.Context, in models.StationExport) (*models.MergeReport, error)
}

// StationHandler merges data collected by other scanning stations.
type StationHandler struct {
	merger mergeService
}

// NewStationHandler constructs StationHandler.
func NewStationHandler(merger mergeService) *StationHandler {
	return &StationHandler{merger: merger}
}

// Merge godoc
// @Summary Merge another station's data
// @Description Imports students and attendance events exported by another station. Events already merged are skipped; accepted events that collide with local attendance are kept as duplicates.
// @Tags Stations
// @Accept json
// @Produce json
// @Param payload body models.StationExport true "Station export"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /stations/merge [post]
func (h *StationHandler) Merge(c *gin.Context) {
	var in models.StationExport
	if !bindJSON(c, &in, "invalid station export") {
		return
	}
	report, err := h.merger.Merge(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}
