package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/scan-attendance/internal/models"
	"github.com/noah-isme/scan-attendance/pkg/response"
)

type ledgerService interface {
	Query(ctx context.Context, filter models.EventFilter) ([]models.AttendanceEvent, *models.Pagination, error)
	ManualRecord(ctx context.Context, req models.ManualRecordRequest) (*models.ScanOutcome, error)
	Delete(ctx context.Context, id string) error
}

// AttendanceHandler exposes the attendance ledger.
type AttendanceHandler struct {
	ledger ledgerService
}

// NewAttendanceHandler constructs AttendanceHandler.
func NewAttendanceHandler(ledger ledgerService) *AttendanceHandler {
	return &AttendanceHandler{ledger: ledger}
}

// Query godoc
// @Summary Query attendance events
// @Description Events in timestamp order. Without limit every match is returned.
// @Tags Attendance
// @Produce json
// @Param student_id query string false "Student ID"
// @Param session_date query string false "Session date (YYYY-MM-DD)"
// @Param from query string false "First session date"
// @Param to query string false "Last session date"
// @Param outcome query string false "accepted, duplicate or unknown-code"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /attendance [get]
func (h *AttendanceHandler) Query(c *gin.Context) {
	filter := models.EventFilter{
		StudentID:   strings.TrimSpace(c.Query("student_id")),
		SessionDate: c.Query("session_date"),
		From:        c.Query("from"),
		To:          c.Query("to"),
		Outcome:     models.EventOutcome(c.Query("outcome")),
		Page:        queryInt(c, "page", 1),
		PageSize:    queryInt(c, "limit", 0),
	}
	events, pagination, err := h.ledger.Query(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, events, pagination)
}

// ManualRecord godoc
// @Summary Record attendance manually
// @Description Operator entry for a student who attended without scanning. Follows the same one-per-day rule as scans.
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body models.ManualRecordRequest true "Manual entry"
// @Success 201 {object} response.Envelope
// @Router /attendance/manual [post]
func (h *AttendanceHandler) ManualRecord(c *gin.Context) {
	var req models.ManualRecordRequest
	if !bindJSON(c, &req, "invalid manual attendance payload") {
		return
	}
	outcome, err := h.ledger.ManualRecord(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, outcome, nil)
}

// Delete godoc
// @Summary Delete an attendance event
// @Description Permanently removes a mistaken event.
// @Tags Attendance
// @Param id path string true "Event ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /attendance/{id} [delete]
func (h *AttendanceHandler) Delete(c *gin.Context) {
	if err := h.ledger.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
