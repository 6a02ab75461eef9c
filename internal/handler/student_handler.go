package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/scan-attendance/internal/middleware"
	"github.com/noah-isme/scan-attendance/internal/models"
	"github.com/noah-isme/scan-attendance/pkg/response"
)

type rosterService interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.Student, error)
	Upsert(ctx context.Context, req models.UpsertStudentRequest) (*models.Student, bool, error)
	Deactivate(ctx context.Context, id string) (*models.Student, error)
	ReissueCode(ctx context.Context, id string) (*models.Student, error)
	ExportCodes(ctx context.Context, ids []string) ([]models.ScanCodeEntry, error)
}

type studentSummaryService interface {
	StudentSummary(ctx context.Context, studentID, from, to string) (*models.StudentSummary, bool, error)
}

// StudentHandler exposes roster endpoints.
type StudentHandler struct {
	roster    rosterService
	summaries studentSummaryService
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(roster rosterService, summaries studentSummaryService) *StudentHandler {
	return &StudentHandler{roster: roster, summaries: summaries}
}

// List godoc
// @Summary List students
// @Tags Students
// @Produce json
// @Param search query string false "Search by name, email or id"
// @Param active query bool false "Filter by active state"
// @Param grad_year query int false "Filter by graduation year"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Param sort query string false "name, grad_year or created_at"
// @Param order query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Router /students [get]
func (h *StudentHandler) List(c *gin.Context) {
	active, err := queryBool(c, "active")
	if err != nil {
		response.Error(c, err)
		return
	}
	filter := models.StudentFilter{
		Search:    strings.TrimSpace(c.Query("search")),
		Active:    active,
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "limit", 50),
		SortBy:    c.Query("sort"),
		SortOrder: c.Query("order"),
	}
	if year := queryInt(c, "grad_year", 0); year > 0 {
		filter.GradYear = &year
	}

	students, pagination, err := h.roster.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, pagination)
}

// Get godoc
// @Summary Get student detail
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{id} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	student, err := h.roster.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Create godoc
// @Summary Create or update student
// @Description Inserts the student, or updates it when student_id names an existing record
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body models.UpsertStudentRequest true "Student payload"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /students [post]
func (h *StudentHandler) Create(c *gin.Context) {
	var req models.UpsertStudentRequest
	if !bindJSON(c, &req, "invalid student payload") {
		return
	}
	h.upsert(c, req)
}

// Update godoc
// @Summary Update student
// @Tags Students
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body models.UpsertStudentRequest true "Student payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /students/{id} [put]
func (h *StudentHandler) Update(c *gin.Context) {
	var req models.UpsertStudentRequest
	if !bindJSON(c, &req, "invalid student payload") {
		return
	}
	req.StudentID = c.Param("id")
	h.upsert(c, req)
}

func (h *StudentHandler) upsert(c *gin.Context, req models.UpsertStudentRequest) {
	student, created, err := h.roster.Upsert(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if created {
		response.Created(c, student)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Delete godoc
// @Summary Deactivate student
// @Description Marks the student inactive and frees the scan code. Attendance history is kept.
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{id} [delete]
func (h *StudentHandler) Delete(c *gin.Context) {
	student, err := h.roster.Deactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// ReissueCode godoc
// @Summary Issue a new scan code
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/reissue-code [post]
func (h *StudentHandler) ReissueCode(c *gin.Context) {
	student, err := h.roster.ReissueCode(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Codes godoc
// @Summary Export scan codes
// @Description Lists name, email and scan code for the given students, or every active student
// @Tags Students
// @Produce json
// @Param ids query string false "Comma separated student ids"
// @Success 200 {object} response.Envelope
// @Router /students/codes [get]
func (h *StudentHandler) Codes(c *gin.Context) {
	var ids []string
	if raw := c.Query("ids"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	entries, err := h.roster.ExportCodes(c.Request.Context(), ids)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// Summary godoc
// @Summary Student attendance summary
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Param from query string false "First session date (YYYY-MM-DD)"
// @Param to query string false "Last session date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/summary [get]
func (h *StudentHandler) Summary(c *gin.Context) {
	summary, hit, err := h.summaries.StudentSummary(c.Request.Context(), c.Param("id"), c.Query("from"), c.Query("to"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	respondWithMeta(c, summary, nil)
}
