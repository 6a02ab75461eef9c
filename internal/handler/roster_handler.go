package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/scan-attendance/internal/models"
	"github.com/noah-isme/scan-attendance/pkg/response"
)

type reconcileService interface {
	Reconcile(ctx context.Context, snapshot models.RosterSnapshot) (*models.DiffReport, error)
}

// RosterHandler accepts roster snapshots from the external sheet sync.
type RosterHandler struct {
	reconciler reconcileService
}

// NewRosterHandler constructs RosterHandler.
func NewRosterHandler(reconciler reconcileService) *RosterHandler {
	return &RosterHandler{reconciler: reconciler}
}

// Reconcile godoc
// @Summary Reconcile roster snapshot
// @Description Adds, updates and deactivates students so the active roster matches the snapshot
// @Tags Roster
// @Accept json
// @Produce json
// @Param payload body models.RosterSnapshot true "Snapshot"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /roster/reconcile [post]
func (h *RosterHandler) Reconcile(c *gin.Context) {
	var snapshot models.RosterSnapshot
	if !bindJSON(c, &snapshot, "invalid roster snapshot") {
		return
	}
	diff, err := h.reconciler.Reconcile(c.Request.Context(), snapshot)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, diff, nil)
}
