package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/scan-attendance/internal/middleware"
	"github.com/noah-isme/scan-attendance/internal/models"
	appErrors "github.com/noah-isme/scan-attendance/pkg/errors"
	"github.com/noah-isme/scan-attendance/pkg/response"
)

// actorFromContext names who issued the request. Without operator auth
// every caller is the anonymous station.
func actorFromContext(c *gin.Context) string {
	value, exists := c.Get(middleware.ContextOperatorKey)
	if !exists {
		return "station"
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok || claims.Subject == "" {
		return "station"
	}
	return claims.Subject
}

func bindJSON(c *gin.Context, dest interface{}, message string) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message))
		return false
	}
	return true
}

// queryBool parses an optional boolean query parameter.
func queryBool(c *gin.Context, key string) (*bool, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, key+" must be true or false")
	}
	return &v, nil
}

func queryInt(c *gin.Context, key string, fallback int) int {
	if v, err := strconv.Atoi(c.Query(key)); err == nil {
		return v
	}
	return fallback
}

func respondWithMeta(c *gin.Context, data interface{}, pagination *models.Pagination) {
	response.JSON(c, http.StatusOK, data, pagination, middleware.ExtractMeta(c))
}
