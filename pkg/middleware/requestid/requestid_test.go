package requestid

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func serve(header string) (*httptest.ResponseRecorder, string) {
	gin.SetMode(gin.TestMode)
	var seen string
	r := gin.New()
	r.Use(Middleware())
	r.GET("/", func(c *gin.Context) {
		seen = Value(c)
		c.Status(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(HeaderKey, header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w, seen
}

func TestMiddlewareKeepsInboundID(t *testing.T) {
	w, seen := serve("station-7-0001")
	assert.Equal(t, "station-7-0001", seen)
	assert.Equal(t, "station-7-0001", w.Header().Get(HeaderKey))
}

func TestMiddlewareReplacesMalformedID(t *testing.T) {
	_, seen := serve(strings.Repeat("x", 200))
	_, err := uuid.Parse(seen)
	assert.NoError(t, err)

	_, seen = serve("has space")
	_, err = uuid.Parse(seen)
	assert.NoError(t, err)
}
