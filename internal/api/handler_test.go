package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bindLocation(t *testing.T, body string) (int, locationRequest) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var req locationRequest
	router := gin.New()
	router.POST("/loc", func(c *gin.Context) {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "lat and lng are required"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/loc", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, r)
	return w.Code, req
}

func TestLocationRequestAcceptsZeroCoordinates(t *testing.T) {
	code, req := bindLocation(t, `{"lat":0,"lng":0}`)
	assert.Equal(t, http.StatusOK, code)
	require.NotNil(t, req.Lat)
	require.NotNil(t, req.Lng)
	assert.Zero(t, *req.Lat)
	assert.Zero(t, *req.Lng)
}

func TestLocationRequestRejectsMissingCoordinates(t *testing.T) {
	code, _ := bindLocation(t, `{"lat":12.97}`)
	assert.Equal(t, http.StatusBadRequest, code)
}
