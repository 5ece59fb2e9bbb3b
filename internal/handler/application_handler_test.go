package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/coop-portal-api/internal/models"
	"github.com/noah-isme/coop-portal-api/internal/middleware"
)

func TestApplicationHandlerTransitionInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewApplicationHandler(nil, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/applications/app-1/transitions", strings.NewReader("{not-json"))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "app-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "student-1", Role: models.RoleStudent})

	handler.Transition(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
