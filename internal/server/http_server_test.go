package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/blind-match/internal/auth"
	"github.com/oggyb/blind-match/internal/config"
	"github.com/oggyb/blind-match/internal/logger"
	"github.com/oggyb/blind-match/internal/middleware"
)

type echoRegistrar struct{}

func (echoRegistrar) RegisterRoutes(r Routes) {
	r.API.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": middleware.UserID(c)})
	})
	r.Internal.POST("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
}

func newTestRouter(t *testing.T, internalToken string) (*gin.Engine, *auth.Tokens) {
	t.Helper()
	cfg := config.New()
	cfg.App.ENV = "test"
	cfg.Auth.InternalToken = internalToken

	tokens, err := auth.NewTokens("test-secret", time.Hour)
	require.NoError(t, err)
	return NewRouter(cfg, tokens, logger.Discard(), echoRegistrar{}), tokens
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	r, _ := newTestRouter(t, "")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "blind_match_http_request_duration_seconds")
}

func TestRouter_APIRequiresBearer(t *testing.T) {
	r, tokens := newTestRouter(t, "")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/whoami", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	tok, err := tokens.Issue(42)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/v1/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":42}`, w.Body.String())
}

func TestRouter_InternalGroup(t *testing.T) {
	r, _ := newTestRouter(t, "s3cret")

	req := httptest.NewRequest(http.MethodPost, "/internal/v1/ping", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/internal/v1/ping", nil)
	req.Header.Set(middleware.HeaderInternalToken, "s3cret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// disabled when no token is configured
	r, _ = newTestRouter(t, "")
	req = httptest.NewRequest(http.MethodPost, "/internal/v1/ping", nil)
	req.Header.Set(middleware.HeaderInternalToken, "")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
