// Package middleware holds the gin middleware shared by every route group.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/oggyb/blind-match/internal/auth"
	svcErr "github.com/oggyb/blind-match/internal/errors"
	"github.com/oggyb/blind-match/internal/logger"
	"github.com/oggyb/blind-match/internal/metrics"
	"github.com/oggyb/blind-match/internal/utils/response"
)

const (
	userIDKey = "blind_match_user_id"

	HeaderRequestID     = "X-Request-ID"
	HeaderInternalToken = "X-Internal-Token"
)

// UserID returns the authenticated caller. Only valid behind Auth.
func UserID(c *gin.Context) uint64 {
	return c.GetUint64(userIDKey)
}

// SetUserID stores the caller identity. Used by Auth and by tests.
func SetUserID(c *gin.Context, id uint64) {
	c.Set(userIDKey, id)
}

// BearerToken extracts the token from "Authorization: Bearer <token>",
// falling back to the "token" query parameter browsers use for websockets.
func BearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return c.Query("token")
}

// Auth rejects requests without a valid bearer token before any handler runs.
func Auth(tokens *auth.Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := BearerToken(c)
		if raw == "" {
			response.Error(c, svcErr.Unauthenticated("missing bearer token"))
			return
		}
		userID, err := tokens.Parse(raw)
		if err != nil {
			logger.FromContext(c.Request.Context(), logger.L()).Debug("token rejected", "err", err)
			response.Error(c, svcErr.Unauthenticated("invalid bearer token"))
			return
		}
		SetUserID(c, userID)
		c.Next()
	}
}

// InternalToken guards service-to-service routes with a shared secret.
// An empty configured token disables those routes entirely.
func InternalToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(HeaderInternalToken)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			response.Error(c, svcErr.PermissionDenied("internal route"))
			return
		}
		c.Next()
	}
}

// RequestID tags each request with an id and a request-scoped logger.
func RequestID(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(HeaderRequestID, id)

		l := base.With("request_id", id)
		c.Request = c.Request.WithContext(logger.IntoContext(c.Request.Context(), l))
		c.Next()
	}
}

// AccessLog logs one line per request.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		l := logger.FromContext(c.Request.Context(), logger.L())
		attrs := []any{
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		}
		if uid := UserID(c); uid != 0 {
			attrs = append(attrs, "user_id", uid)
		}
		if len(c.Errors) > 0 {
			l.Error("request failed", append(attrs, "err", c.Errors.String())...)
			return
		}
		l.Info("request", attrs...)
	}
}

// Metrics records request latency by route template.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
