package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/movemeter/backend/internal/identity"
)

// ctxKeyUserID holds the authenticated identity subject.
const ctxKeyUserID = "userID"

// TokenVerifier turns a bearer token into an identity subject.
type TokenVerifier interface {
	Configured() bool
	Verify(ctx context.Context, token string) (string, error)
}

// UserID returns the authenticated subject, or "" for anonymous requests.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyUserID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// RequireIdentity rejects requests without a valid "Authorization: Bearer"
// token and stores the verified subject under "userID".
//
// Responses:
//   - 503 when no verifier is configured
//   - 401 when the header is missing or the token fails verification
func RequireIdentity(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if v == nil || !v.Configured() {
			abortJSON(c, http.StatusServiceUnavailable, "identity_unavailable", "identity provider is not configured")
			return
		}
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		sub, err := v.Verify(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, identity.ErrInvalidToken) {
				LoggerFrom(c).Warn().Err(err).Msg("identity verification failed")
			}
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}
		c.Set(ctxKeyUserID, sub)
		c.Next()
	}
}

func bearerToken(h string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(h), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func abortJSON(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       code,
		"message":    msg,
	})
}
