package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yanqian/pagedigest/internal/infra/authtoken"
	apperrors "github.com/yanqian/pagedigest/pkg/errors"
)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(token string) (authtoken.Claims, error)
}

// authMiddleware requires a valid bearer token. A nil verifier leaves the API open.
func authMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	if verifier == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortWithError(c, NewHTTPError(http.StatusUnauthorized, "unauthorized", "missing authorization header", nil))
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortWithError(c, NewHTTPError(http.StatusUnauthorized, "unauthorized", "invalid authorization header", nil))
			return
		}
		claims, err := verifier.Verify(strings.TrimSpace(parts[1]))
		if err != nil {
			if !apperrors.IsCode(err, authtoken.CodeInvalidToken) {
				abortWithError(c, NewHTTPError(http.StatusInternalServerError, "auth_failed", "token check failed", err))
				return
			}
			abortWithError(c, err)
			return
		}
		setClaims(c, claims)
		c.Next()
	}
}
