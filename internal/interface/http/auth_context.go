package http

import (
	"github.com/gin-gonic/gin"

	"github.com/yanqian/pagedigest/internal/infra/authtoken"
)

const authClaimsKey = "auth_claims"

func setClaims(c *gin.Context, claims authtoken.Claims) {
	c.Set(authClaimsKey, claims)
}

func getClaims(c *gin.Context) (authtoken.Claims, bool) {
	value, ok := c.Get(authClaimsKey)
	if !ok {
		return authtoken.Claims{}, false
	}
	claims, ok := value.(authtoken.Claims)
	return claims, ok
}
