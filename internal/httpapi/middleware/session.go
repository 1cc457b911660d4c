package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/toidukodu/tehiskokk/internal/identity"
)

const IdentityKey = "session_identity"

// Session binds a cookie backed identity provider to the request. The token
// is read or minted only when a handler asks for it.
func Session() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(IdentityKey, identity.NewCookieProvider(c.Writer, c.Request))
		c.Next()
	}
}

// Identity returns the provider bound by Session, or a fresh one when the
// middleware is not installed.
func Identity(c *gin.Context) identity.Provider {
	if v, ok := c.Get(IdentityKey); ok {
		if p, ok := v.(identity.Provider); ok {
			return p
		}
	}
	p := identity.NewCookieProvider(c.Writer, c.Request)
	c.Set(IdentityKey, p)
	return p
}
