package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/toidukodu/tehiskokk/internal/common"
	"github.com/toidukodu/tehiskokk/internal/httpapi/middleware"
)

// CurrentSession returns the caller's session token, minting it (and setting
// the cookie) on first use.
func (h *Handler) CurrentSession(c *gin.Context) {
	common.OK(c, gin.H{"session_id": middleware.Identity(c).GetSessionID()})
}

// ClearSession expires the identity cookie. The stored history is kept.
func (h *Handler) ClearSession(c *gin.Context) {
	middleware.Identity(c).ClearSession()
	common.OK(c, nil)
}
