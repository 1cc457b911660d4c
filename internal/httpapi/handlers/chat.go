package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/toidukodu/tehiskokk/internal/chat"
	"github.com/toidukodu/tehiskokk/internal/common"
	"github.com/toidukodu/tehiskokk/internal/httpapi/middleware"
)

const maxSessionIDLen = 64

func validSessionID(id string) bool {
	return id != "" && len(id) <= maxSessionIDLen
}

type createSessionReq struct {
	ID string `json:"id"`
}

// CreateSession upserts a session. Without an id in the body the caller's
// cookie identity is used. data is null when persistence is unavailable.
func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionReq
	_ = c.ShouldBindJSON(&req) // allow empty body

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = middleware.Identity(c).GetSessionID()
	}
	if !validSessionID(id) {
		common.Fail(c, http.StatusBadRequest, 40002, "invalid session id")
		return
	}

	common.OK(c, h.Store.GetOrCreateSession(c.Request.Context(), id))
}

func (h *Handler) ListMessages(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("session_id"))
	if !validSessionID(sessionID) {
		common.Fail(c, http.StatusBadRequest, 40002, "invalid session id")
		return
	}

	common.OK(c, h.Store.GetMessages(c.Request.Context(), sessionID))
}

type saveMessageReq struct {
	Role     chat.Role `json:"role"`
	Content  string    `json:"content"`
	ImageURL *string   `json:"image_url"`
}

func (h *Handler) SaveMessage(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("session_id"))
	if !validSessionID(sessionID) {
		common.Fail(c, http.StatusBadRequest, 40002, "invalid session id")
		return
	}

	var req saveMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if !req.Role.Valid() || strings.TrimSpace(req.Content) == "" {
		common.Fail(c, http.StatusBadRequest, 40001, "invalid message")
		return
	}

	common.OK(c, h.Store.SaveMessage(c.Request.Context(), sessionID, req.Role, req.Content, req.ImageURL))
}
