package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/toidukodu/tehiskokk/internal/chat"
	"github.com/toidukodu/tehiskokk/internal/common"
	"github.com/toidukodu/tehiskokk/internal/relay"
)

type Handler struct {
	Store *chat.Store
	Relay *relay.Relay
}

// NewHandler wires the handlers. store may be nil (no persistence); rl must
// not be nil but may run without a gateway.
func NewHandler(store *chat.Store, rl *relay.Relay) *Handler {
	return &Handler{Store: store, Relay: rl}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{
		"pong":        true,
		"persistence": h.Store.Enabled(),
		"relay":       h.Relay.Configured(),
	})
}

// Chat streams one assistant reply.
func (h *Handler) Chat(c *gin.Context) {
	h.Relay.Handle(c)
}
